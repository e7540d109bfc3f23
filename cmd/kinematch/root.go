package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hupe1980/kinematch"
	"github.com/hupe1980/kinematch/blobstore"
	"github.com/hupe1980/kinematch/blobstore/minio"
	"github.com/hupe1980/kinematch/blobstore/s3"
	"github.com/hupe1980/kinematch/resource"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	store       string
	region      string
	cacheBlocks int
	logLevel    string
	logFormat   string
	ioLimit     int64
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "kinematch",
		Short: "Motion-matching asset baker and pose search",
		Long: `kinematch trains product-quantized pose codebooks from fragment
databases and answers pose and transition queries against them.

Stores:
  ./assets                     local directory (default ".")
  s3://bucket/prefix           Amazon S3 (default AWS credential chain)
  minio://host:port/bucket/pfx MinIO (MINIO_ACCESS_KEY, MINIO_SECRET_KEY, MINIO_SECURE)`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&g.store, "store", "s", ".", "asset store location")
	flags.StringVar(&g.region, "region", "", "region for s3 and minio stores")
	flags.IntVar(&g.cacheBlocks, "cache-blocks", 0, "cache this many 64KiB blocks of remote assets (0 disables)")
	flags.StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")
	flags.Int64Var(&g.ioLimit, "io-limit", 0, "database read limit in bytes per second (0 is unlimited)")

	cmd.AddCommand(
		newBakeCmd(g),
		newInspectCmd(g),
		newListCmd(g),
		newMatchCmd(g),
	)
	return cmd
}

func (g *globalFlags) logger() (*kinematch.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", g.logLevel, err)
	}
	switch g.logFormat {
	case "text":
		return kinematch.NewTextLogger(level), nil
	case "json":
		return kinematch.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", g.logFormat)
	}
}

func (g *globalFlags) controller(tickRate float64) *resource.Controller {
	if g.ioLimit <= 0 && tickRate <= 0 {
		return nil
	}
	return resource.NewController(resource.Config{
		TickRate:           tickRate,
		IOLimitBytesPerSec: g.ioLimit,
	})
}

// openStore resolves the --store flag.
func (g *globalFlags) openStore(ctx context.Context) (blobstore.BlobStore, error) {
	store, remote, err := parseStore(ctx, g.store, g.region)
	if err != nil {
		return nil, err
	}
	if remote && g.cacheBlocks > 0 {
		cached, err := blobstore.NewCachingStore(store, g.cacheBlocks, blobstore.DefaultBlockSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return store, nil
}

func parseStore(ctx context.Context, location, region string) (blobstore.BlobStore, bool, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		bucket, prefix := splitBucket(strings.TrimPrefix(location, "s3://"))
		if bucket == "" {
			return nil, false, fmt.Errorf("missing bucket in %q", location)
		}
		optFns := []func(o *s3.Options){s3.WithPrefix(prefix)}
		if region != "" {
			optFns = append(optFns, s3.WithRegion(region))
		}
		store, err := s3.New(ctx, bucket, optFns...)
		if err != nil {
			return nil, false, err
		}
		return store, true, nil

	case strings.HasPrefix(location, "minio://"):
		endpoint, rest, _ := strings.Cut(strings.TrimPrefix(location, "minio://"), "/")
		bucket, prefix := splitBucket(rest)
		if endpoint == "" || bucket == "" {
			return nil, false, fmt.Errorf("expected minio://host/bucket[/prefix], got %q", location)
		}
		store, err := minio.New(minio.Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Secure:    os.Getenv("MINIO_SECURE") == "true",
			Region:    region,
		}, bucket, prefix)
		if err != nil {
			return nil, false, err
		}
		return store, true, nil

	default:
		return blobstore.NewLocalStore(location), false, nil
	}
}

// splitBucket splits "bucket/some/prefix" into the bucket and a prefix
// with a trailing slash.
func splitBucket(s string) (string, string) {
	bucket, prefix, _ := strings.Cut(s, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return bucket, prefix
}
