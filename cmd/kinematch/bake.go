package main

import (
	"fmt"

	"github.com/hupe1980/kinematch"
	"github.com/hupe1980/kinematch/asset"
	"github.com/spf13/cobra"
)

type bakeFlags struct {
	config      string
	compression string
	workers     int
	batchSize   int
	tickRate    float64
	tags        []string
}

func newBakeCmd(g *globalFlags) *cobra.Command {
	f := &bakeFlags{}

	cmd := &cobra.Command{
		Use:   "bake <database.yaml> <asset>",
		Short: "Train a codebook and encode a fragment database",
		Long: `Bake trains the product quantizer on the valid fragments of a YAML
fragment database, encodes every fragment and writes the asset to the store.

Examples:
  kinematch bake locomotion.yaml locomotion.kma
  kinematch bake --config bake.yaml --compression lz4 vault.yaml vault.kma
  kinematch --store s3://assets/motion bake --tick-rate 60 run.yaml run.kma`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBake(cmd, g, f, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", "", "YAML bake configuration")
	flags.StringVar(&f.compression, "compression", "", "asset compression (none, lz4, zstd)")
	flags.IntVarP(&f.workers, "workers", "w", 0, "training and encoding workers (0 uses GOMAXPROCS)")
	flags.IntVar(&f.batchSize, "batch-size", 0, "k-means stages per update")
	flags.Float64Var(&f.tickRate, "tick-rate", 0, "pace training to this many updates per second")
	flags.StringSliceVarP(&f.tags, "tag", "t", nil, "only train on segments with these tags")
	return cmd
}

func runBake(cmd *cobra.Command, g *globalFlags, f *bakeFlags, dbPath, name string) error {
	ctx := cmd.Context()
	logger, err := g.logger()
	if err != nil {
		return err
	}

	cfg := kinematch.DefaultConfig()
	if f.config != "" {
		if cfg, err = kinematch.LoadConfig(f.config); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if f.tickRate > 0 {
		cfg.TickRate = f.tickRate
	}
	if len(f.tags) > 0 {
		cfg.Tags = f.tags
	}

	opts := []kinematch.Option{
		kinematch.WithLogger(logger),
		kinematch.WithWorkers(f.workers),
		kinematch.WithBatchSize(f.batchSize),
	}
	if f.compression != "" {
		c, err := asset.ParseCompression(f.compression)
		if err != nil {
			return err
		}
		opts = append(opts, kinematch.WithCompression(c))
	}

	rc := g.controller(cfg.TickRate)
	if rc != nil {
		opts = append(opts, kinematch.WithResourceController(rc))
	}

	db, err := kinematch.LoadDatabase(ctx, dbPath, rc)
	if err != nil {
		return fmt.Errorf("load database: %w", err)
	}
	store, err := g.openStore(ctx)
	if err != nil {
		return err
	}

	metrics := &kinematch.BasicMetricsCollector{}
	opts = append(opts, kinematch.WithMetricsCollector(metrics))

	b, err := kinematch.NewAssetBuilder(db, cfg, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	a, err := b.Bake(ctx, store, name)
	if err != nil {
		return err
	}

	stats := metrics.GetStats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "baked %s (%s)\n", name, a.ID)
	fmt.Fprintf(out, "  fragments:  %d (%d valid)\n", a.NumFragments(), validCount(a))
	fmt.Fprintf(out, "  samples:    %d\n", stats.TrainingSamples)
	fmt.Fprintf(out, "  codebook:   %d x %d bits over %d features\n",
		a.Quantizer.NumSubvectors(), a.Quantizer.NumBits(), a.Quantizer.Dimension())
	fmt.Fprintf(out, "  code size:  %d bytes\n", a.Quantizer.CodeSize())
	return nil
}

func validCount(a *asset.Asset) int {
	if a.Valid == nil {
		return a.NumFragments()
	}
	return int(a.Valid.GetCardinality())
}
