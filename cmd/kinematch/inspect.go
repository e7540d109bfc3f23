package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/kinematch/asset"
	"github.com/hupe1980/kinematch/blobstore"
	"github.com/spf13/cobra"
)

// assetInfo is the inspect output.
type assetInfo struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"createdAt"`
	Compression      string    `json:"compression"`
	StoredBytes      int       `json:"storedBytes"`
	PayloadBytes     int       `json:"payloadBytes"`
	Fragments        int       `json:"fragments"`
	Valid            int       `json:"valid"`
	Dimension        int       `json:"dimension"`
	SubQuantizers    int       `json:"subQuantizers"`
	NumBits          int       `json:"numBits"`
	CodeSize         int       `json:"codeSize"`
	CompressionRatio float64   `json:"compressionRatio"`
	Normalized       bool      `json:"normalized"`
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <asset>",
		Short: "Show the header and codebook shape of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			data, err := blobstore.ReadAll(ctx, store, args[0])
			if err != nil {
				return err
			}
			h, err := asset.ReadHeader(data)
			if err != nil {
				return err
			}
			a, err := asset.Decode(data)
			if err != nil {
				return err
			}

			pq := a.Quantizer
			info := assetInfo{
				ID:               a.ID.String(),
				Name:             a.Name,
				CreatedAt:        a.CreatedAt,
				Compression:      h.Compression.String(),
				StoredBytes:      len(data),
				PayloadBytes:     h.PayloadSize,
				Fragments:        a.NumFragments(),
				Valid:            validCount(a),
				Dimension:        pq.Dimension(),
				SubQuantizers:    pq.NumSubvectors(),
				NumBits:          pq.NumBits(),
				CodeSize:         pq.CodeSize(),
				CompressionRatio: pq.CompressionRatio(),
				Normalized:       a.Normalizer != nil,
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "%s (%s)\n", info.Name, info.ID)
			fmt.Fprintf(out, "  created:     %s\n", info.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "  stored:      %d bytes, %s (payload %d bytes)\n", info.StoredBytes, info.Compression, info.PayloadBytes)
			fmt.Fprintf(out, "  fragments:   %d (%d valid)\n", info.Fragments, info.Valid)
			fmt.Fprintf(out, "  codebook:    %d x %d bits over %d features\n", info.SubQuantizers, info.NumBits, info.Dimension)
			fmt.Fprintf(out, "  code size:   %d bytes (%.1fx)\n", info.CodeSize, info.CompressionRatio)
			fmt.Fprintf(out, "  normalized:  %t\n", info.Normalized)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list [prefix]",
		Short: "List the assets in the store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := g.openStore(ctx)
			if err != nil {
				return err
			}
			var prefix string
			if len(args) == 1 {
				prefix = args[0]
			}
			names, err := asset.List(ctx, store, prefix)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}
