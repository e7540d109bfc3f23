package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/kinematch"
	"github.com/hupe1980/kinematch/search"
	"github.com/spf13/cobra"
)

type matchFlags struct {
	fragment     int
	features     string
	k            int
	maxDeviation float32
	tags         []string
	asJSON       bool
}

// matchResult is the match output.
type matchResult struct {
	Best       matchEntry   `json:"best"`
	Accepted   bool         `json:"accepted"`
	Evaluated  int          `json:"evaluated"`
	Candidates []matchEntry `json:"candidates"`
}

type matchEntry struct {
	Fragment int     `json:"fragment"`
	Segment  int     `json:"segment"`
	Frame    int     `json:"frame"`
	Cost     float32 `json:"cost"`
}

func newMatchCmd(g *globalFlags) *cobra.Command {
	f := &matchFlags{}

	cmd := &cobra.Command{
		Use:   "match <database.yaml> <asset>",
		Short: "Search the best fragments for a pose",
		Long: `Match scores a pose against a baked asset and prints the best
candidates. The pose is either a database fragment or explicit features.

Examples:
  kinematch match locomotion.yaml locomotion.kma --fragment 120
  kinematch match locomotion.yaml locomotion.kma --features 0.1,0.4,-0.2,1 -k 10
  kinematch match --json locomotion.yaml locomotion.kma --fragment 7 --tag run`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, g, f, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&f.fragment, "fragment", "f", -1, "use the features of this fragment as the query")
	flags.StringVar(&f.features, "features", "", "comma separated query features")
	flags.IntVarP(&f.k, "top", "k", 5, "number of candidates to print")
	flags.Float32Var(&f.maxDeviation, "max-deviation", 0, "cost threshold for accepting the best candidate (0 is unlimited)")
	flags.StringSliceVarP(&f.tags, "tag", "t", nil, "only match segments with these tags")
	flags.BoolVar(&f.asJSON, "json", false, "print JSON")
	return cmd
}

func runMatch(cmd *cobra.Command, g *globalFlags, f *matchFlags, dbPath, name string) error {
	ctx := cmd.Context()
	logger, err := g.logger()
	if err != nil {
		return err
	}

	db, err := kinematch.LoadDatabase(ctx, dbPath, g.controller(0))
	if err != nil {
		return fmt.Errorf("load database: %w", err)
	}

	var features []float32
	switch {
	case f.features != "":
		if features, err = parseFeatures(f.features); err != nil {
			return err
		}
	case f.fragment >= 0:
		if f.fragment >= db.NumFragments() {
			return fmt.Errorf("fragment %d out of range [0,%d)", f.fragment, db.NumFragments())
		}
		features = db.FragmentFeatures(f.fragment)
	default:
		return errors.New("one of --fragment or --features is required")
	}

	store, err := g.openStore(ctx)
	if err != nil {
		return err
	}
	m, err := kinematch.Open(ctx, store, name, db, kinematch.WithLogger(logger))
	if err != nil {
		return err
	}

	candidates, err := m.Candidates(f.tags...)
	if err != nil {
		return err
	}
	q := search.Query{
		Features:     features,
		MaxDeviation: f.maxDeviation,
		Current:      db.SamplingTime(0),
		Candidates:   candidates,
	}

	res, err := m.Search(ctx, q)
	if err != nil {
		return err
	}
	top, err := m.TopK(ctx, q, f.k)
	if err != nil {
		return err
	}

	out := matchResult{
		Accepted:  res.Accepted,
		Evaluated: res.Evaluated,
		Best:      matchEntry{Fragment: res.Fragment, Cost: res.Cost.Total},
	}
	if res.Fragment >= 0 {
		st := db.SamplingTime(res.Fragment)
		out.Best.Segment, out.Best.Frame = st.Segment, st.Frame
	}
	for _, c := range top {
		out.Candidates = append(out.Candidates, matchEntry{
			Fragment: c.Fragment,
			Segment:  c.SamplingTime.Segment,
			Frame:    c.SamplingTime.Frame,
			Cost:     c.Cost.Total,
		})
	}

	w := cmd.OutOrStdout()
	if f.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "best: fragment %d (segment %d, frame %d) cost %.4f accepted=%t, %d evaluated\n",
		out.Best.Fragment, out.Best.Segment, out.Best.Frame, out.Best.Cost, out.Accepted, out.Evaluated)
	for i, c := range out.Candidates {
		fmt.Fprintf(w, "%3d. fragment %-6d segment %-4d frame %-5d cost %.4f\n", i+1, c.Fragment, c.Segment, c.Frame, c.Cost)
	}
	return nil
}

func parseFeatures(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid feature %q: %w", p, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
