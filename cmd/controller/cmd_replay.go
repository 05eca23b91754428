package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/replay"
)

var replayFlags struct {
	fixture string
	jsonOut bool
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded fixture against the simulated driver",
	RunE:  runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayFlags.fixture, "fixture", "", "fixture JSON file (required)")
	f.BoolVar(&replayFlags.jsonOut, "json", false, "output results as JSON")
	_ = replayCmd.MarkFlagRequired("fixture")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	f, err := replay.LoadFixture(replayFlags.fixture)
	if err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "lab-replay-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	results, err := replay.Replay(cmd.Context(), f, filepath.Join(dir, "replay.db"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if replayFlags.jsonOut {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%-20s  %-20s  %7s  %3s  %s\n", "Event", "Outcome", "Novelty", "Try", "Reason")
		for _, r := range results {
			fmt.Fprintf(out, "%-20s  %-20s  %7.3f  %3d  %s\n", r.ID, r.Outcome, r.Novelty, r.Attempts, r.Reason)
		}
		s := replay.Summarize(results)
		fmt.Fprintf(out, "\n%d events: %d confirmed, %d ignored", s.Total, s.Confirmed, s.Ignored)
		kinds := make([]string, 0, len(s.Halts))
		for k := range s.Halts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(out, ", %d %s", s.Halts[k], k)
		}
		fmt.Fprintln(out)
	}

	if mm := replay.Mismatches(f, results); len(mm) > 0 {
		for _, m := range mm {
			fmt.Fprintln(cmd.ErrOrStderr(), m)
		}
		return fmt.Errorf("%d expectation(s) not met", len(mm))
	}
	return nil
}
