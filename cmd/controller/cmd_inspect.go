package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
)

var inspectFlags struct {
	last    int
	cycle   string
	jsonOut bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show experiment log entries",
	RunE:  runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.IntVar(&inspectFlags.last, "last", 20, "show N most recent entries")
	f.StringVar(&inspectFlags.cycle, "cycle", "", "show every entry of one cycle in detail")
	f.BoolVar(&inspectFlags.jsonOut, "json", false, "output as JSON instead of table")
}

// #region inspect

func runInspect(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := openLab(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var entries []experiment.LogEntry
	if inspectFlags.cycle != "" {
		entries, err = l.log.ByCycle(ctx, inspectFlags.cycle)
	} else {
		entries, err = l.log.Recent(ctx, inspectFlags.last)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no entries found")
		return nil
	}

	if inspectFlags.jsonOut {
		return printJSON(out, entries)
	}
	if inspectFlags.cycle != "" {
		for _, e := range entries {
			printDetail(out, e)
		}
		return nil
	}
	printTable(out, entries)

	live, archived, err := l.log.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d live, %d archived\n", live, archived)
	return nil
}

// #endregion inspect

// #region table

func printTable(w io.Writer, entries []experiment.LogEntry) {
	fmt.Fprintf(w, "%6s  %-8s  %3s  %-22s  %-12s  %5s  %s\n",
		"Seq", "Cycle", "Try", "Plan", "Status", "Steps", "Time")
	fmt.Fprintf(w, "%6s+-%-8s+-%3s+-%-22s+-%-12s+-%5s+-%s\n",
		"------", "--------", "---", "----------------------", "------------", "-----", "--------------------")
	for _, e := range entries {
		fmt.Fprintf(w, "%6d  %-8s  %3d  %-22s  %-12s  %2d/%-2d  %s\n",
			e.Seq, shortID(e.CycleID), e.Attempt, e.Plan.Name, e.Status,
			e.Result.Completed(), len(e.Plan.Steps), e.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
}

func printDetail(w io.Writer, e experiment.LogEntry) {
	fmt.Fprintf(w, "Entry:      #%d (%s)\n", e.Seq, e.ID)
	fmt.Fprintf(w, "Cycle:      %s attempt %d\n", e.CycleID, e.Attempt)
	fmt.Fprintf(w, "Status:     %s\n", e.Status)
	if e.Reason != "" {
		fmt.Fprintf(w, "Reason:     %s\n", e.Reason)
	}
	fmt.Fprintf(w, "Hypothesis: %s (testability %.2f)\n", e.Hypothesis.Text, e.Hypothesis.Testability)
	fmt.Fprintf(w, "Plan:       %s risk=%.4f\n", e.Plan.Name, e.Plan.EstimatedRisk)
	fmt.Fprintf(w, "Settings:   %s\n", formatMetrics(e.Plan.Settings))
	fmt.Fprintf(w, "Completed:  %d/%d steps\n", e.Result.Completed(), len(e.Plan.Steps))
	if e.Result.SafetyTrip != "" {
		fmt.Fprintf(w, "Tripped:    %s\n", e.Result.SafetyTrip)
	}
	for _, o := range e.Result.Outputs {
		flag := ""
		if o.Interrupted {
			flag = " interrupted"
		}
		if o.Err != "" {
			flag += " error=" + o.Err
		}
		fmt.Fprintf(w, "  step %d %-24s %8s  %s%s\n", o.Index+1, o.Kind, o.Elapsed.Round(time.Millisecond), formatMetrics(o.Metrics), flag)
	}
	fmt.Fprintln(w)
}

func formatMetrics(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4g", k, m[k])
	}
	return strings.Join(parts, " ")
}

// #endregion table
