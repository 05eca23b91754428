// controller runs the closed-loop experiment cycle: observe, theorize, plan,
// approve, execute, classify.
//
// Usage:
//
//	controller run [--config lab.yaml] < observations.jsonl
//	controller inspect [--last N] [--cycle id] [--json]
//	controller estop
//	controller replay --fixture path.json
//	controller serve-generator --addr :50051
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config   string
	db       string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Closed-loop hypothesis testing against guarded hardware",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", "", "YAML config file (LAB_* env vars override it)")
	pf.StringVar(&rootFlags.db, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(estopCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveGeneratorCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
