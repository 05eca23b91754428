package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
)

var estopCmd = &cobra.Command{
	Use:   "estop",
	Short: "Drive the hardware to its documented safe configuration",
	RunE:  runEstop,
}

func runEstop(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCloser, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctrl := hardware.NewController(hardware.NewSimDriver(hardware.DefaultCapabilities()), cfg.HardwareConfig())
	if err := ctrl.EmergencyStop(cmd.Context()); err != nil {
		return err
	}
	snap := ctrl.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "safe mode: %v  settings: %s\n", snap.SafeMode, formatMetrics(snap.Settings))
	return nil
}
