package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/config"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/experiment"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/generator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/hardware"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/knowledge"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/orchestrator"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/planner"
	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/policy"
)

var runFlags struct {
	metricsAddr   string
	generatorAddr string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process observations from stdin, one JSON object per line",
	Long: `Reads observations as JSON lines ({"source":..,"payload":..,"features":[..]})
from stdin, runs a cycle for each novel one, and writes one JSON report per
line to stdout.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&runFlags.generatorAddr, "generator-addr", "", "hypothesis generator gRPC address (empty uses the offline generator)")
}

// #region observation-line

type observationLine struct {
	Source   string    `json:"source"`
	Payload  string    `json:"payload"`
	Features []float32 `json:"features"`
}

type reportLine struct {
	CycleID   string  `json:"cycle_id,omitempty"`
	SeedKey   string  `json:"seed_key"`
	Novelty   float32 `json:"novelty"`
	Triggered bool    `json:"triggered"`
	Attempts  int     `json:"attempts"`
	Confirmed bool    `json:"confirmed"`
	Halt      string  `json:"halt,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Entries   []int64 `json:"entries,omitempty"`
}

func toReportLine(r orchestrator.Report) reportLine {
	out := reportLine{
		CycleID:   r.CycleID,
		SeedKey:   r.SeedKey,
		Novelty:   r.Novelty,
		Triggered: r.Triggered,
		Attempts:  len(r.Attempts),
		Confirmed: r.Confirmed,
	}
	if r.Halt != nil {
		out.Halt, out.Reason = string(r.Halt.Kind), r.Halt.Reason
	}
	for _, a := range r.Attempts {
		if a.Entry != nil {
			out.Entries = append(out.Entries, a.Entry.Seq)
		}
	}
	return out
}

// #endregion observation-line

// #region run

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.metricsAddr != "" {
		cfg.MetricsAddr = runFlags.metricsAddr
	}
	if runFlags.generatorAddr != "" {
		cfg.GeneratorAddr = runFlags.generatorAddr
	}
	logCloser, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	l, err := openLab(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	ctrl := hardware.NewController(hardware.NewSimDriver(hardware.DefaultCapabilities()), cfg.HardwareConfig())
	ctrl.Start(ctx)
	defer ctrl.Stop()

	gen, closeGen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	defer closeGen()

	o, err := orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Knowledge: l.store,
		Generator: gen,
		Planner:   planner.New(cfg.PlannerConfig()),
		Policy:    policy.New(cfg.PolicyConfig()),
		Hardware:  ctrl,
		Log:       l.log,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("controller ready",
		slog.String("db", cfg.DBPath), slog.String("generator", cfg.GeneratorAddr), slog.String("metrics", cfg.MetricsAddr))
	return processLines(ctx, o, cmd.InOrStdin(), cmd.OutOrStdout())
}

func processLines(ctx context.Context, o *orchestrator.Orchestrator, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		var obs observationLine
		if err := json.Unmarshal([]byte(text), &obs); err != nil {
			slog.Warn("skipping malformed observation", slog.Int("line", line), slog.Any("error", err))
			continue
		}
		report, err := o.Observe(ctx, knowledge.Observation{
			Source:   obs.Source,
			Payload:  []byte(obs.Payload),
			Features: obs.Features,
		})
		if encErr := enc.Encode(toReportLine(report)); encErr != nil {
			return encErr
		}
		if errors.Is(err, experiment.ErrEmergencyStopFailed) {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

// #endregion run

// #region wiring

func newGenerator(cfg config.Config) (generator.Generator, func(), error) {
	if cfg.GeneratorAddr == "" {
		return generator.Local{}, func() {}, nil
	}
	c, err := generator.NewClient(cfg.GeneratorAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("generator client: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", slog.Any("error", err))
		}
	}()
	return srv
}

// #endregion wiring
