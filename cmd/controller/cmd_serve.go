package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/madmoo-Pi/Ai-with-ethics-curiosity-engine-x/internal/generator"
)

var serveFlags struct {
	addr string
}

var serveGeneratorCmd = &cobra.Command{
	Use:   "serve-generator",
	Short: "Serve the offline hypothesis generator over gRPC",
	RunE:  runServeGenerator,
}

func init() {
	serveGeneratorCmd.Flags().StringVar(&serveFlags.addr, "addr", "localhost:50051", "listen address")
}

func runServeGenerator(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logCloser, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	lis, err := net.Listen("tcp", serveFlags.addr)
	if err != nil {
		return err
	}
	srv := grpc.NewServer()
	generator.RegisterServer(srv, generator.Local{})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	slog.Info("generator listening", slog.String("addr", lis.Addr().String()))
	return srv.Serve(lis)
}
