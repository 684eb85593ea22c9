package servecmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"mini-mesh/config"
	"mini-mesh/logger"
)

func NewServeCommand() *cobra.Command {
	cfg := config.NewMeshConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mesh server",
		Long:  "Start the mesh server: the /mesh API, the self announcer and the background health loops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	cfg.AddFlags(cmd.Flags())
	return cmd
}

func runServe(cfg *config.MeshConfig) error {
	log := logger.GetLogger()
	defer logger.SyncLogger()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := strconv.Atoi(cfg.HTTPServer.BindPort); err != nil {
		return fmt.Errorf("invalid http-server-bindport %q: %w", cfg.HTTPServer.BindPort, err)
	}

	m, err := build(cfg, nil)
	if err != nil {
		return err
	}
	defer m.close()

	l, err := net.Listen("tcp", net.JoinHostPort("", cfg.HTTPServer.BindPort))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer cancel()
		sig := <-stopCh
		log.Infow("received signal, shutting down", "signal", sig.String())
	}()

	return m.run(ctx, l)
}
