package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scribefs/scribefs/internal/logger"
	"github.com/scribefs/scribefs/pkg/api"
	"github.com/scribefs/scribefs/pkg/metrics"
	promrec "github.com/scribefs/scribefs/pkg/metrics/prometheus"
	"github.com/scribefs/scribefs/pkg/nameserver"
)

var nameserverCmd = &cobra.Command{
	Use:   "nameserver",
	Short: "Run the name server",
	Long:  "Run the coordinator owning the namespace, access control, storage server membership, and request routing.",
	RunE:  runNameServer,
}

func init() {
	nameserverCmd.Flags().Int("port", 0, "listen port (overrides config)")
	nameserverCmd.Flags().String("data-file", "", "metadata snapshot path (overrides config)")
	nameserverCmd.Flags().Bool("api", false, "enable the admin HTTP endpoint (overrides config)")
	rootCmd.AddCommand(nameserverCmd)
}

func runNameServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.NameServer.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("data-file") {
		cfg.NameServer.DataFile, _ = cmd.Flags().GetString("data-file")
	}
	if cmd.Flags().Changed("api") {
		cfg.NameServer.API.Enabled, _ = cmd.Flags().GetBool("api")
	}

	var recorder metrics.Recorder
	if cfg.NameServer.API.Enabled {
		recorder = promrec.NewRecorder("nameserver")
	}

	server, err := nameserver.New(cfg.NameServer, recorder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NameServer.API.Enabled {
		go func() {
			if err := api.Serve(ctx, cfg.NameServer.API, server.Registry()); err != nil && ctx.Err() == nil {
				logger.Error("admin api failed", "error", err)
			}
		}()
	}

	logger.Info("starting name server", "port", cfg.NameServer.Port)
	return server.Run(ctx)
}
