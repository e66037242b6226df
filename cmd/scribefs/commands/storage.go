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
	"github.com/scribefs/scribefs/pkg/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Run a storage server",
	Long:  "Run a storage server owning file content, sentence locks, undo, checkpoints, and replication to its partner.",
	RunE:  runStorage,
}

func init() {
	storageCmd.Flags().String("root", "", "storage directory (overrides config)")
	storageCmd.Flags().Int("control-port", 0, "control listen port (overrides config)")
	storageCmd.Flags().Int("client-port", 0, "client listen port (overrides config)")
	storageCmd.Flags().String("nameserver", "", "name server address (overrides config)")
	storageCmd.Flags().String("advertise-ip", "", "IP published to the name server and clients (overrides config)")
	storageCmd.Flags().Bool("metrics", false, "enable the Prometheus scrape endpoint (overrides config)")
	rootCmd.AddCommand(storageCmd)
}

func runStorage(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("root") {
		cfg.Storage.Root, _ = cmd.Flags().GetString("root")
	}
	if cmd.Flags().Changed("control-port") {
		cfg.Storage.ControlPort, _ = cmd.Flags().GetInt("control-port")
	}
	if cmd.Flags().Changed("client-port") {
		cfg.Storage.ClientPort, _ = cmd.Flags().GetInt("client-port")
	}
	if cmd.Flags().Changed("nameserver") {
		cfg.Storage.NameServerAddr, _ = cmd.Flags().GetString("nameserver")
	}
	if cmd.Flags().Changed("advertise-ip") {
		cfg.Storage.AdvertiseIP, _ = cmd.Flags().GetString("advertise-ip")
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Storage.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}

	var recorder metrics.Recorder
	if cfg.Storage.Metrics.Enabled {
		recorder = promrec.NewRecorder("storage")
	}

	server, err := storage.New(cfg.Storage, recorder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Storage.Metrics.Enabled {
		go func() {
			if err := api.ServeMetrics(ctx, cfg.Storage.Metrics); err != nil && ctx.Err() == nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	logger.Info("starting storage server",
		"root", cfg.Storage.Root,
		"control_port", cfg.Storage.ControlPort,
		"client_port", cfg.Storage.ClientPort,
		"nameserver", cfg.Storage.NameServerAddr)
	return server.Run(ctx)
}
