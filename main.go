package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"PPNotify/global/config"
	"PPNotify/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ppnotify",
	Short:        "Follower notification server",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd(), replicaCmd())
}

func main() {
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("ppnotify exited", zap.Error(err))
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the log level.
func loadConfig() (config.AppConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return cfg, err
	}
	return cfg, nil
}
