package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shopmgr/partsync/pkg/app"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var serviceCfgFile string

//nolint:gochecknoglobals // Cobra commands are typically global
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Start the partsync service",
	Long:  `Runs the scheduler, sync engine and REST API until interrupted.`,
	RunE:  runService,
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.Flags().StringVar(&serviceCfgFile, "config", "partsync.yaml", "config file (default is partsync.yaml)")
}

func runService(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadConfigFromFile(serviceCfgFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(config.Logging)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded")

	application := app.NewApplication(config, logger)
	if err := application.Start(context.Background()); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return application.Stop()
}
