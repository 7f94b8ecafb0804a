// Package cmd contains the CLI commands for partsync
package cmd

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shopmgr/partsync/pkg/app"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "partsync",
	Short: "Supplier pricing sync service for the parts catalog",
	Long: `partsync keeps the local pricing cache in step with the supplier API.
It runs a daily full catalog sync, interval-based refreshes of stale entries,
and drains on-demand update requests, while respecting supplier rate limits.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfigFromFile reads the application config, applying defaults first so
// the YAML file only needs to override what differs
func loadConfigFromFile(file string) (*app.Config, error) {
	if file == "" {
		file = "partsync.yaml"
	}

	config := &app.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}

// newLogger builds the application logger from the configured level
func newLogger(level string) (*logrus.Logger, error) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return logger, nil
}
