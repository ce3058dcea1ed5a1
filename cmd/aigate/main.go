package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pario-ai/aigate/pkg/config"
)

var version = "dev"

const defaultConfigPath = "aigate.yaml"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "aigate",
		Short:         "aigate - credit-metered AI request gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")

	load := func() (*config.Config, error) { return loadConfig(configPath) }
	root.AddCommand(
		newServeCmd(load),
		newCacheCmd(load),
		newCreditsCmd(load),
		newCostsCmd(load),
		newUsageCmd(load),
		newMCPCmd(load),
		newTokenCmd(load),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)

// loadConfig reads path. A missing default config file falls back to the
// built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config_not_found", "path", path)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}
