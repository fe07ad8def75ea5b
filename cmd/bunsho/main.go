// Package main is the bunsho CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/bunsho/config.yaml"

// app is the state shared by every subcommand once the root pre-run has loaded it.
type app struct {
	configPath string
	debug      bool
	envFile    string

	cfg    *config.Config
	logger *zap.Logger
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory; if the default file does not exist either,
// built-in defaults are used. Returns the config and the path that was loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "bunsho",
		Short:         "bunsho - document retrieval and answering for chat sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := config.LoadEnv(a.envFile); err != nil {
				return err
			}
			cfg, resolved, err := loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			debugMode := cfg.Debug || a.debug
			logger, err := utils.NewLogger(debugMode)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with API keys")

	root.AddCommand(
		newServerCmd(a),
		newIndexCmd(a),
		newSearchCmd(a),
		newAskCmd(a),
		newSessionsCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bunsho version %s\n", version)
		},
	}
}

// joinArgs joins all positional args with spaces so multi-word queries work the
// same with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
