package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chatwidget/internal/config"
	"chatwidget/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	endpoint   string
	workspace  string
	timeout    time.Duration

	// Logger
	logger *zap.Logger

	// Loaded by PersistentPreRunE
	cfg *config.Config

	// Re-applies flag overrides to configs reloaded from disk.
	reapplyFlags = func(*config.Config) {}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatwidget",
	Short: "chatwidget - a chat client for a single question/answer endpoint",
	Long: `chatwidget sends typed questions to one HTTP endpoint and shows the
answers in a transcript.

The endpoint receives {"question": "..."} and answers {"answer": "..."};
both field names are configurable.

Run without arguments to start the interactive terminal chat.
Use "chatwidget serve" for the browser widget.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		interactive := cmd == cmd.Root()

		// The TUI owns the terminal; stderr logging would corrupt it.
		if interactive {
			logger = zap.NewNop()
		} else {
			zc := zap.NewProductionConfig()
			if verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}

		return loadConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/"+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "Backend endpoint URL (or set CHATWIDGET_ENDPOINT)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Backend request timeout")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the --workspace flag or the current directory.
func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	ws, err := os.Getwd()
	if err != nil {
		return "."
	}
	return ws
}

// resolveConfigPath returns --config or the workspace default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.ResolvePath(resolveWorkspace(), config.DefaultPath)
}

// loadConfig reads .env files and the config file, then applies flag
// overrides. Flags win over the environment, which wins over the file.
func loadConfig(cmd *cobra.Command) error {
	ws := resolveWorkspace()

	if err := config.LoadEnvFiles(ws); err != nil {
		logger.Warn("Failed to load .env files", zap.Error(err))
	}

	// config init must be able to overwrite a file that no longer loads.
	repairing := cmd == configInitCmd

	loaded, err := config.Load(resolveConfigPath())
	if err != nil {
		if !repairing {
			return err
		}
		logger.Warn("Ignoring unreadable config", zap.Error(err))
		loaded = config.DefaultConfig()
	}
	reapplyFlags = func(c *config.Config) {
		applyFlagOverrides(cmd, c)
		c.History.DatabasePath = config.ResolvePath(ws, c.History.DatabasePath)
	}
	reapplyFlags(loaded)

	if err := loaded.Validate(); err != nil && !repairing {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Initialize(ws, loaded.Logging); err != nil {
		logger.Warn("Failed to initialize file logging", zap.Error(err))
	}

	logger.Debug("Configuration loaded",
		zap.String("endpoint", loaded.Backend.Endpoint),
		zap.String("timeout", loaded.Backend.Timeout),
		zap.Bool("history", loaded.History.Enabled))
	logging.Boot("endpoint=%s render=%s history=%v", loaded.Backend.Endpoint, loaded.Widget.Render, loaded.History.Enabled)

	cfg = loaded
	return nil
}

// applyFlagOverrides copies explicitly set global flags onto the config.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if endpoint != "" {
		c.Backend.Endpoint = endpoint
	}
	if flags.Changed("timeout") {
		c.Backend.Timeout = timeout.String()
	}
	if verbose {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}
