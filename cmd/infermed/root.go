package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/infermed/backend/internal/app"
	"github.com/infermed/backend/internal/metrics"
	"github.com/infermed/backend/pkg/config"
	appLogger "github.com/infermed/backend/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "infermed",
	Short: "Drug-pair interaction evidence from the command line",
	Long: "infermed builds the ranked evidence bundle for a drug pair, records\n" +
		"answer feedback and maintains the caches and graph behind the API.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Config file (default: search ./config.yaml, ./config, /etc/infermed)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "warn", "Log level written to stderr")

	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and routes logs to stderr so stdout stays
// machine-readable.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := appLogger.Init(rootFlags.logLevel, "console", "stderr"); err != nil {
		return nil, err
	}
	metrics.Init()
	return cfg, nil
}

func openApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, appLogger.GetLogger(), opts)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
