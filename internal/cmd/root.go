package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danielpatrickdp/magi/go-controller/internal/config"
	"github.com/danielpatrickdp/magi/go-controller/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "magi",
	Short: "Three-model orchestration controller",
	Long: `MAGI sends one request to three generator backends (Codex, Claude, Gemini).
It either chains them as a proposal battle or asks each persona for a vote
and aggregates the votes into a consensus decision.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (env MAGI_* and legacy names still apply)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var err error
	v, err = config.New(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		v.Set("logging.level", logLevel)
	}
	cfg, err = config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)
	return nil
}
