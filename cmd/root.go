package cmd

import (
	"fmt"
	"os"

	"github.com/Rain1971/V2C-trydant/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "v2c-trydant",
	Short: "V2C Trydan EV charger bridge",
	Long: `A standalone bridge for V2C Trydan EV chargers.

This application polls the charger's local HTTP interface, exposes its
state over an HTTP API and MQTT, and runs charge orchestration rules
(distance target, electricity price gating).`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

// CreateLoggerFromConfig creates a logger from configuration
func CreateLoggerFromConfig(logCfg config.LoggingConfig) (*zap.Logger, error) {
	// Parse log level
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(logCfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	if logCfg.Format == "console" {
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	if logCfg.File != "" {
		zapCfg.OutputPaths = []string{"stdout", logCfg.File}
		zapCfg.ErrorOutputPaths = []string{"stderr", logCfg.File}
	}

	return zapCfg.Build()
}
