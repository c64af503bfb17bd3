package main

import (
	"errors"
	"os"
	"strings"

	"github.com/mx-space/cloud/internal/config"
	"github.com/mx-space/cloud/internal/pkg/nativelog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "cloudctl",
	Short: "Generate function registries and deploy them to a cloud provider",
	Long: `cloudctl turns model manifests into a function registry and deploys it:
1. generate - Expand models into the registry of callable services
2. deploy   - Publish the shared layer, functions, routes and assets
3. serve    - Deploy, then serve the API gateway until interrupted`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initViper)
	rootCmd.PersistentFlags().String("config", "", "path to YAML config file (default "+config.DefaultConfigPath+" when present)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(generateCmd, deployCmd, serveCmd)
}

// initViper lets CLOUD_CONFIG and friends stand in for persistent flags.
func initViper() {
	viper.SetEnvPrefix("cloud")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the selected config file. Without --config a missing
// default file yields the built-in defaults.
func loadConfig() (*config.AppConfig, error) {
	path := strings.TrimSpace(viper.GetString("config"))
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.Load(path)
}

func newLogger(cfg *config.AppConfig) *zap.Logger {
	logger, err := nativelog.NewZapLogger(cfg.LogDir(), cfg.IsDev())
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("native log pipeline unavailable, fallback to zap production logger", zap.Error(err))
	}
	return logger
}
