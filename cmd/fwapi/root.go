package fwapi

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crazycatseven/Faster-whisper/internal/conf"
	"github.com/crazycatseven/Faster-whisper/pkg/version"
)

var (
	configFile string
	v          *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:     "fwapi",
	Short:   "Speech-to-text HTTP service backed by whisper models",
	Version: version.Version,
	RunE:    runServer,
	// server is also the default command
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./fwapi.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().String("engine", "", "model engine: faster-whisper, whispercpp or openai")
	rootCmd.PersistentFlags().String("model", "", "model name loaded at startup")
	rootCmd.PersistentFlags().String("device", "", "device: cuda, cpu or auto")
	rootCmd.PersistentFlags().String("compute-type", "", "compute type, e.g. float16 or int8")
	addServerFlags(rootCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func initConfig() {
	v = conf.New(configFile)
	bind := map[string]string{
		"log_level":          "log-level",
		"log_format":         "log-format",
		"model.engine":       "engine",
		"model.name":         "model",
		"model.device":       "device",
		"model.compute_type": "compute-type",
	}
	for key, flag := range bind {
		if f := rootCmd.PersistentFlags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// bindLocal binds flags that only exist on cmd.
func bindLocal(cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func loadConfig() (*conf.Config, error) {
	cfg, err := conf.Load(v)
	if err != nil {
		return nil, err
	}
	initLog(cfg.LogLevel, cfg.LogFormat)
	if used := v.ConfigFileUsed(); used != "" {
		log.Info().Str("file", used).Msg("config loaded")
	}
	return cfg, nil
}

func initLog(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
}
