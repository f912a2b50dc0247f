// Package conf loads the service configuration from file, environment and
// flags, and reports model changes made to the config file at runtime.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

const EnvPrefix = "FWAPI"

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr" json:"http_addr"`
	LogLevel    string `mapstructure:"log_level" json:"log_level"`
	LogFormat   string `mapstructure:"log_format" json:"log_format"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb" json:"max_upload_mb"`
	CORS        bool   `mapstructure:"cors" json:"cors"`
	MCP         bool   `mapstructure:"mcp" json:"mcp"`
	// MCPFilesDir is the only directory the transcribe_file tool may read;
	// empty disables the tool.
	MCPFilesDir string `mapstructure:"mcp_files_dir" json:"mcp_files_dir"`

	Model      ModelConfig      `mapstructure:"model" json:"model"`
	Python     PythonConfig     `mapstructure:"python" json:"python"`
	OpenAI     OpenAIConfig     `mapstructure:"openai" json:"openai"`
	WhisperCpp WhisperCppConfig `mapstructure:"whispercpp" json:"whispercpp"`
}

// SetDefaults registers every key so environment overrides apply to all of
// them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("max_upload_mb", 100)
	v.SetDefault("cors", true)
	v.SetDefault("mcp", true)
	v.SetDefault("mcp_files_dir", "")

	v.SetDefault("model.engine", EngineFasterWhisper)
	v.SetDefault("model.name", "large-v3")
	v.SetDefault("model.device", "cuda")
	v.SetDefault("model.compute_type", "")
	v.SetDefault("model.preload", true)
	v.SetDefault("model.concurrency", 1)
	v.SetDefault("model.fallback_cpu", true)
	v.SetDefault("model.fallback_name", "small")
	v.SetDefault("model.dir", "./models")
	v.SetDefault("model.download_url", "")

	v.SetDefault("python.path", "")
	v.SetDefault("python.script_dir", "")
	v.SetDefault("python.env", map[string]string{})

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.organization", "")
	v.SetDefault("openai.request_timeout_seconds", 300)
	v.SetDefault("openai.max_retries", 2)

	v.SetDefault("whispercpp.threads", 0)
}

// New returns a viper instance with defaults and environment binding. An
// empty path looks for fwapi.{yaml,json,toml} in the working directory.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fwapi")
		v.AddConfigPath(".")
	}
	return v
}

// Load reads the config file, if any, and decodes the merged configuration.
// A missing default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return Decode(v)
}

func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Model.Engine {
	case EngineFasterWhisper, EngineWhisperCpp, EngineOpenAI:
	default:
		return fmt.Errorf("unknown model.engine %q", c.Model.Engine)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive")
	}
	if c.Model.Concurrency < 1 {
		c.Model.Concurrency = 1
	}
	return nil
}

// Watcher reports model changes made to the config file while running.
type Watcher struct {
	v *viper.Viper

	mu      sync.Mutex
	current ModelConfig
}

func NewWatcher(v *viper.Viper, initial ModelConfig) *Watcher {
	return &Watcher{v: v, current: initial}
}

// Start watches the config file. onModel runs when the model section
// changes; other edits are logged and otherwise ignored since they need a
// restart.
func (w *Watcher) Start(onModel func(ModelConfig)) {
	if w.v.ConfigFileUsed() == "" {
		return
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Decode(w.v)
		if err != nil {
			log.Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}

		w.mu.Lock()
		changed := c.Model.Spec() != w.current.Spec()
		if changed {
			w.current = c.Model
		}
		w.mu.Unlock()

		if !changed {
			log.Debug().Str("file", e.Name).Msg("config changed; model unchanged")
			return
		}
		log.Info().Str("model", c.Model.Spec().String()).Msg("config changed; reloading model")
		onModel(c.Model)
	})
	w.v.WatchConfig()
}

func (c *Config) GetHTTPAddr() string {
	return c.HTTPAddr
}

func (c *Config) GetMaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func (c *Config) IsCORSEnabled() bool {
	return c.CORS
}

func (c *Config) IsMCPEnabled() bool {
	return c.MCP
}

func (c *Config) GetMCPFilesDir() string {
	return c.MCPFilesDir
}

func (c *Config) GetEngine() string {
	return c.Model.Engine
}

// DefaultModel is the model loaded at startup and by /load_model requests
// that leave fields out.
func (c *Config) DefaultModel() whisper.ModelSpec {
	return whisper.ModelSpec{Name: c.Model.Name, Device: c.Model.Device, ComputeType: c.Model.ComputeType}
}
