package conf

import (
	"time"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// Engines selectable through model.engine.
const (
	EngineFasterWhisper = "faster-whisper"
	EngineWhisperCpp    = "whispercpp"
	EngineOpenAI        = "openai"
)

// ModelConfig selects the engine and the model loaded at startup.
type ModelConfig struct {
	Engine       string `mapstructure:"engine" json:"engine"`
	Name         string `mapstructure:"name" json:"name"`
	Device       string `mapstructure:"device" json:"device"`
	ComputeType  string `mapstructure:"compute_type" json:"compute_type"`
	Preload      bool   `mapstructure:"preload" json:"preload"`
	Concurrency  int    `mapstructure:"concurrency" json:"concurrency"`
	FallbackCPU  bool   `mapstructure:"fallback_cpu" json:"fallback_cpu"`
	FallbackName string `mapstructure:"fallback_name" json:"fallback_name"`
	Dir          string `mapstructure:"dir" json:"dir"`
	DownloadURL  string `mapstructure:"download_url" json:"download_url"`
}

// Spec returns the normalized spec of the configured model.
func (c *ModelConfig) Spec() whisper.ModelSpec {
	if c == nil {
		return whisper.ModelSpec{}
	}
	return whisper.ModelSpec{Name: c.Name, Device: c.Device, ComputeType: c.ComputeType}.Normalize()
}

// PythonConfig controls the faster-whisper worker process.
type PythonConfig struct {
	Path      string            `mapstructure:"path" json:"path"`
	ScriptDir string            `mapstructure:"script_dir" json:"script_dir"`
	Env       map[string]string `mapstructure:"env" json:"env"`
}

// OpenAIConfig points the remote engine at an OpenAI compatible API.
type OpenAIConfig struct {
	APIKey                string `mapstructure:"api_key" json:"-"`
	BaseURL               string `mapstructure:"base_url" json:"base_url"`
	Organization          string `mapstructure:"organization" json:"organization"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" json:"request_timeout_seconds"`
	MaxRetries            int    `mapstructure:"max_retries" json:"max_retries"`
}

func (c *OpenAIConfig) RequestTimeout() time.Duration {
	if c == nil || c.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

type WhisperCppConfig struct {
	Threads int `mapstructure:"threads" json:"threads"`
}
