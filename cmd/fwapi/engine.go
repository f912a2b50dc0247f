package fwapi

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/crazycatseven/Faster-whisper/internal/conf"
	"github.com/crazycatseven/Faster-whisper/internal/registry"
	"github.com/crazycatseven/Faster-whisper/internal/speech/openai"
	"github.com/crazycatseven/Faster-whisper/internal/speech/whispercpp"
	"github.com/crazycatseven/Faster-whisper/internal/transcribe"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// newLoader builds the loader of the configured engine.
func newLoader(cfg *conf.Config) (whisper.Loader, error) {
	switch cfg.Model.Engine {
	case conf.EngineFasterWhisper:
		env := make(map[string]string, len(cfg.Python.Env))
		for k, val := range cfg.Python.Env {
			// config keys come back lowercased
			env[strings.ToUpper(k)] = val
		}
		scriptDir := cfg.Python.ScriptDir
		if scriptDir == "" {
			scriptDir = filepath.Join(cfg.Model.Dir, ".worker")
		}
		return whisper.NewPythonLoader(whisper.PythonConfig{
			PythonPath:   cfg.Python.Path,
			ScriptDir:    scriptDir,
			DownloadRoot: cfg.Model.Dir,
			Env:          env,
		})
	case conf.EngineWhisperCpp:
		return whispercpp.NewLoader(whispercpp.Config{
			ModelDir:    cfg.Model.Dir,
			DownloadURL: cfg.Model.DownloadURL,
			Threads:     cfg.WhisperCpp.Threads,
		}), nil
	case conf.EngineOpenAI:
		return openai.NewLoader(openai.Config{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Organization:   cfg.OpenAI.Organization,
			RequestTimeout: cfg.OpenAI.RequestTimeout(),
			MaxRetries:     cfg.OpenAI.MaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Model.Engine)
	}
}

func newTranscriber(cfg *conf.Config) (*transcribe.Service, error) {
	loader, err := newLoader(cfg)
	if err != nil {
		return nil, err
	}
	reg := registry.New(loader, registry.Config{Concurrency: cfg.Model.Concurrency})
	return transcribe.New(reg, transcribe.Config{
		FallbackCPU:   cfg.Model.FallbackCPU,
		FallbackModel: cfg.Model.FallbackName,
	}), nil
}
