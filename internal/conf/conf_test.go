package conf

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fwapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(New(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
	assert.Nil(t, c)

	t.Chdir(t.TempDir())
	c, err = Load(New(""))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", c.HTTPAddr)
	assert.Equal(t, int64(100), c.MaxUploadMB)
	assert.Equal(t, EngineFasterWhisper, c.Model.Engine)
	assert.Equal(t, "large-v3", c.Model.Name)
	assert.Equal(t, "cuda", c.Model.Device)
	assert.Equal(t, "float16", c.Model.Spec().ComputeType)
	assert.True(t, c.Model.Preload)
	assert.True(t, c.Model.FallbackCPU)
	assert.Equal(t, "small", c.Model.FallbackName)
	assert.Equal(t, 1, c.Model.Concurrency)
	assert.Equal(t, 300*time.Second, c.OpenAI.RequestTimeout())
	assert.True(t, c.IsMCPEnabled())
	assert.Empty(t, c.GetMCPFilesDir(), "file transcription over MCP is opt-in")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
http_addr: 127.0.0.1:9000
model:
  engine: whispercpp
  name: base
  device: cpu
  concurrency: 3
python:
  env:
    HF_HOME: /tmp/hf
`)
	t.Setenv("FWAPI_MODEL_NAME", "tiny")
	t.Setenv("FWAPI_MAX_UPLOAD_MB", "5")

	c, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", c.HTTPAddr)
	assert.Equal(t, EngineWhisperCpp, c.Model.Engine)
	assert.Equal(t, "tiny", c.Model.Name)
	assert.Equal(t, 3, c.Model.Concurrency)
	assert.Equal(t, int64(5), c.MaxUploadMB)
	assert.Equal(t, "int8", c.Model.Spec().ComputeType)
	assert.Equal(t, "/tmp/hf", c.Python.Env["hf_home"])
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "model:\n  engine: sphinx\n")
	_, err := Load(New(path))
	assert.ErrorContains(t, err, "sphinx")
}

func TestWatcherReportsModelChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "model:\n  name: tiny\n  device: cpu\n")
	v := New(path)
	c, err := Load(v)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)
	NewWatcher(v, c.Model).Start(func(m ModelConfig) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Name)
	})

	writeConfig(t, dir, "model:\n  name: base\n  device: cpu\n")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == "base"
	}, 5*time.Second, 20*time.Millisecond)
}
