package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGGMLFileName(t *testing.T) {
	assert.Equal(t, "ggml-tiny.bin", ggmlFileName("tiny"))
	assert.Equal(t, "ggml-base.en.bin", ggmlFileName("ggml-base.en"))
	assert.Equal(t, "ggml-small.bin", ggmlFileName("small.bin"))
}

func TestEnsureModelDownloadsOnce(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/ggml-tiny.bin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := d.EnsureModel(context.Background(), "tiny")
			assert.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "ggml-tiny.bin"), f.Path)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load())
	data, err := os.ReadFile(filepath.Join(dir, "ggml-tiny.bin"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	f, err := d.EnsureModel(context.Background(), "tiny")
	require.NoError(t, err)
	assert.True(t, f.Existed)
}

func TestEnsureModelUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(dir, srv.URL+"/")

	_, err := d.EnsureModel(context.Background(), "missing")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "ggml-missing.bin.downloading"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsureModelExistingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	d := NewDownloader(t.TempDir(), "http://127.0.0.1:1/")
	f, err := d.EnsureModel(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)
	assert.True(t, f.Existed)

	_, err = d.EnsureModel(context.Background(), filepath.Join(t.TempDir(), "nope.bin"))
	assert.Error(t, err)
}
