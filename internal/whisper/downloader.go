package whisper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the upstream location for official whisper.cpp models.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// ModelFile describes the state of a resolved model file.
type ModelFile struct {
	Path    string
	Existed bool
}

// Downloader retrieves ggml model files into a local cache directory.
type Downloader struct {
	dest    string
	baseURL string
	client  *http.Client

	// one download per file at a time
	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewDownloader initialises a Downloader targeting dest. An empty baseURL
// uses DefaultBaseURL.
func NewDownloader(dest, baseURL string) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Downloader{
		dest:    dest,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
		inflight: make(map[string]*sync.Mutex),
	}
}

// EnsureModel returns a local path for model. A name that points to an
// existing file is used as is; otherwise the ggml file is fetched into the
// cache directory unless it is already there.
func (d *Downloader) EnsureModel(ctx context.Context, model string) (ModelFile, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return ModelFile{}, fmt.Errorf("model name is required")
	}
	if info, err := os.Stat(model); err == nil && !info.IsDir() {
		return ModelFile{Path: model, Existed: true}, nil
	}
	if strings.ContainsAny(model, `/\`) {
		return ModelFile{}, fmt.Errorf("model file %s not found", model)
	}

	if err := os.MkdirAll(d.dest, 0o755); err != nil {
		return ModelFile{}, err
	}

	localName := ggmlFileName(model)
	localPath := filepath.Join(d.dest, localName)

	lock := d.fileLock(localName)
	lock.Lock()
	defer lock.Unlock()

	if info, err := os.Stat(localPath); err == nil && info.Size() > 0 {
		return ModelFile{Path: localPath, Existed: true}, nil
	}

	url := d.baseURL + localName
	tmpPath := localPath + ".downloading"
	if err := d.download(ctx, url, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return ModelFile{}, err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		return ModelFile{}, err
	}
	return ModelFile{Path: localPath}, nil
}

func (d *Downloader) fileLock(name string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.inflight[name]
	if !ok {
		l = &sync.Mutex{}
		d.inflight[name] = l
	}
	return l
}

func (d *Downloader) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	log.Info().Str("url", url).Msg("downloading whisper model")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: %s", resp.Status)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return err
	}

	written, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if written == 0 {
		return fmt.Errorf("download model: empty body from %s", url)
	}

	log.Info().
		Str("path", destPath).
		Int64("bytes", written).
		Dur("took", time.Since(start)).
		Msg("downloaded whisper model")
	return nil
}

// ggmlFileName maps "tiny" or "ggml-tiny" to "ggml-tiny.bin".
func ggmlFileName(name string) string {
	normalized := strings.TrimSpace(name)
	if !strings.HasSuffix(normalized, ".bin") {
		normalized += ".bin"
	}
	if !strings.HasPrefix(normalized, "ggml-") {
		normalized = "ggml-" + normalized
	}
	return normalized
}
