package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazycatseven/Faster-whisper/internal/registry"
	"github.com/crazycatseven/Faster-whisper/internal/transcribe"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

type testConfig struct {
	maxUpload int64
	filesDir  string
}

func (c testConfig) GetHTTPAddr() string      { return "127.0.0.1:0" }
func (c testConfig) GetMaxUploadBytes() int64 { return c.maxUpload }
func (c testConfig) GetEngine() string        { return "stub" }
func (c testConfig) IsCORSEnabled() bool      { return true }
func (c testConfig) IsMCPEnabled() bool       { return true }
func (c testConfig) GetMCPFilesDir() string   { return c.filesDir }
func (c testConfig) DefaultModel() whisper.ModelSpec {
	return whisper.ModelSpec{Name: "large-v3", Device: "cuda"}
}

type stubModel struct {
	decodes  *atomic.Int64
}

func (m stubModel) Decode(ctx context.Context, audio whisper.Audio, opts whisper.DecodingOptions) (whisper.SegmentIterator, error) {
	m.decodes.Add(1)
	return &stubIterator{segments: []whisper.Segment{
		{ID: 0, Start: 0, End: 1200 * time.Millisecond, Text: " Hello world.", Words: []whisper.Word{
			{Start: 0, End: 500 * time.Millisecond, Text: " Hello", Probability: 0.95},
			{Start: 500 * time.Millisecond, End: 1200 * time.Millisecond, Text: " world.", Probability: 0.9},
		}},
	}}, nil
}

func (m stubModel) Close() error { return nil }

type stubIterator struct {
	segments []whisper.Segment
	pos      int
}

func (it *stubIterator) Info() whisper.DecodeInfo {
	return whisper.DecodeInfo{Language: "en", LanguageProbability: 0.987, Duration: 1500 * time.Millisecond}
}

func (it *stubIterator) Next(ctx context.Context) (whisper.Segment, error) {
	if it.pos >= len(it.segments) {
		return whisper.Segment{}, io.EOF
	}
	it.pos++
	return it.segments[it.pos-1], nil
}

func (it *stubIterator) Close() error { return nil }

type harness struct {
	svc      *Service
	handler  http.Handler
	filesDir string
	decodes  *atomic.Int64
	loads    *atomic.Int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{decodes: &atomic.Int64{}, loads: &atomic.Int64{}}
	loader := whisper.LoaderFunc(func(ctx context.Context, spec whisper.ModelSpec) (whisper.Model, error) {
		h.loads.Add(1)
		if spec.Name == "broken" || spec.Device == whisper.DeviceCUDA {
			return nil, fmt.Errorf("cannot load %s", spec)
		}
		return stubModel{decodes: h.decodes}, nil
	})
	reg := registry.New(loader, registry.Config{Concurrency: 2})
	t.Cleanup(reg.Close)
	svc := transcribe.New(reg, transcribe.Config{})
	h.filesDir = t.TempDir()
	h.svc = NewService(testConfig{maxUpload: 1 << 20, filesDir: h.filesDir}, svc)
	h.handler = h.svc.Handler()
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) load(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/load_model", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

func transcribeRequest(t *testing.T, fields map[string]string, fileField string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "clip.wav")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRootWithoutModel(t *testing.T) {
	h := newHarness(t)
	w := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, false, body["model_loaded"])
	assert.Nil(t, body["model_info"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestTranscribeWithoutModel(t *testing.T) {
	h := newHarness(t)
	w := h.do(transcribeRequest(t, nil, "audio", []byte("RIFF")))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "no_model_loaded", body["error"])

	w = h.do(httptest.NewRequest(http.MethodGet, "/model_info", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLoadModelThenInfo(t *testing.T) {
	h := newHarness(t)
	w := h.load(t, `{"model":"tiny","device":"cpu"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["fallback"])
	assert.Equal(t, "Successfully loaded CPU model: tiny", body["message"])

	w = h.do(httptest.NewRequest(http.MethodGet, "/model_info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w)
	assert.Equal(t, "tiny", info["model"])
	assert.Equal(t, "cpu", info["device"])
	assert.Equal(t, "int8", info["compute_type"])
	assert.Equal(t, float64(1), info["generation"])

	// same spec again: no reload, same generation
	w = h.load(t, `{"model_size":"tiny","device":"cpu"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), h.loads.Load())
	assert.Equal(t, float64(1), decode(t, w)["model_info"].(map[string]any)["generation"])
}

func TestLoadModelFormEncoded(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/load_model", strings.NewReader("model=base&device=cpu&compute_type=float32"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := decode(t, w)["model_info"].(map[string]any)
	assert.Equal(t, "base", info["model"])
	assert.Equal(t, "float32", info["compute_type"])
}

func TestLoadModelFailure(t *testing.T) {
	h := newHarness(t)
	w := h.load(t, `{"model":"broken","device":"cpu"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "model_load", decode(t, w)["error"])

	// defaults come from config (large-v3 on cuda) which the stub refuses
	w = h.load(t, ``)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTranscribeInvalidBeamSize(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.load(t, `{"model":"tiny","device":"cpu"}`).Code)

	w := h.do(transcribeRequest(t, map[string]string{"beam_size": "abc"}, "audio", []byte("RIFF")))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation", body["error"])
	assert.Contains(t, body["message"], "beam_size")
	assert.Zero(t, h.decodes.Load())

	w = h.do(transcribeRequest(t, map[string]string{"beam_size": "abc"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, h.decodes.Load())
}

func TestTranscribeMissingFile(t *testing.T) {
	h := newHarness(t)
	w := h.do(transcribeRequest(t, map[string]string{"language": "en"}, "", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["message"], "audio")

	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)
}

func TestTranscribeTooLarge(t *testing.T) {
	h := newHarness(t)
	w := h.do(transcribeRequest(t, nil, "audio", make([]byte, 2<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestTranscribe(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.load(t, `{"model":"tiny","device":"cpu"}`).Code)

	req := transcribeRequest(t, map[string]string{"word_timestamps": "true"}, "file", []byte("RIFFdata"))
	req.Header.Set("X-Request-ID", "req-42")
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Hello world.", body["text"])
	assert.Equal(t, "en", body["language"])
	assert.Equal(t, 0.99, body["language_probability"])
	assert.Equal(t, 1.5, body["audio_duration"])
	assert.Equal(t, "tiny", body["model"])
	assert.Equal(t, "cpu", body["device"])
	assert.Equal(t, float64(1), body["generation"])
	assert.Equal(t, "req-42", body["request_id"])

	segments := body["segments"].([]any)
	require.Len(t, segments, 1)
	seg := segments[0].(map[string]any)
	assert.Equal(t, 1.2, seg["end"])
	words := seg["words"].([]any)
	require.Len(t, words, 2)
	assert.Equal(t, " Hello", words[0].(map[string]any)["word"])

	w = h.do(transcribeRequest(t, map[string]string{"language": "en", "word_timestamps": "false"}, "audio", []byte("RIFFdata")))
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.NotContains(t, body, "language_probability")
	assert.NotContains(t, body["segments"].([]any)[0].(map[string]any), "words")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/transcribe", nil)
	req.Header.Set("Origin", "http://example.com")
	w := h.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGzipResponses(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := h.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	// small bodies stay uncompressed; the Vary header shows the wrapper ran
	assert.Contains(t, w.Header().Values("Vary"), "Accept-Encoding")
}
