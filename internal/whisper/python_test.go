package whisper

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorker speaks the worker's JSON lines protocol over pipes so the bridge
// can be exercised without python.
type fakeWorker struct {
	model   *pythonModel
	stdinR  *io.PipeReader
	stdoutW *io.PipeWriter
	reply   func(w *fakeWorker, req workerRequest)

	outMu sync.Mutex

	mu        sync.Mutex
	cancelled map[uint64]bool
	ops       []string
}

func startFakeWorker(t *testing.T, reply func(w *fakeWorker, req workerRequest)) *fakeWorker {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	w := &fakeWorker{
		stdinR:    stdinR,
		stdoutW:   stdoutW,
		reply:     reply,
		cancelled: make(map[uint64]bool),
	}
	spec := ModelSpec{Name: "tiny", Device: DeviceCPU, ComputeType: "int8"}
	w.model = newPythonModel(spec, &exec.Cmd{}, stdinW, stdoutR, &tailBuffer{limit: 4096})
	go w.serve()
	t.Cleanup(func() {
		_ = w.model.Close()
		_ = stdoutR.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.model.waitReady(ctx))
	return w
}

func (w *fakeWorker) serve() {
	defer w.stdoutW.Close()
	w.emit(map[string]any{"event": "ready", "model": "tiny"})

	sc := bufio.NewScanner(w.stdinR)
	for sc.Scan() {
		var req workerRequest
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		w.mu.Lock()
		if req.Op == "cancel" {
			w.cancelled[req.ID] = true
			w.ops = append(w.ops, fmt.Sprintf("cancel:%d", req.ID))
			w.mu.Unlock()
			continue
		}
		w.ops = append(w.ops, fmt.Sprintf("decode:%d", req.ID))
		w.mu.Unlock()
		go w.reply(w, req)
	}
}

func (w *fakeWorker) emit(ev map[string]any) bool {
	b, _ := json.Marshal(ev)
	w.outMu.Lock()
	defer w.outMu.Unlock()
	_, err := w.stdoutW.Write(append(b, '\n'))
	return err == nil
}

func (w *fakeWorker) isCancelled(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled[id]
}

func (w *fakeWorker) recorded() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.ops...)
}

// streamSegments answers every request with info, n segments and done. A
// segment for an unrelated request id goes out first.
func streamSegments(n int) func(w *fakeWorker, req workerRequest) {
	return func(w *fakeWorker, req workerRequest) {
		w.emit(map[string]any{"event": "segment", "id": req.ID + 1000, "seq": 99, "text": "stale"})
		w.emit(map[string]any{"event": "info", "id": req.ID, "language": "en", "language_probability": 0.9, "duration": float64(n)})
		for i := 0; i < n; i++ {
			if w.isCancelled(req.ID) {
				break
			}
			if !w.emit(map[string]any{
				"event": "segment", "id": req.ID, "seq": i,
				"start": float64(i), "end": float64(i + 1),
				"text": fmt.Sprintf(" req %d seg %d", req.ID, i),
			}) {
				return
			}
		}
		w.emit(map[string]any{"event": "done", "id": req.ID})
	}
}

func clip() Audio {
	return Audio{Name: "clip.wav", Data: []byte("RIFF....WAVE")}
}

func drain(t *testing.T, it SegmentIterator) []Segment {
	t.Helper()
	var out []Segment
	for {
		seg, err := it.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, seg)
	}
}

func TestPythonDecodeStreamsOwnSegments(t *testing.T) {
	w := startFakeWorker(t, streamSegments(5))

	it, err := w.model.Decode(context.Background(), clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.NoError(t, err)
	info := it.Info()
	assert.Equal(t, "en", info.Language)
	assert.Equal(t, 0.9, info.LanguageProbability)
	assert.Equal(t, 5*time.Second, info.Duration)

	segs := drain(t, it)
	require.Len(t, segs, 5)
	for i, seg := range segs {
		assert.Equal(t, i, seg.ID)
		assert.Equal(t, fmt.Sprintf(" req 1 seg %d", i), seg.Text)
		assert.Equal(t, time.Duration(i)*time.Second, seg.Start)
	}

	// finished iterators release without cancelling, and only once
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	_, err = it.Next(context.Background())
	assert.Equal(t, io.EOF, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	it, err = w.model.Decode(ctx, clip(), DecodingOptions{Language: "en", BeamSize: 5})
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 5)
	require.NoError(t, it.Close())

	assert.Equal(t, []string{"decode:1", "decode:2"}, w.recorded())
}

func TestPythonCancelMidStreamThenReuse(t *testing.T) {
	w := startFakeWorker(t, streamSegments(50))

	ctx, cancel := context.WithCancel(context.Background())
	it, err := w.model.Decode(ctx, clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		seg, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, seg.ID)
	}

	cancel()
	_, err = it.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, it.Close())
	assert.Contains(t, w.recorded(), "cancel:1")

	// the next request sees none of the cancelled request's leftovers
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	it, err = w.model.Decode(ctx2, clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.NoError(t, err)
	segs := drain(t, it)
	require.NoError(t, it.Close())

	require.Len(t, segs, 50)
	for i, seg := range segs {
		assert.Equal(t, i, seg.ID)
		assert.True(t, strings.HasPrefix(seg.Text, " req 2 "), seg.Text)
	}
}

func TestPythonErrorBeforeInfoReleasesWorker(t *testing.T) {
	ok := streamSegments(2)
	w := startFakeWorker(t, func(w *fakeWorker, req workerRequest) {
		if req.ID == 1 {
			w.emit(map[string]any{"event": "error", "id": req.ID, "error": "cuda out of memory"})
			return
		}
		ok(w, req)
	})

	_, err := w.model.Decode(context.Background(), clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.EqualError(t, err, "cuda out of memory")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	it, err := w.model.Decode(ctx, clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 2)
	require.NoError(t, it.Close())
	assert.NotContains(t, w.recorded(), "cancel:1")
}

func TestPythonWorkerExitsMidStream(t *testing.T) {
	w := startFakeWorker(t, func(w *fakeWorker, req workerRequest) {
		w.emit(map[string]any{"event": "info", "id": req.ID, "language": "en", "duration": 3.0})
		for i := 0; i < 2; i++ {
			w.emit(map[string]any{"event": "segment", "id": req.ID, "seq": i, "text": "partial"})
		}
		_ = w.stdoutW.Close()
	})

	it, err := w.model.Decode(context.Background(), clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := it.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = it.Next(context.Background())
	require.ErrorContains(t, err, "python worker exited")
	require.NoError(t, it.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = w.model.Decode(ctx, clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.ErrorContains(t, err, "python worker")
}

func TestPythonOversizedEventLine(t *testing.T) {
	prev := maxEventLine
	maxEventLine = 256
	t.Cleanup(func() { maxEventLine = prev })

	w := startFakeWorker(t, func(w *fakeWorker, req workerRequest) {
		w.emit(map[string]any{"event": "info", "id": req.ID, "language": "en", "duration": 1.0})
		w.emit(map[string]any{"event": "segment", "id": req.ID, "seq": 0, "text": strings.Repeat("x", 4096)})
	})

	it, err := w.model.Decode(context.Background(), clip(), DecodingOptions{Language: LanguageAuto, BeamSize: 5})
	require.NoError(t, err)
	_, err = it.Next(context.Background())
	require.ErrorIs(t, err, bufio.ErrTooLong)
	require.NoError(t, it.Close())

	select {
	case <-w.model.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("worker still considered running after unreadable output")
	}
}
