package whisper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "embed"

	"github.com/rs/zerolog/log"

	"github.com/crazycatseven/Faster-whisper/internal/audio"
)

//go:embed faster_whisper_worker.py
var embeddedWorkerScript []byte

const workerScriptName = "faster_whisper_worker.py"

// maxEventLine bounds one JSON line of worker output.
var maxEventLine = 16 * 1024 * 1024

// PythonConfig describes how to start faster-whisper worker processes.
type PythonConfig struct {
	ScriptDir    string
	PythonPath   string
	DownloadRoot string
	Env          map[string]string
}

// PythonLoader starts one faster-whisper worker process per loaded model.
type PythonLoader struct {
	cfg        PythonConfig
	scriptPath string
}

// NewPythonLoader ensures the worker script is available on disk.
func NewPythonLoader(cfg PythonConfig) (*PythonLoader, error) {
	if cfg.ScriptDir == "" {
		return nil, errors.New("script directory is required")
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}

	pythonPath := cfg.PythonPath
	if pythonPath == "" {
		pythonPath = os.Getenv("FWAPI_PYTHON")
	}
	if pythonPath == "" {
		if runtime.GOOS == "windows" {
			pythonPath = "python.exe"
		} else {
			pythonPath = "python3"
		}
	}
	cfg.PythonPath = pythonPath

	if err := os.MkdirAll(cfg.ScriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure script directory: %w", err)
	}
	scriptPath := filepath.Join(cfg.ScriptDir, workerScriptName)
	if err := ensureWorkerScript(scriptPath); err != nil {
		return nil, err
	}

	return &PythonLoader{cfg: cfg, scriptPath: scriptPath}, nil
}

// ScriptPath returns the path to the extracted worker script.
func (l *PythonLoader) ScriptPath() string {
	return l.scriptPath
}

// Load starts a worker and waits until it reports the model ready.
func (l *PythonLoader) Load(ctx context.Context, spec ModelSpec) (Model, error) {
	args := []string{
		l.scriptPath,
		"--model", spec.Name,
		"--device", spec.Device,
		"--compute-type", spec.ComputeType,
	}
	if l.cfg.DownloadRoot != "" {
		args = append(args, "--download-root", l.cfg.DownloadRoot)
	}

	// The worker outlives the load request, so ctx only bounds the wait.
	cmd := exec.Command(l.cfg.PythonPath, args...)
	env := append([]string{}, os.Environ()...)
	env = append(env, "PYTHONIOENCODING=utf-8", "PYTHONUNBUFFERED=1")
	for key, value := range l.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start python worker: %w", err)
	}

	m := newPythonModel(spec, cmd, stdin, stdout, stderr)
	if err := m.waitReady(ctx); err != nil {
		m.kill()
		return nil, err
	}
	log.Info().Str("model", spec.String()).Int("pid", cmd.Process.Pid).Msg("faster-whisper worker ready")
	return m, nil
}

type workerEvent struct {
	Event               string       `json:"event"`
	ID                  uint64       `json:"id"`
	Error               string       `json:"error"`
	Language            string       `json:"language"`
	LanguageProbability float64      `json:"language_probability"`
	Duration            float64      `json:"duration"`
	Seq                 int          `json:"seq"`
	Start               float64      `json:"start"`
	End                 float64      `json:"end"`
	Text                string       `json:"text"`
	Words               []workerWord `json:"words"`
}

type workerWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

type workerRequest struct {
	Op             string  `json:"op,omitempty"`
	ID             uint64  `json:"id"`
	Audio          string  `json:"audio,omitempty"`
	Language       string  `json:"language,omitempty"`
	BeamSize       int     `json:"beam_size,omitempty"`
	VADFilter      bool    `json:"vad_filter,omitempty"`
	WordTimestamps bool    `json:"word_timestamps,omitempty"`
	Translate      bool    `json:"translate,omitempty"`
	InitialPrompt  string  `json:"initial_prompt,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
}

// pythonModel talks to one worker process. The pipe carries one decode at a
// time; turn is held from the request until the iterator is closed.
type pythonModel struct {
	spec   ModelSpec
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	events chan workerEvent
	exited chan struct{}
	// set before events is closed
	readErr error

	turn    chan struct{}
	writeMu sync.Mutex
	seq     atomic.Uint64

	closeOnce sync.Once
}

func newPythonModel(spec ModelSpec, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, stderr *tailBuffer) *pythonModel {
	m := &pythonModel{
		spec:   spec,
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		events: make(chan workerEvent, 16),
		exited: make(chan struct{}),
		turn:   make(chan struct{}, 1),
	}
	go func() {
		// Wait only after stdout is drained.
		m.readEvents(stdout)
		_ = cmd.Wait()
		close(m.exited)
	}()
	return m
}

func (m *pythonModel) readEvents(stdout io.Reader) {
	defer close(m.events)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxEventLine)), maxEventLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev workerEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Debug().Str("line", string(line)).Msg("ignoring non-json worker output")
			continue
		}
		m.events <- ev
	}
	if err := scanner.Err(); err != nil {
		// nobody reads stdout any more; a live worker would block on it
		m.readErr = err
		log.Err(err).Str("model", m.spec.String()).Msg("python worker output unreadable, killing worker")
		m.kill()
	}
}

// exitErr describes why the event stream ended.
func (m *pythonModel) exitErr() error {
	if m.readErr != nil {
		return fmt.Errorf("python worker output: %w", m.readErr)
	}
	return fmt.Errorf("python worker exited: %s", m.stderr.String())
}

func (m *pythonModel) waitReady(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.events:
			if !ok {
				return m.exitErr()
			}
			switch ev.Event {
			case "ready":
				return nil
			case "error":
				return errors.New(ev.Error)
			}
		}
	}
}

func (m *pythonModel) send(req workerRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write to python worker: %w", err)
	}
	return nil
}

func (m *pythonModel) Decode(ctx context.Context, in Audio, opts DecodingOptions) (SegmentIterator, error) {
	if len(in.Data) == 0 {
		return nil, errors.New("empty audio data")
	}

	select {
	case m.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.exited:
		return nil, m.exitErr()
	}

	path, err := writeTempAudio(in)
	if err != nil {
		<-m.turn
		return nil, err
	}

	it := &pythonIterator{model: m, id: m.seq.Add(1), audioPath: path}
	req := workerRequest{
		ID:             it.id,
		Audio:          path,
		Language:       opts.Language,
		BeamSize:       opts.BeamSize,
		VADFilter:      opts.VADFilter,
		WordTimestamps: opts.WordTimestamps,
		Translate:      opts.Translate,
		InitialPrompt:  opts.InitialPrompt,
		Temperature:    opts.Temperature,
	}
	if err := m.send(req); err != nil {
		it.finished = true
		_ = it.Close()
		return nil, err
	}

	ev, err := it.next(ctx)
	if err != nil {
		_ = it.Close()
		return nil, err
	}
	if ev.Event != "info" {
		_ = it.Close()
		return nil, fmt.Errorf("python worker: unexpected %q event before info", ev.Event)
	}
	it.info = DecodeInfo{
		Language:            ev.Language,
		LanguageProbability: ev.LanguageProbability,
		Duration:            secondsToDuration(ev.Duration),
	}
	return it, nil
}

func (m *pythonModel) Close() error {
	m.closeOnce.Do(func() {
		_ = m.stdin.Close()
		select {
		case <-m.exited:
		case <-time.After(10 * time.Second):
			m.kill()
		}
	})
	return nil
}

func (m *pythonModel) kill() {
	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
}

type pythonIterator struct {
	model     *pythonModel
	id        uint64
	audioPath string
	info      DecodeInfo
	finished  bool
	closed    bool
}

func (it *pythonIterator) Info() DecodeInfo {
	return it.info
}

// next returns the next event for this request, skipping stale ones.
func (it *pythonIterator) next(ctx context.Context) (workerEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return workerEvent{}, ctx.Err()
		case ev, ok := <-it.model.events:
			if !ok {
				it.finished = true
				return workerEvent{}, it.model.exitErr()
			}
			if ev.ID != it.id {
				continue
			}
			switch ev.Event {
			case "error":
				it.finished = true
				return workerEvent{}, errors.New(ev.Error)
			case "done":
				it.finished = true
			}
			return ev, nil
		}
	}
}

func (it *pythonIterator) Next(ctx context.Context) (Segment, error) {
	if it.finished {
		return Segment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}
	ev, err := it.next(ctx)
	if err != nil {
		return Segment{}, err
	}
	if ev.Event == "done" {
		return Segment{}, io.EOF
	}
	if ev.Event != "segment" {
		return Segment{}, fmt.Errorf("python worker: unexpected %q event", ev.Event)
	}
	seg := Segment{
		ID:    ev.Seq,
		Start: secondsToDuration(ev.Start),
		End:   secondsToDuration(ev.End),
		Text:  ev.Text,
	}
	if len(ev.Words) > 0 {
		seg.Words = make([]Word, 0, len(ev.Words))
		for _, w := range ev.Words {
			seg.Words = append(seg.Words, Word{
				Start:       secondsToDuration(w.Start),
				End:         secondsToDuration(w.End),
				Text:        w.Word,
				Probability: w.Probability,
			})
		}
	}
	return seg, nil
}

// Close cancels an unfinished decode, drains the worker's remaining events
// for it and hands the pipe to the next request.
func (it *pythonIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	defer func() {
		_ = os.Remove(it.audioPath)
		<-it.model.turn
	}()
	if it.finished {
		return nil
	}
	if err := it.model.send(workerRequest{Op: "cancel", ID: it.id}); err != nil {
		return err
	}
	for !it.finished {
		if _, err := it.next(context.Background()); err != nil {
			return nil
		}
	}
	return nil
}

func writeTempAudio(in Audio) (string, error) {
	return audio.StageFile(in.Name, in.Data, filepath.Ext(in.Name))
}

func ensureWorkerScript(path string) error {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		current, readErr := os.ReadFile(path)
		if readErr == nil && bytes.Equal(current, embeddedWorkerScript) {
			return nil
		}
	}
	if err := os.WriteFile(path, embeddedWorkerScript, 0o644); err != nil {
		return fmt.Errorf("write worker script: %w", err)
	}
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := strings.TrimSpace(string(t.buf))
	if s == "" {
		return "no output"
	}
	return s
}
