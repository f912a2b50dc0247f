//go:build cgo

package whispercpp

/*
#cgo CFLAGS: -I${SRCDIR}/../../../third_party/whisper/include
#cgo LDFLAGS: -L${SRCDIR}/../../../third_party/whisper/lib -lwhisper -lggml -lstdc++ -lm
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	wcpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/crazycatseven/Faster-whisper/internal/audio"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// Loader resolves ggml model files, fetching them when needed, and loads
// them with whisper.cpp.
type Loader struct {
	cfg        Config
	downloader *whisper.Downloader
}

func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg, downloader: whisper.NewDownloader(cfg.ModelDir, cfg.DownloadURL)}
}

func (l *Loader) Load(ctx context.Context, spec whisper.ModelSpec) (whisper.Model, error) {
	file, err := l.downloader.EnsureModel(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("resolve model file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	model, err := wcpp.New(file.Path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}

	threads := l.cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	log.Info().
		Str("path", file.Path).
		Str("device", spec.Device).
		Str("compute_type", spec.ComputeType).
		Int("threads", threads).
		Bool("multilingual", model.IsMultilingual()).
		Dur("took", time.Since(start)).
		Msg("whisper.cpp model loaded")

	return &Model{
		model:   model,
		threads: threads,
		turn:    semaphore.NewWeighted(1),
	}, nil
}

// Model wraps a whisper.cpp model instance. Contexts created from one model
// share its state, so decodes run one at a time.
type Model struct {
	threads int
	turn    *semaphore.Weighted

	mu    sync.Mutex
	model wcpp.Model
}

func (m *Model) Decode(ctx context.Context, in whisper.Audio, opts whisper.DecodingOptions) (whisper.SegmentIterator, error) {
	pcm, err := audio.DecodeAt(in.Data, int(wcpp.SampleRate))
	if err != nil {
		return nil, err
	}
	info := whisper.DecodeInfo{Duration: pcm.Duration()}
	if !opts.AutoDetect() {
		info.Language = opts.Language
	}

	samples := pcm.Samples
	if opts.VADFilter {
		var speech time.Duration
		samples, speech = audio.MaskSilence(samples, pcm.SampleRate, audio.DefaultVADConfig())
		if speech == 0 {
			return &segmentIterator{info: info, done: true}, nil
		}
	}

	if err := m.turn.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	it := &segmentIterator{info: info, turn: m.turn, words: opts.WordTimestamps}

	m.mu.Lock()
	model := m.model
	m.mu.Unlock()
	if model == nil {
		it.Close()
		return nil, errors.New("whisper model closed")
	}

	wctx, err := model.NewContext()
	if err != nil {
		it.Close()
		return nil, fmt.Errorf("create whisper context: %w", err)
	}
	wctx.SetThreads(uint(m.threads))
	if err := wctx.SetLanguage(opts.Language); err != nil {
		it.Close()
		return nil, err
	}
	wctx.SetTranslate(opts.Translate)
	wctx.SetBeamSize(opts.BeamSize)
	wctx.SetTemperature(float32(opts.Temperature))
	wctx.SetTokenTimestamps(opts.WordTimestamps)
	if opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(opts.InitialPrompt)
	}

	encoderCb := func() bool {
		return ctx.Err() == nil
	}
	if err := wctx.Process(samples, encoderCb, nil, nil); err != nil {
		it.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		it.Close()
		return nil, err
	}

	if opts.AutoDetect() {
		it.info.Language = wctx.DetectedLanguage()
		it.detect = true
	}
	it.wctx = wctx
	return it, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}

type segmentIterator struct {
	wctx  wcpp.Context
	info  whisper.DecodeInfo
	words bool
	done  bool

	// language confidence accumulators
	detect bool
	pSum   float64
	pN     int

	turn *semaphore.Weighted
	once sync.Once
}

func (it *segmentIterator) Info() whisper.DecodeInfo {
	info := it.info
	if it.detect && it.pN > 0 {
		info.LanguageProbability = it.pSum / float64(it.pN)
	}
	return info
}

func (it *segmentIterator) Next(ctx context.Context) (whisper.Segment, error) {
	if it.done || it.wctx == nil {
		return whisper.Segment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return whisper.Segment{}, err
	}
	seg, err := it.wctx.NextSegment()
	if err == io.EOF {
		it.done = true
		return whisper.Segment{}, io.EOF
	}
	if err != nil {
		return whisper.Segment{}, err
	}

	tokens := make([]token, 0, len(seg.Tokens))
	for _, t := range seg.Tokens {
		tokens = append(tokens, token{Text: t.Text, P: t.P, Start: t.Start, End: t.End})
	}
	if it.detect {
		sum, n := languageConfidence(tokens)
		it.pSum += sum
		it.pN += n
	}

	out := whisper.Segment{
		ID:    seg.Num,
		Start: seg.Start,
		End:   seg.End,
		Text:  seg.Text,
	}
	if it.words {
		out.Words = buildWords(tokens, seg.Start, seg.End)
	}
	return out, nil
}

func (it *segmentIterator) Close() error {
	it.once.Do(func() {
		it.done = true
		it.wctx = nil
		if it.turn != nil {
			it.turn.Release(1)
		}
	})
	return nil
}
