// Package transcribe coordinates transcription requests against the model
// registry: options are resolved first, then a lease on the active model is
// taken, the model's segment stream is consumed and the result assembled.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crazycatseven/Faster-whisper/internal/errors"
	"github.com/crazycatseven/Faster-whisper/internal/registry"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// Config controls the load control path.
type Config struct {
	// FallbackCPU loads FallbackModel on the CPU when a CUDA load fails.
	FallbackCPU   bool
	FallbackModel string
}

// LoadResult describes a completed load.
type LoadResult struct {
	Info     registry.ModelInfo
	Fallback bool
	Message  string
}

type Service struct {
	registry *registry.Registry
	cfg      Config
}

func New(reg *registry.Registry, cfg Config) *Service {
	return &Service{registry: reg, cfg: cfg}
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Transcribe runs one request to completion against the model that was
// active when it was admitted, even if a newer model is published meanwhile.
func (s *Service) Transcribe(ctx context.Context, audio whisper.Audio, raw map[string]any) (*whisper.Result, error) {
	opts, err := whisper.ResolveOptions(raw)
	if err != nil {
		return nil, err
	}
	if len(audio.Data) == 0 {
		return nil, errors.ErrEmptyAudio
	}

	requestID := RequestIDFrom(ctx)
	logger := log.With().Str("request_id", requestID).Str("file", audio.Name).Logger()

	lease, err := s.registry.Acquire(ctx)
	if err != nil {
		if errors.IsKind(err, errors.KindNoModelLoaded) {
			return nil, err
		}
		return nil, errors.Transcription(err)
	}
	defer lease.Release()

	logger.Info().
		Str("model", lease.Spec().String()).
		Uint64("generation", lease.Generation()).
		Str("language", opts.Language).
		Int("beam_size", opts.BeamSize).
		Bool("vad_filter", opts.VADFilter).
		Bool("word_timestamps", opts.WordTimestamps).
		Msg("transcribing")

	start := time.Now()
	segments, info, err := consume(ctx, lease.Model(), audio, opts)
	if err != nil {
		logger.Warn().Err(err).Int("segments", len(segments)).Msg("transcription failed")
		return nil, errors.Transcription(err)
	}

	result := whisper.Assemble(segments, opts, info)
	result.ProcessingTime = time.Since(start)
	result.Model = lease.Spec()
	result.Generation = lease.Generation()

	ev := logger.Info().
		Dur("took", result.ProcessingTime).
		Int("segments", len(result.Segments)).
		Str("detected_language", result.Language)
	if result.LanguageProbability != nil {
		ev = ev.Float64("language_probability", *result.LanguageProbability)
	}
	ev.Msg("transcription finished")
	return result, nil
}

// consume drives the model's segment stream until io.EOF. The iterator is
// closed on every path; cancellation is checked between segments.
func consume(ctx context.Context, model whisper.Model, audio whisper.Audio, opts whisper.DecodingOptions) ([]whisper.Segment, whisper.DecodeInfo, error) {
	it, err := model.Decode(ctx, audio, opts)
	if err != nil {
		return nil, whisper.DecodeInfo{}, err
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("close segment iterator")
		}
	}()

	segments := make([]whisper.Segment, 0)
	for {
		if err := ctx.Err(); err != nil {
			return segments, it.Info(), err
		}
		seg, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return segments, it.Info(), err
		}
		if n := len(segments); n > 0 && seg.Start < segments[n-1].Start {
			return segments, it.Info(), fmt.Errorf("segment %d starts before segment %d", seg.ID, segments[n-1].ID)
		}
		segments = append(segments, seg)
	}
	return segments, it.Info(), nil
}

// LoadModel loads spec through the registry. When the CUDA load fails and
// CPU fallback is enabled, the fallback model is loaded on the CPU instead.
func (s *Service) LoadModel(ctx context.Context, spec whisper.ModelSpec) (*LoadResult, error) {
	spec = spec.Normalize()
	h, err := s.registry.Load(ctx, spec)
	if err == nil {
		return s.loadResult(h, false, fmt.Sprintf("Successfully loaded %s model: %s", strings.ToUpper(h.Spec().Device), h.Spec().Name))
	}
	if !s.shouldFallback(spec, err) {
		return nil, err
	}

	fallback := whisper.ModelSpec{
		Name:   s.cfg.FallbackModel,
		Device: whisper.DeviceCPU,
	}.Normalize()
	log.Warn().Err(err).Str("fallback", fallback.String()).Msg("GPU load failed, falling back to CPU")

	h, ferr := s.registry.Load(ctx, fallback)
	if ferr != nil {
		log.Err(ferr).Str("model", fallback.String()).Msg("CPU fallback load failed")
		return nil, err
	}
	return s.loadResult(h, true, fmt.Sprintf("GPU load failed, fallback to CPU model (%s)", fallback.Name))
}

func (s *Service) shouldFallback(spec whisper.ModelSpec, err error) bool {
	return s.cfg.FallbackCPU &&
		s.cfg.FallbackModel != "" &&
		spec.Device == whisper.DeviceCUDA &&
		errors.IsKind(err, errors.KindModelLoad) &&
		ctxAlive(err)
}

func ctxAlive(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) loadResult(h *registry.Handle, fallback bool, message string) (*LoadResult, error) {
	info, err := s.registry.Info()
	if err != nil {
		return nil, err
	}
	// Info may already describe a newer queued load.
	if info.Generation != h.Generation() {
		info.Spec = h.Spec()
		info.Generation = h.Generation()
		info.LoadedAt = h.LoadedAt()
	}
	return &LoadResult{Info: info, Fallback: fallback, Message: message}, nil
}

// ModelInfo returns metadata of the active model.
func (s *Service) ModelInfo() (registry.ModelInfo, error) {
	return s.registry.Info()
}

type requestIDKey struct{}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id on ctx or a fresh one.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
