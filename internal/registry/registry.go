// Package registry owns the active transcription model. Loads build the new
// model without blocking readers and publish it with a single pointer swap;
// superseded models are closed once their last borrower is done.
package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/crazycatseven/Faster-whisper/internal/errors"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// ModelInfo is the introspection view of the active model.
type ModelInfo struct {
	Spec        whisper.ModelSpec  `json:"spec"`
	Generation  uint64             `json:"generation"`
	LoadedAt    time.Time          `json:"loaded_at"`
	Concurrency int                `json:"concurrency"`
	InFlight    int                `json:"in_flight"`
	Loading     *whisper.ModelSpec `json:"loading,omitempty"`
}

type Config struct {
	// Concurrency is the admission bound per handle; values below 1 mean 1.
	Concurrency int
}

type Registry struct {
	loader      whisper.Loader
	concurrency int

	// loads are queued; one construction at a time
	loadSlot *semaphore.Weighted
	loading  atomic.Pointer[whisper.ModelSpec]

	mu         sync.RWMutex
	current    *Handle
	generation uint64
}

func New(loader whisper.Loader, cfg Config) *Registry {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Registry{
		loader:      loader,
		concurrency: cfg.Concurrency,
		loadSlot:    semaphore.NewWeighted(1),
	}
}

// Load makes spec the active model. Loading the spec that is already active
// is a no-op returning the current handle. On failure the previous handle
// stays current. Concurrent loads are queued; each re-checks the active spec
// when its turn comes.
func (r *Registry) Load(ctx context.Context, spec whisper.ModelSpec) (*Handle, error) {
	spec = spec.Normalize()
	if spec.Name == "" {
		return nil, errors.Validation("model", "model name is required")
	}

	if err := r.loadSlot.Acquire(ctx, 1); err != nil {
		return nil, errors.ModelLoad(spec.Name, err)
	}
	defer r.loadSlot.Release(1)

	if h := r.peek(); h != nil && h.spec == spec {
		log.Debug().Str("model", spec.String()).Uint64("generation", h.generation).Msg("model already loaded")
		return h, nil
	}

	r.loading.Store(&spec)
	defer r.loading.Store(nil)

	start := time.Now()
	log.Info().Str("model", spec.String()).Msg("loading model")
	model, err := r.loader.Load(ctx, spec)
	if err != nil {
		log.Err(err).Str("model", spec.String()).Msg("load model failed")
		return nil, errors.ModelLoad(spec.Name, err)
	}
	if model == nil {
		return nil, errors.ModelLoad(spec.Name, fmt.Errorf("loader returned no model"))
	}

	r.mu.Lock()
	r.generation++
	h := newHandle(spec, model, r.generation, r.concurrency)
	old := r.current
	r.current = h
	r.mu.Unlock()

	log.Info().
		Str("model", spec.String()).
		Uint64("generation", h.generation).
		Dur("took", time.Since(start)).
		Msg("model published")

	if old != nil {
		old.release()
	}
	return h, nil
}

// Current returns the active handle and its generation. It never waits for
// an in-flight load. The handle must not be used for inference; use Acquire.
func (r *Registry) Current() (*Handle, uint64, error) {
	h := r.peek()
	if h == nil {
		return nil, 0, errors.NoModelLoaded()
	}
	return h, h.generation, nil
}

// Info describes the active model.
func (r *Registry) Info() (ModelInfo, error) {
	h := r.peek()
	if h == nil {
		return ModelInfo{}, errors.NoModelLoaded()
	}
	return ModelInfo{
		Spec:        h.spec,
		Generation:  h.generation,
		LoadedAt:    h.loadedAt,
		Concurrency: h.Limit(),
		InFlight:    h.InFlight(),
		Loading:     r.Loading(),
	}, nil
}

// Loading returns the spec currently being constructed, if any.
func (r *Registry) Loading() *whisper.ModelSpec {
	if s := r.loading.Load(); s != nil {
		cp := *s
		return &cp
	}
	return nil
}

// Acquire borrows the active handle and takes one of its admission slots,
// blocking until a slot frees up or ctx is done. The lease keeps the handle
// alive across later loads.
func (r *Registry) Acquire(ctx context.Context) (*Lease, error) {
	r.mu.RLock()
	h := r.current
	if h == nil {
		r.mu.RUnlock()
		return nil, errors.NoModelLoaded()
	}
	h.retain()
	r.mu.RUnlock()

	if err := h.slots.Acquire(ctx, 1); err != nil {
		h.release()
		return nil, err
	}
	h.inFlight.Add(1)
	return &Lease{h: h}, nil
}

// Close drops the registry's reference to the active handle. The model is
// closed once in-flight leases are released.
func (r *Registry) Close() {
	r.mu.Lock()
	h := r.current
	r.current = nil
	r.mu.Unlock()
	if h != nil {
		h.release()
	}
}

func (r *Registry) peek() *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
