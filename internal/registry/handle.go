package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// Handle is one loaded model. The registry owns a reference while the handle
// is current and every Lease owns one more; the model is closed when the last
// reference is dropped.
type Handle struct {
	spec       whisper.ModelSpec
	model      whisper.Model
	loadedAt   time.Time
	generation uint64

	// admission pool, independent per handle
	limit int64
	slots *semaphore.Weighted

	refs     atomic.Int64
	inFlight atomic.Int64
	closed   atomic.Bool
	once     sync.Once
}

func newHandle(spec whisper.ModelSpec, model whisper.Model, generation uint64, limit int) *Handle {
	if limit < 1 {
		limit = 1
	}
	h := &Handle{
		spec:       spec,
		model:      model,
		loadedAt:   time.Now(),
		generation: generation,
		limit:      int64(limit),
		slots:      semaphore.NewWeighted(int64(limit)),
	}
	h.refs.Store(1)
	return h
}

func (h *Handle) Spec() whisper.ModelSpec { return h.spec }

func (h *Handle) Generation() uint64 { return h.generation }

func (h *Handle) LoadedAt() time.Time { return h.loadedAt }

// Limit is the admission bound N.
func (h *Handle) Limit() int { return int(h.limit) }

// InFlight is the number of admitted requests currently using the model.
func (h *Handle) InFlight() int { return int(h.inFlight.Load()) }

// Closed reports whether the underlying model has been released.
func (h *Handle) Closed() bool { return h.closed.Load() }

func (h *Handle) retain() {
	h.refs.Add(1)
}

func (h *Handle) release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	h.once.Do(func() {
		h.closed.Store(true)
		if err := h.model.Close(); err != nil {
			log.Err(err).Str("model", h.spec.String()).Uint64("generation", h.generation).Msg("close model failed")
			return
		}
		log.Info().Str("model", h.spec.String()).Uint64("generation", h.generation).Msg("model released")
	})
}

// Lease is a borrowed handle holding one admission slot. It must be
// released exactly once; extra calls are ignored.
type Lease struct {
	h    *Handle
	once sync.Once
}

func (l *Lease) Handle() *Handle { return l.h }

func (l *Lease) Model() whisper.Model { return l.h.model }

func (l *Lease) Spec() whisper.ModelSpec { return l.h.spec }

func (l *Lease) Generation() uint64 { return l.h.generation }

func (l *Lease) Release() {
	l.once.Do(func() {
		l.h.inFlight.Add(-1)
		l.h.slots.Release(1)
		l.h.release()
	})
}
