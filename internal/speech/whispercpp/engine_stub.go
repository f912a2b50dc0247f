//go:build !cgo

package whispercpp

import (
	"context"
	"errors"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

var errNoCgo = errors.New("whisper.cpp engine requires a cgo build")

type Loader struct {
	cfg Config
}

func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg}
}

func (l *Loader) Load(ctx context.Context, spec whisper.ModelSpec) (whisper.Model, error) {
	return nil, errNoCgo
}
