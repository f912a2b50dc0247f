package whisper

import (
	"context"
	"strings"
	"time"
)

// LanguageAuto asks the model to detect the spoken language.
const LanguageAuto = "auto"

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
	DeviceAuto = "auto"
)

// ModelSpec identifies a loadable model. It is a comparable value and is used
// as the registry key for "is this already loaded?".
type ModelSpec struct {
	Name        string `json:"model" mapstructure:"name"`
	Device      string `json:"device" mapstructure:"device"`
	ComputeType string `json:"compute_type" mapstructure:"compute_type"`
}

// Normalize trims and lowercases the spec and fills the compute type for the
// device when it was left empty.
func (s ModelSpec) Normalize() ModelSpec {
	s.Name = strings.TrimSpace(s.Name)
	s.Device = strings.ToLower(strings.TrimSpace(s.Device))
	if s.Device == "" {
		s.Device = DeviceAuto
	}
	s.ComputeType = strings.ToLower(strings.TrimSpace(s.ComputeType))
	if s.ComputeType == "" {
		s.ComputeType = DefaultComputeType(s.Device)
	}
	return s
}

func (s ModelSpec) String() string {
	return s.Name + "@" + s.Device + "/" + s.ComputeType
}

// DefaultComputeType returns the precision used when a load request does not
// name one.
func DefaultComputeType(device string) string {
	switch device {
	case DeviceCUDA:
		return "float16"
	case DeviceCPU:
		return "int8"
	default:
		return "default"
	}
}

// DecodingOptions is the canonical, fully resolved request configuration.
type DecodingOptions struct {
	Language       string  `json:"language"`
	BeamSize       int     `json:"beam_size"`
	VADFilter      bool    `json:"vad_filter"`
	WordTimestamps bool    `json:"word_timestamps"`
	Translate      bool    `json:"translate"`
	InitialPrompt  string  `json:"initial_prompt,omitempty"`
	Temperature    float64 `json:"temperature"`
}

// AutoDetect reports whether the language is left to the model.
func (o DecodingOptions) AutoDetect() bool {
	return o.Language == LanguageAuto
}

// Word is a single word with its own timing.
type Word struct {
	Start       time.Duration `json:"start"`
	End         time.Duration `json:"end"`
	Text        string        `json:"word"`
	Probability float64       `json:"probability"`
}

// Segment represents a portion of transcribed text with timestamps.
type Segment struct {
	ID    int           `json:"id"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
	Words []Word        `json:"words,omitempty"`
}

// DecodeInfo is the metadata a model reports for one decode call.
type DecodeInfo struct {
	Language            string
	LanguageProbability float64
	Duration            time.Duration
}

// Result holds the transcription outcome for one request.
type Result struct {
	Text                string          `json:"text"`
	Segments            []Segment       `json:"segments"`
	Language            string          `json:"language"`
	LanguageProbability *float64        `json:"language_probability,omitempty"`
	Options             DecodingOptions `json:"options"`
	Duration            time.Duration   `json:"audio_duration"`

	// Filled by the coordinator.
	ProcessingTime time.Duration `json:"duration"`
	Model          ModelSpec     `json:"model"`
	Generation     uint64        `json:"generation"`
}

// Audio is an uploaded audio file.
type Audio struct {
	Name string
	Data []byte
}

// SegmentIterator is the lazy, ordered segment stream of one decode call.
// Next returns io.EOF once the stream is exhausted. Close must always be
// called and releases any engine state held for the call.
type SegmentIterator interface {
	Info() DecodeInfo
	Next(ctx context.Context) (Segment, error)
	Close() error
}

// Model is a loaded transcription model.
type Model interface {
	Decode(ctx context.Context, audio Audio, opts DecodingOptions) (SegmentIterator, error)
	Close() error
}

// Loader constructs models. Load is expensive and blocking.
type Loader interface {
	Load(ctx context.Context, spec ModelSpec) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, spec ModelSpec) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, spec ModelSpec) (Model, error) {
	return f(ctx, spec)
}
