// Package audio turns uploaded audio files into the mono float32 PCM that
// in-process engines consume.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-audio/wav"

	"github.com/crazycatseven/Faster-whisper/pkg/util/silk"
)

// ErrUnsupportedFormat is returned for containers the decoder cannot read.
var ErrUnsupportedFormat = errors.New("unsupported audio format: expected wav or silk")

// PCM is mono float32 audio in [-1, 1].
type PCM struct {
	Samples    []float32
	SampleRate int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || len(p.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(p.Samples)) / float64(p.SampleRate) * float64(time.Second))
}

// Decode sniffs data and decodes WAV or Silk into mono PCM.
func Decode(data []byte) (PCM, error) {
	switch {
	case len(data) == 0:
		return PCM{}, errors.New("empty audio data")
	case IsSilk(data):
		samples, err := silk.Decode(data)
		if err != nil {
			return PCM{}, err
		}
		return PCM{Samples: samples, SampleRate: silk.SampleRate}, nil
	case IsWAV(data):
		return decodeWAV(data)
	default:
		return PCM{}, ErrUnsupportedFormat
	}
}

// DecodeAt decodes data and resamples it to rate.
func DecodeAt(data []byte, rate int) (PCM, error) {
	pcm, err := Decode(data)
	if err != nil {
		return PCM{}, err
	}
	return PCM{Samples: Resample(pcm.Samples, pcm.SampleRate, rate), SampleRate: rate}, nil
}

func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func IsSilk(data []byte) bool {
	return bytes.HasPrefix(data, []byte("#!SILK_V3")) || bytes.HasPrefix(data, []byte("\x02#!SILK_V3"))
}

func decodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return PCM{}, errors.New("decode wav: missing format")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := 1.0 / math.Pow(2, float64(bitDepth-1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		samples[i] = clamp(float32(sum / float64(channels) * scale))
	}
	return PCM{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
