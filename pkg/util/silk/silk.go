//go:build cgo

// Package silk decodes Silk v3 voice clips, the format of WeChat and QQ
// voice messages.
package silk

import (
	"encoding/binary"
	"errors"

	"github.com/sjzar/go-silk"
)

// SampleRate is the rate clips are decoded at.
const SampleRate = 24000

// Decode returns the clip as mono float32 samples at SampleRate.
func Decode(data []byte) ([]float32, error) {
	dec := silk.SilkInit()
	defer dec.Close()

	raw := dec.Decode(data)
	switch {
	case len(raw) == 0:
		return nil, errors.New("silk: no frames decoded")
	case len(raw)%2 != 0:
		return nil, errors.New("silk: truncated pcm output")
	}

	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return out, nil
}
