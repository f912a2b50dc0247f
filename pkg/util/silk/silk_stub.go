//go:build !cgo

package silk

import "errors"

const SampleRate = 24000

func Decode(data []byte) ([]float32, error) {
	return nil, errors.New("silk: decoder needs a cgo build")
}
