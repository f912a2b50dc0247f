package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(rate int, d time.Duration, amp float64) []float32 {
	n := int(float64(rate) * d.Seconds())
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func silence(rate int, d time.Duration) []float32 {
	return make([]float32, int(float64(rate)*d.Seconds()))
}

func concat(parts ...[]float32) []float32 {
	var out []float32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := PCM{Samples: tone(8000, 500*time.Millisecond, 0.5), SampleRate: 8000}
	require.NoError(t, WriteWAVFile(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsWAV(data))
	assert.False(t, IsSilk(data))

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 8000, out.SampleRate)
	require.Len(t, out.Samples, len(in.Samples))
	for i := range in.Samples {
		assert.InDelta(t, in.Samples[i], out.Samples[i], 1e-3)
	}
	assert.Equal(t, 500*time.Millisecond, out.Duration())

	at, err := DecodeAt(data, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, at.SampleRate)
	assert.Len(t, at.Samples, 2*len(in.Samples))
}

func TestDecodeRejectsUnknown(t *testing.T) {
	_, err := Decode([]byte("ID3 not a wav"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode(nil)
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	assert.Nil(t, Resample(nil, 8000, 16000))

	src := []float32{0, 1, 0, -1}
	same := Resample(src, 16000, 16000)
	assert.Equal(t, src, same)
	same[0] = 5
	assert.Equal(t, float32(0), src[0])

	up := Resample(src, 8000, 16000)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)

	down := Resample(concat(src, src), 16000, 8000)
	assert.Len(t, down, 4)

	// 44.1k -> 16k keeps the duration
	long := make([]float32, 44100)
	assert.Len(t, Resample(long, 44100, 16000), 16000)

	// unknown rates and a single sample never divide by zero
	assert.Equal(t, src, Resample(src, 0, 16000))
	assert.Equal(t, src, Resample(src, 16000, 0))
	assert.Equal(t, []float32{0.25}, Resample([]float32{0.25}, 48000, 16000))
}

func TestSpeechRegions(t *testing.T) {
	const rate = 16000
	clip := concat(
		silence(rate, time.Second),
		tone(rate, time.Second, 0.3),
		silence(rate, 2*time.Second),
		tone(rate, 500*time.Millisecond, 0.3),
		silence(rate, time.Second),
	)
	cfg := DefaultVADConfig()

	regions := SpeechRegions(clip, rate, cfg)
	require.Len(t, regions, 2)

	pad := rate * cfg.PaddingMs / 1000
	first := regions[0]
	assert.InDelta(t, rate-pad, first.Start, float64(rate*cfg.FrameMs/1000))
	assert.InDelta(t, 2*rate+pad, first.End, float64(rate*cfg.FrameMs/1000))
	assert.Less(t, first.End, regions[1].Start)
	assert.LessOrEqual(t, regions[1].End, len(clip))
}

func TestSpeechRegionsIgnoresBlips(t *testing.T) {
	const rate = 16000
	clip := concat(silence(rate, time.Second), tone(rate, 60*time.Millisecond, 0.5), silence(rate, time.Second))
	assert.Empty(t, SpeechRegions(clip, rate, DefaultVADConfig()))
	assert.Empty(t, SpeechRegions(silence(rate, 3*time.Second), rate, DefaultVADConfig()))
}

func TestMaskSilence(t *testing.T) {
	const rate = 16000
	noise := tone(rate, 100*time.Millisecond, 0.004)
	clip := concat(noise, tone(rate, time.Second, 0.3), silence(rate, time.Second))

	masked, kept := MaskSilence(clip, rate, DefaultVADConfig())
	require.Len(t, masked, len(clip))
	assert.Greater(t, kept, time.Second)
	assert.Less(t, kept, 2*time.Second)
	assert.Equal(t, float32(0), masked[len(masked)-1])
	mid := len(noise) + rate/2
	assert.Equal(t, clip[mid], masked[mid])

	_, kept = MaskSilence(silence(rate, time.Second), rate, DefaultVADConfig())
	assert.Zero(t, kept)
}

func TestStageFile(t *testing.T) {
	path, err := StageFile("clip.mp3", []byte("ID3data"), ".mp3")
	require.NoError(t, err)
	defer os.Remove(path)

	assert.Equal(t, ".mp3", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID3data", string(data))

	other, err := StageFile("blob", []byte("x"), "")
	require.NoError(t, err)
	defer os.Remove(other)
	assert.Equal(t, ".audio", filepath.Ext(other))
}
