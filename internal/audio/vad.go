package audio

import (
	"math"
	"time"
)

// VADConfig holds energy based voice activity detection parameters.
type VADConfig struct {
	Threshold    float64 // frame RMS at or above this counts as speech
	FrameMs      int
	MinSpeechMs  int // speech must last this long to open a region
	MinSilenceMs int // silence must last this long to close a region
	PaddingMs    int // added on both sides of each region
}

// DefaultVADConfig returns defaults tuned for normalised float PCM.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:    0.01,
		FrameMs:      30,
		MinSpeechMs:  240,
		MinSilenceMs: 600,
		PaddingMs:    200,
	}
}

// Region is a half-open sample range [Start, End).
type Region struct {
	Start int
	End   int
}

// SpeechRegions returns the speech regions of samples in order. Regions never
// overlap.
func SpeechRegions(samples []float32, rate int, cfg VADConfig) []Region {
	if len(samples) == 0 || rate <= 0 {
		return nil
	}
	if cfg.FrameMs <= 0 {
		cfg.FrameMs = 30
	}
	frame := rate * cfg.FrameMs / 1000
	if frame <= 0 {
		frame = 1
	}
	speechMin := framesFor(cfg.MinSpeechMs, cfg.FrameMs)
	silenceMin := framesFor(cfg.MinSilenceMs, cfg.FrameMs)

	var (
		regions    []Region
		inSpeech   bool
		start      int
		speechRun  int
		silenceRun int
	)
	for i := 0; i*frame < len(samples); i++ {
		lo := i * frame
		hi := min(lo+frame, len(samples))
		if rms(samples[lo:hi]) >= cfg.Threshold {
			speechRun++
			silenceRun = 0
			if !inSpeech && speechRun >= speechMin {
				inSpeech = true
				start = (i - speechRun + 1) * frame
			}
			continue
		}
		silenceRun++
		speechRun = 0
		if inSpeech && silenceRun >= silenceMin {
			inSpeech = false
			regions = append(regions, Region{Start: start, End: (i - silenceRun + 1) * frame})
		}
	}
	if inSpeech {
		regions = append(regions, Region{Start: start, End: len(samples)})
	}

	return pad(regions, rate*cfg.PaddingMs/1000, len(samples))
}

// MaskSilence zeroes every sample outside the speech regions so timestamps
// stay aligned with the original clip. It reports the kept speech duration.
func MaskSilence(samples []float32, rate int, cfg VADConfig) ([]float32, time.Duration) {
	regions := SpeechRegions(samples, rate, cfg)
	out := make([]float32, len(samples))
	kept := 0
	for _, r := range regions {
		copy(out[r.Start:r.End], samples[r.Start:r.End])
		kept += r.End - r.Start
	}
	if rate <= 0 {
		return out, 0
	}
	return out, time.Duration(float64(kept) / float64(rate) * float64(time.Second))
}

func pad(regions []Region, padding, limit int) []Region {
	if len(regions) == 0 {
		return nil
	}
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		r.Start = max(0, r.Start-padding)
		r.End = min(limit, r.End+padding)
		if n := len(out); n > 0 && r.Start <= out[n-1].End {
			out[n-1].End = max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

func framesFor(ms, frameMs int) int {
	n := int(math.Ceil(float64(ms) / float64(frameMs)))
	if n < 1 {
		return 1
	}
	return n
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
