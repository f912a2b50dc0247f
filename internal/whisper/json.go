package whisper

import (
	"encoding/json"
	"time"

	"github.com/crazycatseven/Faster-whisper/pkg/util"
)

// Timings serialize as seconds, the unit of the HTTP responses.

func (w Word) MarshalJSON() ([]byte, error) {
	type word Word
	return json.Marshal(struct {
		word
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}{word(w), seconds(w.Start), seconds(w.End)})
}

func (s Segment) MarshalJSON() ([]byte, error) {
	type segment Segment
	return json.Marshal(struct {
		segment
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}{segment(s), seconds(s.Start), seconds(s.End)})
}

func (r Result) MarshalJSON() ([]byte, error) {
	type result Result
	return json.Marshal(struct {
		result
		AudioDuration  float64 `json:"audio_duration"`
		ProcessingTime float64 `json:"duration"`
	}{result(r), util.Round(r.Duration.Seconds(), 2), util.Round(r.ProcessingTime.Seconds(), 2)})
}

func seconds(d time.Duration) float64 {
	return util.Round(d.Seconds(), 3)
}
