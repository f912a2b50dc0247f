package whisper

import "strings"

// Assemble shapes consumed segments into a Result. Segment and word timings
// and texts are kept verbatim; Words are dropped unless word timestamps were
// requested, and the language probability is only reported for auto-detected
// languages.
func Assemble(segments []Segment, opts DecodingOptions, info DecodeInfo) *Result {
	out := make([]Segment, 0, len(segments))
	var text strings.Builder
	for _, seg := range segments {
		if opts.WordTimestamps {
			if len(seg.Words) > 0 {
				seg.Words = append([]Word(nil), seg.Words...)
			}
		} else {
			seg.Words = nil
		}
		out = append(out, seg)

		t := strings.TrimSpace(seg.Text)
		if t == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(t)
	}

	language := info.Language
	if language == "" && !opts.AutoDetect() {
		language = opts.Language
	}

	result := &Result{
		Text:     text.String(),
		Segments: out,
		Language: language,
		Options:  opts,
		Duration: info.Duration,
	}
	if opts.AutoDetect() {
		p := info.LanguageProbability
		result.LanguageProbability = &p
	}
	return result
}
