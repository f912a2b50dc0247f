// Package whispercpp runs ggml whisper models in process through the
// whisper.cpp Go bindings. Builds without cgo get a loader that always fails.
package whispercpp

import (
	"strings"
	"time"

	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

// Config describes how to initialise the whisper.cpp backend.
type Config struct {
	// ModelDir caches downloaded ggml files.
	ModelDir    string
	DownloadURL string
	// Threads used per decode; 0 means runtime.NumCPU().
	Threads int
}

// token is the engine independent view of a decoded token.
type token struct {
	Text  string
	P     float32
	Start time.Duration
	End   time.Duration
}

// special reports control tokens such as [_BEG_], [_TT_150] or <|en|>.
func (t token) special() bool {
	s := strings.TrimSpace(t.Text)
	return strings.HasPrefix(s, "[_") || strings.HasPrefix(s, "<|")
}

// buildWords groups tokens into words. A token starting with a space opens a
// new word. Word timings are clamped to the segment bounds.
func buildWords(tokens []token, segStart, segEnd time.Duration) []whisper.Word {
	var (
		words []whisper.Word
		cur   *whisper.Word
		probs float64
		count int
	)
	flush := func() {
		if cur == nil {
			return
		}
		if strings.TrimSpace(cur.Text) != "" {
			cur.Probability = probs / float64(count)
			words = append(words, *cur)
		}
		cur, probs, count = nil, 0, 0
	}

	for _, tok := range tokens {
		if tok.special() || tok.Text == "" {
			continue
		}
		start := clampDuration(tok.Start, segStart, segEnd)
		end := clampDuration(tok.End, start, segEnd)
		if cur == nil || strings.HasPrefix(tok.Text, " ") {
			flush()
			cur = &whisper.Word{Start: start, End: end}
		}
		cur.Text += tok.Text
		if end > cur.End {
			cur.End = end
		}
		probs += float64(tok.P)
		count++
	}
	flush()
	return words
}

// languageConfidence approximates the detection probability for engines that
// only expose the detected language: the mean probability of the text tokens
// decoded in that language.
func languageConfidence(tokens []token) (sum float64, n int) {
	for _, tok := range tokens {
		if tok.special() || strings.TrimSpace(tok.Text) == "" {
			continue
		}
		sum += float64(tok.P)
		n++
	}
	return sum, n
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
