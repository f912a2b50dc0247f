// Package openai serves transcription models hosted behind an OpenAI
// compatible audio API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog/log"

	"github.com/crazycatseven/Faster-whisper/internal/audio"
	"github.com/crazycatseven/Faster-whisper/internal/whisper"
)

type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	// RequestTimeout bounds each API call; 0 keeps the client default.
	RequestTimeout time.Duration
	MaxRetries     int
}

// Loader "loads" a remote model by checking that the API knows it.
type Loader struct {
	client oai.Client
}

func NewLoader(cfg Config) *Loader {
	opts := []option.RequestOption{
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	return &Loader{client: oai.NewClient(opts...)}
}

func (l *Loader) Load(ctx context.Context, spec whisper.ModelSpec) (whisper.Model, error) {
	m, err := l.client.Models.Get(ctx, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("lookup remote model: %w", err)
	}
	log.Info().Str("model", m.ID).Str("owned_by", m.OwnedBy).Msg("remote model available")
	return &Model{client: l.client, name: spec.Name}, nil
}

// Model transcribes through the remote API. Beam size and VAD are decided by
// the server and are not forwarded.
type Model struct {
	client oai.Client
	name   string
}

func (m *Model) Decode(ctx context.Context, in whisper.Audio, opts whisper.DecodingOptions) (whisper.SegmentIterator, error) {
	path, err := audio.StageFile(in.Name, in.Data, filepath.Ext(in.Name))
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body []byte
	if opts.Translate {
		params := oai.AudioTranslationNewParams{
			File:           f,
			Model:          m.name,
			ResponseFormat: oai.AudioTranslationNewParamsResponseFormatVerboseJSON,
		}
		if opts.InitialPrompt != "" {
			params.Prompt = oai.String(opts.InitialPrompt)
		}
		if opts.Temperature > 0 {
			params.Temperature = oai.Float(opts.Temperature)
		}
		_, err = m.client.Audio.Translations.New(ctx, params, option.WithResponseBodyInto(&body))
	} else {
		params := oai.AudioTranscriptionNewParams{
			File:                   f,
			Model:                  m.name,
			ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
			TimestampGranularities: []string{"segment"},
		}
		if opts.WordTimestamps {
			params.TimestampGranularities = append(params.TimestampGranularities, "word")
		}
		if !opts.AutoDetect() {
			params.Language = oai.String(opts.Language)
		}
		if opts.InitialPrompt != "" {
			params.Prompt = oai.String(opts.InitialPrompt)
		}
		if opts.Temperature > 0 {
			params.Temperature = oai.Float(opts.Temperature)
		}
		_, err = m.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&body))
	}
	if err != nil {
		return nil, err
	}

	var resp verboseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return newIterator(resp, opts), nil
}

func (m *Model) Close() error {
	return nil
}

type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

type iterator struct {
	info     whisper.DecodeInfo
	segments []whisper.Segment
	pos      int
}

// newIterator converts a verbose response. Words are attached to the segment
// containing their start and inherit its confidence.
func newIterator(resp verboseResponse, opts whisper.DecodingOptions) *iterator {
	it := &iterator{info: whisper.DecodeInfo{
		Language: languageCode(resp.Language),
		Duration: seconds(resp.Duration),
	}}
	if !opts.AutoDetect() && it.info.Language == "" {
		it.info.Language = opts.Language
	}

	var confidence float64
	for i, s := range resp.Segments {
		seg := whisper.Segment{ID: s.ID, Start: seconds(s.Start), End: seconds(s.End), Text: s.Text}
		if i > 0 && seg.Start < it.segments[i-1].Start {
			seg.Start = it.segments[i-1].Start
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		it.segments = append(it.segments, seg)
		confidence += math.Exp(s.AvgLogprob)
	}
	if len(resp.Segments) > 0 {
		it.info.LanguageProbability = confidence / float64(len(resp.Segments))
	}
	if len(it.segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		it.segments = append(it.segments, whisper.Segment{Start: 0, End: it.info.Duration, Text: resp.Text})
	}

	if opts.WordTimestamps {
		for _, w := range resp.Words {
			start := seconds(w.Start)
			idx := segmentAt(it.segments, start)
			if idx < 0 {
				continue
			}
			seg := &it.segments[idx]
			end := max(min(seconds(w.End), seg.End), start)
			p := 0.0
			if idx < len(resp.Segments) {
				p = math.Exp(resp.Segments[idx].AvgLogprob)
			}
			seg.Words = append(seg.Words, whisper.Word{Start: start, End: end, Text: " " + strings.TrimSpace(w.Word), Probability: p})
		}
	}
	return it
}

func segmentAt(segments []whisper.Segment, at time.Duration) int {
	for i, s := range segments {
		if at >= s.Start && at <= s.End {
			return i
		}
	}
	return -1
}

func (it *iterator) Info() whisper.DecodeInfo { return it.info }

func (it *iterator) Next(ctx context.Context) (whisper.Segment, error) {
	if err := ctx.Err(); err != nil {
		return whisper.Segment{}, err
	}
	if it.pos >= len(it.segments) {
		return whisper.Segment{}, io.EOF
	}
	seg := it.segments[it.pos]
	it.pos++
	return seg, nil
}

func (it *iterator) Close() error {
	it.pos = len(it.segments)
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// languageCode maps the language names returned by the API to ISO codes.
func languageCode(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageNames[name]; ok {
		return code
	}
	return name
}

var languageNames = map[string]string{
	"english":    "en",
	"chinese":    "zh",
	"german":     "de",
	"spanish":    "es",
	"russian":    "ru",
	"korean":     "ko",
	"french":     "fr",
	"japanese":   "ja",
	"portuguese": "pt",
	"turkish":    "tr",
	"polish":     "pl",
	"catalan":    "ca",
	"dutch":      "nl",
	"arabic":     "ar",
	"swedish":    "sv",
	"italian":    "it",
	"indonesian": "id",
	"hindi":      "hi",
	"finnish":    "fi",
	"vietnamese": "vi",
	"hebrew":     "he",
	"ukrainian":  "uk",
	"greek":      "el",
	"czech":      "cs",
	"romanian":   "ro",
	"danish":     "da",
	"hungarian":  "hu",
	"thai":       "th",
	"cantonese":  "yue",
}
