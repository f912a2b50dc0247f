package whisper

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/crazycatseven/Faster-whisper/internal/errors"
)

// DefaultBeamSize is used when a request does not set beam_size.
const DefaultBeamSize = 5

// Option keys accepted by ResolveOptions.
const (
	OptLanguage       = "language"
	OptBeamSize       = "beam_size"
	OptVADFilter      = "vad_filter"
	OptWordTimestamps = "word_timestamps"
	OptTranslate      = "translate"
	OptInitialPrompt  = "initial_prompt"
	OptTemperature    = "temperature"
)

// rawOptions mirrors the request surface. Pointers distinguish "absent" from
// the zero value.
type rawOptions struct {
	Language       *string  `mapstructure:"language"`
	BeamSize       *int     `mapstructure:"beam_size"`
	VADFilter      *bool    `mapstructure:"vad_filter"`
	WordTimestamps *bool    `mapstructure:"word_timestamps"`
	Translate      *bool    `mapstructure:"translate"`
	InitialPrompt  *string  `mapstructure:"initial_prompt"`
	Temperature    *float64 `mapstructure:"temperature"`
}

// ResolveOptions validates raw request options and resolves every default.
// Unknown keys are rejected. It has no side effects.
func ResolveOptions(raw map[string]any) (DecodingOptions, error) {
	if err := checkKeys(raw); err != nil {
		return DecodingOptions{}, err
	}

	values := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		// An empty form field means "use the default".
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		values[k] = v
	}

	var ro rawOptions
	for key, value := range values {
		if err := decodeField(&ro, key, value); err != nil {
			return DecodingOptions{}, err
		}
	}

	opts := DecodingOptions{
		Language: LanguageAuto,
		BeamSize: DefaultBeamSize,
	}
	if ro.Language != nil {
		lang := strings.ToLower(strings.TrimSpace(*ro.Language))
		if lang != "" && lang != LanguageAuto {
			if !validLanguage(lang) {
				return DecodingOptions{}, errors.Validation(OptLanguage, "unsupported language code %q", *ro.Language)
			}
			opts.Language = lang
		}
	}
	if ro.BeamSize != nil {
		if *ro.BeamSize <= 0 {
			return DecodingOptions{}, errors.Validation(OptBeamSize, "must be a positive integer, got %d", *ro.BeamSize)
		}
		opts.BeamSize = *ro.BeamSize
	}
	if ro.VADFilter != nil {
		opts.VADFilter = *ro.VADFilter
	}
	if ro.WordTimestamps != nil {
		opts.WordTimestamps = *ro.WordTimestamps
	}
	if ro.Translate != nil {
		opts.Translate = *ro.Translate
	}
	if ro.InitialPrompt != nil {
		opts.InitialPrompt = strings.TrimSpace(*ro.InitialPrompt)
	}
	if ro.Temperature != nil {
		t := *ro.Temperature
		if math.IsNaN(t) || t < 0 || t > 1 {
			return DecodingOptions{}, errors.Validation(OptTemperature, "must be within [0, 1], got %v", t)
		}
		opts.Temperature = t
	}
	return opts, nil
}

// Raw returns the canonical options as a raw option map. Resolving it yields
// the same options.
func (o DecodingOptions) Raw() map[string]any {
	m := map[string]any{
		OptLanguage:       o.Language,
		OptBeamSize:       o.BeamSize,
		OptVADFilter:      o.VADFilter,
		OptWordTimestamps: o.WordTimestamps,
		OptTranslate:      o.Translate,
		OptTemperature:    o.Temperature,
	}
	if o.InitialPrompt != "" {
		m[OptInitialPrompt] = o.InitialPrompt
	}
	return m
}

var knownKeys = map[string]struct{}{
	OptLanguage:       {},
	OptBeamSize:       {},
	OptVADFilter:      {},
	OptWordTimestamps: {},
	OptTranslate:      {},
	OptInitialPrompt:  {},
	OptTemperature:    {},
}

func checkKeys(raw map[string]any) error {
	var unknown []string
	for k := range raw {
		if _, ok := knownKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return errors.Validation("", "unknown option(s): %s", strings.Join(unknown, ", "))
}

// decodeField decodes one key so the error names the offending field.
func decodeField(ro *rawOptions, key string, value any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ro,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       strictScalarHook,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any{key: value}); err != nil {
		return errors.Validation(key, "invalid value %v", describe(value))
	}
	return nil
}

// strictScalarHook narrows mapstructure's weak typing: integers must be
// integral and booleans must parse with strconv.ParseBool.
func strictScalarHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int:
		switch v := data.(type) {
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("not an integer: %v", v)
			}
		case float32:
			if float64(v) != math.Trunc(float64(v)) {
				return nil, fmt.Errorf("not an integer: %v", v)
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, err
			}
			return n, nil
		case bool:
			return nil, fmt.Errorf("not an integer: %v", v)
		}
	case reflect.Bool:
		switch v := data.(type) {
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, err
			}
			return b, nil
		case float64:
			if v != 0 && v != 1 {
				return nil, fmt.Errorf("not a boolean: %v", v)
			}
		case int:
			if v != 0 && v != 1 {
				return nil, fmt.Errorf("not a boolean: %v", v)
			}
		}
	case reflect.Float64:
		switch v := data.(type) {
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		case bool:
			return nil, fmt.Errorf("not a number: %v", v)
		}
	case reflect.String:
		if from.Kind() != reflect.String {
			return nil, fmt.Errorf("not a string: %v", data)
		}
	}
	return data, nil
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", v)
}

// validLanguage accepts ISO 639-1/639-3 style codes as well as the few
// longer codes whisper knows ("haw", "yue").
func validLanguage(code string) bool {
	if len(code) < 2 || len(code) > 3 {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
