package translate

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/MrWong99/parley/pkg/types"
)

// FallbackConfidence is the confidence assigned to degraded answers.
const FallbackConfidence = 0.5

// UnknownLanguage is reported when neither the answer nor the request names
// a source language.
const UnknownLanguage = "unknown"

// answer is the wire shape requested by [AudioPrompt] and [TextSystemPrompt].
// "transcript" and "detected_language" are accepted as aliases because
// models drift between spellings.
type answer struct {
	Transcription    string          `json:"transcription"`
	Transcript       string          `json:"transcript"`
	Translation      string          `json:"translation"`
	DetectedLanguage string          `json:"detectedLanguage"`
	DetectedLangAlt  string          `json:"detected_language"`
	Confidence       json.RawMessage `json:"confidence"`
}

// ParseResponse validates a backend's raw text answer.
//
// The first JSON object in raw is decoded; surrounding prose and markdown
// code fences are tolerated. A usable answer needs a non-empty transcription
// and translation. Anything else yields a degraded result that uses the
// trimmed raw text as both transcript and translation, declaredLang (or
// [UnknownLanguage]) as the language, and [FallbackConfidence]. ParseResponse
// never fails.
func ParseResponse(raw, declaredLang string) Parsed {
	if p, ok := parseAnswer(raw); ok {
		if p.DetectedLanguage == "" {
			p.DetectedLanguage = declaredLang
		}
		if p.DetectedLanguage == "" {
			p.DetectedLanguage = UnknownLanguage
		}
		return p
	}

	lang := declaredLang
	if lang == "" {
		lang = UnknownLanguage
	}
	text := strings.TrimSpace(raw)
	c := FallbackConfidence
	return Parsed{
		Transcript:       text,
		Translation:      text,
		DetectedLanguage: lang,
		Confidence:       &c,
		Degraded:         true,
	}
}

func parseAnswer(raw string) (Parsed, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return Parsed{}, false
	}
	var a answer
	dec := json.NewDecoder(strings.NewReader(raw[start:]))
	if err := dec.Decode(&a); err != nil {
		return Parsed{}, false
	}

	transcript := strings.TrimSpace(a.Transcription)
	if transcript == "" {
		transcript = strings.TrimSpace(a.Transcript)
	}
	translation := strings.TrimSpace(a.Translation)
	if transcript == "" || translation == "" {
		return Parsed{}, false
	}

	lang := strings.TrimSpace(a.DetectedLanguage)
	if lang == "" {
		lang = strings.TrimSpace(a.DetectedLangAlt)
	}
	return Parsed{
		Transcript:       transcript,
		Translation:      translation,
		DetectedLanguage: lang,
		Confidence:       parseConfidence(a.Confidence),
	}, true
}

// parseConfidence accepts a JSON number or a numeric string. Out-of-range
// values are clamped to [0,1]; anything else, NaN and infinities included,
// is treated as absent.
func parseConfidence(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		f = v
	}
	return types.ClampConfidence(f)
}
