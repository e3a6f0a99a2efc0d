package translate_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/translate"
)

func TestParseResponse_ValidJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		declared string
		wantLang string
		wantConf float64
		noConf   bool
	}{
		{
			name:     "plain object",
			raw:      `{"transcription":"こんにちは","translation":"Hello","detectedLanguage":"ja","confidence":0.93}`,
			wantLang: "ja",
			wantConf: 0.93,
		},
		{
			name:     "markdown fence",
			raw:      "```json\n{\"transcription\":\"hola\",\"translation\":\"こんにちは\",\"detectedLanguage\":\"es\",\"confidence\":0.8}\n```",
			wantLang: "es",
			wantConf: 0.8,
		},
		{
			name:     "prose around object",
			raw:      `Sure! Here you go: {"transcription":"bonjour","translation":"hello","confidence":"0.7"} Hope it helps.`,
			declared: "fr",
			wantLang: "fr",
			wantConf: 0.7,
		},
		{
			name:     "aliases and clamped confidence",
			raw:      `{"transcript":"hallo","translation":"hello","detected_language":"de","confidence":1.7}`,
			wantLang: "de",
			wantConf: 1,
		},
		{
			name:     "missing confidence",
			raw:      `{"transcription":"ciao","translation":"hi"}`,
			wantLang: "unknown",
			noConf:   true,
		},
		{
			name:     "NaN confidence string",
			raw:      `{"transcription":"a","translation":"b","detectedLanguage":"en","confidence":"NaN"}`,
			wantLang: "en",
			noConf:   true,
		},
		{
			name:     "infinite confidence string",
			raw:      `{"transcription":"a","translation":"b","detectedLanguage":"en","confidence":"-Inf"}`,
			wantLang: "en",
			noConf:   true,
		},
		{
			name:     "nested braces in text",
			raw:      `{"transcription":"a {b}","translation":"c {d}","detectedLanguage":"en","confidence":0}`,
			wantLang: "en",
			wantConf: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := translate.ParseResponse(tc.raw, tc.declared)
			if p.Degraded {
				t.Fatalf("unexpected degraded result: %+v", p)
			}
			if p.Transcript == "" || p.Translation == "" {
				t.Errorf("empty fields: %+v", p)
			}
			if p.DetectedLanguage != tc.wantLang {
				t.Errorf("DetectedLanguage = %q, want %q", p.DetectedLanguage, tc.wantLang)
			}
			switch {
			case tc.noConf && p.Confidence != nil:
				t.Errorf("Confidence = %v, want nil", *p.Confidence)
			case !tc.noConf && (p.Confidence == nil || *p.Confidence != tc.wantConf):
				t.Errorf("Confidence = %v, want %v", p.Confidence, tc.wantConf)
			}
		})
	}
}

func TestParseResponse_Degraded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		declared string
		wantText string
		wantLang string
	}{
		{"plain text", "  Hello there  ", "", "Hello there", "unknown"},
		{"declared language kept", "Bonjour", "fr", "Bonjour", "fr"},
		{"missing translation", `{"transcription":"only this"}`, "", `{"transcription":"only this"}`, "unknown"},
		{"empty translation", `{"transcription":"x","translation":"  "}`, "ja", `{"transcription":"x","translation":"  "}`, "ja"},
		{"broken json", `{"transcription": "x", "translation": `, "", `{"transcription": "x", "translation":`, "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := translate.ParseResponse(tc.raw, tc.declared)
			if !p.Degraded {
				t.Fatalf("expected degraded result, got %+v", p)
			}
			if p.Transcript != tc.wantText || p.Translation != tc.wantText {
				t.Errorf("texts = %q / %q, want %q", p.Transcript, p.Translation, tc.wantText)
			}
			if p.DetectedLanguage != tc.wantLang {
				t.Errorf("DetectedLanguage = %q, want %q", p.DetectedLanguage, tc.wantLang)
			}
			if p.Confidence == nil || *p.Confidence != translate.FallbackConfidence {
				t.Errorf("Confidence = %v, want %v", p.Confidence, translate.FallbackConfidence)
			}
		})
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()

	withSource := translate.AudioPrompt("ko", "ja")
	if want := "Transcribe the following audio in ko and translate it to ja."; !strings.HasPrefix(withSource, want) {
		t.Errorf("AudioPrompt with source = %q", withSource)
	}
	auto := translate.AudioPrompt("", "en")
	if want := "Transcribe the following audio (auto-detect language) and translate it to en."; !strings.HasPrefix(auto, want) {
		t.Errorf("AudioPrompt auto = %q", auto)
	}
	for _, p := range []string{withSource, auto, translate.TextSystemPrompt("", "de")} {
		for _, key := range []string{`"transcription"`, `"translation"`, `"detectedLanguage"`, `"confidence"`} {
			if !strings.Contains(p, key) {
				t.Errorf("prompt %q missing key %s", p, key)
			}
		}
	}
}
