// Package cascade provides a translate.Provider that chains a speech-to-text
// backend with a text LLM: the utterance is transcribed first, then the
// transcript is translated.
//
// Any stt.Provider (whisper.cpp server, OpenAI) pairs with any llm.Provider
// (OpenAI, Anthropic, Ollama via any-llm-go).
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

var _ translate.Provider = (*Provider)(nil)

// Provider implements translate.Provider on top of an STT and an LLM backend.
type Provider struct {
	stt         stt.Provider
	llm         llm.Provider
	temperature float64
}

// Option configures a Provider.
type Option func(*Provider)

// WithTemperature sets the LLM sampling temperature. Defaults to 0.2.
func WithTemperature(t float64) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}

// New returns a cascade Provider. Both backends are required.
func New(transcriber stt.Provider, translator llm.Provider, opts ...Option) (*Provider, error) {
	if transcriber == nil {
		return nil, errors.New("cascade: transcriber must not be nil")
	}
	if translator == nil {
		return nil, errors.New("cascade: translator must not be nil")
	}
	p := &Provider{stt: transcriber, llm: translator, temperature: 0.2}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Translate implements translate.Provider.
//
// The transcript always comes from the STT stage. If the LLM answer is not
// the requested JSON shape, its trimmed text is used as the translation and
// the result is marked degraded. An empty transcript yields
// [translate.ErrNoSpeech].
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Response, error) {
	format := req.Format
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = audio.CanonicalFormat
	}

	tr, err := p.stt.Transcribe(ctx, stt.Request{
		Audio:    req.Audio,
		Format:   format,
		Language: req.SourceLanguage,
	})
	if err != nil {
		return translate.Response{}, fmt.Errorf("cascade: transcribe: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return translate.Response{}, translate.ErrNoSpeech
	}

	source := tr.Language
	if source == "" {
		source = req.SourceLanguage
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: translate.TextSystemPrompt(source, req.TargetLanguage),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  p.temperature,
		JSONMode:     true,
	})
	if err != nil {
		return translate.Response{}, fmt.Errorf("cascade: translate: %w", err)
	}
	if resp == nil {
		return translate.Response{}, errors.New("cascade: translate: empty completion")
	}

	parsed := translate.ParseResponse(resp.Content, source)
	parsed.Transcript = text
	if parsed.Degraded {
		parsed.Translation = strings.TrimSpace(resp.Content)
	}
	if parsed.Translation == "" {
		return translate.Response{}, errors.New("cascade: translate: empty translation")
	}
	if parsed.Confidence == nil && tr.Confidence > 0 {
		c := tr.Confidence
		parsed.Confidence = &c
	}
	return translate.Response{Raw: resp.Content, Parsed: &parsed}, nil
}
