// Package gemini provides a translate.Provider backed by Google's Gemini
// models through the google.golang.org/genai SDK.
//
// Each call uploads the utterance inline as a WAV part next to a text
// instruction and asks for a JSON response. The model both transcribes and
// translates, so no separate speech-to-text stage is involved.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

var _ translate.Provider = (*Provider)(nil)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.0-flash-exp"

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model       string
	baseURL     string
	httpClient  *http.Client
	temperature *float32
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint (tests,
// regional proxies).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithHTTPClient replaces the SDK's default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *config) {
		c.temperature = &t
	}
}

// Provider implements translate.Provider using the Gemini API.
type Provider struct {
	client      *genai.Client
	model       string
	temperature *float32
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := config{model: DefaultModel}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	if cfg.httpClient != nil {
		cc.HTTPClient = cfg.httpClient
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model, temperature: cfg.temperature}, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return p.model
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (translate.Response, error) {
	if len(req.Audio) == 0 {
		return translate.Response{}, errors.New("gemini: audio data is required")
	}
	format := req.Format
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = audio.CanonicalFormat
	}

	parts := []*genai.Part{
		genai.NewPartFromText(translate.AudioPrompt(req.SourceLanguage, req.TargetLanguage)),
		genai.NewPartFromBytes(audio.EncodeWAV(req.Audio, format), "audio/wav"),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	gcc := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      p.temperature,
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, gcc)
	if err != nil {
		return translate.Response{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return translate.Response{}, errors.New("gemini: empty response")
	}
	return translate.Response{Raw: text}, nil
}
