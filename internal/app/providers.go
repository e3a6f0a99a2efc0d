package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

// Translator is the result of [BuildTranslator].
type Translator struct {
	// Provider is the backend handed to the dispatcher.
	Provider translate.Provider

	// Name is "gemini" for a single entry or "gemini+cascade" for a
	// failover chain.
	Name string

	// Breakers reports per-backend circuit state. Nil for a single backend.
	Breakers func() []resilience.BreakerStatus
}

// BuildTranslator creates every configured translation backend through reg.
// The first entry is the primary; more entries are chained behind a
// [resilience.TranslateFallback] with one circuit breaker each.
func BuildTranslator(reg *config.Registry, tc config.TranslationConfig) (Translator, error) {
	if len(tc.Providers) == 0 {
		return Translator{}, errors.New("app: no translation providers configured")
	}

	names := make([]string, 0, len(tc.Providers))
	backends := make([]translate.Provider, 0, len(tc.Providers))
	for i, entry := range tc.Providers {
		p, err := reg.CreateTranslate(entry)
		if err != nil {
			return Translator{}, fmt.Errorf("app: translation provider %d (%s): %w", i, entry.Name, err)
		}
		name := entry.Name
		if entry.Model != "" {
			name += "/" + entry.Model
		}
		names = append(names, name)
		backends = append(backends, p)
		slog.Info("app: translation provider ready", "name", name, "position", i)
	}

	if len(backends) == 1 {
		return Translator{Provider: backends[0], Name: tc.Providers[0].Name}, nil
	}

	fb := resilience.NewTranslateFallback(backends[0], names[0], fallbackConfig(tc.CircuitBreaker))
	for i := 1; i < len(backends); i++ {
		fb.AddFallback(names[i], backends[i])
	}
	short := make([]string, len(tc.Providers))
	for i, e := range tc.Providers {
		short[i] = e.Name
	}
	return Translator{
		Provider: fb,
		Name:     strings.Join(short, "+"),
		Breakers: fb.Breakers,
	}, nil
}

// BuildSTT creates the transcriber of a cascade stage. Entries listed in
// entry.Fallbacks are chained behind a [resilience.STTFallback].
func BuildSTT(reg *config.Registry, entry config.ProviderEntry, cb config.CircuitBreakerConfig) (stt.Provider, error) {
	primary, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("app: stt %s: %w", entry.Name, err)
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewSTTFallback(primary, entry.Name, fallbackConfig(cb))
	for i, e := range entry.Fallbacks {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("app: stt fallback %d (%s): %w", i, e.Name, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

// BuildLLM creates the text model of a cascade stage. Entries listed in
// entry.Fallbacks are chained behind a [resilience.LLMFallback].
func BuildLLM(reg *config.Registry, entry config.ProviderEntry, cb config.CircuitBreakerConfig) (llm.Provider, error) {
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("app: llm %s: %w", entry.Name, err)
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, entry.Name, fallbackConfig(cb))
	for i, e := range entry.Fallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("app: llm fallback %d (%s): %w", i, e.Name, err)
		}
		fb.AddFallback(e.Name, p)
	}
	return fb, nil
}

func fallbackConfig(cb config.CircuitBreakerConfig) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
		},
	}
}
