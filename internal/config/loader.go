package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/languages"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultTargetLanguage  = "ja"
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSilenceTimeout  = 300 * time.Millisecond
	DefaultMaxUtterance    = 30 * time.Second
	DefaultDeliveryTimeout = 10 * time.Second
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvDiscordToken    = "DISCORD_BOT_TOKEN"
	EnvDiscordClientID = "DISCORD_CLIENT_ID"
	EnvGeminiAPIKey    = "GOOGLE_GEMINI_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
)

// ValidProviderNames lists known provider names per kind. [Validate] warns
// about names outside these lists; they may be registered by a custom build.
var ValidProviderNames = map[string][]string{
	"translate": {"gemini", "cascade"},
	"stt":       {"whisper", "openai"},
	"llm":       {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment seen through env (nil skips it), and validates the result.
func LoadFromReader(r io.Reader, env LookupEnv) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.NewError(types.KindConfiguration, "decode", fmt.Errorf("config: decode yaml: %w", err))
	}
	ApplyDefaults(cfg)
	if env != nil {
		ApplyEnv(cfg, env)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SourceSampleRate == 0 {
		a.SourceSampleRate = audio.DiscordFormat.SampleRate
	}
	if a.SourceChannels == 0 {
		a.SourceChannels = audio.DiscordFormat.Channels
	}
	if a.TargetSampleRate == 0 {
		a.TargetSampleRate = audio.CanonicalFormat.SampleRate
	}
	if a.TargetChannels == 0 {
		a.TargetChannels = audio.CanonicalFormat.Channels
	}
	if a.VADThreshold == 0 {
		a.VADThreshold = audio.VoiceActivityThreshold
	}
	if a.SilenceTimeout == 0 {
		a.SilenceTimeout = DefaultSilenceTimeout
	}
	if a.MaxUtterance == 0 {
		a.MaxUtterance = DefaultMaxUtterance
	}

	t := &cfg.Translation
	if t.DefaultTargetLanguage == "" {
		t.DefaultTargetLanguage = DefaultTargetLanguage
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.RetryDelay == 0 {
		t.RetryDelay = DefaultRetryDelay
	}
	if t.RequestTimeout == 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Sink.DeliveryTimeout == 0 {
		cfg.Sink.DeliveryTimeout = DefaultDeliveryTimeout
	}
}

// ApplyEnv overlays credentials from the environment. Discord credentials in
// the environment replace file values; provider API keys only fill entries
// that have none.
func ApplyEnv(cfg *Config, env LookupEnv) {
	if v, ok := env(EnvDiscordToken); ok && v != "" {
		cfg.Discord.Token = v
	}
	if v, ok := env(EnvDiscordClientID); ok && v != "" {
		cfg.Discord.ApplicationID = v
	}
	gemini, _ := env(EnvGeminiAPIKey)
	openai, _ := env(EnvOpenAIAPIKey)
	for i := range cfg.Translation.Providers {
		fillKeys(&cfg.Translation.Providers[i], gemini, openai)
	}
}

func fillKeys(e *ProviderEntry, gemini, openai string) {
	if e == nil {
		return
	}
	if e.APIKey == "" {
		switch e.Name {
		case "gemini":
			e.APIKey = gemini
		case "openai":
			e.APIKey = openai
		}
	}
	fillKeys(e.STT, gemini, openai)
	fillKeys(e.LLM, gemini, openai)
	for i := range e.Fallbacks {
		fillKeys(&e.Fallbacks[i], gemini, openai)
	}
}

// Validate checks that cfg is coherent. All failures are reported together
// in one [types.KindConfiguration] error.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", EnvDiscordToken))
	}
	if cfg.Discord.ApplicationID == "" {
		errs = append(errs, fmt.Errorf("discord.application_id is required (or set %s)", EnvDiscordClientID))
	}
	if cfg.Discord.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("discord.reconnect_attempts %d must not be negative", cfg.Discord.ReconnectAttempts))
	}
	if cfg.Discord.ReconnectBackoff < 0 {
		errs = append(errs, fmt.Errorf("discord.reconnect_backoff %v must not be negative", cfg.Discord.ReconnectBackoff))
	}

	errs = append(errs, validateAudio(&cfg.Audio)...)
	errs = append(errs, validateTranslation(&cfg.Translation)...)

	if cfg.Sink.DeliveryTimeout < 0 {
		errs = append(errs, fmt.Errorf("sink.delivery_timeout %v must not be negative", cfg.Sink.DeliveryTimeout))
	}

	return types.NewError(types.KindConfiguration, "validate", errors.Join(errs...))
}

func validateAudio(a *AudioConfig) []error {
	var errs []error
	if a.SourceSampleRate <= 0 || a.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio sample rates must be positive (source %d, target %d)", a.SourceSampleRate, a.TargetSampleRate))
	}
	for name, ch := range map[string]int{"audio.source_channels": a.SourceChannels, "audio.target_channels": a.TargetChannels} {
		if ch != 1 && ch != 2 {
			errs = append(errs, fmt.Errorf("%s %d must be 1 or 2", name, ch))
		}
	}
	if a.TargetFormat() != audio.CanonicalFormat {
		errs = append(errs, fmt.Errorf("audio target format %d Hz/%d ch is not supported, translation needs %d Hz/%d ch",
			a.TargetSampleRate, a.TargetChannels, audio.CanonicalFormat.SampleRate, audio.CanonicalFormat.Channels))
	}
	if a.VADThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.1f must not be negative", a.VADThreshold))
	}
	if a.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.silence_timeout %v must not be negative", a.SilenceTimeout))
	}
	if a.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("audio.max_utterance %v must not be negative", a.MaxUtterance))
	}
	return errs
}

func validateTranslation(t *TranslationConfig) []error {
	var errs []error
	if !languages.IsSupported(t.DefaultTargetLanguage) {
		errs = append(errs, fmt.Errorf("translation.default_target_language %q is not supported", t.DefaultTargetLanguage))
	}
	if t.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("translation.max_retries %d must be at least 1", t.MaxRetries))
	}
	if t.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("translation.retry_delay %v must not be negative", t.RetryDelay))
	}
	if t.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("translation.request_timeout %v must not be negative", t.RequestTimeout))
	}
	if t.BatchConcurrency < 0 {
		errs = append(errs, fmt.Errorf("translation.batch_concurrency %d must not be negative", t.BatchConcurrency))
	}
	if len(t.Providers) == 0 {
		errs = append(errs, errors.New("translation.providers needs at least one entry"))
	}
	for i := range t.Providers {
		errs = append(errs, validateEntry(fmt.Sprintf("translation.providers[%d]", i), "translate", &t.Providers[i])...)
	}
	return errs
}

func validateEntry(prefix, kind string, e *ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	validateProviderName(kind, e.Name)

	var errs []error
	switch {
	case kind == "translate" && e.Name == "gemini":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: gemini requires api_key (or set %s)", prefix, EnvGeminiAPIKey))
		}
	case kind == "translate" && e.Name == "cascade":
		if e.STT == nil {
			errs = append(errs, fmt.Errorf("%s: cascade requires an stt block", prefix))
		} else {
			errs = append(errs, validateEntry(prefix+".stt", "stt", e.STT)...)
		}
		if e.LLM == nil {
			errs = append(errs, fmt.Errorf("%s: cascade requires an llm block", prefix))
		} else {
			errs = append(errs, validateEntry(prefix+".llm", "llm", e.LLM)...)
		}
	case kind == "stt" && e.Name == "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: whisper requires base_url", prefix))
		}
	case e.Name == "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: openai requires api_key (or set %s)", prefix, EnvOpenAIAPIKey))
		}
	}
	if kind == "llm" && e.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", prefix))
	}
	if kind != "translate" && (e.STT != nil || e.LLM != nil) {
		errs = append(errs, fmt.Errorf("%s: stt/llm blocks are only valid on a cascade translator", prefix))
	}
	if kind == "translate" && len(e.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("%s: fallbacks are only valid in stt/llm blocks, add further translation.providers instead", prefix))
	}
	for i := range e.Fallbacks {
		errs = append(errs, validateEntry(fmt.Sprintf("%s.fallbacks[%d]", prefix, i), kind, &e.Fallbacks[i])...)
	}
	return errs
}

// validateProviderName logs a warning if name is not in [ValidProviderNames]
// for kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or a custom provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
