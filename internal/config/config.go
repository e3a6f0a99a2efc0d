// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the parley translator.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Discord     DiscordConfig     `yaml:"discord"`
	Audio       AudioConfig       `yaml:"audio"`
	Translation TranslationConfig `yaml:"translation"`
	Sink        SinkConfig        `yaml:"sink"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics (e.g. ":9090").
	// Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds bot credentials. Token and ApplicationID may also come
// from DISCORD_BOT_TOKEN and DISCORD_CLIENT_ID.
type DiscordConfig struct {
	Token         string `yaml:"token"`
	ApplicationID string `yaml:"application_id"`

	// GuildID registers slash commands in one guild only, which makes them
	// available immediately. Empty registers them globally.
	GuildID string `yaml:"guild_id"`

	// ManagerRoleID, when set, restricts join, leave and language changes to
	// members holding this role.
	ManagerRoleID string `yaml:"manager_role_id"`

	// ReconnectAttempts is how often a dropped voice connection is rejoined
	// before the session is closed. Zero closes the session on the first drop.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectBackoff is the wait before the first rejoin attempt. It
	// doubles per attempt up to 30s. Zero uses 1s.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// AudioConfig describes the transport audio, the backend audio and the
// segmentation knobs. The target format must be [audio.CanonicalFormat];
// translation requests are always labelled 16 kHz mono.
type AudioConfig struct {
	SourceSampleRate int `yaml:"source_sample_rate"`
	SourceChannels   int `yaml:"source_channels"`
	TargetSampleRate int `yaml:"target_sample_rate"`
	TargetChannels   int `yaml:"target_channels"`

	// VADEnabled toggles the voice-activity gate. Defaults to true.
	VADEnabled *bool `yaml:"vad_enabled"`

	// VADThreshold is the mean-amplitude threshold. Defaults to
	// [audio.VoiceActivityThreshold].
	VADThreshold float64 `yaml:"vad_threshold"`

	// SilenceTimeout ends a speaking burst after this much silence.
	SilenceTimeout time.Duration `yaml:"silence_timeout"`

	// MaxUtterance flushes a speaker's buffer early once it holds this much
	// audio.
	MaxUtterance time.Duration `yaml:"max_utterance"`
}

// SourceFormat returns the transport audio format.
func (a AudioConfig) SourceFormat() audio.Format {
	return audio.Format{SampleRate: a.SourceSampleRate, Channels: a.SourceChannels}
}

// TargetFormat returns the backend audio format.
func (a AudioConfig) TargetFormat() audio.Format {
	return audio.Format{SampleRate: a.TargetSampleRate, Channels: a.TargetChannels}
}

// Gate returns the configured voice-activity gate.
func (a AudioConfig) Gate() audio.VoiceGate {
	return audio.VoiceGate{Enabled: boolOr(a.VADEnabled, true), Threshold: a.VADThreshold}
}

// TranslationConfig configures the dispatcher and its backends.
type TranslationConfig struct {
	DefaultTargetLanguage string `yaml:"default_target_language"`

	// AutoDetectLanguage omits the source-language hint. Defaults to true.
	AutoDetectLanguage *bool `yaml:"auto_detect_language"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BatchConcurrency caps parallel requests in batch mode. Zero is
	// unlimited.
	BatchConcurrency int `yaml:"batch_concurrency"`

	// Providers are tried in order; later entries are fallbacks.
	Providers []ProviderEntry `yaml:"providers"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// AutoDetect reports whether source-language detection is left to the
// backend.
func (t TranslationConfig) AutoDetect() bool {
	return boolOr(t.AutoDetectLanguage, true)
}

// CircuitBreakerConfig tunes the per-provider breakers.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "gemini", "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// STT and LLM configure the two stages of the "cascade" translator.
	STT *ProviderEntry `yaml:"stt,omitempty"`
	LLM *ProviderEntry `yaml:"llm,omitempty"`

	// Fallbacks back up a cascade stage. Only valid inside stt and llm
	// blocks; translation fallbacks are further translation.providers.
	Fallbacks []ProviderEntry `yaml:"fallbacks,omitempty"`
}

// OptString returns Options[key] when it is a string, else "".
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptFloat returns Options[key] as a float64. YAML integers are accepted.
func (e ProviderEntry) OptFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// SinkConfig configures result delivery.
type SinkConfig struct {
	// PostgresDSN enables the transcript log when set.
	PostgresDSN string `yaml:"postgres_dsn"`

	// DeliveryTimeout bounds one delivery to one sink.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
