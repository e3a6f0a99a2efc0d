package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied to a running process are tracked individually; everything
// else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is set when the gate toggle or its threshold changed.
	VADChanged bool

	// RetryChanged is set when max_retries or retry_delay changed.
	RetryChanged bool

	// RestartRequired names sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADChanged || d.RetryChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Audio.Gate() != new.Audio.Gate() {
		d.VADChanged = true
	}

	if old.Translation.MaxRetries != new.Translation.MaxRetries ||
		old.Translation.RetryDelay != new.Translation.RetryDelay {
		d.RetryChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	oa, na := old.Audio, new.Audio
	oa.VADEnabled, oa.VADThreshold = nil, 0
	na.VADEnabled, na.VADThreshold = nil, 0
	if oa != na {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !translationEqualIgnoringRetry(old.Translation, new.Translation) {
		d.RestartRequired = append(d.RestartRequired, "translation")
	}
	if old.Sink != new.Sink {
		d.RestartRequired = append(d.RestartRequired, "sink")
	}
	return d
}

func translationEqualIgnoringRetry(a, b TranslationConfig) bool {
	if a.DefaultTargetLanguage != b.DefaultTargetLanguage ||
		a.AutoDetect() != b.AutoDetect() ||
		a.RequestTimeout != b.RequestTimeout ||
		a.BatchConcurrency != b.BatchConcurrency ||
		a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	return slices.EqualFunc(a.Providers, b.Providers, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if !reflect.DeepEqual(a.Options, b.Options) {
		return false
	}
	return subEntryEqual(a.STT, b.STT) && subEntryEqual(a.LLM, b.LLM) &&
		slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}

func subEntryEqual(a, b *ProviderEntry) bool {
	if a == nil || b == nil {
		return a == b
	}
	return entryEqual(*a, *b)
}
