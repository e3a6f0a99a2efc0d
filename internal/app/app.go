// Package app wires the Parley subsystems into a running application.
//
// The App struct owns the runtime pieces built from the configuration: the
// session registry, the translation dispatcher and the [SessionManager] that
// runs one pipeline per guild. main builds the providers and the sink, hands
// them to [New], and forwards configuration reloads to [App.ApplyConfig].
//
// For testing, inject mock providers and sinks and use the functional
// options for telemetry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/sink"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

// Providers holds the external collaborators built by main.
type Providers struct {
	// Translator is the (possibly failover-wrapped) translation backend.
	Translator translate.Provider

	// TranslatorName labels the translator in metrics and logs.
	TranslatorName string

	// Audio joins voice channels.
	Audio audio.Platform
}

// App owns the runtime subsystems and applies configuration changes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	metrics    *observe.Metrics
	logLevel   *slog.LevelVar
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *SessionManager

	// closers are called in order during Shutdown, after all sessions.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records telemetry on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] change the level of the process
// logger at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithCloser registers fn to run at the end of Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the registry, dispatcher and session manager from cfg.
// cfg must already be validated.
func New(cfg *config.Config, providers Providers, snk sink.Sink, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.registry = session.NewRegistry(session.WithMetrics(a.metrics))

	d, err := dispatch.New(providers.Translator,
		dispatch.WithMaxRetries(cfg.Translation.MaxRetries),
		dispatch.WithRetryDelay(cfg.Translation.RetryDelay),
		dispatch.WithRequestTimeout(cfg.Translation.RequestTimeout),
		dispatch.WithAutoDetect(cfg.Translation.AutoDetect()),
		dispatch.WithBatchLimit(cfg.Translation.BatchConcurrency),
		dispatch.WithProviderName(providers.TranslatorName),
		dispatch.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.dispatcher = d

	sm, err := NewSessionManager(SessionManagerConfig{
		Platform:          providers.Audio,
		Registry:          a.registry,
		Dispatcher:        d,
		Sink:              snk,
		Source:            cfg.Audio.SourceFormat(),
		Target:            cfg.Audio.TargetFormat(),
		Gate:              cfg.Audio.Gate(),
		MaxUtterance:      cfg.Audio.MaxUtterance,
		ReconnectAttempts: cfg.Discord.ReconnectAttempts,
		ReconnectBackoff:  cfg.Discord.ReconnectBackoff,
		Metrics:           a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.sessions = sm
	return a, nil
}

// Sessions returns the session manager driven by the slash commands.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Dispatcher returns the translation dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Registry returns the session registry.
func (a *App) Registry() *session.Registry { return a.registry }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ApplyConfig applies the hot-reloadable part of a configuration change:
// log level, voice gate and retry policy. Other changes are logged and take
// effect after a restart. The returned diff describes what changed.
func (a *App) ApplyConfig(newCfg *config.Config) config.ConfigDiff {
	a.mu.Lock()
	old := a.cfg
	a.cfg = newCfg
	a.mu.Unlock()

	diff := config.Diff(old, newCfg)
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("app: log level changed", "level", diff.NewLogLevel)
	}
	if diff.VADChanged {
		gate := newCfg.Audio.Gate()
		a.sessions.SetGate(gate)
		slog.Info("app: voice gate changed",
			"enabled", gate.Enabled,
			"threshold", gate.Threshold,
		)
	}
	if diff.RetryChanged {
		a.dispatcher.SetRetryPolicy(newCfg.Translation.MaxRetries, newCfg.Translation.RetryDelay)
		slog.Info("app: retry policy changed",
			"max_retries", newCfg.Translation.MaxRetries,
			"retry_delay", newCfg.Translation.RetryDelay,
		)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("app: configuration changes require a restart", "sections", diff.RestartRequired)
	}
	return diff
}

// Shutdown closes every session, then runs the registered closers. It
// stops early when ctx expires. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "sessions", a.sessions.Active(), "closers", len(a.closers))
		if err := a.sessions.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		for i, fn := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if err := fn(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		slog.Info("app: shutdown complete")
	})
	return errors.Join(errs...)
}
