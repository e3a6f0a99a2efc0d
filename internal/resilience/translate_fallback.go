package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/provider/translate"
)

// TranslateFallback implements [translate.Provider] with failover across
// several translation backends. [translate.ErrNoSpeech] is terminal: every
// backend hears the same silence.
type TranslateFallback struct {
	group *FallbackGroup[translate.Provider]
}

var _ translate.Provider = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] preferring primary.
func NewTranslateFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslateFallback {
	userTerminal := cfg.Terminal
	cfg.Terminal = func(err error) bool {
		if errors.Is(err, translate.ErrNoSpeech) {
			return true
		}
		return userTerminal != nil && userTerminal(err)
	}
	return &TranslateFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend tried after the earlier ones.
func (f *TranslateFallback) AddFallback(name string, p translate.Provider) {
	f.group.AddFallback(name, p)
}

// Translate implements [translate.Provider].
func (f *TranslateFallback) Translate(ctx context.Context, req translate.Request) (translate.Response, error) {
	return ExecuteWithResult(f.group, func(p translate.Provider) (translate.Response, error) {
		return p.Translate(ctx, req)
	})
}

// Breakers reports the state of every backend's breaker.
func (f *TranslateFallback) Breakers() []BreakerStatus {
	return f.group.Breakers()
}
