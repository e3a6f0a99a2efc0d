package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/internal/resilience"
)

// GatewayChecker fails while connected reports false. The bot passes a
// closure over its gateway state.
func GatewayChecker(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !connected() {
				return errors.New("gateway not connected")
			}
			return nil
		},
	}
}

// BreakerChecker fails when every breaker reported by states is open, i.e.
// no translation backend would currently accept a request.
func BreakerChecker(name string, states func() []resilience.BreakerStatus) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			var open []string
			for _, s := range st {
				if s.State == resilience.StateOpen {
					open = append(open, s.Name)
				}
			}
			if len(st) > 0 && len(open) == len(st) {
				return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker fails when p cannot be reached.
func PingChecker(name string, p Pinger) Checker {
	return Checker{
		Name:  name,
		Check: p.Ping,
	}
}
