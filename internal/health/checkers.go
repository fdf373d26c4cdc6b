package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/npcvoice/internal/resilience"
)

// Catalogue fails while the voice catalogue is empty. size reports the
// number of known voices.
func Catalogue(size func() int) Checker {
	return Checker{
		Name: "voices",
		Check: func(context.Context) error {
			if size() == 0 {
				return errors.New("voice catalogue is empty")
			}
			return nil
		},
	}
}

// Providers fails when every TTS provider's circuit breaker is open.
func Providers(status func() []resilience.EntryStatus) Checker {
	return Checker{
		Name: "tts",
		Check: func(context.Context) error {
			entries := status()
			if len(entries) == 0 {
				return errors.New("no provider configured")
			}
			parts := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.State != resilience.StateOpen {
					return nil
				}
				parts = append(parts, e.Name+"="+e.State.String())
			}
			return fmt.Errorf("all circuits open (%s)", strings.Join(parts, ", "))
		},
	}
}

// Store wraps a connectivity probe of the settings backend, such as
// pgxpool.Pool.Ping.
func Store(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "storage", Check: ping}
}
