package domain

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// productClock stamps processed_at on serialized products. Tests and
// cmd/validate freeze it so product payloads are byte-stable.
var productClock atomic.Pointer[clockwork.Clock]

func init() { SetClock(nil) }

// SetClock swaps the time source used by SerializeProduct. Pass nil to reset
// to real time. Safe to call while products are being serialized.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	productClock.Store(&c)
}

func now() time.Time { return (*productClock.Load()).Now().UTC() }
