package conf

import (
	"sync/atomic"
	"time"
)

// ActiveCorrelation is an immutable snapshot of the active correlation set.
// Version is assigned by the store when the set is activated.
type ActiveCorrelation struct {
	Version     int64
	Settings    CorrelationSettings
	Checksum    string
	ActivatedAt time.Time
}

// CorrelationProvider holds the one active correlation set. Readers take a
// snapshot once per document run; a reload swaps the pointer.
type CorrelationProvider struct {
	current atomic.Pointer[ActiveCorrelation]
}

// NewCorrelationProvider creates a provider seeded with an initial set.
func NewCorrelationProvider(initial *ActiveCorrelation) *CorrelationProvider {
	p := &CorrelationProvider{}
	p.current.Store(initial)
	return p
}

// Current returns the active snapshot. Callers must not mutate it.
func (p *CorrelationProvider) Current() *ActiveCorrelation {
	return p.current.Load()
}

// Swap installs next as the active set and returns the previous one.
func (p *CorrelationProvider) Swap(next *ActiveCorrelation) *ActiveCorrelation {
	return p.current.Swap(next)
}
