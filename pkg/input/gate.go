package input

import (
	"sync"
	"time"
)

const DefaultMinInterval = 100 * time.Millisecond

// Gate lets a call through when at least MinInterval has passed since the
// last call it let through.
type Gate struct {
	minInterval time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewGate(minInterval time.Duration) *Gate {
	return &Gate{
		minInterval: minInterval,
		now:         time.Now,
	}
}

func (g *Gate) Allow() bool {
	return g.AllowAt(g.now())
}

// AllowAt is Allow with an explicit time.
func (g *Gate) AllowAt(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.last.IsZero() && now.Sub(g.last) < g.minInterval {
		return false
	}
	g.last = now
	return true
}

// MarkAt records t as the last allowed time without checking.
func (g *Gate) MarkAt(t time.Time) {
	g.mu.Lock()
	g.last = t
	g.mu.Unlock()
}
