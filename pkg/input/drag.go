package input

import (
	"math"
	"sync"
	"time"
)

// SpeedStroker receives the strokes produced by a DragTracker.
type SpeedStroker interface {
	IssueSpeedStroke(speed, position float64)
}

// DragTracker turns a continuously changing slider position into speed
// strokes. Speed is the distance covered since the last stroke divided by the
// elapsed seconds; intermediate moves are rate limited by a Gate.
type DragTracker struct {
	dev  SpeedStroker
	gate *Gate
	now  func() time.Time

	mu       sync.Mutex
	lastPos  float64
	lastTime time.Time
}

func NewDragTracker(dev SpeedStroker, minInterval time.Duration) *DragTracker {
	return &DragTracker{
		dev:  dev,
		gate: NewGate(minInterval),
		now:  time.Now,
	}
}

// Begin starts a drag at pos.
func (d *DragTracker) Begin(pos float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.lastPos = pos
	d.lastTime = now
	d.gate.MarkAt(now)
}

// Move reports a new slider position. It issues a stroke and returns true
// unless the previous stroke was too recent.
func (d *DragTracker) Move(pos float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !d.gate.AllowAt(now) {
		return false
	}
	d.strokeLocked(pos, now)
	return true
}

// End finishes the drag, issuing a last stroke if the slider moved since the
// last one.
func (d *DragTracker) End(pos float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos == d.lastPos {
		return false
	}
	d.strokeLocked(pos, d.now())
	return true
}

func (d *DragTracker) strokeLocked(pos float64, now time.Time) {
	speed := 0.0
	if !d.lastTime.IsZero() {
		// A zero interval gives +Inf, which the controller clamps to max speed.
		speed = math.Abs(pos-d.lastPos) / now.Sub(d.lastTime).Seconds()
	}
	d.lastPos = pos
	d.lastTime = now
	d.gate.MarkAt(now)

	d.dev.IssueSpeedStroke(speed, pos)
}
