package motion

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultStrokeDuration = 693 * time.Millisecond
	DefaultUpPosition     = 0.7
	DefaultDownPosition   = 0.2
)

// LoopConfig describes the oscillation pattern. The loop sleeps one stroke
// duration after each command so strokes never overlap.
type LoopConfig struct {
	StrokeDuration time.Duration
	Up             float64
	Down           float64
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		StrokeDuration: DefaultStrokeDuration,
		Up:             DefaultUpPosition,
		Down:           DefaultDownPosition,
	}
}

// Stroker is what the looper drives.
type Stroker interface {
	IsConnected() bool
	IssueStroke(durationMs int64, position float64)
}

// Looper runs at most one oscillation loop at a time.
type Looper struct {
	dev    Stroker
	cfg    LoopConfig
	logger log.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLooper(dev Stroker, cfg LoopConfig, logger log.FieldLogger) *Looper {
	if cfg.StrokeDuration <= 0 {
		cfg.StrokeDuration = DefaultStrokeDuration
	}
	return &Looper{
		dev:    dev,
		cfg:    cfg,
		logger: logger,
	}
}

// Start stops any running loop and starts a new one going up. It returns
// false, after cleaning up, when the device is not connected.
func (l *Looper) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()
	if !l.dev.IsConnected() {
		l.logger.Debug("Loop not started, device not connected")
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	l.logger.Info("Loop started")
	go func() {
		defer close(done)
		l.run(ctx)
	}()
	return true
}

// Stop ends the running loop, if any, and waits for it to exit.
func (l *Looper) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

// Toggle stops a running loop or starts a new one. It reports whether a loop
// is running afterwards.
func (l *Looper) Toggle(ctx context.Context) bool {
	if !l.dev.IsConnected() {
		l.Stop()
		return false
	}
	if l.Running() {
		l.Stop()
		return false
	}
	return l.Start(ctx)
}

// Running reports whether a loop goroutine is still active. A loop that
// ended on its own because the device went away is not running.
func (l *Looper) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *Looper) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
	l.logger.Info("Loop stopped")
}

func (l *Looper) run(ctx context.Context) {
	durationMs := l.cfg.StrokeDuration.Milliseconds()
	timer := time.NewTimer(l.cfg.StrokeDuration)
	defer timer.Stop()

	goingUp := true
	for l.dev.IsConnected() {
		position := l.cfg.Down
		if goingUp {
			position = l.cfg.Up
		}
		l.dev.IssueStroke(durationMs, position)

		timer.Reset(l.cfg.StrokeDuration)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		goingUp = !goingUp
	}
	l.logger.Info("Loop ended, device disconnected")
}
