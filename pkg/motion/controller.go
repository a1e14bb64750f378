package motion

import (
	"errors"
	"fmt"

	"launchctl/pkg/session"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotConnected   = errors.New("device not connected")
	ErrInvalidCommand = errors.New("invalid motion command")
)

// Device is the part of the session the controller drives.
type Device interface {
	IsConnected() bool
	SendLinear(durationMs int64, position float64) error
	SendSpeedPosition(speed, position int) error
}

// Controller turns stroke intents into device commands. The IssueXxx
// methods are lenient: a stroke arriving while no device is connected is
// dropped silently and transport errors are only logged, which suits
// callers that poll at a high rate. Issue is the strict variant.
type Controller struct {
	dev    Device
	logger log.FieldLogger
}

func NewController(dev Device, logger log.FieldLogger) *Controller {
	return &Controller{
		dev:    dev,
		logger: logger,
	}
}

func (c *Controller) IsConnected() bool {
	return c.dev.IsConnected()
}

// IssueStroke moves to position over durationMs. Position is not clamped.
func (c *Controller) IssueStroke(durationMs int64, position float64) {
	c.lenient(c.send(TimedStroke(durationMs, position)))
}

// IssueSpeedStroke moves to position at speed, both clamped to the range the
// protocol accepts.
func (c *Controller) IssueSpeedStroke(speed, position float64) {
	c.lenient(c.send(SpeedStroke(speed, position)))
}

// Issue sends cmd, returning ErrNotConnected when no device is connected.
func (c *Controller) Issue(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return c.send(cmd)
}

func (c *Controller) send(cmd Command) error {
	var err error
	switch cmd.Kind {
	case Timed:
		err = c.dev.SendLinear(cmd.DurationMs, cmd.Position)
	case SpeedBased:
		err = c.dev.SendSpeedPosition(SpeedPercent(cmd.Speed), PositionPercent(cmd.Position))
	default:
		return fmt.Errorf("%w: unknown kind %v", ErrInvalidCommand, cmd.Kind)
	}

	if errors.Is(err, session.ErrNoDevice) {
		return ErrNotConnected
	}
	return err
}

func (c *Controller) lenient(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConnected):
		c.logger.Debug("Stroke dropped, no device connected")
	default:
		c.logger.Errorf("Stroke failed: %v", err)
	}
}
