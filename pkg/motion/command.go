package motion

import (
	"fmt"
	"math"
)

// Kind selects the form of a motion command.
type Kind int

const (
	Timed Kind = iota
	SpeedBased
)

func (k Kind) String() string {
	switch k {
	case Timed:
		return "timed"
	case SpeedBased:
		return "speed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Speed and position bounds, in percent, accepted by the legacy speed
// command. The protocol rejects 0, 1 and 100 as speeds and 0 and 100 as
// positions.
const (
	MinSpeedPercent    = 2
	MaxSpeedPercent    = 99
	MinPositionPercent = 1
	MaxPositionPercent = 99
)

// Command is one stroke. Position and Speed are in [0,1].
type Command struct {
	Kind       Kind
	DurationMs int64   // Timed only
	Speed      float64 // SpeedBased only
	Position   float64
}

func TimedStroke(durationMs int64, position float64) Command {
	return Command{Kind: Timed, DurationMs: durationMs, Position: position}
}

func SpeedStroke(speed, position float64) Command {
	return Command{Kind: SpeedBased, Speed: speed, Position: position}
}

// Validate rejects commands that cannot be sent at all. Out-of-range
// values are not errors: speed commands are clamped and timed commands pass
// positions through unchanged.
func (c Command) Validate() error {
	switch c.Kind {
	case Timed:
		if c.DurationMs < 0 {
			return fmt.Errorf("%w: negative duration %d", ErrInvalidCommand, c.DurationMs)
		}
		if math.IsNaN(c.Position) {
			return fmt.Errorf("%w: position is NaN", ErrInvalidCommand)
		}
	case SpeedBased:
	default:
		return fmt.Errorf("%w: unknown kind %v", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// SpeedPercent converts a [0,1] speed to the percent sent on the wire.
func SpeedPercent(speed float64) int {
	return percent(speed, MinSpeedPercent, MaxSpeedPercent)
}

// PositionPercent converts a [0,1] position to the percent sent on the wire.
func PositionPercent(position float64) int {
	return percent(position, MinPositionPercent, MaxPositionPercent)
}

// percent truncates v*100 toward zero and clamps it to [lo, hi]. NaN maps
// to lo.
func percent(v float64, lo, hi int) int {
	p := v * 100
	switch {
	case math.IsNaN(p) || p < float64(lo):
		return lo
	case p > float64(hi):
		return hi
	}
	return int(p)
}
