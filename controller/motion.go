package controller

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/config"
	"github.com/calvinmclean/maestro/internal/wait"
	"github.com/calvinmclean/maestro/protocol"
)

const (
	// deltas below negligibleDelta are replaced by deltaFloor to avoid dividing by zero
	negligibleDelta = 1e-4
	deltaFloor      = 1e-3

	// Servo model used for the physical movement time: 500-2500us spans 180 degrees at 0.2s per 60 degrees. Real
	// servos vary with voltage and load
	physicalMinPWM    = 500.0
	physicalMaxPWM    = 2500.0
	physicalTravelDeg = 180.0
	secondsPer60Deg   = 0.2

	// movingTolerance is how far a position can be from its target and still count as arrived
	movingTolerance = 10.0
)

// MoveOptions control a synchronized move
type MoveOptions struct {
	// MatchSpeed sets the speed of every channel so they all arrive at the same time
	MatchSpeed bool
	// Wait blocks until the estimated end of the move and then restores the speeds used before it
	Wait bool
}

// Plan is the timing of a synchronized move
type Plan struct {
	// Targets are the pulse widths the move ends at
	Targets []float64
	// Deltas are the distances each channel travels, floored to avoid dividing by zero
	Deltas []float64

	// BySpeed is the slowest channel's time at its configured speed, in seconds
	BySpeed float64
	// ByPhysics is the time the servo itself needs for the largest delta, in seconds
	ByPhysics float64

	// Speeds are the matched speeds. They are only set when the Plan was made with matchSpeed
	Speeds []int
}

// Seconds is the length of the move: it is never shorter than what the servos can physically do
func (p Plan) Seconds() float64 {
	return max(p.BySpeed, p.ByPhysics)
}

// Duration is Seconds as a time.Duration
func (p Plan) Duration() time.Duration {
	return wait.Seconds(p.Seconds())
}

// PlanMove computes the timing of a move from the config's last_position to targets (in pulse widths, one per
// channel). With matchSpeed, it also computes a speed for every channel so they all finish together
func PlanMove(cfg *config.ControllerConfig, targets []float64, matchSpeed bool) Plan {
	rawDeltas := lo.Map(targets, func(t float64, ch int) float64 {
		return math.Abs(t - cfg.LastPosition[ch])
	})
	deltas := lo.Map(rawDeltas, func(d float64, _ int) float64 {
		if d < negligibleDelta {
			return deltaFloor
		}
		return d
	})

	slowestMs := lo.Max(lo.Map(deltas, func(d float64, ch int) float64 {
		return ChannelMoveTime(d, cfg.Speed[ch])
	}))

	plan := Plan{
		Targets:   slices.Clone(targets),
		Deltas:    deltas,
		BySpeed:   cfg.DelayAdjust * slowestMs / 1000,
		ByPhysics: PhysicalMoveTime(lo.Max(rawDeltas)),
	}

	if matchSpeed {
		plan.Speeds = matchSpeeds(cfg.Speed, rawDeltas, deltas, plan.Seconds()*1000)
	}

	return plan
}

// matchSpeeds returns speeds that move each channel its delta in durationMs
func matchSpeeds(current []int, rawDeltas, deltas []float64, durationMs float64) []int {
	if durationMs <= 0 {
		return slices.Clone(current)
	}

	return lo.Map(deltas, func(d float64, ch int) int {
		speed := int(math.Round(d / durationMs * 4 * 10))
		if speed == 0 && rawDeltas[ch] >= negligibleDelta {
			// 0 would make the channel unlimited instead of slow
			speed = 1
		}
		return min(speed, protocol.MaxValue)
	})
}

// PhysicalMoveTime estimates the seconds a servo needs to travel deltaPWM microseconds
func PhysicalMoveTime(deltaPWM float64) float64 {
	degPerUs := physicalTravelDeg / (physicalMaxPWM - physicalMinPWM)
	return deltaPWM * degPerUs * secondsPer60Deg / 60
}

// ChannelMoveTime is the milliseconds a channel needs to travel delta at speed. It is 0 for speed 0: the device
// does not limit the channel, so it adds no constraint
func ChannelMoveTime(delta float64, speed int) float64 {
	if speed <= 0 {
		return 0
	}
	return delta / (0.25 * float64(speed) / 10)
}

// MoveTo moves every channel to the TargetVector. Targets are normalized to pulse widths and clamped to each
// channel's range before planning. The vector must have one entry per channel; otherwise nothing is sent and the
// state is unchanged. It returns the new last_position.
//
// When the wait is cancelled the targets were already sent, so last_position reflects them, the matched speeds are
// left in place, and the context's error is returned
func (c *Controller) MoveTo(ctx context.Context, tv maestro.TargetVector, opts MoveOptions) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveTo(ctx, tv, opts)
}

// GoHome moves to the configured home vector with matched speeds and waits for the move to finish
func (c *Controller) GoHome(ctx context.Context) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	home := maestro.Untagged(c.cfg.Home...)
	return c.moveTo(ctx, home, MoveOptions{MatchSpeed: true, Wait: true})
}

// Plan returns the Plan MoveTo would use for the TargetVector without sending anything
func (c *Controller) Plan(tv maestro.TargetVector, matchSpeed bool) (Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	targets, err := c.targets(tv)
	if err != nil {
		return Plan{}, err
	}
	return PlanMove(c.cfg, targets, matchSpeed), nil
}

func (c *Controller) moveTo(ctx context.Context, tv maestro.TargetVector, opts MoveOptions) ([]float64, error) {
	targets, err := c.targets(tv)
	if err != nil {
		c.logger.Errorw("rejected move", "error", err)
		return nil, err
	}

	if c.codec.State() != maestro.StateConnected {
		c.logger.Warnw("cannot move: connection is not established", "state", c.codec.State())
		return nil, maestro.ErrTransportUnavailable
	}

	plan := PlanMove(c.cfg, targets, opts.MatchSpeed)
	initialSpeeds := slices.Clone(c.cfg.Speed)

	c.logger.Debugw(
		"moving",
		"from", c.cfg.LastPosition,
		"to", targets,
		"by_speed", plan.BySpeed,
		"by_physics", plan.ByPhysics,
		"speeds", plan.Speeds,
	)

	c.cfg.LastSpeed = initialSpeeds

	if opts.MatchSpeed {
		err = c.setSpeeds(plan.Speeds)
		if err != nil {
			return slices.Clone(c.cfg.LastPosition), err
		}
	}

	for ch, pwm := range targets {
		err = c.setTarget(ch, pwm)
		if err != nil {
			return slices.Clone(c.cfg.LastPosition), err
		}
		c.cfg.LastPosition[ch] = pwm
	}

	if opts.Wait {
		c.logger.Debugw("waiting for move", "duration", plan.Duration())

		err = wait.Sleep(ctx, c.clock, plan.Duration())
		if err != nil {
			return slices.Clone(c.cfg.LastPosition), err
		}

		if opts.MatchSpeed {
			err = c.setSpeeds(initialSpeeds)
			if err != nil {
				return slices.Clone(c.cfg.LastPosition), err
			}
		}
	}

	return slices.Clone(c.cfg.LastPosition), nil
}

// targets normalizes and clamps a TargetVector, rejecting anything that cannot be sent
func (c *Controller) targets(tv maestro.TargetVector) ([]float64, error) {
	targets, err := c.cfg.PulseWidths(tv)
	if err != nil {
		return nil, err
	}

	for ch, pwm := range targets {
		clamped := c.cfg.Clamp(ch, pwm)
		if clamped < 0 || clamped*4 > protocol.MaxValue {
			return nil, fmt.Errorf("%w: channel %d target %v cannot be encoded", maestro.ErrPrecondition, ch, clamped)
		}
		targets[ch] = clamped
	}
	return targets, nil
}

// SetHomeFromPositions stores the current position of every channel as the home vector
func (c *Controller) SetHomeFromPositions() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions, err := c.codec.GetAllPositions(c.cfg.NumOfChannels)
	if err != nil {
		return nil, fmt.Errorf("cannot set home: %w", err)
	}

	c.cfg.Home = positions
	c.logger.Infow("set home", "home", positions)
	return slices.Clone(positions), nil
}

// Chop toggles a channel between two pulse widths n times, pausing after every move
func (c *Controller) Chop(ctx context.Context, ch int, low, high float64, n int, pause time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debugw("chop", "channel", ch, "low", low, "high", high, "n", n, "pause", pause)

	for range n {
		for _, pwm := range []float64{low, high} {
			err := c.setTarget(ch, pwm)
			if err != nil {
				return err
			}
			err = wait.Sleep(ctx, c.clock, pause)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Moving reports whether a channel's position differs from its target. It is only useful when the channel's speed
// is slower than the servo
func (c *Controller) Moving(ch int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moving(ch)
}

// AnyMoving reports whether any channel has not reached its target
func (c *Controller) AnyMoving() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ch := range c.cfg.NumOfChannels {
		moving, err := c.moving(ch)
		if err != nil || moving {
			return moving, err
		}
	}
	return false, nil
}

func (c *Controller) moving(ch int) (bool, error) {
	if err := c.checkChannel(ch); err != nil {
		return false, err
	}

	target := c.cfg.TargetPosition[ch]
	if target <= 0 {
		return false, nil
	}

	pos, err := c.codec.GetPosition(ch)
	if err != nil {
		return false, err
	}
	return math.Abs(pos-target) > movingTolerance, nil
}
