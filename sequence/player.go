package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/controller"
	"github.com/calvinmclean/maestro/internal/wait"
)

// Mover is the part of controller.Controller used for playback
type Mover interface {
	MoveTo(ctx context.Context, tv maestro.TargetVector, opts controller.MoveOptions) ([]float64, error)
	SetSpeeds(speeds []int) error
	NumChannels() int
}

var _ Mover = &controller.Controller{}

// Sleeper waits between frames
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper is a Sleeper using a clock.Clock. It returns early with the context's error
type ClockSleeper struct {
	Clock clock.Clock
}

func (s ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	return wait.Sleep(ctx, s.Clock, d)
}

// OnFrameFunc is called with the positions returned by the move after every completed frame
type OnFrameFunc func(positions []float64)

// Player runs frames against a Mover
type Player struct {
	mover   Mover
	sleeper Sleeper
	onFrame OnFrameFunc
	logger  *zap.SugaredLogger
}

// NewPlayer creates a Player that sleeps on the wall clock
func NewPlayer(mover Mover, logger *zap.SugaredLogger) *Player {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Player{
		mover:   mover,
		sleeper: ClockSleeper{Clock: clock.New()},
		onFrame: func([]float64) {},
		logger:  logger,
	}
}

// WithSleeper replaces the Sleeper
func (p *Player) WithSleeper(s Sleeper) *Player {
	p.sleeper = s
	return p
}

// WithOnFrame sets the function called after every frame that moved
func (p *Player) WithOnFrame(fn OnFrameFunc) *Player {
	if fn == nil {
		fn = func([]float64) {}
	}
	p.onFrame = fn
	return p
}

// Run plays the frames in order, repeat times. A frame that is malformed or fails stops the playback: frames that
// already ran are not undone
func (p *Player) Run(ctx context.Context, frames []Frame, repeat int) error {
	p.logger.Infow("running sequence", "frames", len(frames), "repeat", repeat)

	for i := range repeat {
		for n, f := range frames {
			err := p.runFrame(ctx, f)
			if err != nil {
				p.logger.Errorw("stopped sequence", "run", i, "frame", n, "error", err)
				return fmt.Errorf("run %d frame %d: %w", i, n, err)
			}
		}
	}
	return nil
}

// RunDocument checks every frame of the Document before playing its body the number of times it specifies. A
// malformed Document moves nothing
func (p *Player) RunDocument(ctx context.Context, doc *Document) error {
	err := doc.Validate(p.mover.NumChannels())
	if err != nil {
		p.logger.Errorw("invalid sequence", "error", err)
		return err
	}
	return p.Run(ctx, doc.Body, doc.Repeat())
}

func (p *Player) runFrame(ctx context.Context, f Frame) error {
	err := f.Validate(p.mover.NumChannels())
	if err != nil {
		return err
	}

	if f.IsPause() {
		p.logger.Debugw("pause", "seconds", *f.Pause)
		return p.sleep(ctx, *f.Pause)
	}

	err = p.sleep(ctx, f.SleepBefore)
	if err != nil {
		return err
	}

	if !f.Speed.IsZero() {
		err = p.mover.SetSpeeds(f.Speed.For(p.mover.NumChannels()))
		if err != nil {
			return fmt.Errorf("error setting speed override: %w", err)
		}
	}

	positions, err := p.mover.MoveTo(ctx, f.Targets(), controller.MoveOptions{
		MatchSpeed: f.MatchSpeed,
		Wait:       true,
	})
	if err != nil {
		return err
	}
	p.onFrame(positions)

	return p.sleep(ctx, f.Sleep)
}

func (p *Player) sleep(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return ctx.Err()
	}
	return p.sleeper.Sleep(ctx, wait.Seconds(seconds))
}
