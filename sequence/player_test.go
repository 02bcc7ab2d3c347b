package sequence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/controller"
	"github.com/calvinmclean/maestro/internal/fakeport"
	"github.com/calvinmclean/maestro/protocol"
)

type move struct {
	targets maestro.TargetVector
	opts    controller.MoveOptions
}

type fakeMover struct {
	channels int
	moves    []move
	speeds   [][]int
	err      error
}

func (m *fakeMover) MoveTo(_ context.Context, tv maestro.TargetVector, opts controller.MoveOptions) ([]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.moves = append(m.moves, move{tv, opts})

	out := make([]float64, len(tv))
	for i, t := range tv {
		out[i] = t.Value
	}
	return out, nil
}

func (m *fakeMover) SetSpeeds(speeds []int) error {
	m.speeds = append(m.speeds, speeds)
	return nil
}

func (m *fakeMover) NumChannels() int {
	return m.channels
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newPlayer(t *testing.T, m Mover) (*Player, *recordingSleeper) {
	t.Helper()
	s := &recordingSleeper{}
	return NewPlayer(m, zaptest.NewLogger(t).Sugar()).WithSleeper(s), s
}

func sixOf(v float64) []float64 {
	return []float64{v, v, v, v, v, v}
}

func TestRunMoveAndPause(t *testing.T) {
	m := &fakeMover{channels: 6}
	p, s := newPlayer(t, m)

	var broadcasts [][]float64
	p.WithOnFrame(func(positions []float64) {
		broadcasts = append(broadcasts, positions)
	})

	frames := []Frame{
		{TargetPWM: sixOf(1500), SleepBefore: 0, Sleep: 0.1},
		PauseFrame(0.5),
	}

	require.NoError(t, p.Run(context.Background(), frames, 2))

	require.Len(t, m.moves, 2)
	for _, mv := range m.moves {
		assert.Equal(t, maestro.Untagged(sixOf(1500)...), mv.targets)
		assert.True(t, mv.opts.Wait)
		assert.False(t, mv.opts.MatchSpeed)
	}

	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		500 * time.Millisecond,
		100 * time.Millisecond,
		500 * time.Millisecond,
	}, s.waits)

	assert.Equal(t, [][]float64{sixOf(1500), sixOf(1500)}, broadcasts)
	assert.Empty(t, m.speeds)
}

func TestRunSleepBeforeAndSpeedOverride(t *testing.T) {
	m := &fakeMover{channels: 3}
	p, s := newPlayer(t, m)

	frames := []Frame{
		{TargetPWM: []float64{1000, 1100, 1200}, SleepBefore: 0.25, Speed: Speed(40), MatchSpeed: true},
		{TargetPWM: []float64{90, 90, 90}, Speed: Speeds(1, 2, 3)},
	}

	require.NoError(t, p.Run(context.Background(), frames, 1))

	assert.Equal(t, []time.Duration{250 * time.Millisecond}, s.waits)
	assert.Equal(t, [][]int{{40, 40, 40}, {1, 2, 3}}, m.speeds)
	require.Len(t, m.moves, 2)
	assert.True(t, m.moves[0].opts.MatchSpeed)
	assert.Equal(t, maestro.Untagged(90, 90, 90), m.moves[1].targets)
}

func TestRunAbortsOnMalformedFrame(t *testing.T) {
	m := &fakeMover{channels: 6}
	p, _ := newPlayer(t, m)

	frames := []Frame{
		{TargetPWM: sixOf(1500)},
		{TargetPWM: []float64{1500, 1500}},
		{TargetPWM: sixOf(1600)},
	}

	err := p.Run(context.Background(), frames, 3)
	assert.ErrorIs(t, err, maestro.ErrPrecondition)

	// the first move stays, nothing after the malformed frame runs
	require.Len(t, m.moves, 1)
	assert.Equal(t, maestro.Untagged(sixOf(1500)...), m.moves[0].targets)
}

func TestRunDocumentRejectsMalformedFrame(t *testing.T) {
	m := &fakeMover{channels: 6}
	p, s := newPlayer(t, m)

	doc := &Document{
		NumberOfTimes: 2,
		Body: []Frame{
			{TargetPWM: sixOf(1500), Sleep: 1},
			{TargetPWM: sixOf(1600), Speed: Speeds(10, 20, 30)},
		},
	}

	err := p.RunDocument(context.Background(), doc)
	assert.ErrorIs(t, err, maestro.ErrPrecondition)
	assert.Empty(t, m.moves)
	assert.Empty(t, m.speeds)
	assert.Empty(t, s.waits)
}

func TestRunStopsOnMoveError(t *testing.T) {
	m := &fakeMover{channels: 6, err: maestro.ErrTransportUnavailable}
	p, s := newPlayer(t, m)

	var called bool
	p.WithOnFrame(func([]float64) { called = true })

	err := p.Run(context.Background(), []Frame{{TargetPWM: sixOf(1500), Sleep: 1}}, 1)
	assert.ErrorIs(t, err, maestro.ErrTransportUnavailable)
	assert.False(t, called)
	assert.Empty(t, s.waits)
}

func TestRunCancelled(t *testing.T) {
	m := &fakeMover{channels: 6}
	p := NewPlayer(m, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Run(ctx, []Frame{{TargetPWM: sixOf(1500), Sleep: 10}, {TargetPWM: sixOf(1600)}}, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, m.moves, 1)
}

func TestRunZeroRepeat(t *testing.T) {
	m := &fakeMover{channels: 6}
	p, _ := newPlayer(t, m)

	require.NoError(t, p.Run(context.Background(), []Frame{{TargetPWM: sixOf(1500)}}, 0))
	assert.Empty(t, m.moves)
}

func TestRunDocumentWithController(t *testing.T) {
	port := fakeport.New(sixOf(1500)...)

	dir := t.TempDir()
	c, err := controller.New(controller.Config{
		SerialPort:     "/dev/ttyACM0",
		Device:         maestro.DefaultDevice,
		ConfigFile:     filepath.Join(dir, "maestro.json"),
		SaveConfigFile: filepath.Join(dir, "last.json"),
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	c.WithOpenFunc(func(string, int) (protocol.Transport, error) {
		return port, nil
	})
	require.NoError(t, c.Connect(context.Background()))
	port.Reset()

	p, s := newPlayer(t, c)

	doc := &Document{
		Cmd:           "Run",
		NumberOfTimes: 2,
		Body: []Frame{
			{TargetPWM: sixOf(1510), MatchSpeed: true, Sleep: 0.2},
			{TargetPWM: sixOf(1500), MatchSpeed: true},
		},
	}
	require.NoError(t, p.RunDocument(context.Background(), doc))

	assert.Len(t, port.FramesWithCommand(protocol.CmdSetTarget), 4*6)
	assert.Equal(t, sixOf(1500), c.Config().LastPosition)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, s.waits)
}

func TestClockSleeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPlayer(&fakeMover{}, nil).sleeper.Sleep(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}
