package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/config"
	"github.com/calvinmclean/maestro/controller"
	"github.com/calvinmclean/maestro/sequence"
)

// ErrStopped is returned by Submit after the Executor stopped running
var ErrStopped = errors.New("executor is not running")

// Controller is used to control a device
type Controller interface {
	MoveTo(ctx context.Context, tv maestro.TargetVector, opts controller.MoveOptions) ([]float64, error)
	GoHome(ctx context.Context) ([]float64, error)
	SetTarget(ch int, t maestro.Target) error
	SetSpeed(ch, speed int) error
	SetSpeeds(speeds []int) error
	SetAccel(ch, accel int) error
	SetRange(ch, minPWM, maxPWM int) error
	SetHomeFromPositions() ([]float64, error)
	GetAllPositions() ([]float64, error)
	Chop(ctx context.Context, ch int, low, high float64, n int, pause time.Duration) error
	RunScriptSub(sub int) error
	StopScript() error
	SaveConfig(filename string) error
	LoadConfig(filename string) error
	Config() *config.ControllerConfig
	NumChannels() int
}

var _ Controller = &controller.Controller{}

// Result is the outcome of a Command
type Result struct {
	// Positions is set by commands that move or read positions
	Positions []float64 `json:"positions,omitempty"`
	Message   string    `json:"message,omitempty"`
	// Config is only set by ShowConfig
	Config  *config.ControllerConfig `json:"config,omitempty"`
	Channel *config.ChannelConfig    `json:"channel,omitempty"`
}

type request struct {
	ctx  context.Context
	cmd  Command
	resp chan response
}

type response struct {
	result Result
	err    error
}

// Executor is the single owner of a Controller: commands submitted from any goroutine run one at a time, in order,
// on the goroutine calling Run. A sequence from one front end never interleaves with moves from another
type Executor struct {
	ctrl        Controller
	player      *sequence.Player
	broadcaster Broadcaster
	logger      *zap.SugaredLogger

	requests chan request
	done     chan struct{}
}

// NewExecutor creates an Executor. Nothing runs until Run is called
func NewExecutor(ctrl Controller, logger *zap.SugaredLogger) *Executor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	e := &Executor{
		ctrl:        ctrl,
		broadcaster: noopBroadcaster{},
		logger:      logger,
		requests:    make(chan request),
		done:        make(chan struct{}),
	}
	e.player = sequence.NewPlayer(ctrl, logger.Named("sequence")).WithOnFrame(e.broadcast)

	return e
}

// WithBroadcaster sets where positions are published
func (e *Executor) WithBroadcaster(b Broadcaster) *Executor {
	if b == nil {
		b = noopBroadcaster{}
	}
	e.broadcaster = b
	return e
}

// WithSleeper replaces the Sleeper used between sequence frames
func (e *Executor) WithSleeper(s sequence.Sleeper) *Executor {
	e.player.WithSleeper(s)
	return e
}

// Run executes submitted commands until ctx is done
func (e *Executor) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.requests:
			result, err := e.Execute(req.ctx, req.cmd)
			req.resp <- response{result, err}
		}
	}
}

// Submit queues a Command and waits for its Result. Cancelling ctx also interrupts the command's waits
func (e *Executor) Submit(ctx context.Context, cmd Command) (Result, error) {
	req := request{ctx: ctx, cmd: cmd, resp: make(chan response, 1)}

	select {
	case e.requests <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.done:
		return Result{}, ErrStopped
	}

	select {
	case resp := <-req.resp:
		return resp.result, resp.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Execute runs a Command directly on the calling goroutine
func (e *Executor) Execute(ctx context.Context, cmd Command) (Result, error) {
	e.logger.Debugw("executing command", "command", fmt.Sprintf("%T", cmd))

	switch c := cmd.(type) {
	case Move:
		positions, err := e.ctrl.MoveTo(ctx, c.Targets, controller.MoveOptions{MatchSpeed: c.MatchSpeed, Wait: c.Wait})
		if err != nil {
			return Result{}, err
		}
		e.broadcast(positions)
		return Result{Positions: positions}, nil
	case SetTarget:
		return Result{}, e.ctrl.SetTarget(c.Channel, c.Target)
	case SetSpeed:
		return Result{}, e.ctrl.SetSpeed(c.Channel, c.Speed)
	case SetSpeeds:
		return Result{}, e.ctrl.SetSpeeds(c.Speeds)
	case SetAccel:
		return Result{}, e.ctrl.SetAccel(c.Channel, c.Accel)
	case SetRange:
		return Result{}, e.ctrl.SetRange(c.Channel, c.Min, c.Max)
	case GoHome:
		positions, err := e.ctrl.GoHome(ctx)
		if err != nil {
			return Result{}, err
		}
		e.broadcast(positions)
		return Result{Positions: positions}, nil
	case SetHome:
		home, err := e.ctrl.SetHomeFromPositions()
		if err != nil {
			return Result{}, err
		}
		return Result{Positions: home, Message: "home updated"}, nil
	case GetPositions:
		positions, err := e.ctrl.GetAllPositions()
		return Result{Positions: positions}, err
	case ShowConfig:
		return Result{Config: e.ctrl.Config()}, nil
	case ShowChannel:
		ch, err := e.ctrl.Config().Channel(c.Channel)
		if err != nil {
			return Result{}, err
		}
		return Result{Channel: &ch}, nil
	case RunSequence:
		err := e.player.RunDocument(ctx, &sequence.Document{Body: c.Frames, NumberOfTimes: c.Repeat})
		if err != nil {
			return Result{}, err
		}
		return Result{Positions: e.ctrl.Config().LastPosition}, nil
	case RunFile:
		doc, err := sequence.ReadFile(c.Filename)
		if err != nil {
			return Result{}, err
		}
		if c.Repeat > 0 {
			doc.NumberOfTimes = c.Repeat
		}
		err = e.player.RunDocument(ctx, doc)
		if err != nil {
			return Result{}, err
		}
		return Result{Positions: e.ctrl.Config().LastPosition}, nil
	case SaveSequence:
		filename, err := sequence.WriteFile(c.Document, c.Filename)
		if err != nil {
			return Result{}, err
		}
		return Result{Message: "saved " + filename}, nil
	case Chop:
		return Result{}, e.ctrl.Chop(ctx, c.Channel, c.Low, c.High, c.Times, c.Pause)
	case RunScript:
		return Result{}, e.ctrl.RunScriptSub(c.Sub)
	case StopScript:
		return Result{}, e.ctrl.StopScript()
	case SaveConfig:
		return Result{Message: "config saved"}, e.ctrl.SaveConfig(c.Filename)
	case LoadConfig:
		err := e.ctrl.LoadConfig(c.Filename)
		if errors.Is(err, maestro.ErrConfigLoad) {
			return Result{Message: fmt.Sprintf("using default config: %v", err)}, nil
		}
		return Result{Message: "config loaded"}, err
	case Help:
		return Result{Message: Usage()}, nil
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (e *Executor) broadcast(positions []float64) {
	e.broadcaster.Positions(positions)
}

// Serve reads text commands line by line from r, submits them, and writes each Result or error to w. It returns
// when r is exhausted or ctx is done
func (e *Executor) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cmd, err := Parse(line)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			continue
		}

		result, err := e.Submit(ctx, cmd)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			if errors.Is(err, ErrStopped) {
				return err
			}
			continue
		}
		writeResult(w, result)
	}
	return scanner.Err()
}

func writeResult(w io.Writer, r Result) {
	if r.Message != "" {
		fmt.Fprint(w, r.Message)
		if !strings.HasSuffix(r.Message, "\n") {
			fmt.Fprintln(w)
		}
	}
	if r.Positions != nil {
		fmt.Fprintln(w, "positions:", formatPositions(r.Positions))
	}
	if r.Config != nil {
		writeJSON(w, r.Config)
	}
	if r.Channel != nil {
		writeJSON(w, r.Channel)
	}
	if r.Message == "" && r.Positions == nil && r.Config == nil && r.Channel == nil {
		fmt.Fprintln(w, "ok")
	}
}

func writeJSON(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

func formatPositions(positions []float64) string {
	return strings.Join(lo.Map(positions, func(p float64, _ int) string {
		return strconv.FormatFloat(p, 'f', -1, 64)
	}), " ")
}
