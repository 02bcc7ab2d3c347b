// Package commands is the closed set of operations a front end can request, a parser for the text form used on the
// command line, and the Executor that runs them one at a time
package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/sequence"
)

// ErrUnknownCommand is returned by Parse for a name that is not in the command table
var ErrUnknownCommand = errors.New("unknown command")

// Command is implemented only by the types in this package. The Executor handles every one of them
type Command interface {
	command()
}

type (
	// Move is a synchronized move of every channel
	Move struct {
		Targets    maestro.TargetVector
		MatchSpeed bool
		Wait       bool
	}
	// SetTarget moves a single channel without speed matching
	SetTarget struct {
		Channel int
		Target  maestro.Target
	}
	SetSpeed struct {
		Channel int
		Speed   int
	}
	// SetSpeeds sets every channel's speed. It needs one entry per channel
	SetSpeeds struct {
		Speeds []int
	}
	SetAccel struct {
		Channel int
		Accel   int
	}
	SetRange struct {
		Channel int
		Min     int
		Max     int
	}
	GoHome       struct{}
	SetHome      struct{}
	GetPositions struct{}
	// ShowConfig returns a copy of the ControllerConfig
	ShowConfig struct{}
	// ShowChannel returns the settings of one channel
	ShowChannel struct {
		Channel int
	}
	// RunSequence plays frames Repeat times, or once for a Repeat of 0. Every frame is checked before anything moves
	RunSequence struct {
		Frames []sequence.Frame
		Repeat int
	}
	// RunFile plays a .seq file. A Repeat of 0 uses the file's number_of_times
	RunFile struct {
		Filename string
		Repeat   int
	}
	// SaveSequence writes a Document as a .seq file. The extension is added when Filename lacks it
	SaveSequence struct {
		Document *sequence.Document
		Filename string
	}
	// Chop toggles a channel between two pulse widths
	Chop struct {
		Channel int
		Low     float64
		High    float64
		Times   int
		Pause   time.Duration
	}
	RunScript struct {
		Sub int
	}
	StopScript struct{}
	// SaveConfig writes the ControllerConfig. An empty Filename uses the save file
	SaveConfig struct {
		Filename string
	}
	// LoadConfig replaces the ControllerConfig. An empty Filename uses the config file
	LoadConfig struct {
		Filename string
	}
	Help struct{}
)

func (Move) command()         {}
func (SetTarget) command()    {}
func (SetSpeed) command()     {}
func (SetSpeeds) command()    {}
func (SetAccel) command()     {}
func (SetRange) command()     {}
func (GoHome) command()       {}
func (SetHome) command()      {}
func (GetPositions) command() {}
func (ShowConfig) command()   {}
func (ShowChannel) command()  {}
func (RunSequence) command()  {}
func (RunFile) command()      {}
func (SaveSequence) command() {}
func (Chop) command()         {}
func (RunScript) command()    {}
func (StopScript) command()   {}
func (SaveConfig) command()   {}
func (LoadConfig) command()   {}
func (Help) command()         {}

// Definition describes a text command
type Definition struct {
	Name        string
	Usage       string
	Description string
	Parse       func(args []string) (Command, error)
}

var (
	MoveDefinition = &Definition{
		Name:        "move",
		Usage:       "move <deg>...",
		Description: "Move every channel to an angle with matched speeds and wait for the move.",
		Parse: func(args []string) (Command, error) {
			values, err := floats(args)
			if err != nil {
				return nil, err
			}
			return Move{Targets: maestro.Degrees(values...), MatchSpeed: true, Wait: true}, nil
		},
	}
	MovePWDefinition = &Definition{
		Name:        "movepw",
		Usage:       "movepw <us>...",
		Description: "Move every channel to a pulse width with matched speeds and wait for the move.",
		Parse: func(args []string) (Command, error) {
			values, err := floats(args)
			if err != nil {
				return nil, err
			}
			return Move{Targets: maestro.PulseWidths(values...), MatchSpeed: true, Wait: true}, nil
		},
	}
	TargetDefinition = &Definition{
		Name:        "target",
		Usage:       "target <channel> <value>[us|deg]",
		Description: "Set one channel's target. Values are pulse widths unless they end with 'deg'.",
		Parse: func(args []string) (Command, error) {
			if err := argCount(args, 2); err != nil {
				return nil, err
			}
			ch, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, fmt.Errorf("invalid channel %q", args[0])
			}
			target, err := parseTarget(args[1])
			if err != nil {
				return nil, err
			}
			return SetTarget{Channel: ch, Target: target}, nil
		},
	}
	SpeedDefinition = &Definition{
		Name:        "speed",
		Usage:       "speed <channel> <speed>",
		Description: "Set a channel's speed limit in (0.25us)/(10ms). 0 is unlimited.",
		Parse: func(args []string) (Command, error) {
			v, err := ints(args, 2)
			if err != nil {
				return nil, err
			}
			return SetSpeed{Channel: v[0], Speed: v[1]}, nil
		},
	}
	AccelDefinition = &Definition{
		Name:        "accel",
		Usage:       "accel <channel> <accel>",
		Description: "Set a channel's acceleration limit from 0 to 255. 0 is unlimited.",
		Parse: func(args []string) (Command, error) {
			v, err := ints(args, 2)
			if err != nil {
				return nil, err
			}
			return SetAccel{Channel: v[0], Accel: v[1]}, nil
		},
	}
	RangeDefinition = &Definition{
		Name:        "range",
		Usage:       "range <channel> <min> <max>",
		Description: "Limit a channel's pulse width. 0 leaves a bound unrestricted.",
		Parse: func(args []string) (Command, error) {
			v, err := ints(args, 3)
			if err != nil {
				return nil, err
			}
			return SetRange{Channel: v[0], Min: v[1], Max: v[2]}, nil
		},
	}
	HomeDefinition = &Definition{
		Name:        "home",
		Usage:       "home",
		Description: "Move to the home position.",
		Parse:       noArgs(GoHome{}),
	}
	SetHomeDefinition = &Definition{
		Name:        "sethome",
		Usage:       "sethome",
		Description: "Use the current positions as the home position.",
		Parse:       noArgs(SetHome{}),
	}
	PositionsDefinition = &Definition{
		Name:        "positions",
		Usage:       "positions",
		Description: "Print the position of every channel.",
		Parse:       noArgs(GetPositions{}),
	}
	ConfigDefinition = &Definition{
		Name:        "config",
		Usage:       "config",
		Description: "Print the channel config.",
		Parse:       noArgs(ShowConfig{}),
	}
	ChannelDefinition = &Definition{
		Name:        "channel",
		Usage:       "channel <channel>",
		Description: "Print one channel's settings.",
		Parse: func(args []string) (Command, error) {
			v, err := ints(args, 1)
			if err != nil {
				return nil, err
			}
			return ShowChannel{Channel: v[0]}, nil
		},
	}
	RunDefinition = &Definition{
		Name:        "run",
		Usage:       "run <file.seq> [times]",
		Description: "Play a sequence file. Times defaults to the file's number_of_times.",
		Parse: func(args []string) (Command, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("expected 1 or 2 arguments, got %d", len(args))
			}
			cmd := RunFile{Filename: args[0]}
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid times %q", args[1])
				}
				cmd.Repeat = n
			}
			return cmd, nil
		},
	}
	ChopDefinition = &Definition{
		Name:        "chop",
		Usage:       "chop <channel> <low us> <high us> <times> <pause s>",
		Description: "Toggle a channel between two pulse widths.",
		Parse: func(args []string) (Command, error) {
			if err := argCount(args, 5); err != nil {
				return nil, err
			}
			v, err := floats(args)
			if err != nil {
				return nil, err
			}
			if v[3] < 0 || v[4] < 0 {
				return nil, errors.New("times and pause must not be negative")
			}
			return Chop{
				Channel: int(v[0]),
				Low:     v[1],
				High:    v[2],
				Times:   int(v[3]),
				Pause:   time.Duration(v[4] * float64(time.Second)),
			}, nil
		},
	}
	ScriptDefinition = &Definition{
		Name:        "script",
		Usage:       "script <subroutine>",
		Description: "Run a subroutine of the script stored on the device.",
		Parse: func(args []string) (Command, error) {
			v, err := ints(args, 1)
			if err != nil {
				return nil, err
			}
			return RunScript{Sub: v[0]}, nil
		},
	}
	StopScriptDefinition = &Definition{
		Name:        "stopscript",
		Usage:       "stopscript",
		Description: "Stop the script running on the device.",
		Parse:       noArgs(StopScript{}),
	}
	SaveDefinition = &Definition{
		Name:        "save",
		Usage:       "save [file]",
		Description: "Save the channel config.",
		Parse: func(args []string) (Command, error) {
			name, err := optionalArg(args)
			return SaveConfig{Filename: name}, err
		},
	}
	LoadDefinition = &Definition{
		Name:        "load",
		Usage:       "load [file]",
		Description: "Load the channel config. Defaults are used if the file cannot be read.",
		Parse: func(args []string) (Command, error) {
			name, err := optionalArg(args)
			return LoadConfig{Filename: name}, err
		},
	}
	HelpDefinition = &Definition{
		Name:        "help",
		Usage:       "help",
		Description: "Show all available commands and their descriptions.",
		Parse:       noArgs(Help{}),
	}
)

// Definitions lists every text command in the order help shows them
var Definitions = []*Definition{
	MoveDefinition,
	MovePWDefinition,
	TargetDefinition,
	SpeedDefinition,
	AccelDefinition,
	RangeDefinition,
	HomeDefinition,
	SetHomeDefinition,
	PositionsDefinition,
	ConfigDefinition,
	ChannelDefinition,
	RunDefinition,
	ChopDefinition,
	ScriptDefinition,
	StopScriptDefinition,
	SaveDefinition,
	LoadDefinition,
	HelpDefinition,
}

var definitionMap = func() map[string]*Definition {
	m := map[string]*Definition{}
	for _, d := range Definitions {
		m[d.Name] = d
	}
	return m
}()

// Parse reads a command line like "move 90 90 90 90 90 90"
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnknownCommand)
	}

	def, ok := definitionMap[strings.ToLower(fields[0])]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}

	cmd, err := def.Parse(fields[1:])
	if err != nil {
		return nil, fmt.Errorf("%s: %w (usage: %s)", def.Name, err, def.Usage)
	}
	return cmd, nil
}

// Usage is the help text listing every command
func Usage() string {
	var sb strings.Builder
	sb.WriteString("Available Commands:\n")
	for _, d := range Definitions {
		fmt.Fprintf(&sb, "  %-52s %s\n", d.Usage, d.Description)
	}
	return sb.String()
}

func parseTarget(s string) (maestro.Target, error) {
	unit := maestro.PulseWidth
	value := s
	switch {
	case strings.HasSuffix(s, "deg"):
		unit = maestro.Angle
		value = strings.TrimSuffix(s, "deg")
	case strings.HasSuffix(s, "us"):
		value = strings.TrimSuffix(s, "us")
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return maestro.Target{}, fmt.Errorf("invalid target %q", s)
	}
	return maestro.Target{Value: v, Unit: unit}, nil
}

func floats(args []string) ([]float64, error) {
	if len(args) == 0 {
		return nil, errors.New("expected at least 1 value")
	}
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func ints(args []string, n int) ([]int, error) {
	if err := argCount(args, n); err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", a)
		}
		out[i] = v
	}
	return out, nil
}

func argCount(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func optionalArg(args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("expected at most 1 argument, got %d", len(args))
	}
}

func noArgs(cmd Command) func([]string) (Command, error) {
	return func(args []string) (Command, error) {
		if err := argCount(args, 0); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}
