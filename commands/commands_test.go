package commands

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinmclean/maestro"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected Command
	}{
		{
			"Move",
			"move 90 90 45 0 180 90",
			Move{Targets: maestro.Degrees(90, 90, 45, 0, 180, 90), MatchSpeed: true, Wait: true},
		},
		{
			"MovePW",
			"movepw 1500 1500.5 1000 2000 1500 1500",
			Move{Targets: maestro.PulseWidths(1500, 1500.5, 1000, 2000, 1500, 1500), MatchSpeed: true, Wait: true},
		},
		{"TargetPulseWidth", "target 2 1500", SetTarget{Channel: 2, Target: maestro.Target{Value: 1500, Unit: maestro.PulseWidth}}},
		{"TargetMicros", "target 2 1500us", SetTarget{Channel: 2, Target: maestro.Target{Value: 1500, Unit: maestro.PulseWidth}}},
		{"TargetDegrees", "target 0 45deg", SetTarget{Channel: 0, Target: maestro.Target{Value: 45, Unit: maestro.Angle}}},
		{"Speed", "speed 1 140", SetSpeed{Channel: 1, Speed: 140}},
		{"Accel", "accel 3 5", SetAccel{Channel: 3, Accel: 5}},
		{"Range", "range 4 900 2100", SetRange{Channel: 4, Min: 900, Max: 2100}},
		{"Home", "home", GoHome{}},
		{"HomeUpperCase", "HOME", GoHome{}},
		{"SetHome", "sethome", SetHome{}},
		{"Positions", "positions", GetPositions{}},
		{"Config", "config", ShowConfig{}},
		{"Channel", "channel 3", ShowChannel{Channel: 3}},
		{"Run", "run wave.seq", RunFile{Filename: "wave.seq"}},
		{"RunRepeat", "run wave.seq 3", RunFile{Filename: "wave.seq", Repeat: 3}},
		{"Chop", "chop 1 1000 2000 5 0.25", Chop{Channel: 1, Low: 1000, High: 2000, Times: 5, Pause: 250 * time.Millisecond}},
		{"Script", "script 2", RunScript{Sub: 2}},
		{"StopScript", "stopscript", StopScript{}},
		{"Save", "save", SaveConfig{}},
		{"SaveFile", "save robot.json", SaveConfig{Filename: "robot.json"}},
		{"Load", "load robot.json", LoadConfig{Filename: "robot.json"}},
		{"Help", "help", Help{}},
		{"ExtraSpaces", "  speed   1   140  ", SetSpeed{Channel: 1, Speed: 140}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		unknown bool
	}{
		{"Empty", "", true},
		{"Unknown", "jump 1", true},
		{"MoveNoValues", "move", false},
		{"MoveNotNumber", "move 90 ninety", false},
		{"TargetMissingValue", "target 1", false},
		{"TargetBadChannel", "target x 1500", false},
		{"TargetBadValue", "target 1 fastdeg", false},
		{"SpeedNotInteger", "speed 1 1.5", false},
		{"RangeMissing", "range 1 900", false},
		{"HomeArgs", "home now", false},
		{"ChannelMissing", "channel", false},
		{"RunMissingFile", "run", false},
		{"RunBadTimes", "run wave.seq -1", false},
		{"ChopNegative", "chop 1 1000 2000 -5 0", false},
		{"SaveTooMany", "save a b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.unknown, errors.Is(err, ErrUnknownCommand))
		})
	}
}

func TestUsage(t *testing.T) {
	usage := Usage()
	for _, d := range Definitions {
		assert.Contains(t, usage, d.Usage)
		assert.Contains(t, usage, d.Description)
	}
}
