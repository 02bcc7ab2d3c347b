// Package sequence replays ordered lists of motion frames and reads and writes them as .seq files
package sequence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/calvinmclean/maestro"
)

// Extension is added to sequence file names that do not have it
const Extension = ".seq"

// Frame is one playback step: wait SleepBefore seconds, apply the speed override, move to TargetPWM, and wait Sleep
// seconds. A frame with only Pause set waits and does not move
type Frame struct {
	TargetPWM   []float64     `json:"target_pwm,omitempty"`
	SleepBefore float64       `json:"sleep_before,omitempty"`
	Sleep       float64       `json:"sleep,omitempty"`
	Speed       SpeedOverride `json:"speed,omitzero"`
	MatchSpeed  bool          `json:"match_speed,omitempty"`
	Pause       *float64      `json:"pause,omitempty"`
}

// PauseFrame creates a Frame that only waits
func PauseFrame(seconds float64) Frame {
	return Frame{Pause: &seconds}
}

// IsPause is true for frames that only wait
func (f Frame) IsPause() bool {
	return f.Pause != nil && len(f.TargetPWM) == 0
}

// Targets returns the TargetPWM as untagged targets: stored values inside [0,360] are angles
func (f Frame) Targets() maestro.TargetVector {
	return maestro.Untagged(f.TargetPWM...)
}

// Validate checks a Frame for a controller with numChannels channels
func (f Frame) Validate(numChannels int) error {
	if f.IsPause() {
		if *f.Pause < 0 {
			return fmt.Errorf("%w: negative pause %v", maestro.ErrPrecondition, *f.Pause)
		}
		return nil
	}

	if f.Pause != nil {
		return fmt.Errorf("%w: frame has both pause and target_pwm", maestro.ErrPrecondition)
	}
	if len(f.TargetPWM) != numChannels {
		return fmt.Errorf("%w: target_pwm has %d entries, expected %d", maestro.ErrPrecondition, len(f.TargetPWM), numChannels)
	}
	if f.SleepBefore < 0 || f.Sleep < 0 {
		return fmt.Errorf("%w: negative sleep", maestro.ErrPrecondition)
	}
	return f.Speed.validate(numChannels)
}

// SpeedOverride sets channel speeds for a single frame. In a file it is either one number for every channel or an
// array with a speed per channel
type SpeedOverride struct {
	speeds []int
	scalar bool
}

// Speed overrides every channel with the same speed
func Speed(speed int) SpeedOverride {
	return SpeedOverride{speeds: []int{speed}, scalar: true}
}

// Speeds overrides each channel's speed
func Speeds(speeds ...int) SpeedOverride {
	return SpeedOverride{speeds: speeds}
}

// IsZero is true when there is no override
func (s SpeedOverride) IsZero() bool {
	return len(s.speeds) == 0
}

// For returns the speed of every channel
func (s SpeedOverride) For(numChannels int) []int {
	if s.IsZero() {
		return nil
	}
	if s.scalar {
		out := make([]int, numChannels)
		for i := range out {
			out[i] = s.speeds[0]
		}
		return out
	}
	return slices.Clone(s.speeds)
}

func (s SpeedOverride) validate(numChannels int) error {
	if !s.scalar && !s.IsZero() && len(s.speeds) != numChannels {
		return fmt.Errorf("%w: speed has %d entries, expected %d", maestro.ErrPrecondition, len(s.speeds), numChannels)
	}
	for _, speed := range s.speeds {
		if speed < 0 {
			return fmt.Errorf("%w: negative speed %d", maestro.ErrPrecondition, speed)
		}
	}
	return nil
}

func (s SpeedOverride) MarshalJSON() ([]byte, error) {
	switch {
	case s.IsZero():
		return []byte("null"), nil
	case s.scalar:
		return json.Marshal(s.speeds[0])
	default:
		return json.Marshal(s.speeds)
	}
}

func (s *SpeedOverride) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = SpeedOverride{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var speeds []int
		err := json.Unmarshal(data, &speeds)
		if err != nil {
			return fmt.Errorf("invalid speed array: %w", err)
		}
		*s = Speeds(speeds...)
		return nil
	default:
		var speed float64
		err := json.Unmarshal(data, &speed)
		if err != nil {
			return fmt.Errorf("invalid speed: %w", err)
		}
		*s = Speed(int(speed))
		return nil
	}
}

// Document is the contents of a .seq file
type Document struct {
	Cmd           string  `json:"cmd"`
	Filename      string  `json:"filename,omitempty"`
	NumberOfTimes int     `json:"number_of_times"`
	Body          []Frame `json:"body"`
}

// Repeat is how many times the Body runs. A missing number_of_times runs it once
func (d Document) Repeat() int {
	if d.NumberOfTimes <= 0 {
		return 1
	}
	return d.NumberOfTimes
}

// Validate checks every frame of the Document for a controller with numChannels channels
func (d Document) Validate(numChannels int) error {
	if d.NumberOfTimes < 0 {
		return fmt.Errorf("%w: negative number_of_times %d", maestro.ErrPrecondition, d.NumberOfTimes)
	}
	for i, f := range d.Body {
		err := f.Validate(numChannels)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

// ReadFile reads a Document from a .seq file
func ReadFile(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading sequence: %w", err)
	}

	var doc Document
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("error decoding sequence %q: %w", filename, err)
	}
	return &doc, nil
}

// WriteFile writes the Document and returns the name of the file written, which always has the .seq extension
func WriteFile(doc *Document, filename string) (string, error) {
	if filepath.Ext(filename) != Extension {
		filename = filename[:len(filename)-len(filepath.Ext(filename))] + Extension
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("error encoding sequence: %w", err)
	}

	err = os.WriteFile(filename, data, 0o644)
	if err != nil {
		return "", fmt.Errorf("error writing sequence: %w", err)
	}
	return filename, nil
}
