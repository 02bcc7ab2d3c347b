// Package config is the per-channel configuration and calibration model of a servo controller. The JSON layout
// matches the configuration store files written by earlier versions of the tool, so it stores per-channel arrays
// instead of a list of channel structs.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/calvinmclean/maestro"
)

// Calibration maps a channel's physical travel to pulse width: [pwm at 0 deg, pwm at max travel, max travel in deg]
type Calibration [3]float64

// ControllerConfig holds the settings for every channel plus global parameters. All per-channel slices have
// NumOfChannels entries
type ControllerConfig struct {
	Min            []int         `json:"min"`
	Max            []int         `json:"max"`
	Home           []float64     `json:"home"`
	Cal            []Calibration `json:"cal"`
	Speed          []int         `json:"speed"`
	Accel          []int         `json:"accel"`
	TargetPosition []float64     `json:"target_position"`
	LastPosition   []float64     `json:"last_position"`
	LastSpeed      []int         `json:"last_speed"`

	// Timeout is the response polling timeout in seconds
	Timeout float64 `json:"timeout"`
	// DelayAdjust scales the speed-based movement time estimate
	DelayAdjust   float64 `json:"delay_adjust"`
	NumOfChannels int     `json:"num_of_channels"`
}

// ChannelConfig is a view of a single channel's settings
type ChannelConfig struct {
	MinPWM         int         `json:"min_pwm"`
	MaxPWM         int         `json:"max_pwm"`
	HomePWM        float64     `json:"home_pwm"`
	Calibration    Calibration `json:"calibration"`
	Speed          int         `json:"speed"`
	Accel          int         `json:"accel"`
	TargetPosition float64     `json:"target_position"`
	LastPosition   float64     `json:"last_position"`
	LastSpeed      int         `json:"last_speed"`
}

const defaultChannels = 6

// MaxAccel is the largest acceleration the device accepts. 0 means unrestricted
const MaxAccel = 255

// Default returns the documented configuration for a 6-channel controller. It is used whenever the
// configuration store is missing or unusable
func Default() *ControllerConfig {
	return &ControllerConfig{
		Min:  slices.Repeat([]int{500}, defaultChannels),
		Max:  slices.Repeat([]int{2500}, defaultChannels),
		Home: []float64{110, 110, 130, 110, 45, 90},
		Cal: []Calibration{
			{2500, 900, 180},
			{2500, 900, 180},
			{2500, 900, 180},
			{2500, 900, 180},
			{2500, 900, 180},
			{3500, 1600, 180},
		},
		Speed:          slices.Repeat([]int{1000}, defaultChannels),
		Accel:          slices.Repeat([]int{MaxAccel}, defaultChannels),
		TargetPosition: make([]float64, defaultChannels),
		LastPosition:   make([]float64, defaultChannels),
		LastSpeed:      make([]int, defaultChannels),
		Timeout:        1,
		DelayAdjust:    1,
		NumOfChannels:  defaultChannels,
	}
}

// Load reads a ControllerConfig from a JSON file. When the file is missing, malformed, or inconsistent, the Default
// config is returned together with an error wrapping maestro.ErrConfigLoad. The returned config is always usable
func Load(filename string) (*ControllerConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Default(), fmt.Errorf("%w: %w", maestro.ErrConfigLoad, err)
	}

	var cfg ControllerConfig
	err = json.Unmarshal(data, &cfg)
	if err != nil {
		return Default(), fmt.Errorf("%w: error decoding %q: %w", maestro.ErrConfigLoad, filename, err)
	}

	err = cfg.Validate()
	if err != nil {
		return Default(), fmt.Errorf("%w: %w", maestro.ErrConfigLoad, err)
	}

	return &cfg, nil
}

// Save writes the full config to a JSON file
func Save(cfg *ControllerConfig, filename string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}

	err = os.WriteFile(filename, data, 0o644)
	if err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return nil
}

// Validate checks that every per-channel array has NumOfChannels entries
func (c *ControllerConfig) Validate() error {
	if c.NumOfChannels <= 0 {
		return fmt.Errorf("num_of_channels must be positive, got %d", c.NumOfChannels)
	}

	lengths := map[string]int{
		"min":             len(c.Min),
		"max":             len(c.Max),
		"home":            len(c.Home),
		"cal":             len(c.Cal),
		"speed":           len(c.Speed),
		"accel":           len(c.Accel),
		"target_position": len(c.TargetPosition),
		"last_position":   len(c.LastPosition),
		"last_speed":      len(c.LastSpeed),
	}
	for key, l := range lengths {
		if l != c.NumOfChannels {
			return fmt.Errorf("%q has %d entries, expected %d", key, l, c.NumOfChannels)
		}
	}

	for i, cal := range c.Cal {
		if cal[2] == 0 {
			return fmt.Errorf("cal[%d] has zero max travel", i)
		}
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Clone returns a deep copy
func (c *ControllerConfig) Clone() *ControllerConfig {
	out := *c
	out.Min = slices.Clone(c.Min)
	out.Max = slices.Clone(c.Max)
	out.Home = slices.Clone(c.Home)
	out.Cal = slices.Clone(c.Cal)
	out.Speed = slices.Clone(c.Speed)
	out.Accel = slices.Clone(c.Accel)
	out.TargetPosition = slices.Clone(c.TargetPosition)
	out.LastPosition = slices.Clone(c.LastPosition)
	out.LastSpeed = slices.Clone(c.LastSpeed)
	return &out
}

// Channel returns the settings of one channel
func (c *ControllerConfig) Channel(ch int) (ChannelConfig, error) {
	if err := c.checkChannel(ch); err != nil {
		return ChannelConfig{}, err
	}
	return ChannelConfig{
		MinPWM:         c.Min[ch],
		MaxPWM:         c.Max[ch],
		HomePWM:        AngleToPulseWidth(c.Home[ch], c.Cal[ch]),
		Calibration:    c.Cal[ch],
		Speed:          c.Speed[ch],
		Accel:          c.Accel[ch],
		TargetPosition: c.TargetPosition[ch],
		LastPosition:   c.LastPosition[ch],
		LastSpeed:      c.LastSpeed[ch],
	}, nil
}

// SetRange sets the software clamp for a channel. A bound of 0 means unrestricted. It only affects future targets
func (c *ControllerConfig) SetRange(ch, minPWM, maxPWM int) error {
	if ch < 0 || ch >= c.NumOfChannels {
		return fmt.Errorf("%w: channel %d, have %d channels", maestro.ErrChannelRange, ch, c.NumOfChannels)
	}
	if minPWM < 0 || maxPWM < 0 || (minPWM > 0 && maxPWM > 0 && minPWM > maxPWM) {
		return fmt.Errorf("%w: invalid range [%d, %d]", maestro.ErrPrecondition, minPWM, maxPWM)
	}
	c.Min[ch] = minPWM
	c.Max[ch] = maxPWM
	return nil
}

// Clamp limits a pulse width to the channel's range. Each bound only applies when it is non-zero
func (c *ControllerConfig) Clamp(ch int, pwm float64) float64 {
	if lo := float64(c.Min[ch]); lo > 0 && pwm < lo {
		pwm = lo
	}
	if hi := float64(c.Max[ch]); hi > 0 && pwm > hi {
		pwm = hi
	}
	return pwm
}

// PulseWidth normalizes a Target for a channel to pulse width units
func (c *ControllerConfig) PulseWidth(ch int, t maestro.Target) (float64, error) {
	if err := c.checkChannel(ch); err != nil {
		return 0, err
	}

	switch t.Unit {
	case maestro.Angle:
		if !isAngle(t.Value) {
			return 0, fmt.Errorf("%w: channel %d angle %v is outside [0, 360]", maestro.ErrPrecondition, ch, t.Value)
		}
		return AngleToPulseWidth(t.Value, c.Cal[ch]), nil
	case maestro.PulseWidth:
		if t.Value < 0 {
			return 0, fmt.Errorf("%w: channel %d negative pulse width %v", maestro.ErrPrecondition, ch, t.Value)
		}
		return t.Value, nil
	case maestro.Auto:
		return AngleToPulseWidth(t.Value, c.Cal[ch]), nil
	default:
		return 0, fmt.Errorf("%w: unknown unit %d", maestro.ErrPrecondition, t.Unit)
	}
}

// PulseWidths normalizes a full TargetVector. The vector must have one entry per channel
func (c *ControllerConfig) PulseWidths(tv maestro.TargetVector) ([]float64, error) {
	if len(tv) != c.NumOfChannels {
		return nil, fmt.Errorf("%w: target vector has %d entries, expected %d", maestro.ErrPrecondition, len(tv), c.NumOfChannels)
	}

	out := make([]float64, len(tv))
	for ch, t := range tv {
		pwm, err := c.PulseWidth(ch, t)
		if err != nil {
			return nil, err
		}
		out[ch] = pwm
	}
	return out, nil
}

// AngleToPulseWidth converts a rotation angle to pulse width using the calibration. Values outside [0,360] are
// assumed to already be pulse widths and are only rounded
func AngleToPulseWidth(angle float64, cal Calibration) float64 {
	if !isAngle(angle) {
		return math.Round(angle)
	}
	pwm0, pwmMax, degMax := cal[0], cal[1], cal[2]
	return math.Round(angle*(pwmMax-pwm0)/degMax + pwm0)
}

func isAngle(v float64) bool {
	return v >= 0 && v <= 360
}

func (c *ControllerConfig) checkChannel(ch int) error {
	if ch < 0 || ch >= c.NumOfChannels {
		return fmt.Errorf("%w: channel %d, have %d channels", maestro.ErrPrecondition, ch, c.NumOfChannels)
	}
	return nil
}
