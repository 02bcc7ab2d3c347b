// Package protocol encodes and decodes frames of the Pololu serial protocol used by Maestro servo controllers.
//
// Every frame starts with the lead-in byte 0xAA and the device number, followed by the command byte and a
// fixed-length payload. 14-bit values are sent as two 7-bit halves, least significant first. There is no checksum
// and no acknowledgement, so only queries produce a response.
package protocol

import (
	"fmt"

	"github.com/calvinmclean/maestro"
)

// Command bytes. These are the Pololu protocol forms of the compact commands (compact command & 0x7f)
const (
	CmdSetTarget    byte = 0x04
	CmdSetSpeed     byte = 0x07
	CmdSetAccel     byte = 0x09
	CmdGetPosition  byte = 0x10
	CmdStopScript   byte = 0x24
	CmdRunScriptSub byte = 0x27
)

const (
	// MaxChannels is the channel count of the largest Maestro
	MaxChannels = 24
	// MaxValue is the largest value that fits in two 7-bit fields
	MaxValue = 1<<14 - 1
	// PositionResponseSize is the size of a GetPosition response
	PositionResponseSize = 2
)

// Split returns the low and high 7-bit halves of a 14-bit value
func Split(v uint16) (lsb, msb byte) {
	return byte(v & 0x7f), byte((v >> 7) & 0x7f)
}

// DecodePosition converts a GetPosition response to a pulse width in microseconds
func DecodePosition(lsb, msb byte) float64 {
	return float64(uint16(msb)<<8|uint16(lsb)) / 4
}

// SetTargetFrame encodes a SetTarget command. target is in quarter-microseconds
func SetTargetFrame(device byte, ch int, target int) ([]byte, error) {
	return channelValueFrame(device, CmdSetTarget, ch, target)
}

// SetSpeedFrame encodes a SetSpeed command. speed is in (0.25us)/(10ms), 0 is unlimited
func SetSpeedFrame(device byte, ch int, speed int) ([]byte, error) {
	return channelValueFrame(device, CmdSetSpeed, ch, speed)
}

// SetAccelFrame encodes a SetAcceleration command
func SetAccelFrame(device byte, ch int, accel int) ([]byte, error) {
	return channelValueFrame(device, CmdSetAccel, ch, accel)
}

// GetPositionFrame encodes a GetPosition query
func GetPositionFrame(device byte, ch int) ([]byte, error) {
	if err := validateChannel(ch); err != nil {
		return nil, err
	}
	return []byte{maestro.LeadIn, device, CmdGetPosition, byte(ch)}, nil
}

// RunScriptSubFrame encodes a command that starts a subroutine of the device's script
func RunScriptSubFrame(device byte, sub int) ([]byte, error) {
	if sub < 0 || sub > 0x7f {
		return nil, fmt.Errorf("%w: subroutine %d does not fit in 7 bits", maestro.ErrPrecondition, sub)
	}
	return []byte{maestro.LeadIn, device, CmdRunScriptSub, byte(sub)}, nil
}

// StopScriptFrame encodes a command that stops the device's script
func StopScriptFrame(device byte) []byte {
	return []byte{maestro.LeadIn, device, CmdStopScript}
}

func channelValueFrame(device, cmd byte, ch, value int) ([]byte, error) {
	if err := validateChannel(ch); err != nil {
		return nil, err
	}
	if value < 0 || value > MaxValue {
		return nil, fmt.Errorf("%w: value %d does not fit in 14 bits", maestro.ErrPrecondition, value)
	}

	lsb, msb := Split(uint16(value))
	return []byte{maestro.LeadIn, device, cmd, byte(ch), lsb, msb}, nil
}

func validateChannel(ch int) error {
	if ch < 0 || ch >= MaxChannels {
		return fmt.Errorf("%w: channel %d is outside [0, %d)", maestro.ErrPrecondition, ch, MaxChannels)
	}
	return nil
}
