package maestro

import (
	"errors"
	"fmt"
)

// LeadIn is the start-of-frame marker of the Pololu protocol. Each frame is LeadIn, device number, command
const LeadIn = 0xAA

// DefaultDevice is the factory device number of a Maestro
const DefaultDevice = 0x0C

// ConnectionState is the state of the link to the servo controller
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		fallthrough
	case StateDisconnected:
		return "Disconnected"
	}
}

// Unit tells how the Value of a Target is interpreted
type Unit int

const (
	// Auto is used for untagged numbers read from files: values in [0,360] are angles and anything
	// else is a pulse width
	Auto Unit = iota
	Angle
	PulseWidth
)

func (u Unit) String() string {
	switch u {
	case Angle:
		return "deg"
	case PulseWidth:
		return "us"
	default:
		return "auto"
	}
}

// ParseUnit reads the names returned by String. An empty string is Auto
func ParseUnit(s string) (Unit, error) {
	switch s {
	case "", "auto":
		return Auto, nil
	case "deg":
		return Angle, nil
	case "us":
		return PulseWidth, nil
	default:
		return Auto, fmt.Errorf("%w: unknown unit %q", ErrPrecondition, s)
	}
}

func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Unit) UnmarshalText(text []byte) error {
	parsed, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Target is a single channel's target in a TargetVector
type Target struct {
	Value float64
	Unit  Unit
}

// TargetVector has one Target per channel, in channel order
type TargetVector []Target

// Degrees creates a TargetVector of angles
func Degrees(values ...float64) TargetVector {
	return vector(Angle, values)
}

// PulseWidths creates a TargetVector of pulse widths in microseconds
func PulseWidths(values ...float64) TargetVector {
	return vector(PulseWidth, values)
}

// Untagged creates a TargetVector with Auto units
func Untagged(values ...float64) TargetVector {
	return vector(Auto, values)
}

// Vector creates a TargetVector with the same Unit for every value
func Vector(u Unit, values ...float64) TargetVector {
	return vector(u, values)
}

func vector(u Unit, values []float64) TargetVector {
	tv := make(TargetVector, len(values))
	for i, v := range values {
		tv[i] = Target{Value: v, Unit: u}
	}
	return tv
}

var (
	// ErrConfigLoad is a warning: the configuration store could not be used and defaults were substituted
	ErrConfigLoad = errors.New("config load failed")
	// ErrConnection means the transport could not be opened or failed during I/O
	ErrConnection = errors.New("connection error")
	// ErrTransportUnavailable is returned by every operation that needs the transport when it is missing or closed
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrResponseTimeout is returned when a query got no complete response within the timeout
	ErrResponseTimeout = errors.New("response timeout")
	// ErrPrecondition is returned before any frame is sent when the input is invalid
	ErrPrecondition = errors.New("precondition violation")
	// ErrChannelRange is a warning for range settings on a channel the config does not have
	ErrChannelRange = errors.New("channel out of range")
)
