package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/calvinmclean/maestro"
)

// Unavailable is the position reported for a channel whose query failed
const Unavailable = -1.0

// DefaultTimeout is used for response polling until SetTimeout is called
const DefaultTimeout = time.Second

// pollInterval is how long the response loop yields when no bytes are available
const pollInterval = time.Millisecond

// Transport is a byte-oriented duplex link to one or more devices. Reads are expected to return (0, nil) or io.EOF
// when no data is available instead of blocking forever
type Transport interface {
	io.ReadWriteCloser
}

// inputResetter is implemented by serial ports that can drop unread input
type inputResetter interface {
	ResetInputBuffer() error
}

// Codec sends frames to a single device over a Transport and reads its responses. It tracks the connection state
// but does not synchronize access; callers serialize every send/receive pair
type Codec struct {
	device  byte
	timeout time.Duration
	clock   clock.Clock
	logger  *zap.SugaredLogger

	transport Transport
	state     maestro.ConnectionState
	err       error
}

// NewCodec creates a Codec for a device number. It starts Disconnected
func NewCodec(device byte, logger *zap.SugaredLogger) (*Codec, error) {
	if device > 0x7f {
		return nil, fmt.Errorf("%w: device number %d does not fit in 7 bits", maestro.ErrPrecondition, device)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Codec{
		device:  device,
		timeout: DefaultTimeout,
		clock:   clock.New(),
		logger:  logger,
		state:   maestro.StateDisconnected,
	}, nil
}

// WithClock replaces the clock used for response polling
func (c *Codec) WithClock(clk clock.Clock) *Codec {
	c.clock = clk
	return c
}

// SetTimeout sets the response polling timeout
func (c *Codec) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Device returns the device number
func (c *Codec) Device() byte {
	return c.device
}

// State returns the connection state
func (c *Codec) State() maestro.ConnectionState {
	return c.state
}

// Err returns the condition that put the Codec in the Error state
func (c *Codec) Err() error {
	return c.err
}

// SetState records a connection state change. A non-nil err is retained for inspection
func (c *Codec) SetState(state maestro.ConnectionState, err error) {
	if c.state != state {
		c.logger.Debugw("connection state changed", "from", c.state, "to", state)
	}
	c.state = state
	if err != nil || state != maestro.StateError {
		c.err = err
	}
}

// Attach sets the Transport used for frames. The state is not changed
func (c *Codec) Attach(t Transport) {
	c.transport = t
}

// Detach closes the Transport and moves to Disconnected
func (c *Codec) Detach() error {
	t := c.transport
	c.transport = nil
	c.SetState(maestro.StateDisconnected, nil)
	if t == nil {
		return nil
	}
	return t.Close()
}

// drop closes the Transport after an I/O failure. The state moves to Error and Err keeps the cause
func (c *Codec) drop(err error) {
	if c.transport != nil {
		closeErr := c.transport.Close()
		if closeErr != nil {
			c.logger.Warnw("error closing failed transport", "error", closeErr)
		}
		c.transport = nil
	}
	c.SetState(maestro.StateError, err)
}

// usable is true while connecting (for the initial snapshot) or connected
func (c *Codec) usable() bool {
	return c.transport != nil && (c.state == maestro.StateConnected || c.state == maestro.StateConnecting)
}

// Send writes a complete frame
func (c *Codec) Send(frame []byte) error {
	if !c.usable() {
		c.logger.Warnw("cannot send command: connection is not established", "state", c.state, "frame", frame)
		return maestro.ErrTransportUnavailable
	}

	n, err := c.transport.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		err = fmt.Errorf("%w: error writing frame: %w", maestro.ErrConnection, err)
		c.logger.Errorw("write failed", "error", err)
		c.drop(err)
		return err
	}

	c.logger.Debugw("sent frame", "frame", frame)
	return nil
}

// SetTarget sends a target in quarter-microseconds
func (c *Codec) SetTarget(ch, quarterMicros int) error {
	frame, err := SetTargetFrame(c.device, ch, quarterMicros)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// SetSpeed sends a channel speed limit
func (c *Codec) SetSpeed(ch, speed int) error {
	frame, err := SetSpeedFrame(c.device, ch, speed)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// SetAccel sends a channel acceleration limit
func (c *Codec) SetAccel(ch, accel int) error {
	frame, err := SetAccelFrame(c.device, ch, accel)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// RunScriptSub starts a subroutine of the device's script. No response is expected
func (c *Codec) RunScriptSub(sub int) error {
	frame, err := RunScriptSubFrame(c.device, sub)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// StopScript stops the device's script
func (c *Codec) StopScript() error {
	return c.Send(StopScriptFrame(c.device))
}

// GetPosition queries a channel's current position in microseconds. This is the position the device is driving
// the servo to, not a measurement. When the response does not arrive in time, it returns Unavailable and an error
// wrapping maestro.ErrResponseTimeout
func (c *Codec) GetPosition(ch int) (float64, error) {
	frame, err := GetPositionFrame(c.device, ch)
	if err != nil {
		return Unavailable, err
	}

	if !c.usable() {
		c.logger.Warnw("cannot read position: connection is not established", "channel", ch, "state", c.state)
		return Unavailable, maestro.ErrTransportUnavailable
	}

	if r, ok := c.transport.(inputResetter); ok {
		err = r.ResetInputBuffer()
		if err != nil {
			c.logger.Debugw("error resetting input buffer", "error", err)
		}
	}

	err = c.Send(frame)
	if err != nil {
		return Unavailable, err
	}

	resp, err := c.read(PositionResponseSize)
	if err != nil {
		c.logger.Errorw("error reading position", "channel", ch, "error", err)
		return Unavailable, err
	}

	return DecodePosition(resp[0], resp[1]), nil
}

// GetAllPositions queries channels 0..n-1 in order. A failed channel is reported as Unavailable and does not stop
// the others; all failures are combined in the returned error
func (c *Codec) GetAllPositions(n int) ([]float64, error) {
	positions := make([]float64, n)
	var errs error
	for ch := range n {
		pos, err := c.GetPosition(ch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %d: %w", ch, err))
		}
		positions[ch] = pos
	}
	return positions, errs
}

// read polls the transport until exactly size bytes arrived or the timeout elapsed
func (c *Codec) read(size int) ([]byte, error) {
	buf := make([]byte, size)
	total := 0
	deadline := c.clock.Now().Add(c.timeout)

	for total < size {
		if !c.clock.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: got %d of %d bytes after %s", maestro.ErrResponseTimeout, total, size, c.timeout)
		}

		n, err := c.transport.Read(buf[total:])
		total += n
		if err != nil && !errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: error reading response: %w", maestro.ErrConnection, err)
			c.drop(err)
			return nil, err
		}
		if n == 0 {
			c.clock.Sleep(pollInterval)
		}
	}

	return buf, nil
}
