package protocol_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/internal/fakeport"
	"github.com/calvinmclean/maestro/protocol"
)

func newCodec(t *testing.T, port *fakeport.Port) *protocol.Codec {
	t.Helper()
	c, err := protocol.NewCodec(maestro.DefaultDevice, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	c.SetTimeout(20 * time.Millisecond)
	if port != nil {
		c.Attach(port)
		c.SetState(maestro.StateConnected, nil)
	}
	return c
}

func TestNewCodecInvalidDevice(t *testing.T) {
	_, err := protocol.NewCodec(0x80, nil)
	assert.ErrorIs(t, err, maestro.ErrPrecondition)
}

func TestSend(t *testing.T) {
	port := fakeport.New()
	c := newCodec(t, port)

	require.NoError(t, c.SetTarget(0, 6000))
	require.NoError(t, c.SetSpeed(1, 140))
	require.NoError(t, c.SetAccel(2, 5))
	require.NoError(t, c.RunScriptSub(3))
	require.NoError(t, c.StopScript())

	assert.Equal(t, [][]byte{
		{0xAA, 0x0C, 0x04, 0x00, 0x70, 0x2E},
		{0xAA, 0x0C, 0x07, 0x01, 0x0C, 0x01},
		{0xAA, 0x0C, 0x09, 0x02, 0x05, 0x00},
		{0xAA, 0x0C, 0x27, 0x03},
		{0xAA, 0x0C, 0x24},
	}, port.Frames())
}

func TestSendWithoutTransport(t *testing.T) {
	c := newCodec(t, nil)

	err := c.SetTarget(0, 6000)
	assert.ErrorIs(t, err, maestro.ErrTransportUnavailable)
	assert.Equal(t, maestro.StateDisconnected, c.State())
}

func TestSendInvalidFrameDoesNotWrite(t *testing.T) {
	port := fakeport.New()
	c := newCodec(t, port)

	err := c.SetTarget(30, 6000)
	assert.ErrorIs(t, err, maestro.ErrPrecondition)
	assert.Empty(t, port.Frames())
}

func TestSendWriteFailure(t *testing.T) {
	port := fakeport.New()
	c := newCodec(t, port)

	port.FailWrites(errors.New("unplugged"))
	err := c.StopScript()
	assert.ErrorIs(t, err, maestro.ErrConnection)
	assert.Equal(t, maestro.StateError, c.State())
	assert.ErrorIs(t, c.Err(), maestro.ErrConnection)
	assert.True(t, port.Closed())

	err = c.StopScript()
	assert.ErrorIs(t, err, maestro.ErrTransportUnavailable)
}

func TestGetPositionReadFailure(t *testing.T) {
	port := fakeport.New(1500)
	c := newCodec(t, port)

	port.FailReads(errors.New("unplugged"))
	pos, err := c.GetPosition(0)
	assert.ErrorIs(t, err, maestro.ErrConnection)
	assert.Equal(t, protocol.Unavailable, pos)
	assert.Equal(t, maestro.StateError, c.State())
	assert.ErrorIs(t, c.Err(), maestro.ErrConnection)
	assert.True(t, port.Closed())

	// Detach after a failure has nothing left to close
	require.NoError(t, c.Detach())
	assert.Equal(t, maestro.StateDisconnected, c.State())
}

func TestGetPosition(t *testing.T) {
	port := fakeport.New(1500, 1700.25)
	c := newCodec(t, port)

	pos, err := c.GetPosition(0)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, pos)

	pos, err = c.GetPosition(1)
	require.NoError(t, err)
	assert.Equal(t, 1700.25, pos)

	assert.Equal(t, []byte{0xAA, 0x0C, 0x10, 0x01}, port.FramesWithCommand(protocol.CmdGetPosition)[1])
}

func TestGetPositionTimeout(t *testing.T) {
	port := fakeport.New(1500)
	port.Silence(0)
	c := newCodec(t, port)

	start := time.Now()
	pos, err := c.GetPosition(0)
	assert.ErrorIs(t, err, maestro.ErrResponseTimeout)
	assert.Equal(t, protocol.Unavailable, pos)
	assert.Less(t, time.Since(start), time.Second)

	// a timeout is reported per call and does not change the connection
	assert.Equal(t, maestro.StateConnected, c.State())
}

func TestGetPositionWithoutTransport(t *testing.T) {
	c := newCodec(t, nil)
	c.SetTimeout(time.Second)

	start := time.Now()
	pos, err := c.GetPosition(0)
	assert.ErrorIs(t, err, maestro.ErrTransportUnavailable)
	assert.Equal(t, protocol.Unavailable, pos)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGetAllPositions(t *testing.T) {
	port := fakeport.New(1000, 1100, 1200, 1300)
	port.Silence(2)
	c := newCodec(t, port)

	positions, err := c.GetAllPositions(4)
	assert.Equal(t, []float64{1000, 1100, protocol.Unavailable, 1300}, positions)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)
	assert.ErrorIs(t, err, maestro.ErrResponseTimeout)
}

func TestDetach(t *testing.T) {
	port := fakeport.New()
	c := newCodec(t, port)

	require.NoError(t, c.Detach())
	assert.True(t, port.Closed())
	assert.Equal(t, maestro.StateDisconnected, c.State())
	assert.ErrorIs(t, c.StopScript(), maestro.ErrTransportUnavailable)
}
