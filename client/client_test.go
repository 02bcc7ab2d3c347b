package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/api"
	"github.com/calvinmclean/maestro/controller"
	"github.com/calvinmclean/maestro/internal/fakeport"
	"github.com/calvinmclean/maestro/protocol"
	"github.com/calvinmclean/maestro/sequence"
)

func sixOf(v float64) []float64 {
	return []float64{v, v, v, v, v, v}
}

func newTestClient(t *testing.T, port *fakeport.Port) *Client {
	t.Helper()

	dir := t.TempDir()
	c, err := controller.New(controller.Config{
		SerialPort:     "/dev/ttyACM0",
		Device:         maestro.DefaultDevice,
		ConfigFile:     filepath.Join(dir, controller.DefaultConfigFile),
		SaveConfigFile: filepath.Join(dir, controller.DefaultSaveConfigFile),
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	c.WithOpenFunc(func(string, int) (protocol.Transport, error) {
		return port, nil
	})
	require.NoError(t, c.Connect(context.Background()))
	port.Reset()

	a, err := api.New(c, "", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)

	router, err := a.Router()
	require.NoError(t, err)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return New(server.URL)
}

func TestSequences(t *testing.T) {
	port := fakeport.New(sixOf(1500)...)
	client := newTestClient(t, port)
	ctx := context.Background()

	id, err := client.CreateSequence(ctx, "nod", sequence.Document{
		Cmd:           "SaveFile",
		NumberOfTimes: 1,
		Body: []sequence.Frame{
			{TargetPWM: sixOf(1505), MatchSpeed: true},
			{TargetPWM: sixOf(1500), Speed: sequence.Speed(200)},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	seq, err := client.GetSequence(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nod", seq.Name)
	assert.Len(t, seq.Body, 2)
	assert.Equal(t, []int{200, 200, 200, 200, 200, 200}, seq.Body[1].Speed.For(6))

	positions, err := client.RunSequence(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, sixOf(1500), positions)
	assert.Len(t, port.FramesWithCommand(protocol.CmdSetTarget), 2*6)

	_, err = client.RunSequence(ctx, id, 2)
	require.NoError(t, err)
	assert.Len(t, port.FramesWithCommand(protocol.CmdSetTarget), 6*6)

	msg, err := client.ExportSequence(ctx, id, filepath.Join(t.TempDir(), "nod"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg, "saved "))

	doc, err := sequence.ReadFile(strings.TrimPrefix(msg, "saved "))
	require.NoError(t, err)
	assert.Len(t, doc.Body, 2)
	assert.Equal(t, 1, doc.NumberOfTimes)

	require.NoError(t, client.DeleteSequence(ctx, id))

	_, err = client.GetSequence(ctx, id)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	port := fakeport.New(sixOf(1500)...)
	client := newTestClient(t, port)

	positions, err := client.Run(context.Background(), []sequence.Frame{
		{TargetPWM: sixOf(1502)},
		sequence.PauseFrame(0.001),
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, sixOf(1502), positions)

	_, err = client.Run(context.Background(), []sequence.Frame{{TargetPWM: []float64{1500}}}, 1)
	assert.Error(t, err)
}

func TestMoveAndPositions(t *testing.T) {
	port := fakeport.New(sixOf(1500)...)
	client := newTestClient(t, port)
	ctx := context.Background()

	positions, err := client.Move(ctx, api.MoveRequest{
		Targets:    sixOf(1510),
		Unit:       maestro.PulseWidth,
		MatchSpeed: true,
		Wait:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, sixOf(1510), positions)

	positions, err = client.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, sixOf(1510), positions)

	require.NoError(t, client.SetTarget(ctx, api.TargetRequest{Channel: 2, Value: 1400, Unit: maestro.PulseWidth}))
	require.NoError(t, client.SetSpeed(ctx, api.SpeedRequest{Channel: 2, Speed: 50}))
	assert.Equal(t, 1400.0, port.Position(2))

	assert.Error(t, client.SetSpeed(ctx, api.SpeedRequest{Speeds: []int{10, 20}}))

	_, err = client.Move(ctx, api.MoveRequest{Targets: []float64{1500}, Unit: maestro.PulseWidth})
	assert.Error(t, err)
}

func TestHome(t *testing.T) {
	port := fakeport.New(1000, 1100, 1200, 1300, 1400, 1500)
	client := newTestClient(t, port)
	ctx := context.Background()

	home, err := client.SetHome(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 1100, 1200, 1300, 1400, 1500}, home)

	positions, err := client.Home(ctx)
	require.NoError(t, err)
	assert.Equal(t, home, positions)
}

func TestConfig(t *testing.T) {
	client := newTestClient(t, fakeport.New())
	ctx := context.Background()

	cfg, err := client.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.NumOfChannels)
	assert.Len(t, cfg.Cal, 6)

	filename := filepath.Join(t.TempDir(), "robot.json")
	require.NoError(t, client.SaveConfig(ctx, filename))

	msg, err := client.LoadConfig(ctx, filename)
	require.NoError(t, err)
	assert.Equal(t, "config loaded", msg)

	msg, err = client.LoadConfig(ctx, filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Contains(t, msg, "using default config")
}
