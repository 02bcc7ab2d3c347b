package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/controller"
)

func TestRunWithoutDevice(t *testing.T) {
	dir := t.TempDir()
	settings := controller.DefaultConfig()
	settings.SerialPort = controller.SerialPortNone
	settings.ConfigFile = filepath.Join(dir, controller.DefaultConfigFile)
	settings.SaveConfigFile = filepath.Join(dir, controller.DefaultSaveConfigFile)

	logger := zaptest.NewLogger(t).Sugar()
	c, err := controller.New(settings, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	in := strings.NewReader("positions\nmovepw 1500 1500 1500 1500 1500 1500\nhelp\n")
	var out bytes.Buffer

	err = run(ctx, c, options{in: in, out: &out}, logger)
	require.NoError(t, err)

	assert.Equal(t, maestro.StateError, c.State())
	var errLines []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "error:") {
			errLines = append(errLines, line)
		}
	}
	require.Len(t, errLines, 2)
	for _, line := range errLines {
		assert.Contains(t, line, "transport unavailable")
	}
	assert.Contains(t, out.String(), "Available Commands:")
	assert.FileExists(t, settings.SaveConfigFile)
}
