package controller

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareACM(t *testing.T) {
	ports := []string{"/dev/ttyUSB0", "/dev/ttyACM10", "/dev/ttyACM2", "/dev/ttyACM1"}
	slices.SortFunc(ports, compareACM)

	assert.Equal(t, []string{"/dev/ttyACM1", "/dev/ttyACM2", "/dev/ttyACM10", "/dev/ttyUSB0"}, ports)
}

func TestIsUSBSerial(t *testing.T) {
	tests := []struct {
		port     string
		expected bool
	}{
		{"/dev/ttyACM0", true},
		{"/dev/cu.usbmodem2101", true},
		{"/dev/ttyUSB1", true},
		{"COM3", true},
		{"/dev/ttyS0", false},
		{"/dev/cu.Bluetooth-Incoming-Port", false},
	}

	for _, tt := range tests {
		t.Run(tt.port, func(t *testing.T) {
			assert.Equal(t, tt.expected, isUSBSerial(tt.port))
		})
	}
}

func TestOpenSerialNone(t *testing.T) {
	_, err := OpenSerial(SerialPortNone, DefaultBaudRate)
	assert.Error(t, err)
}
