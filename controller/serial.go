package controller

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/calvinmclean/maestro/protocol"
)

// SerialPortNone can be configured to run without a device. Every operation that needs the transport reports
// maestro.ErrTransportUnavailable
const SerialPortNone = "None"

// readTimeout bounds each Read so response polling can check its own deadline
const readTimeout = 10 * time.Millisecond

// ErrNoUSBSerial is returned when no USB serial device is attached
var ErrNoUSBSerial = errors.New("no USB serial ports found")

var acmNumber = regexp.MustCompile(`ACM(\d+)$`)

// OpenFunc opens the transport for a serial port path
type OpenFunc func(port string, baudRate int) (protocol.Transport, error)

// OpenSerial opens a serial port in 8N1 mode. It's a variable so it can be replaced in tests
var OpenSerial OpenFunc = func(port string, baudRate int) (protocol.Transport, error) {
	if port == SerialPortNone {
		return nil, errors.New("serial port is disabled")
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %q: %w", port, err)
	}

	err = p.SetReadTimeout(readTimeout)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("error setting read timeout: %w", err)
	}

	return p, nil
}

// GetSerialPorts lists the attached USB serial ports. A Maestro shows up as two ACM ports: the lower one is the
// command port
func GetSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("error listing serial ports: %w", err)
	}

	ports = slices.DeleteFunc(ports, func(p string) bool {
		return !isUSBSerial(p)
	})
	if len(ports) == 0 {
		return nil, ErrNoUSBSerial
	}

	slices.SortFunc(ports, compareACM)
	return ports, nil
}

// DefaultSerialPort returns the first port from GetSerialPorts
func DefaultSerialPort() (string, error) {
	ports, err := GetSerialPorts()
	if err != nil {
		return "", err
	}
	return ports[0], nil
}

func isUSBSerial(p string) bool {
	return strings.Contains(p, "ttyACM") ||
		strings.Contains(p, "usbmodem") ||
		strings.Contains(p, "ttyUSB") ||
		strings.HasPrefix(p, "COM")
}

// compareACM orders ACM ports by number so /dev/ttyACM2 comes before /dev/ttyACM10
func compareACM(a, b string) int {
	na, okA := acmIndex(a)
	nb, okB := acmIndex(b)
	switch {
	case okA && okB:
		return na - nb
	case okA:
		return -1
	case okB:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func acmIndex(p string) (int, bool) {
	m := acmNumber.FindStringSubmatch(p)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}
