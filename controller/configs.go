package controller

import (
	"fmt"
	"os"
	"strconv"

	"github.com/calvinmclean/maestro"
)

const (
	// DefaultBaudRate is the rate the Maestro's command port is used at
	DefaultBaudRate = 115200
	// DefaultConfigFile is read when connecting
	DefaultConfigFile = "maestro.json"
	// DefaultSaveConfigFile is written when the Controller is closed
	DefaultSaveConfigFile = "last_maestro_config.json"
)

// Config has the process-level settings for reaching a device. Per-channel settings live in config.ControllerConfig
type Config struct {
	// SerialPort is the device path. When empty, the lowest numbered USB ACM port is used
	SerialPort string
	BaudRate   int
	// Device is the Pololu device number the frames are addressed to
	Device byte

	ConfigFile     string
	SaveConfigFile string
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		BaudRate:       DefaultBaudRate,
		Device:         maestro.DefaultDevice,
		ConfigFile:     DefaultConfigFile,
		SaveConfigFile: DefaultSaveConfigFile,
	}
}

// ConfigFromEnv reads settings from SERIAL_PORT, BAUD_RATE, DEVICE_NUMBER, CONFIG_FILE, and SAVE_CONFIG_FILE.
// Unset variables keep their defaults
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.SerialPort = os.Getenv("SERIAL_PORT")

	if v := os.Getenv("BAUD_RATE"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return Config{}, fmt.Errorf("invalid BAUD_RATE %q", v)
		}
		cfg.BaudRate = baud
	}

	if v := os.Getenv("DEVICE_NUMBER"); v != "" {
		device, err := strconv.ParseUint(v, 0, 7)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEVICE_NUMBER %q: %w", v, err)
		}
		cfg.Device = byte(device)
	}

	if v := os.Getenv("CONFIG_FILE"); v != "" {
		cfg.ConfigFile = v
	}
	if v, ok := os.LookupEnv("SAVE_CONFIG_FILE"); ok {
		cfg.SaveConfigFile = v
	}

	return cfg, nil
}
