package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/calvinmclean/maestro"
	"github.com/calvinmclean/maestro/config"
	"github.com/calvinmclean/maestro/internal/wait"
	"github.com/calvinmclean/maestro/protocol"
)

// Controller drives a Maestro servo controller. It owns the ControllerConfig and the transport: every public
// method holds a lock for its full duration, including the waits of blocking moves, so frames from concurrent
// callers never interleave and every config read-modify-write is atomic
type Controller struct {
	mu sync.Mutex

	settings Config
	cfg      *config.ControllerConfig
	codec    *protocol.Codec

	open   OpenFunc
	clock  clock.Clock
	logger *zap.SugaredLogger
}

// New creates a disconnected Controller using the default ControllerConfig until Connect loads the store
func New(settings Config, logger *zap.SugaredLogger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	codec, err := protocol.NewCodec(settings.Device, logger.Named("protocol"))
	if err != nil {
		return nil, err
	}

	c := &Controller{
		settings: settings,
		codec:    codec,
		open:     OpenSerial,
		clock:    clock.New(),
		logger:   logger,
	}
	c.setConfig(config.Default())

	return c, nil
}

// NewFromEnv creates a Controller with settings from ConfigFromEnv
func NewFromEnv(logger *zap.SugaredLogger) (*Controller, error) {
	settings, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(settings, logger)
}

// WithOpenFunc replaces the function used by Connect to open the transport
func (c *Controller) WithOpenFunc(open OpenFunc) *Controller {
	c.open = open
	return c
}

// WithClock replaces the clock used for waits and response polling
func (c *Controller) WithClock(clk clock.Clock) *Controller {
	c.clock = clk
	c.codec.WithClock(clk)
	return c
}

// Connect loads the ControllerConfig, opens the transport, reads the current positions into last_position, and
// re-applies the configured speeds. A config that cannot be loaded is replaced by defaults with a warning. Any other
// failure leaves the Controller in the Error state with the cause available from Err. There is no retry
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Infow("connecting", "port", c.settings.SerialPort, "device", c.settings.Device)

	err := c.codec.Detach()
	if err != nil {
		c.logger.Warnw("error closing previous transport", "error", err)
	}
	c.codec.SetState(maestro.StateConnecting, nil)

	cfg, err := config.Load(c.settings.ConfigFile)
	if err != nil {
		c.logger.Warnw("using default config", "file", c.settings.ConfigFile, "error", err)
	}
	c.setConfig(cfg)

	if err := ctx.Err(); err != nil {
		return c.fail(err)
	}

	port := c.settings.SerialPort
	if port == "" {
		port, err = DefaultSerialPort()
		if err != nil {
			return c.fail(fmt.Errorf("%w: %w", maestro.ErrConnection, err))
		}
	}

	transport, err := c.open(port, c.settings.BaudRate)
	if err != nil {
		return c.fail(fmt.Errorf("%w: %w", maestro.ErrConnection, err))
	}
	c.codec.Attach(transport)

	positions, err := c.codec.GetAllPositions(c.cfg.NumOfChannels)
	if errors.Is(err, maestro.ErrConnection) {
		return c.fail(err)
	}
	if err != nil {
		c.logger.Warnw("some positions are unavailable", "error", err)
	}
	for ch, pos := range positions {
		if pos != protocol.Unavailable {
			c.cfg.LastPosition[ch] = pos
		}
	}

	if err := ctx.Err(); err != nil {
		return c.fail(err)
	}

	for ch, speed := range c.cfg.Speed {
		err = c.setSpeed(ch, speed)
		if err != nil {
			return c.fail(err)
		}
	}

	c.codec.SetState(maestro.StateConnected, nil)
	c.logger.Infow("connection established", "port", port, "positions", positions)

	return nil
}

// fail closes any open transport and moves to the Error state
func (c *Controller) fail(err error) error {
	c.logger.Errorw("cannot connect to the controller", "error", err)
	_ = c.codec.Detach()
	c.codec.SetState(maestro.StateError, err)
	return err
}

// Close saves the config to the save file (when one is configured) and closes the transport
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs error
	if c.settings.SaveConfigFile != "" {
		c.logger.Infow("saving current config", "file", c.settings.SaveConfigFile)
		errs = multierr.Append(errs, config.Save(c.cfg, c.settings.SaveConfigFile))
	}
	errs = multierr.Append(errs, c.codec.Detach())

	if errs != nil {
		c.logger.Errorw("error closing controller", "error", errs)
	}
	return errs
}

// State returns the connection state
func (c *Controller) State() maestro.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.State()
}

// Err returns the cause of the Error state
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.Err()
}

// Config returns a copy of the current ControllerConfig
func (c *Controller) Config() *config.ControllerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

// NumChannels returns the configured channel count
func (c *Controller) NumChannels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.NumOfChannels
}

// SaveConfig writes the config to filename, or to the save file when filename is empty
func (c *Controller) SaveConfig(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if filename == "" {
		filename = c.settings.SaveConfigFile
	}
	c.logger.Infow("saving current config", "file", filename)

	err := config.Save(c.cfg, filename)
	if err != nil {
		c.logger.Errorw("error saving config", "file", filename, "error", err)
	}
	return err
}

// LoadConfig replaces the config with the contents of filename, or of the config file when filename is empty. When
// the file cannot be used the default config is applied and the error is returned as a warning
func (c *Controller) LoadConfig(filename string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if filename == "" {
		filename = c.settings.ConfigFile
	}

	cfg, err := config.Load(filename)
	if err != nil {
		c.logger.Warnw("using default config", "file", filename, "error", err)
	}
	c.setConfig(cfg)
	return err
}

func (c *Controller) setConfig(cfg *config.ControllerConfig) {
	c.cfg = cfg
	c.codec.SetTimeout(wait.Seconds(cfg.Timeout))
}

// SetRange sets the software limits of a channel. 0 means unrestricted
func (c *Controller) SetRange(ch, minPWM, maxPWM int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.cfg.SetRange(ch, minPWM, maxPWM)
	if errors.Is(err, maestro.ErrChannelRange) {
		c.logger.Warnw("specified channel is out of range", "channel", ch, "error", err)
	}
	return err
}

// SetTarget moves one channel without any speed matching
func (c *Controller) SetTarget(ch int, t maestro.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pwm, err := c.cfg.PulseWidth(ch, t)
	if err != nil {
		return err
	}
	return c.setTarget(ch, pwm)
}

// SetSpeed sets a channel's speed limit in (0.25us)/(10ms). 0 is unlimited
func (c *Controller) SetSpeed(ch, speed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setSpeed(ch, speed)
}

// SetSpeeds sets the speed of every channel
func (c *Controller) SetSpeeds(speeds []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setSpeeds(speeds)
}

// SetAccel sets a channel's acceleration limit, clamped to [0, 255]
func (c *Controller) SetAccel(ch, accel int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setAccel(ch, accel)
}

// GetPosition returns the position of one channel, or protocol.Unavailable with an error
func (c *Controller) GetPosition(ch int) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkChannel(ch); err != nil {
		return protocol.Unavailable, err
	}
	return c.codec.GetPosition(ch)
}

// GetAllPositions returns the position of every channel. Failed channels are protocol.Unavailable
func (c *Controller) GetAllPositions() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.GetAllPositions(c.cfg.NumOfChannels)
}

// RunScriptSub starts a subroutine of the script stored on the device
func (c *Controller) RunScriptSub(sub int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.RunScriptSub(sub)
}

// StopScript stops the script running on the device
func (c *Controller) StopScript() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec.StopScript()
}

// setTarget clamps the target, records it as the channel's target_position, and sends it in quarter-microseconds
func (c *Controller) setTarget(ch int, pwm float64) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}

	clamped := c.cfg.Clamp(ch, pwm)
	quarter := int(math.Round(clamped * 4))
	if quarter < 0 || quarter > protocol.MaxValue {
		return fmt.Errorf("%w: channel %d target %v cannot be encoded", maestro.ErrPrecondition, ch, clamped)
	}

	c.cfg.TargetPosition[ch] = clamped
	return c.codec.SetTarget(ch, quarter)
}

func (c *Controller) setSpeed(ch, speed int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}

	speed = min(max(speed, 0), protocol.MaxValue)
	c.cfg.Speed[ch] = speed
	return c.codec.SetSpeed(ch, speed)
}

func (c *Controller) setSpeeds(speeds []int) error {
	if len(speeds) != c.cfg.NumOfChannels {
		return fmt.Errorf("%w: speed vector has %d entries, expected %d", maestro.ErrPrecondition, len(speeds), c.cfg.NumOfChannels)
	}

	for ch, speed := range speeds {
		err := c.setSpeed(ch, speed)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) setAccel(ch, accel int) error {
	if err := c.checkChannel(ch); err != nil {
		return err
	}

	accel = min(max(accel, 0), config.MaxAccel)
	c.cfg.Accel[ch] = accel
	return c.codec.SetAccel(ch, accel)
}

func (c *Controller) checkChannel(ch int) error {
	if ch < 0 || ch >= c.cfg.NumOfChannels {
		return fmt.Errorf("%w: channel %d, have %d channels", maestro.ErrPrecondition, ch, c.cfg.NumOfChannels)
	}
	return nil
}
