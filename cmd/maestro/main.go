package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/calvinmclean/maestro/api"
	"github.com/calvinmclean/maestro/commands"
	"github.com/calvinmclean/maestro/controller"
)

func main() {
	var serialPort, apiAddr, sequenceDB string
	var debug bool
	flag.StringVar(&serialPort, "port", os.Getenv("SERIAL_PORT"), "Serial port of the controller. Default is the first USB ACM port")
	flag.StringVar(&apiAddr, "api", os.Getenv("API_ADDR"), "Serve the HTTP API on this address instead of reading commands from stdin")
	flag.StringVar(&sequenceDB, "db", os.Getenv("SEQUENCE_DB"), "File that stores sequences created with the API. Default is in-memory")
	flag.BoolVar(&debug, "debug", os.Getenv("DEBUG") == "true", "Log every frame")
	flag.Parse()

	logger := newLogger(debug)
	defer logger.Sync()

	settings, err := controller.ConfigFromEnv()
	if err != nil {
		logger.Fatalw("invalid settings", "error", err)
	}
	settings.SerialPort = serialPort

	c, err := controller.New(settings, logger.Named("controller"))
	if err != nil {
		logger.Fatalw("error creating controller", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, c, options{apiAddr: apiAddr, sequenceDB: sequenceDB, in: os.Stdin, out: os.Stdout}, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorw("stopped with error", "error", err)
	}
}

type options struct {
	apiAddr    string
	sequenceDB string
	in         io.Reader
	out        io.Writer
}

// run connects and serves one front end until ctx is done or the input ends. A controller that failed to connect
// stays inert: every command reports that the transport is unavailable
func run(ctx context.Context, c *controller.Controller, opts options, logger *zap.SugaredLogger) error {
	err := c.Connect(ctx)
	if err != nil {
		logger.Errorw("error connecting, commands will fail until the controller is reachable", "error", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Errorw("error closing controller", "error", err)
		}
	}()

	if opts.apiAddr != "" {
		return runAPI(ctx, c, opts.apiAddr, opts.sequenceDB, logger)
	}
	return runCLI(ctx, c, opts.in, opts.out, logger)
}

func runCLI(ctx context.Context, c *controller.Controller, in io.Reader, out io.Writer, logger *zap.SugaredLogger) error {
	exec := commands.NewExecutor(c, logger.Named("commands"))
	go exec.Run(ctx)

	// Serve blocks reading input, so a signal has to end the command loop from here
	done := make(chan error, 1)
	go func() {
		done <- exec.Serve(ctx, in, out)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runAPI(ctx context.Context, c *controller.Controller, addr, dbFile string, logger *zap.SugaredLogger) error {
	a, err := api.New(c, dbFile, logger.Named("api"))
	if err != nil {
		return err
	}
	go a.Run(ctx)

	router, err := a.Router()
	if err != nil {
		return err
	}

	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Errorw("error shutting down server", "error", err)
		}
	}()

	logger.Infow("serving API", "addr", addr)
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newLogger(debug bool) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	// stdout is the command output
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}
