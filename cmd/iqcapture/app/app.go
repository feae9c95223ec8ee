package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roman-kulish/iq-capture/internal/control"
	"github.com/roman-kulish/iq-capture/internal/intake"
	"github.com/roman-kulish/iq-capture/internal/metrics"
	"github.com/roman-kulish/iq-capture/internal/pipeline"
	"github.com/roman-kulish/iq-capture/internal/writer"
)

const prompt = "Enter command > "

// Run starts the capture pipeline and serves the operator console on stdin until the
// operator quits or ctx is cancelled
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	return run(ctx, config, logger, os.Stdin, os.Stdout)
}

func run(ctx context.Context, config *Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	dataDir, err := createDataDirectory(&config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	m := metrics.New()
	if config.Metrics.Address != "" {
		go func() {
			if err := metrics.NewServer(config.Metrics.Address, m, logger).Run(ctx); err != nil {
				logger.Error(err.Error())
			}
		}()
	}

	w := writer.New(
		writer.WithLogger(logger),
		writer.WithMetrics(m),
		writer.WithTopics(config.Topics),
		writer.WithNamer(writer.DefaultNamer(dataDir, config.Storage.FilePrefix)),
		writer.WithFlushFrames(config.Storage.FlushFrames),
	)

	p := pipeline.New(pipeline.Config{
		RXEndpoint:      config.Endpoints.RX,
		TXEndpoint:      config.Endpoints.TX,
		ControlEndpoint: config.Endpoints.Control,
		Topics:          config.Topics,
		PollInterval:    config.Timeouts.Poll.Std(),
		ForwardTimeout:  config.Timeouts.Forward.Std(),
		ControlTimeout:  config.Timeouts.Control.Std(),
		JoinTimeout:     config.Timeouts.Join.Std(),
	}, pipeline.WithLogger(logger), pipeline.WithMetrics(m), pipeline.WithWriter(w))

	if err = p.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	stopListener := startListener(ctx, config.Endpoints.Intake, p.Intake(), logger)

	logger.Info("capture pipeline started",
		slog.String("rx", config.Endpoints.RX),
		slog.String("tx", config.Endpoints.TX),
		slog.String("control", config.Endpoints.Control),
		slog.String("dataDirectory", dataDir))

	if sleep(ctx, config.Timeouts.Settle.Std()) {
		console(ctx, p, logger, in, out)
	}

	logger.Info("shutting down")
	stopListener()

	if err = p.Shutdown(); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	stats := w.Stats()
	logger.Info("capture finished",
		slog.Uint64("sessions", stats.Sessions),
		slog.Uint64("rx", stats.RX),
		slog.Uint64("tx", stats.TX),
		slog.Uint64("rows", stats.Rows))

	return nil
}

// console reads commands until the operator quits, the input ends or ctx is done
func console(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger, in io.Reader, out io.Writer) {
	lines := make(chan string)

	// the reader cannot be interrupted, it is abandoned on exit
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	PrintMenu(out)

	for {
		fmt.Fprint(out, prompt)

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return
		case line, ok = <-lines:
			if !ok {
				return
			}
		}

		action, err := ParseCommand(line)
		if err != nil {
			fmt.Fprintln(out, "Invalid command. Please use the format shown in the menu.")
			continue
		}
		if action.Quit {
			fmt.Fprintln(out, "Quitting...")
			return
		}

		dispatch(ctx, p, action, logger)
	}
}

func dispatch(ctx context.Context, p *pipeline.Pipeline, action Action, logger *slog.Logger) {
	var reply string
	var err error
	if action.NewSession {
		reply, err = p.StartCapture(ctx, action.Command)
	} else {
		reply, err = p.Command(ctx, action.Command)
	}

	switch {
	case errors.Is(err, control.ErrTimeout):
		logger.Error("no reply received from base station, is it running?", slog.String("command", action.Command.String()))
	case err != nil:
		logger.Error(fmt.Sprintf("sending command: %s", err.Error()), slog.String("command", action.Command.String()))
	default:
		logger.Info("command acknowledged", slog.String("command", action.Command.String()), slog.String("reply", reply))
	}
}

// startListener binds the intake on endpoint when one is configured. The returned
// function stops the listener and waits for it.
func startListener(ctx context.Context, endpoint string, out *intake.Channel, logger *slog.Logger) func() {
	if endpoint == "" {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		l := intake.NewListener(endpoint, out, intake.WithListenerLogger(logger))
		if err := l.Run(ctx); err != nil {
			logger.Error(err.Error())
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func createDataDirectory(config *StorageConfig) (string, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = defaultDataDirectory
	}

	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating storage directory '%s': %w", dir, err)
		}
	case err != nil:
		return "", fmt.Errorf("checking storage directory '%s': %w", dir, err)
	case !stat.IsDir():
		return "", fmt.Errorf("invalid storage directory '%s'", dir)
	}

	return dir, nil
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
