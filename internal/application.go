package application

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketscienceinc/renju-client/internal/config"
	"github.com/rocketscienceinc/renju-client/internal/connection"
	"github.com/rocketscienceinc/renju-client/internal/console"
	"github.com/rocketscienceinc/renju-client/internal/session"
	"github.com/rocketscienceinc/renju-client/internal/transport"
)

const defaultFrameInterval = 50 * time.Millisecond

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	renderer := console.NewRenderer(os.Stdout, conf.Theme.Dark)

	return run(ctx, logger, conf, os.Stdin, renderer, renderer.Clear)
}

// run drives the frame loop until ctx ends, input runs out or the user quits.
func run(
	ctx context.Context,
	logger *slog.Logger,
	conf *config.Config,
	in io.Reader,
	renderer *console.Renderer,
	clearScreen func(),
) error {
	log := logger.With("component", "app")

	dialer := transport.NewDialer(logger, conf.DialTimeout)
	manager := connection.NewManager(logger, dialer, conf.InboundQueueSize)
	controller := session.NewController(logger, conf, manager)

	defer func() {
		if err := controller.Close(); err != nil {
			log.Error("could not close session", "error", err)
		}
	}()

	log.Info("Session started", "session_id", controller.ID(), "offline", conf.Offline)

	var messages []string

	if !conf.Offline && conf.Address != "" {
		if err := controller.SubmitConnect(conf.Address, conf.Username); err != nil {
			messages = append(messages, err.Error())
		}
	}

	lines := readLines(ctx, in)

	interval := conf.FrameInterval
	if interval <= 0 {
		interval = defaultFrameInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dirty := true

	for {
		select {
		case <-ctx.Done():
			log.Info("Application context canceled, shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				log.Info("Input closed, shutting down")
				return nil
			}

			quit, message := handleLine(controller, line)
			if quit {
				return nil
			}
			if message != "" {
				messages = append(messages, message)
			}
			dirty = true
		case <-ticker.C:
			for _, event := range controller.Poll() {
				messages = append(messages, event.String())
				dirty = true
			}

			if !dirty {
				continue
			}

			if clearScreen != nil {
				clearScreen()
			}

			if err := renderer.Render(snapshot(controller, messages)); err != nil {
				return fmt.Errorf("render failed: %w", err)
			}

			messages = nil
			dirty = false
		}
	}
}

// handleLine applies one line of input. It returns true when the user asked
// to quit, and a message to show otherwise.
func handleLine(controller *session.Controller, line string) (bool, string) {
	command, err := console.ParseCommand(line)
	if errors.Is(err, console.ErrEmptyCommand) {
		return false, ""
	}
	if err != nil {
		return false, fmt.Sprintf("%v\n%s", err, console.Help)
	}

	switch command.Kind {
	case console.CommandMove:
		err = controller.SubmitMove(command.Index)
	case console.CommandReset:
		err = controller.SubmitReset()
	case console.CommandConnect:
		err = controller.SubmitConnect(command.Address, command.Username)
	case console.CommandQuit:
		return true, ""
	}

	if err != nil {
		return false, err.Error()
	}

	return false, ""
}

func snapshot(controller *session.Controller, messages []string) console.Snapshot {
	return console.Snapshot{
		Board:      controller.BoardSnapshot(),
		Status:     controller.Status(),
		Connection: controller.ConnectionState(),
		Offline:    controller.Offline(),
		Messages:   messages,
	}
}

// readLines forwards input lines until the reader is exhausted or ctx ends.
// A goroutine blocked on a terminal read ends with the process.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)

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

	return lines
}
