package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/renju-client/internal/protocol"
	"github.com/rocketscienceinc/renju-client/internal/transport"
)

const (
	DefaultQueueSize = 256

	readBufferSize = 4 << 10
)

var (
	ErrConnect          = errors.New("failed to connect")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrSend             = errors.New("failed to send")
)

type dialer interface {
	Dial(ctx context.Context, address string) (transport.Conn, error)
}

// Inbound is one entry of the queue between the receive loop and the game
// loop: either a decoded message or the end of the connection.
type Inbound struct {
	Message protocol.Message

	Disconnected bool
	Reason       string
}

// Manager owns one transport connection at a time. Connect and Close may be
// called from any goroutine; Send, Drain and Close are meant for the game
// loop. The receive loop is the only other goroutine touching the queue.
type Manager struct {
	logger *slog.Logger
	dialer dialer

	inbound chan Inbound

	mu         sync.Mutex
	conn       transport.Conn
	connecting bool
	stop       chan struct{}
	done       chan struct{}
}

func NewManager(logger *slog.Logger, dialer dialer, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	done := make(chan struct{})
	close(done)

	return &Manager{
		logger:  logger.With("component", "connection"),
		dialer:  dialer,
		inbound: make(chan Inbound, queueSize),
		done:    done,
	}
}

// Connect dials address, announces username and starts the receive loop.
// A previous connection that has already ended is cleaned up first.
func (that *Manager) Connect(ctx context.Context, address, username string) error {
	log := that.logger.With("method", "Connect", "address", address)

	if err := that.reserve(log); err != nil {
		return err
	}

	// the lock is not held while dialing so Send and Drain never wait on it
	conn, err := that.dial(ctx, address, username)

	that.mu.Lock()
	defer that.mu.Unlock()

	that.connecting = false

	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	that.conn = conn
	that.stop = make(chan struct{})
	that.done = make(chan struct{})

	go that.receive(conn, that.stop, that.done)

	log.Info("connected", "username", username)

	return nil
}

// reserve marks the manager as connecting, cleaning up an ended connection.
func (that *Manager) reserve(log *slog.Logger) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.connecting {
		return ErrAlreadyConnected
	}

	if that.conn != nil {
		select {
		case <-that.done:
			if err := that.shutdownLocked(); err != nil {
				log.Warn("failed to close ended connection", "error", err)
			}
		default:
			return ErrAlreadyConnected
		}
	}

	that.connecting = true

	return nil
}

func (that *Manager) dial(ctx context.Context, address, username string) (transport.Conn, error) {
	conn, err := that.dialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	if err = write(conn, protocol.Connect{Username: username}); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			that.logger.Warn("failed to close connection", "error", closeErr)
		}
		return nil, err
	}

	return conn, nil
}

// Send encodes msg and writes it on the caller's goroutine.
func (that *Manager) Send(msg protocol.Message) error {
	that.mu.Lock()
	conn := that.conn
	that.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := write(conn, msg); err != nil {
		return fmt.Errorf("%w %s: %w", ErrSend, msg.Tag(), err)
	}

	return nil
}

func write(conn io.Writer, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if _, err = conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// Drain removes everything currently queued without waiting for more.
func (that *Manager) Drain() []Inbound {
	var drained []Inbound

	for {
		select {
		case item := <-that.inbound:
			drained = append(drained, item)
		default:
			return drained
		}
	}
}

// Done is closed once the current receive loop has exited.
func (that *Manager) Done() <-chan struct{} {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.done
}

// Connected reports whether a connection is open and its loop still runs.
func (that *Manager) Connected() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.conn == nil {
		return false
	}

	select {
	case <-that.done:
		return false
	default:
		return true
	}
}

// Close stops the receive loop, closes the transport and waits for the loop
// to exit. Closing an idle manager is a no-op.
func (that *Manager) Close() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.shutdownLocked()
}

func (that *Manager) shutdownLocked() error {
	if that.conn == nil {
		return nil
	}

	close(that.stop)
	err := that.conn.Close()
	<-that.done

	that.conn = nil

	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	return nil
}

// receive owns the read side of conn until it fails or stop is closed.
func (that *Manager) receive(conn transport.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	log := that.logger.With("method", "receive")
	decoder := protocol.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])

			if reason, ok := that.dispatch(log, decoder, stop); !ok {
				that.disconnect(log, reason, stop)
				return
			}
		}

		if err != nil {
			reason := "connection closed by peer"
			if !errors.Is(err, io.EOF) {
				reason = err.Error()
			}

			that.disconnect(log, reason, stop)
			return
		}

		if n == 0 {
			that.disconnect(log, "connection closed by peer", stop)
			return
		}
	}
}

// dispatch queues every complete message in the decoder. It returns false with
// a reason when the stream can no longer be framed or the loop must stop.
func (that *Manager) dispatch(log *slog.Logger, decoder *protocol.Decoder, stop <-chan struct{}) (string, bool) {
	for {
		msg, err := decoder.Next()

		var frameErr *protocol.FrameError
		switch {
		case errors.Is(err, protocol.ErrIncomplete):
			return "", true
		case errors.As(err, &frameErr):
			log.Warn("discarding malformed message", "error", err)
			continue
		case err != nil:
			log.Error("failed to read frame", "error", err)
			return err.Error(), false
		}

		select {
		case that.inbound <- Inbound{Message: msg}:
		case <-stop:
			return "connection closed", false
		}
	}
}

// disconnect queues the single Disconnected notification of a connection,
// unless the manager is being closed locally.
func (that *Manager) disconnect(log *slog.Logger, reason string, stop <-chan struct{}) {
	select {
	case <-stop:
		log.Debug("receive loop stopped")
		return
	default:
	}

	log.Info("connection lost", "reason", reason)

	select {
	case that.inbound <- Inbound{Disconnected: true, Reason: reason}:
	case <-stop:
	}
}
