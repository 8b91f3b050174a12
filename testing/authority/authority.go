// Package authority is a loopback game authority for end-to-end tests. It
// accepts raw TCP and WebSocket clients, seats the first two usernames and
// referees one shared game.
package authority

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/renju-client/internal/entity"
	"github.com/rocketscienceinc/renju-client/internal/protocol"
	"github.com/rocketscienceinc/renju-client/internal/renju"
	wsconn "github.com/rocketscienceinc/renju-client/internal/transport/websocket"
)

const readBufferSize = 4 << 10

const (
	ReasonRoomFull      = "room is full"
	ReasonUnknownPlayer = "unknown player"
)

var (
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrClosed            = errors.New("authority is closed")
)

type client struct {
	conn     io.ReadWriteCloser
	username string

	writeMu sync.Mutex
}

func (that *client) send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Tag(), err)
	}

	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if _, err = that.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Tag(), err)
	}

	return nil
}

type Authority struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handlers map[protocol.Tag]func(c *client, msg protocol.Message) error

	// turnMu keeps every client seeing applied moves in the same order.
	turnMu sync.Mutex

	mu        sync.Mutex
	listeners []net.Listener
	clients   map[*client]struct{}
	players   map[string]entity.Player
	machine   *renju.GameController
	closed    bool

	// wg.Add runs under mu and only while the authority is open.
	wg sync.WaitGroup
}

func New(logger *slog.Logger) *Authority {
	authority := &Authority{
		logger:   logger.With("component", "authority"),
		clients:  make(map[*client]struct{}),
		players:  make(map[string]entity.Player),
		machine:  renju.NewGameController(entity.NewGame(true)),
		handlers: make(map[protocol.Tag]func(*client, protocol.Message) error),
	}

	authority.handlers[protocol.TagConnect] = authority.handleConnect
	authority.handlers[protocol.TagMove] = authority.handleMove
	authority.handlers[protocol.TagReset] = authority.handleReset

	return authority
}

// ListenTCP serves raw TCP clients on address and returns the bound address.
func (that *Authority) ListenTCP(address string) (string, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		_ = listener.Close()
		return "", ErrClosed
	}
	that.listeners = append(that.listeners, listener)
	that.wg.Add(1)
	that.mu.Unlock()

	go func() {
		defer that.wg.Done()
		that.accept(listener)
	}()

	return listener.Addr().String(), nil
}

func (that *Authority) accept(listener net.Listener) {
	log := that.logger.With("method", "accept")

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Debug("listener stopped", "error", err)
			return
		}

		that.serve(conn)
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it.
func (that *Authority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		that.logger.Error("failed to upgrade connection", "method", "ServeHTTP", "error", err)
		return
	}

	that.serve(wsconn.NewConn(conn))
}

func (that *Authority) serve(conn io.ReadWriteCloser) {
	c := &client{conn: conn}

	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		_ = conn.Close()
		return
	}
	that.clients[c] = struct{}{}
	that.wg.Add(1)
	that.mu.Unlock()

	go func() {
		defer that.wg.Done()
		defer that.forget(c)

		if err := that.handleMessages(c); err != nil {
			that.logger.Debug("client gone", "method", "serve", "error", err)
		}
	}()
}

// handleMessages reads frames from c until the connection ends.
func (that *Authority) handleMessages(c *client) error {
	log := that.logger.With("method", "handleMessages")

	decoder := protocol.NewDecoder()
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])

			if err := that.drain(log, c, decoder); err != nil {
				return err
			}
		}

		if err != nil {
			return err
		}
	}
}

func (that *Authority) drain(log *slog.Logger, c *client, decoder *protocol.Decoder) error {
	for {
		msg, err := decoder.Next()

		var frameErr *protocol.FrameError
		switch {
		case errors.Is(err, protocol.ErrIncomplete):
			return nil
		case errors.As(err, &frameErr):
			log.Warn("discarding malformed message", "error", err)
			continue
		case err != nil:
			return err
		}

		if err = that.processMessage(c, msg); err != nil {
			log.Error("error processing message", "error", err)
		}
	}
}

func (that *Authority) processMessage(c *client, msg protocol.Message) error {
	if handler, ok := that.handlers[msg.Tag()]; ok {
		return handler(c, msg)
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Tag())
}

func (that *Authority) handleConnect(c *client, msg protocol.Message) error {
	username := msg.(protocol.Connect).Username

	that.mu.Lock()
	_, seated := that.players[username]
	if !seated && len(that.players) < 2 {
		that.players[username] = entity.Player(len(that.players) + 1)
		seated = true
	}
	if seated {
		c.username = username
	}
	that.mu.Unlock()

	if !seated {
		that.logger.Info("rejecting player", "username", username)
		return c.send(protocol.Rejected{Reason: ReasonRoomFull})
	}

	that.logger.Info("player connected", "username", username)

	return c.send(protocol.Accepted{})
}

func (that *Authority) handleMove(c *client, msg protocol.Message) error {
	move := msg.(protocol.Move)

	that.turnMu.Lock()
	defer that.turnMu.Unlock()

	that.mu.Lock()
	player, ok := that.players[move.Username]
	if !ok || move.Username != c.username {
		that.mu.Unlock()
		return c.send(protocol.Rejected{Reason: ReasonUnknownPlayer})
	}

	outcome, err := that.machine.Place(move.Index, player)
	that.mu.Unlock()

	if err != nil {
		return c.send(protocol.Rejected{Reason: err.Error()})
	}

	that.broadcast(protocol.MoveApplied{Index: move.Index, Player: player, Winner: outcome.Winner})

	return c.send(protocol.Accepted{Winner: outcome.Winner})
}

func (that *Authority) handleReset(_ *client, _ protocol.Message) error {
	that.turnMu.Lock()
	defer that.turnMu.Unlock()

	that.mu.Lock()
	that.machine.Reset()
	that.mu.Unlock()

	that.broadcast(protocol.ResetApplied{})

	return nil
}

func (that *Authority) broadcast(msg protocol.Message) {
	that.mu.Lock()
	clients := make([]*client, 0, len(that.clients))
	for c := range that.clients {
		if c.username != "" {
			clients = append(clients, c)
		}
	}
	that.mu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			that.logger.Warn("failed to broadcast", "tag", msg.Tag(), "error", err)
		}
	}
}

func (that *Authority) forget(c *client) {
	that.mu.Lock()
	delete(that.clients, c)
	that.mu.Unlock()

	_ = c.conn.Close()
}

// Board returns the authority's copy of the board.
func (that *Authority) Board() entity.Board {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.machine.Board()
}

// DropClients closes every client connection but keeps listening.
func (that *Authority) DropClients() {
	that.mu.Lock()
	clients := make([]*client, 0, len(that.clients))
	for c := range that.clients {
		clients = append(clients, c)
	}
	that.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// Close stops listening, drops every client and waits for their loops.
func (that *Authority) Close() {
	that.mu.Lock()
	that.closed = true
	listeners := that.listeners
	that.listeners = nil
	that.mu.Unlock()

	for _, listener := range listeners {
		_ = listener.Close()
	}

	that.DropClients()
	that.wg.Wait()
}
