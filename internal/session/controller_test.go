package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/renju-client/internal/apperror"
	"github.com/rocketscienceinc/renju-client/internal/config"
	"github.com/rocketscienceinc/renju-client/internal/connection"
	"github.com/rocketscienceinc/renju-client/internal/entity"
	"github.com/rocketscienceinc/renju-client/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

var errRefused = errors.New("connection refused")

// fakeConnector records what the controller sends and replays queued
// inbound items on Drain.
type fakeConnector struct {
	mu sync.Mutex

	connectErrs []error
	connects    []string
	block       bool

	sendErr error
	sent    []protocol.Message
	inbound []connection.Inbound
	closed  int
}

func (that *fakeConnector) Connect(ctx context.Context, address, username string) error {
	that.mu.Lock()
	that.connects = append(that.connects, address+"/"+username)
	block := that.block
	var err error
	if len(that.connectErrs) > 0 {
		err, that.connectErrs = that.connectErrs[0], that.connectErrs[1:]
	}
	that.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	return err
}

func (that *fakeConnector) Send(msg protocol.Message) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.sendErr != nil {
		return that.sendErr
	}
	that.sent = append(that.sent, msg)

	return nil
}

func (that *fakeConnector) Drain() []connection.Inbound {
	that.mu.Lock()
	defer that.mu.Unlock()

	items := that.inbound
	that.inbound = nil

	return items
}

func (that *fakeConnector) Close() error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closed++

	return nil
}

func (that *fakeConnector) push(msgs ...protocol.Message) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for _, msg := range msgs {
		that.inbound = append(that.inbound, connection.Inbound{Message: msg})
	}
}

func (that *fakeConnector) drop(reason string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.inbound = append(that.inbound, connection.Inbound{Disconnected: true, Reason: reason})
}

func (that *fakeConnector) connectCount() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.connects)
}

func newTestController(conf *config.Config, conn connector) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(logger, conf, conn)
}

func kinds(events []Event) []EventKind {
	result := make([]EventKind, 0, len(events))
	for _, event := range events {
		result = append(result, event.Kind)
	}
	return result
}

// pollUntil polls until an event of kind shows up and returns everything seen.
func pollUntil(t *testing.T, controller *Controller, kind EventKind) []Event {
	t.Helper()

	var seen []Event
	require.Eventually(t, func() bool {
		seen = append(seen, controller.Poll()...)
		for _, event := range seen {
			if event.Kind == kind {
				return true
			}
		}
		return false
	}, waitTimeout, time.Millisecond)

	return seen
}

// connected returns a networked controller that completed the handshake.
func connected(t *testing.T, conf *config.Config) (*Controller, *fakeConnector) {
	t.Helper()

	conn := &fakeConnector{}
	controller := newTestController(conf, conn)
	t.Cleanup(func() { controller.Close() })

	require.NoError(t, controller.SubmitConnect("localhost:7000", "alice"))
	pollUntil(t, controller, EventConnected)

	conn.push(protocol.Accepted{})
	require.Equal(t, []EventKind{EventAccepted}, kinds(controller.Poll()))
	require.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())

	return controller, conn
}

func TestController_Offline(t *testing.T) {
	t.Run("Starts in progress and plays locally", func(t *testing.T) {
		// Given: an offline session
		controller := newTestController(&config.Config{Offline: true}, &fakeConnector{})
		require.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())

		// When: both players move
		require.NoError(t, controller.SubmitMove(112))
		require.NoError(t, controller.SubmitMove(0))

		// Then: the next poll reports both moves in order
		assert.Equal(t, []Event{
			{Kind: EventMoveApplied, Index: 112, Player: entity.PlayerOne},
			{Kind: EventMoveApplied, Index: 0, Player: entity.PlayerTwo},
		}, controller.Poll())
		assert.Empty(t, controller.Poll())

		board := controller.BoardSnapshot()
		assert.Equal(t, entity.PlayerOne, board[112])
		assert.Equal(t, entity.PlayerTwo, board[0])
		assert.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())
	})

	t.Run("Rejected move changes nothing", func(t *testing.T) {
		controller := newTestController(&config.Config{Offline: true}, &fakeConnector{})
		require.NoError(t, controller.SubmitMove(7))
		controller.Poll()

		err := controller.SubmitMove(7)

		assert.ErrorIs(t, err, apperror.ErrCellOccupied)
		assert.Empty(t, controller.Poll())
		assert.Equal(t, entity.InProgress(entity.PlayerTwo), controller.Status())
	})

	t.Run("Five in a row declares the winner", func(t *testing.T) {
		controller := newTestController(&config.Config{Offline: true}, &fakeConnector{})

		for i, index := range []int{0, 112, 15, 114, 30, 116, 45, 118} {
			require.NoError(t, controller.SubmitMove(index), "move %d", i)
		}
		controller.Poll()

		require.NoError(t, controller.SubmitMove(60))

		assert.Equal(t, []Event{
			{Kind: EventMoveApplied, Index: 60, Player: entity.PlayerOne},
			{Kind: EventWinnerDeclared, Player: entity.PlayerOne},
		}, controller.Poll())
		assert.Equal(t, entity.Finished(entity.PlayerOne), controller.Status())
		assert.ErrorIs(t, controller.SubmitMove(61), apperror.ErrGameFinished)
	})

	t.Run("Reset clears the board", func(t *testing.T) {
		controller := newTestController(&config.Config{Offline: true}, &fakeConnector{})
		require.NoError(t, controller.SubmitMove(3))

		require.NoError(t, controller.SubmitReset())

		assert.Equal(t, []EventKind{EventMoveApplied, EventReset}, kinds(controller.Poll()))
		assert.Equal(t, entity.Board{}, controller.BoardSnapshot())
		assert.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())
	})

	t.Run("Connect is not available", func(t *testing.T) {
		conn := &fakeConnector{}
		controller := newTestController(&config.Config{Offline: true}, conn)

		err := controller.SubmitConnect("localhost:7000", "alice")

		assert.ErrorIs(t, err, ErrOffline)
		assert.Zero(t, conn.connectCount())
	})
}

func TestController_Connect(t *testing.T) {
	t.Run("Handshake starts the game", func(t *testing.T) {
		// Given: a networked session waiting for a connection
		conn := &fakeConnector{}
		controller := newTestController(&config.Config{}, conn)
		t.Cleanup(func() { controller.Close() })
		require.Equal(t, entity.WaitingForConnection(), controller.Status())
		require.ErrorIs(t, controller.SubmitMove(0), apperror.ErrGameIsNotStarted)

		// When: connecting
		require.NoError(t, controller.SubmitConnect("localhost:7000", "alice"))
		assert.Equal(t, entity.ConnectionConnecting, controller.ConnectionState().Kind)

		// Then: the connect result arrives through Poll
		pollUntil(t, controller, EventConnected)
		assert.Equal(t, entity.ConnectionState{Kind: entity.ConnectionConnected}, controller.ConnectionState())
		assert.Equal(t, []string{"localhost:7000/alice"}, conn.connects)
		assert.Equal(t, entity.WaitingForConnection(), controller.Status())

		// And: the authority's acceptance starts the game
		conn.push(protocol.Accepted{})
		assert.Equal(t, []EventKind{EventAccepted}, kinds(controller.Poll()))
		assert.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())
	})

	t.Run("Dial failure", func(t *testing.T) {
		conn := &fakeConnector{connectErrs: []error{errRefused}}
		controller := newTestController(&config.Config{}, conn)
		t.Cleanup(func() { controller.Close() })

		require.NoError(t, controller.SubmitConnect("localhost:1", "alice"))
		events := pollUntil(t, controller, EventConnectFailed)

		assert.Contains(t, events[len(events)-1].Reason, errRefused.Error())
		assert.Equal(t, entity.ConnectionFailed, controller.ConnectionState().Kind)
		assert.True(t, controller.Status().IsDisconnected())
		assert.Equal(t, 1, conn.connectCount())
	})

	t.Run("Handshake rejected", func(t *testing.T) {
		conn := &fakeConnector{}
		controller := newTestController(&config.Config{}, conn)
		t.Cleanup(func() { controller.Close() })
		require.NoError(t, controller.SubmitConnect("localhost:7000", "alice"))
		pollUntil(t, controller, EventConnected)

		conn.push(protocol.Rejected{Reason: "room is full"})

		assert.Equal(t, []Event{{Kind: EventConnectFailed, Reason: "room is full"}}, controller.Poll())
		assert.Equal(t, entity.ConnectionState{Kind: entity.ConnectionFailed, Reason: "room is full"}, controller.ConnectionState())
		assert.Equal(t, entity.Disconnected("room is full"), controller.Status())
		assert.Equal(t, 1, conn.closed)
	})

	t.Run("Invalid requests", func(t *testing.T) {
		conn := &fakeConnector{block: true}
		controller := newTestController(&config.Config{}, conn)
		t.Cleanup(func() { controller.Close() })

		assert.ErrorIs(t, controller.SubmitConnect("", "alice"), ErrMissingAddress)
		assert.ErrorIs(t, controller.SubmitConnect("localhost:7000", ""), ErrMissingUsername)

		require.NoError(t, controller.SubmitConnect("localhost:7000", "alice"))
		assert.ErrorIs(t, controller.SubmitConnect("localhost:7000", "alice"), ErrConnectInProgress)
	})

	t.Run("Close cancels a pending connect", func(t *testing.T) {
		conn := &fakeConnector{block: true}
		controller := newTestController(&config.Config{}, conn)
		require.NoError(t, controller.SubmitConnect("localhost:7000", "alice"))
		require.Eventually(t, func() bool { return conn.connectCount() == 1 }, waitTimeout, time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- controller.Close() }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Fatal("Close did not return")
		}
		assert.Equal(t, 1, conn.closed)
		assert.Equal(t, entity.ConnectionDisconnected, controller.ConnectionState().Kind)
	})
}

func TestController_Networked(t *testing.T) {
	t.Run("Submitted move is sent, not applied", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})

		require.NoError(t, controller.SubmitMove(112))

		assert.Equal(t, []protocol.Message{protocol.Move{Index: 112, Username: "alice"}}, conn.sent)
		assert.Equal(t, entity.Board{}, controller.BoardSnapshot())
	})

	t.Run("Local prechecks do not reach the wire", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})
		conn.push(protocol.MoveApplied{Index: 5, Player: entity.PlayerOne})
		controller.Poll()

		assert.ErrorIs(t, controller.SubmitMove(5), apperror.ErrCellOccupied)
		assert.ErrorIs(t, controller.SubmitMove(entity.CellsCount), apperror.ErrInvalidCell)
		assert.ErrorIs(t, controller.SubmitMove(-1), apperror.ErrInvalidCell)
		assert.Empty(t, conn.sent)
	})

	t.Run("Send failure is returned", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})
		conn.sendErr = connection.ErrNotConnected

		assert.ErrorIs(t, controller.SubmitMove(0), connection.ErrNotConnected)
		assert.ErrorIs(t, controller.SubmitReset(), connection.ErrNotConnected)
	})

	t.Run("Authority moves are applied in order", func(t *testing.T) {
		// Given: a running networked game
		controller, conn := connected(t, &config.Config{})

		// When: the authority reports the vertical line of PlayerOne
		for i, index := range []int{0, 15, 30, 45} {
			conn.push(
				protocol.MoveApplied{Index: index, Player: entity.PlayerOne},
				protocol.MoveApplied{Index: 112 + 2*i, Player: entity.PlayerTwo},
			)
		}
		conn.push(protocol.MoveApplied{Index: 60, Player: entity.PlayerOne, Winner: entity.PlayerOne})
		events := controller.Poll()

		// Then: every move is applied and the local detector agrees on the winner
		require.Len(t, events, 10)
		assert.Equal(t, Event{Kind: EventMoveApplied, Index: 60, Player: entity.PlayerOne}, events[8])
		assert.Equal(t, Event{Kind: EventWinnerDeclared, Player: entity.PlayerOne}, events[9])
		assert.Equal(t, entity.Finished(entity.PlayerOne), controller.Status())
	})

	t.Run("Move refused by local rules is a desync", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})

		conn.push(
			protocol.MoveApplied{Index: 10, Player: entity.PlayerOne},
			protocol.MoveApplied{Index: 10, Player: entity.PlayerTwo},
		)
		events := controller.Poll()

		require.Equal(t, []EventKind{EventMoveApplied, EventDesync}, kinds(events))
		assert.Contains(t, events[1].Reason, apperror.ErrCellOccupied.Error())
		assert.Equal(t, entity.PlayerOne, controller.BoardSnapshot()[10])
		assert.Equal(t, entity.InProgress(entity.PlayerTwo), controller.Status())
	})

	t.Run("Authority winner missed locally is honoured", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})

		conn.push(protocol.MoveApplied{Index: 0, Player: entity.PlayerOne, Winner: entity.PlayerOne})

		assert.Equal(t, []Event{
			{Kind: EventMoveApplied, Index: 0, Player: entity.PlayerOne},
			{Kind: EventWinnerDeclared, Player: entity.PlayerOne},
		}, controller.Poll())
		assert.Equal(t, entity.Finished(entity.PlayerOne), controller.Status())
	})

	t.Run("Accepted with a winner finishes the game", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})

		conn.push(protocol.Accepted{Winner: entity.PlayerTwo}, protocol.Accepted{})

		assert.Equal(t, []Event{
			{Kind: EventWinnerDeclared, Player: entity.PlayerTwo},
			{Kind: EventAccepted},
		}, controller.Poll())
		assert.Equal(t, entity.Finished(entity.PlayerTwo), controller.Status())
	})

	t.Run("Rejected intent only reports", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})
		conn.push(protocol.MoveApplied{Index: 0, Player: entity.PlayerOne})
		controller.Poll()

		conn.push(protocol.Rejected{Reason: "not your turn"})

		assert.Equal(t, []Event{{Kind: EventRejected, Reason: "not your turn"}}, controller.Poll())
		assert.Equal(t, entity.PlayerOne, controller.BoardSnapshot()[0])
		assert.Equal(t, entity.InProgress(entity.PlayerTwo), controller.Status())
		assert.Equal(t, entity.ConnectionConnected, controller.ConnectionState().Kind)
	})

	t.Run("Reset from the authority", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})
		conn.push(protocol.MoveApplied{Index: 0, Player: entity.PlayerOne})
		require.NoError(t, controller.SubmitReset())
		assert.Equal(t, []protocol.Message{protocol.Reset{}}, conn.sent)

		conn.push(protocol.ResetApplied{})

		assert.Equal(t, []EventKind{EventMoveApplied, EventReset}, kinds(controller.Poll()))
		assert.Equal(t, entity.Board{}, controller.BoardSnapshot())
		assert.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())
	})

	t.Run("Disconnect keeps the board", func(t *testing.T) {
		controller, conn := connected(t, &config.Config{})
		conn.push(protocol.MoveApplied{Index: 0, Player: entity.PlayerOne})
		conn.drop("connection closed by peer")

		events := controller.Poll()

		assert.Equal(t, Event{Kind: EventDisconnected, Reason: "connection closed by peer"}, events[len(events)-1])
		assert.Equal(t, entity.Disconnected("connection closed by peer"), controller.Status())
		assert.Equal(t, entity.ConnectionDisconnected, controller.ConnectionState().Kind)
		assert.Equal(t, entity.PlayerOne, controller.BoardSnapshot()[0])
		assert.ErrorIs(t, controller.SubmitMove(1), apperror.ErrGameIsNotStarted)
		assert.Equal(t, 1, conn.connectCount())
	})
}

func TestController_Reconnect(t *testing.T) {
	// Given: a session with reconnect enabled
	conf := &config.Config{Reconnect: config.Reconnect{
		Enabled:         true,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}}
	controller, conn := connected(t, conf)
	conn.connectErrs = []error{errRefused}

	// When: the connection drops and the first retry fails
	conn.drop("eof")
	events := pollUntil(t, controller, EventConnected)

	// Then: the controller kept trying until it succeeded
	assert.Equal(t, EventDisconnected, events[0].Kind)
	assert.NotContains(t, kinds(events), EventConnectFailed)
	assert.Equal(t, 3, conn.connectCount())
	assert.Equal(t, entity.Disconnected("eof"), controller.Status())

	// And: a fresh handshake restarts the game
	conn.push(protocol.Accepted{})
	assert.Equal(t, []EventKind{EventAccepted}, kinds(controller.Poll()))
	assert.Equal(t, entity.InProgress(entity.PlayerOne), controller.Status())
}

func TestController_ReconnectGivesUp(t *testing.T) {
	conf := &config.Config{Reconnect: config.Reconnect{
		Enabled:         true,
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}}
	controller, conn := connected(t, conf)
	conn.connectErrs = []error{errRefused, errRefused}

	conn.drop("eof")
	pollUntil(t, controller, EventConnectFailed)

	assert.Equal(t, 3, conn.connectCount())
	assert.Equal(t, entity.ConnectionFailed, controller.ConnectionState().Kind)
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "move_applied: player one at 7", Event{Kind: EventMoveApplied, Index: 7, Player: entity.PlayerOne}.String())
	assert.Equal(t, "winner_declared: two", Event{Kind: EventWinnerDeclared, Player: entity.PlayerTwo}.String())
	assert.Equal(t, "rejected: busy", Event{Kind: EventRejected, Reason: "busy"}.String())
	assert.Equal(t, "draw", Event{Kind: EventDraw}.String())
}
