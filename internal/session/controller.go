package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rocketscienceinc/renju-client/internal/apperror"
	"github.com/rocketscienceinc/renju-client/internal/config"
	"github.com/rocketscienceinc/renju-client/internal/connection"
	"github.com/rocketscienceinc/renju-client/internal/entity"
	"github.com/rocketscienceinc/renju-client/internal/protocol"
	"github.com/rocketscienceinc/renju-client/internal/renju"
)

var (
	ErrOffline           = errors.New("session is offline")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrMissingAddress    = errors.New("address is required")
	ErrMissingUsername   = errors.New("username is required")
)

type connector interface {
	Connect(ctx context.Context, address, username string) error
	Send(msg protocol.Message) error
	Drain() []connection.Inbound
	Close() error
}

type connectResult struct {
	err error
}

// Controller is the game loop's view of a session. It is not safe for
// concurrent use. Connect attempts run on a helper goroutine and report back
// through Poll.
type Controller struct {
	id     uuid.UUID
	logger *slog.Logger
	conf   *config.Config
	conn   connector

	game    *entity.Game
	machine *renju.GameController

	connState  entity.ConnectionState
	address    string
	username   string
	connecting bool
	handshake  bool
	pending    []Event

	results chan connectResult
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewController(logger *slog.Logger, conf *config.Config, conn connector) *Controller {
	id := uuid.New()
	game := entity.NewGame(conf.Offline)
	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		id:       id,
		logger:   logger.With("component", "session", "session_id", id.String()),
		conf:     conf,
		conn:     conn,
		game:     game,
		machine:  renju.NewGameController(game),
		username: conf.Username,
		results:  make(chan connectResult, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (that *Controller) ID() uuid.UUID {
	return that.id
}

func (that *Controller) Offline() bool {
	return that.conf.Offline
}

func (that *Controller) BoardSnapshot() entity.Board {
	return that.machine.Board()
}

func (that *Controller) Status() entity.GameStatus {
	return that.machine.Status()
}

func (that *Controller) ConnectionState() entity.ConnectionState {
	return that.connState
}

// Poll applies everything that happened since the previous call, in arrival
// order, and returns the resulting events. It never blocks.
func (that *Controller) Poll() []Event {
	events := that.pending
	that.pending = nil

	select {
	case result := <-that.results:
		events = append(events, that.applyConnectResult(result)...)
	default:
	}

	for _, item := range that.conn.Drain() {
		events = append(events, that.apply(item)...)
	}

	return events
}

// SubmitMove places a mark on index. Offline the move is applied right away,
// otherwise it is checked locally and sent to the authority.
func (that *Controller) SubmitMove(index int) error {
	log := that.logger.With("method", "SubmitMove", "index", index)

	if that.conf.Offline {
		player := that.machine.Status().Turn

		outcome, err := that.machine.Place(index, player)
		if err != nil {
			return err
		}

		that.pending = append(that.pending, moveEvents(index, player, outcome)...)

		return nil
	}

	if err := that.precheck(index); err != nil {
		return fmt.Errorf("invalid move: %w", err)
	}

	if err := that.conn.Send(protocol.Move{Index: index, Username: that.username}); err != nil {
		log.Error("failed to send move", "error", err)
		return fmt.Errorf("failed to submit move: %w", err)
	}

	return nil
}

func (that *Controller) precheck(index int) error {
	if err := that.game.ConfirmOngoingState(); err != nil {
		return err
	}

	if !entity.IsValidIndex(index) {
		return fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, index)
	}

	if that.game.Board[index] != entity.EmptyCell {
		return apperror.ErrCellOccupied
	}

	return nil
}

// SubmitReset starts a new game, locally when offline, otherwise by asking
// the authority.
func (that *Controller) SubmitReset() error {
	if that.conf.Offline {
		that.machine.Reset()
		that.pending = append(that.pending, Event{Kind: EventReset})

		return nil
	}

	if err := that.conn.Send(protocol.Reset{}); err != nil {
		that.logger.Error("failed to send reset", "method", "SubmitReset", "error", err)
		return fmt.Errorf("failed to submit reset: %w", err)
	}

	return nil
}

// SubmitConnect starts connecting in the background. The outcome is reported
// by a later Poll as EventConnected or EventConnectFailed.
func (that *Controller) SubmitConnect(address, username string) error {
	switch {
	case that.conf.Offline:
		return ErrOffline
	case address == "":
		return ErrMissingAddress
	case username == "":
		return ErrMissingUsername
	case that.connecting:
		return ErrConnectInProgress
	case that.connState.Kind == entity.ConnectionConnected:
		return connection.ErrAlreadyConnected
	}

	that.address = address
	that.username = username
	that.machine.Await()
	that.startConnect(&backoff.StopBackOff{})

	return nil
}

func (that *Controller) startConnect(policy backoff.BackOff) {
	log := that.logger.With("method", "startConnect", "address", that.address)
	log.Info("connecting", "username", that.username)

	that.connecting = true
	that.handshake = true
	that.connState = entity.ConnectionState{Kind: entity.ConnectionConnecting}

	address, username := that.address, that.username

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		operation := func() error {
			err := that.conn.Connect(that.ctx, address, username)
			if errors.Is(err, connection.ErrAlreadyConnected) {
				return backoff.Permanent(err)
			}
			if err != nil {
				log.Warn("connect attempt failed", "error", err)
			}
			return err
		}

		err := backoff.Retry(operation, backoff.WithContext(policy, that.ctx))

		select {
		case that.results <- connectResult{err: err}:
		case <-that.ctx.Done():
		}
	}()
}

func (that *Controller) reconnectPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = that.conf.Reconnect.InitialInterval
	policy.MaxInterval = that.conf.Reconnect.MaxInterval
	policy.MaxElapsedTime = 0

	return backoff.WithMaxRetries(policy, that.conf.Reconnect.MaxRetries)
}

func (that *Controller) applyConnectResult(result connectResult) []Event {
	that.connecting = false

	if result.err != nil {
		reason := result.err.Error()
		that.logger.Error("failed to connect", "error", result.err)

		that.handshake = false
		that.connState = entity.ConnectionState{Kind: entity.ConnectionFailed, Reason: reason}
		that.machine.Disconnect(reason)

		return []Event{{Kind: EventConnectFailed, Reason: reason}}
	}

	if that.markConnected() {
		return []Event{{Kind: EventConnected}}
	}

	return nil
}

// markConnected reports whether the state changed. The authority's Accepted
// may be drained before the connect result arrives.
func (that *Controller) markConnected() bool {
	if that.connState.Kind != entity.ConnectionConnecting {
		return false
	}

	that.connState = entity.ConnectionState{Kind: entity.ConnectionConnected}
	that.logger.Info("connected", "address", that.address)

	return true
}

func (that *Controller) apply(item connection.Inbound) []Event {
	if item.Disconnected {
		return that.applyDisconnected(item.Reason)
	}

	switch msg := item.Message.(type) {
	case protocol.Accepted:
		return that.applyAccepted(msg)
	case protocol.Rejected:
		return that.applyRejected(msg)
	case protocol.MoveApplied:
		return that.applyMove(msg)
	case protocol.ResetApplied:
		that.machine.Reset()
		return []Event{{Kind: EventReset}}
	default:
		that.logger.Warn("ignoring unexpected message", "tag", msg.Tag())
		return nil
	}
}

func (that *Controller) applyAccepted(msg protocol.Accepted) []Event {
	var events []Event

	if that.handshake {
		that.handshake = false
		if that.markConnected() {
			events = append(events, Event{Kind: EventConnected})
		}
		that.machine.Start()

		return append(events, Event{Kind: EventAccepted})
	}

	if msg.Winner.IsValid() && that.machine.Finish(msg.Winner) {
		that.logger.Info("winner declared by authority", "winner", msg.Winner)
		return []Event{{Kind: EventWinnerDeclared, Player: msg.Winner}}
	}

	return []Event{{Kind: EventAccepted}}
}

func (that *Controller) applyRejected(msg protocol.Rejected) []Event {
	log := that.logger.With("method", "applyRejected", "reason", msg.Reason)

	if !that.handshake {
		log.Info("intent rejected")
		return []Event{{Kind: EventRejected, Reason: msg.Reason}}
	}

	log.Warn("connection rejected")

	that.handshake = false
	that.connState = entity.ConnectionState{Kind: entity.ConnectionFailed, Reason: msg.Reason}
	that.machine.Disconnect(msg.Reason)

	if err := that.conn.Close(); err != nil {
		log.Error("failed to close rejected connection", "error", err)
	}

	return []Event{{Kind: EventConnectFailed, Reason: msg.Reason}}
}

func (that *Controller) applyMove(msg protocol.MoveApplied) []Event {
	log := that.logger.With("method", "applyMove", "index", msg.Index, "player", msg.Player)

	var events []Event

	outcome, err := that.machine.Place(msg.Index, msg.Player)
	if err != nil {
		log.Warn("authority move rejected by local rules", "error", err)
		events = append(events, Event{Kind: EventDesync, Index: msg.Index, Player: msg.Player, Reason: err.Error()})
	} else {
		events = append(events, moveEvents(msg.Index, msg.Player, outcome)...)
	}

	if msg.Winner.IsValid() && that.machine.Finish(msg.Winner) {
		log.Warn("winner declared by authority only", "winner", msg.Winner)
		events = append(events, Event{Kind: EventWinnerDeclared, Player: msg.Winner})
	}

	return events
}

func (that *Controller) applyDisconnected(reason string) []Event {
	log := that.logger.With("method", "applyDisconnected")
	log.Warn("disconnected", "reason", reason)

	that.handshake = false
	that.connState = entity.ConnectionState{Kind: entity.ConnectionDisconnected}
	that.machine.Disconnect(reason)

	events := []Event{{Kind: EventDisconnected, Reason: reason}}

	if that.conf.Reconnect.Enabled && that.address != "" && !that.connecting {
		log.Info("reconnecting", "max_retries", that.conf.Reconnect.MaxRetries)
		that.startConnect(that.reconnectPolicy())
	}

	return events
}

func moveEvents(index int, player entity.Player, outcome entity.MoveOutcome) []Event {
	events := []Event{{Kind: EventMoveApplied, Index: index, Player: player}}

	switch {
	case outcome.Winner.IsValid():
		events = append(events, Event{Kind: EventWinnerDeclared, Player: outcome.Winner})
	case outcome.Draw:
		events = append(events, Event{Kind: EventDraw})
	}

	return events
}

// Close cancels pending connects, waits for them and closes the connection.
// The controller must not be used afterwards.
func (that *Controller) Close() error {
	that.cancel()
	that.wg.Wait()

	that.connecting = false
	that.connState = entity.ConnectionState{Kind: entity.ConnectionDisconnected}

	if err := that.conn.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	return nil
}
