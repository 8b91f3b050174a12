package entity

import (
	"errors"
	"fmt"

	"github.com/rocketscienceinc/renju-client/internal/apperror"
)

const (
	BoardSize  = 15
	CellsCount = BoardSize * BoardSize

	// WinLength is the number of same-owner marks in a line that ends the game.
	WinLength = 5
)

// Cell is a single board position. EmptyCell means nobody owns it; otherwise
// the value is the owning Player.
type Cell = Player

const EmptyCell Cell = PlayerNone

// Board is the flat, row-major 15x15 grid.
type Board [CellsCount]Cell

var ErrUnknownGameStatus = errors.New("unknown game status")

// IsValidIndex reports whether index addresses a cell on the board.
func IsValidIndex(index int) bool {
	return index >= 0 && index < CellsCount
}

// Position converts a flat index to its row and column.
func Position(index int) (int, int) {
	return index / BoardSize, index % BoardSize
}

// Index converts a row and column to a flat index, or -1 when off the board.
func Index(row, col int) int {
	if row < 0 || row >= BoardSize || col < 0 || col >= BoardSize {
		return -1
	}
	return row*BoardSize + col
}

// IsFull reports whether no empty cell is left.
func (that *Board) IsFull() bool {
	for _, cell := range that {
		if cell == EmptyCell {
			return false
		}
	}
	return true
}

// StatusKind discriminates GameStatus.
type StatusKind uint8

const (
	StatusWaiting StatusKind = iota
	StatusInProgress
	StatusFinished
	StatusDisconnected
)

func (that StatusKind) String() string {
	switch that {
	case StatusWaiting:
		return "waiting"
	case StatusInProgress:
		return "in_progress"
	case StatusFinished:
		return "finished"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// GameStatus holds exactly one of the game states. Turn is only meaningful
// while in progress, Winner only once finished (PlayerNone for a draw) and
// Reason only when disconnected. Use the constructors below.
type GameStatus struct {
	Kind   StatusKind
	Turn   Player
	Winner Player
	Reason string
}

func WaitingForConnection() GameStatus {
	return GameStatus{Kind: StatusWaiting}
}

func InProgress(turn Player) GameStatus {
	return GameStatus{Kind: StatusInProgress, Turn: turn}
}

func Finished(winner Player) GameStatus {
	return GameStatus{Kind: StatusFinished, Winner: winner}
}

func Disconnected(reason string) GameStatus {
	return GameStatus{Kind: StatusDisconnected, Reason: reason}
}

func (that GameStatus) IsWaiting() bool {
	return that.Kind == StatusWaiting
}

func (that GameStatus) IsInProgress() bool {
	return that.Kind == StatusInProgress
}

func (that GameStatus) IsFinished() bool {
	return that.Kind == StatusFinished
}

func (that GameStatus) IsDisconnected() bool {
	return that.Kind == StatusDisconnected
}

func (that GameStatus) String() string {
	switch that.Kind {
	case StatusInProgress:
		return fmt.Sprintf("in progress (turn: %s)", that.Turn)
	case StatusFinished:
		if that.Winner == PlayerNone {
			return "finished (draw)"
		}
		return fmt.Sprintf("finished (winner: %s)", that.Winner)
	case StatusDisconnected:
		return fmt.Sprintf("disconnected (%s)", that.Reason)
	default:
		return "waiting for connection"
	}
}

// Game is the board together with its status.
type Game struct {
	Board  Board
	Status GameStatus
}

// NewGame creates an empty game. Offline games start right away, networked
// ones wait for the authority to accept the connection.
func NewGame(offline bool) *Game {
	if offline {
		return &Game{Status: InProgress(PlayerOne)}
	}
	return &Game{Status: WaitingForConnection()}
}

// ConfirmOngoingState returns nil only when moves may be placed.
func (that *Game) ConfirmOngoingState() error {
	switch that.Status.Kind {
	case StatusInProgress:
		return nil
	case StatusFinished:
		return apperror.ErrGameFinished
	case StatusWaiting, StatusDisconnected:
		return apperror.ErrGameIsNotStarted
	default:
		return fmt.Errorf("%w: %d", ErrUnknownGameStatus, that.Status.Kind)
	}
}

// Clear empties the board and hands the first turn to PlayerOne.
func (that *Game) Clear() {
	that.Board = Board{}
	that.Status = InProgress(PlayerOne)
}

// MoveOutcome is the result of an accepted move.
type MoveOutcome struct {
	Winner Player
	Draw   bool
}

// ConnectionKind discriminates ConnectionState.
type ConnectionKind uint8

const (
	ConnectionDisconnected ConnectionKind = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionFailed
)

// ConnectionState describes the transport side of a session. Reason is set
// only for ConnectionFailed.
type ConnectionState struct {
	Kind   ConnectionKind
	Reason string
}

func (that ConnectionState) String() string {
	switch that.Kind {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionFailed:
		return "failed: " + that.Reason
	default:
		return "disconnected"
	}
}
