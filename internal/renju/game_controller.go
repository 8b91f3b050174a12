package renju

import (
	"fmt"

	"github.com/rocketscienceinc/renju-client/internal/apperror"
	"github.com/rocketscienceinc/renju-client/internal/entity"
)

// GameController owns the transitions of a single game. It is not safe for
// concurrent use; the game loop is its only caller.
type GameController struct {
	game *entity.Game
}

func NewGameController(game *entity.Game) *GameController {
	return &GameController{game: game}
}

// Place puts player's mark on index.
func (that *GameController) Place(index int, player entity.Player) (entity.MoveOutcome, error) {
	if err := that.validateMove(index, player); err != nil {
		return entity.MoveOutcome{}, fmt.Errorf("invalid move: %w", err)
	}

	that.game.Board[index] = player

	return that.updateGameStatus(index, player), nil
}

// validateMove - checks if the move is valid.
func (that *GameController) validateMove(index int, player entity.Player) error {
	if err := that.game.ConfirmOngoingState(); err != nil {
		return err
	}

	if !player.IsValid() {
		return apperror.ErrInvalidPlayer
	}

	if that.game.Status.Turn != player {
		return apperror.ErrNotYourTurn
	}

	if !entity.IsValidIndex(index) {
		return fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, index)
	}

	if that.game.Board[index] != entity.EmptyCell {
		return apperror.ErrCellOccupied
	}

	return nil
}

// updateGameStatus - checks the game status after a move.
func (that *GameController) updateGameStatus(index int, player entity.Player) entity.MoveOutcome {
	switch {
	case IsWinningMove(&that.game.Board, index):
		that.game.Status = entity.Finished(player)
		return entity.MoveOutcome{Winner: player}
	case that.game.Board.IsFull():
		that.game.Status = entity.Finished(entity.PlayerNone)
		return entity.MoveOutcome{Draw: true}
	default:
		that.game.Status = entity.InProgress(player.Opponent())
		return entity.MoveOutcome{}
	}
}

// Reset clears the board from any state.
func (that *GameController) Reset() {
	that.game.Clear()
}

// Start begins play once the authority has accepted the connection. It is a
// no-op unless the game is waiting or disconnected.
func (that *GameController) Start() bool {
	if !that.game.Status.IsWaiting() && !that.game.Status.IsDisconnected() {
		return false
	}

	that.game.Clear()

	return true
}

// Await puts the game back to waiting for a connection with a clean board.
func (that *GameController) Await() {
	that.game.Board = entity.Board{}
	that.game.Status = entity.WaitingForConnection()
}

// Disconnect moves the game to Disconnected. The board is kept so the last
// position stays visible.
func (that *GameController) Disconnect(reason string) {
	that.game.Status = entity.Disconnected(reason)
}

// Finish ends a running game with the given winner. An already decided game
// keeps its result.
func (that *GameController) Finish(winner entity.Player) bool {
	if !that.game.Status.IsInProgress() || !winner.IsValid() {
		return false
	}

	that.game.Status = entity.Finished(winner)

	return true
}

func (that *GameController) Board() entity.Board {
	return that.game.Board
}

func (that *GameController) Status() entity.GameStatus {
	return that.game.Status
}
