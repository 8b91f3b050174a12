package renju

import "github.com/rocketscienceinc/renju-client/internal/entity"

// axis is a line direction in (row, column) steps. In flat index terms the
// four axes are +1, +15, +16 and +14.
type axis struct {
	dRow, dCol int
}

var axes = [4]axis{
	{dRow: 0, dCol: 1},  // horizontal
	{dRow: 1, dCol: 0},  // vertical
	{dRow: 1, dCol: 1},  // diagonal, down-right
	{dRow: 1, dCol: -1}, // diagonal, down-left
}

// IsWinningMove reports whether the mark at index is part of an unbroken line
// of at least entity.WinLength same-owner marks. Only lines through index are
// inspected, so the cost does not depend on the board size.
func IsWinningMove(board *entity.Board, index int) bool {
	if !entity.IsValidIndex(index) {
		return false
	}

	owner := board[index]
	if owner == entity.EmptyCell {
		return false
	}

	row, col := entity.Position(index)
	for _, a := range axes {
		count := 1 + run(board, owner, row, col, a.dRow, a.dCol) + run(board, owner, row, col, -a.dRow, -a.dCol)
		if count >= entity.WinLength {
			return true
		}
	}

	return false
}

// run counts consecutive owner marks starting next to (row, col). Steps are
// taken on coordinates, so a line never continues from one row's edge into
// the next row.
func run(board *entity.Board, owner entity.Player, row, col, dRow, dCol int) int {
	count := 0
	for {
		row += dRow
		col += dCol

		next := entity.Index(row, col)
		if next < 0 || board[next] != owner {
			return count
		}
		count++
	}
}

// Winner rescans the whole board and returns the owner of any winning line.
func Winner(board *entity.Board) entity.Player {
	for index, cell := range board {
		if cell != entity.EmptyCell && IsWinningMove(board, index) {
			return cell
		}
	}

	return entity.PlayerNone
}
