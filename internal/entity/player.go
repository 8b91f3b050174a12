package entity

// Player identifies one of the two participants. The zero value means "nobody"
// and is used for empty cells and for a finished game without a winner.
type Player uint8

const (
	PlayerNone Player = iota
	PlayerOne
	PlayerTwo
)

// Opponent returns the other participant.
func (that Player) Opponent() Player {
	switch that {
	case PlayerOne:
		return PlayerTwo
	case PlayerTwo:
		return PlayerOne
	default:
		return PlayerNone
	}
}

// IsValid reports whether the value names a real participant.
func (that Player) IsValid() bool {
	return that == PlayerOne || that == PlayerTwo
}

func (that Player) String() string {
	switch that {
	case PlayerOne:
		return "one"
	case PlayerTwo:
		return "two"
	default:
		return "none"
	}
}
