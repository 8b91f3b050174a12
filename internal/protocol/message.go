package protocol

import "github.com/rocketscienceinc/renju-client/internal/entity"

// Tag identifies a message variant on the wire. Client intents use the low
// range, authority responses have the high bit set.
type Tag uint8

const (
	TagConnect Tag = 0x01
	TagMove    Tag = 0x02
	TagReset   Tag = 0x03

	TagAccepted     Tag = 0x81
	TagRejected     Tag = 0x82
	TagMoveApplied  Tag = 0x83
	TagResetApplied Tag = 0x84
)

func (that Tag) String() string {
	switch that {
	case TagConnect:
		return "connect"
	case TagMove:
		return "move"
	case TagReset:
		return "reset"
	case TagAccepted:
		return "accepted"
	case TagRejected:
		return "rejected"
	case TagMoveApplied:
		return "move_applied"
	case TagResetApplied:
		return "reset_applied"
	default:
		return "unknown"
	}
}

// Message is any value of the wire catalog.
type Message interface {
	Tag() Tag
}

// Connect announces the player to the authority.
type Connect struct {
	Username string
}

// Move asks the authority to place a mark for Username.
type Move struct {
	Index    int
	Username string
}

// Reset asks the authority to start a new game.
type Reset struct{}

// Accepted acknowledges the last intent. Winner is PlayerNone unless the
// acknowledged move ended the game.
type Accepted struct {
	Winner entity.Player
}

// Rejected refuses the last intent.
type Rejected struct {
	Reason string
}

// MoveApplied reports a move the authority has committed.
type MoveApplied struct {
	Index  int
	Player entity.Player
	Winner entity.Player
}

// ResetApplied reports that the authority cleared the board.
type ResetApplied struct{}

func (Connect) Tag() Tag      { return TagConnect }
func (Move) Tag() Tag         { return TagMove }
func (Reset) Tag() Tag        { return TagReset }
func (Accepted) Tag() Tag     { return TagAccepted }
func (Rejected) Tag() Tag     { return TagRejected }
func (MoveApplied) Tag() Tag  { return TagMoveApplied }
func (ResetApplied) Tag() Tag { return TagResetApplied }
