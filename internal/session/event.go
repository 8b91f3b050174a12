package session

import (
	"fmt"

	"github.com/rocketscienceinc/renju-client/internal/entity"
)

// EventKind discriminates Event.
type EventKind uint8

const (
	EventMoveApplied EventKind = iota + 1
	EventWinnerDeclared
	EventDraw
	EventReset
	EventAccepted
	EventRejected
	EventConnected
	EventConnectFailed
	EventDisconnected
	EventDesync
)

func (that EventKind) String() string {
	switch that {
	case EventMoveApplied:
		return "move_applied"
	case EventWinnerDeclared:
		return "winner_declared"
	case EventDraw:
		return "draw"
	case EventReset:
		return "reset"
	case EventAccepted:
		return "accepted"
	case EventRejected:
		return "rejected"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventDesync:
		return "desync"
	default:
		return "unknown"
	}
}

// Event is something the UI may want to react to. Index and Player are set
// for move related kinds, Reason for rejections and connection failures.
type Event struct {
	Kind   EventKind
	Index  int
	Player entity.Player
	Reason string
}

func (that Event) String() string {
	switch that.Kind {
	case EventMoveApplied:
		return fmt.Sprintf("%s: player %s at %d", that.Kind, that.Player, that.Index)
	case EventWinnerDeclared:
		return fmt.Sprintf("%s: %s", that.Kind, that.Player)
	case EventRejected, EventConnectFailed, EventDisconnected, EventDesync:
		return fmt.Sprintf("%s: %s", that.Kind, that.Reason)
	default:
		return that.Kind.String()
	}
}
