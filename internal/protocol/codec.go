package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/rocketscienceinc/renju-client/internal/entity"
)

const (
	// FrameHeaderSize is the length prefix in front of every payload.
	FrameHeaderSize = 4

	// MaxTextLength is the longest username or reason that fits the uint16 prefix.
	MaxTextLength = math.MaxUint16

	// MaxFrameSize bounds a single payload so a corrupt length prefix cannot
	// make the reader allocate without limit.
	MaxFrameSize = 128 << 10
)

var (
	ErrUnknownTag     = errors.New("unknown message tag")
	ErrTruncated      = errors.New("truncated payload")
	ErrInvalidUTF8    = errors.New("text is not valid utf-8")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrTextTooLong    = errors.New("text is too long")
	ErrFrameTooLarge  = errors.New("frame is too large")
	ErrTrailingBytes  = errors.New("trailing bytes after payload")
)

// Encode returns msg as one complete frame: the length prefix followed by the
// tagged payload.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidPayload)
	}

	buf := make([]byte, FrameHeaderSize, 64)
	buf = append(buf, byte(msg.Tag()))

	var err error
	switch m := msg.(type) {
	case Connect:
		buf, err = appendText(buf, m.Username)
	case Move:
		if !entity.IsValidIndex(m.Index) {
			return nil, fmt.Errorf("%w: cell %d", ErrInvalidPayload, m.Index)
		}
		buf = append(buf, byte(m.Index))
		buf, err = appendText(buf, m.Username)
	case Reset, ResetApplied:
	case Accepted:
		buf, err = appendOptionalPlayer(buf, m.Winner)
	case Rejected:
		buf, err = appendText(buf, m.Reason)
	case MoveApplied:
		if !entity.IsValidIndex(m.Index) {
			return nil, fmt.Errorf("%w: cell %d", ErrInvalidPayload, m.Index)
		}
		if !m.Player.IsValid() {
			return nil, fmt.Errorf("%w: player %d", ErrInvalidPayload, m.Player)
		}
		buf = append(buf, byte(m.Index), byte(m.Player))
		buf, err = appendOptionalPlayer(buf, m.Winner)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, msg)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Tag(), err)
	}

	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(buf)-FrameHeaderSize))

	return buf, nil
}

func appendText(buf []byte, text string) ([]byte, error) {
	if len(text) > MaxTextLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTextTooLong, len(text))
	}
	if !utf8.ValidString(text) {
		return nil, ErrInvalidUTF8
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(text)))

	return append(buf, text...), nil
}

func appendOptionalPlayer(buf []byte, player entity.Player) ([]byte, error) {
	if player != entity.PlayerNone && !player.IsValid() {
		return nil, fmt.Errorf("%w: player %d", ErrInvalidPayload, player)
	}

	return append(buf, byte(player)), nil
}

// Decode parses one payload, without its length prefix.
func Decode(payload []byte) (Message, error) {
	r := &reader{buf: payload}

	tag, err := r.byte()
	if err != nil {
		return nil, err
	}

	msg, err := decodeBody(Tag(tag), r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", Tag(tag), err)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("failed to decode %s: %w: %d", Tag(tag), ErrTrailingBytes, r.remaining())
	}

	return msg, nil
}

func decodeBody(tag Tag, r *reader) (Message, error) {
	switch tag {
	case TagConnect:
		username, err := r.text()
		if err != nil {
			return nil, err
		}
		return Connect{Username: username}, nil
	case TagMove:
		index, err := r.index()
		if err != nil {
			return nil, err
		}
		username, err := r.text()
		if err != nil {
			return nil, err
		}
		return Move{Index: index, Username: username}, nil
	case TagReset:
		return Reset{}, nil
	case TagAccepted:
		winner, err := r.optionalPlayer()
		if err != nil {
			return nil, err
		}
		return Accepted{Winner: winner}, nil
	case TagRejected:
		reason, err := r.text()
		if err != nil {
			return nil, err
		}
		return Rejected{Reason: reason}, nil
	case TagMoveApplied:
		index, err := r.index()
		if err != nil {
			return nil, err
		}
		player, err := r.optionalPlayer()
		if err != nil {
			return nil, err
		}
		if player == entity.PlayerNone {
			return nil, fmt.Errorf("%w: move without player", ErrInvalidPayload)
		}
		winner, err := r.optionalPlayer()
		if err != nil {
			return nil, err
		}
		return MoveApplied{Index: index, Player: player, Winner: winner}, nil
	case TagResetApplied:
		return ResetApplied{}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, uint8(tag))
	}
}

type reader struct {
	buf []byte
	pos int
}

func (that *reader) remaining() int {
	return len(that.buf) - that.pos
}

func (that *reader) byte() (byte, error) {
	if that.remaining() < 1 {
		return 0, ErrTruncated
	}

	b := that.buf[that.pos]
	that.pos++

	return b, nil
}

func (that *reader) index() (int, error) {
	b, err := that.byte()
	if err != nil {
		return 0, err
	}

	if !entity.IsValidIndex(int(b)) {
		return 0, fmt.Errorf("%w: cell %d", ErrInvalidPayload, b)
	}

	return int(b), nil
}

func (that *reader) optionalPlayer() (entity.Player, error) {
	b, err := that.byte()
	if err != nil {
		return entity.PlayerNone, err
	}

	player := entity.Player(b)
	if player != entity.PlayerNone && !player.IsValid() {
		return entity.PlayerNone, fmt.Errorf("%w: player %d", ErrInvalidPayload, b)
	}

	return player, nil
}

func (that *reader) text() (string, error) {
	if that.remaining() < 2 {
		return "", ErrTruncated
	}

	size := int(binary.BigEndian.Uint16(that.buf[that.pos:]))
	that.pos += 2

	if that.remaining() < size {
		return "", ErrTruncated
	}

	raw := that.buf[that.pos : that.pos+size]
	that.pos += size

	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}

	return string(raw), nil
}
