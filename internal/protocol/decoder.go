package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrIncomplete is returned by Decoder.Next when no complete frame is buffered.
var ErrIncomplete = errors.New("incomplete frame")

// FrameError wraps a payload that was framed correctly but could not be
// decoded. The stream stays aligned, so the caller may skip it and go on.
type FrameError struct {
	Err error
}

func (that *FrameError) Error() string {
	return fmt.Sprintf("malformed frame: %v", that.Err)
}

func (that *FrameError) Unwrap() error {
	return that.Err
}

// Decoder splits a byte stream into messages. Bytes are added with Feed as
// they arrive; Next returns complete messages in order. A read may carry
// several frames or only part of one.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends freshly read bytes.
func (that *Decoder) Feed(p []byte) {
	that.buf = append(that.buf, p...)
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (that *Decoder) Buffered() int {
	return len(that.buf)
}

// Next returns the next complete message. It returns ErrIncomplete when more
// bytes are needed, a *FrameError for a skipped undecodable payload and
// ErrFrameTooLarge when the stream can no longer be trusted.
func (that *Decoder) Next() (Message, error) {
	if len(that.buf) < FrameHeaderSize {
		return nil, ErrIncomplete
	}

	size := binary.BigEndian.Uint32(that.buf[:FrameHeaderSize])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	end := FrameHeaderSize + int(size)
	if len(that.buf) < end {
		return nil, ErrIncomplete
	}

	payload := that.buf[FrameHeaderSize:end]
	msg, err := Decode(payload)

	// drop the consumed frame, keeping the remainder
	rest := copy(that.buf, that.buf[end:])
	that.buf = that.buf[:rest]

	if err != nil {
		return nil, &FrameError{Err: err}
	}

	return msg, nil
}
