package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// PrefixLen is the size of the signed little-endian length prefix.
	PrefixLen = 4

	// DefaultMaxMessageSize bounds one frame body. Values <= 0 disable the bound.
	DefaultMaxMessageSize = 2048
)

var (
	ErrNegativeLength = errors.New("frame: message length is less than zero")
	ErrTooLarge       = errors.New("frame: message length exceeds maximum message size")
	ErrPoisoned       = errors.New("frame: decoder unusable after protocol violation")
	ErrShortPrefix    = errors.New("frame: short length prefix")
	ErrShortBody      = errors.New("frame: short message body")
)

// Error reports a protocol violation in one length prefix.
type Error struct {
	Err    error
	Length int64
	Max    int
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrTooLarge) {
		return fmt.Sprintf("%v: length=%d max=%d", e.Err, e.Length, e.Max)
	}
	return fmt.Sprintf("%v: length=%d", e.Err, e.Length)
}

func (e *Error) Unwrap() error { return e.Err }

// Encode prepends the length prefix to message.
func Encode(message []byte, maxMessageSize int) ([]byte, error) {
	if err := checkLength(int64(len(message)), maxMessageSize); err != nil {
		return nil, err
	}
	out := make([]byte, PrefixLen+len(message))
	binary.LittleEndian.PutUint32(out[:PrefixLen], uint32(int32(len(message))))
	copy(out[PrefixLen:], message)
	return out, nil
}

// EncodeKeepalive returns a zero-length frame.
func EncodeKeepalive() []byte {
	return make([]byte, PrefixLen)
}

// WriteMessage frames message and writes it to w in one call.
func WriteMessage(w io.Writer, message []byte, maxMessageSize int) error {
	buf, err := Encode(message, maxMessageSize)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadMessage blocks until one complete frame has been read from r.
// A keepalive yields an empty, non-nil body.
func ReadMessage(r io.Reader, maxMessageSize int) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortPrefix
		}
		return nil, err
	}
	length := int64(int32(binary.LittleEndian.Uint32(prefix[:])))
	if err := checkLength(length, maxMessageSize); err != nil {
		return nil, err
	}
	body := make([]byte, length)
	if length == 0 {
		return body, nil
	}
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortBody
		}
		return nil, err
	}
	return body, nil
}

func checkLength(length int64, maxMessageSize int) error {
	if length < 0 {
		return &Error{Err: ErrNegativeLength, Length: length, Max: maxMessageSize}
	}
	if length > math.MaxInt32 {
		return &Error{Err: ErrTooLarge, Length: length, Max: math.MaxInt32}
	}
	if maxMessageSize > 0 && length > int64(maxMessageSize) {
		return &Error{Err: ErrTooLarge, Length: length, Max: maxMessageSize}
	}
	return nil
}
