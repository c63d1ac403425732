package frame

import "encoding/binary"

// Decoder reassembles frames from an arbitrarily chunked byte stream.
//
// The decoder alternates between reading the 4-byte length prefix and
// reading a body of the announced size. A zero length is a keepalive and
// is delivered as an empty body without entering the body state. After
// Feed returns a protocol error the decoder is poisoned and every later
// Feed returns ErrPoisoned.
type Decoder struct {
	max       int
	onMessage func(body []byte)

	prefix   [PrefixLen]byte
	body     []byte // nil while reading the prefix
	received int
	err      error
}

// NewDecoder builds a decoder bounded by maxMessageSize (<= 0 for no bound).
// onMessage runs inside Feed and must not call Feed.
func NewDecoder(maxMessageSize int, onMessage func(body []byte)) *Decoder {
	return &Decoder{max: maxMessageSize, onMessage: onMessage}
}

// ReadingBody reports whether the decoder is mid-body.
func (d *Decoder) ReadingBody() bool {
	return d.body != nil
}

// Err returns the error that poisoned the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Feed consumes one chunk and delivers zero or more complete messages.
func (d *Decoder) Feed(chunk []byte) error {
	if d.err != nil {
		return ErrPoisoned
	}
	for i := 0; i < len(chunk); {
		if d.body != nil {
			n := copy(d.body[d.received:], chunk[i:])
			i += n
			d.received += n
			if d.received == len(d.body) {
				body := d.body
				d.body = nil
				d.received = 0
				d.emit(body)
			}
			continue
		}

		n := copy(d.prefix[d.received:], chunk[i:])
		i += n
		d.received += n
		if d.received < PrefixLen {
			continue
		}
		d.received = 0
		length := int64(int32(binary.LittleEndian.Uint32(d.prefix[:])))
		if err := checkLength(length, d.max); err != nil {
			d.err = err
			return err
		}
		if length == 0 {
			d.emit([]byte{})
			continue
		}
		d.body = make([]byte, length)
	}
	return nil
}

func (d *Decoder) emit(body []byte) {
	if d.onMessage != nil {
		d.onMessage(body)
	}
}
