package bridge

import (
	"io"

	"github.com/danmuck/bandbridge/internal/protocol/envelope"
	"github.com/danmuck/bandbridge/internal/protocol/frame"
)

// WriteEnvelope encodes env with codec and writes it as one frame.
func WriteEnvelope(w io.Writer, codec envelope.Codec, env envelope.Envelope, maxMessageSize int) error {
	raw, err := codec.Encode(env)
	if err != nil {
		return err
	}
	return frame.WriteMessage(w, raw, maxMessageSize)
}

// ReadEnvelope reads frames from r until one non-keepalive body arrives and
// decodes it with codec.
func ReadEnvelope(r io.Reader, codec envelope.Codec, maxMessageSize int) (envelope.Envelope, error) {
	for {
		body, err := frame.ReadMessage(r, maxMessageSize)
		if err != nil {
			return envelope.Envelope{}, err
		}
		if len(body) == 0 {
			continue
		}
		return codec.Decode(body)
	}
}
