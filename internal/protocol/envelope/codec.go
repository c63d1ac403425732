package envelope

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed    = errors.New("envelope: malformed message")
	ErrUnknownCodec = errors.New("envelope: unknown codec")
)

// Codec converts envelopes to and from frame bodies.
type Codec interface {
	Name() string
	Encode(env Envelope) ([]byte, error)
	Decode(data []byte) (Envelope, error)
}

// CodecByName resolves the configured codec; empty selects tlv.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tlv":
		return TLVCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}
