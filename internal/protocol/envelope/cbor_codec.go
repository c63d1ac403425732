package envelope

import (
	"fmt"

	"github.com/danmuck/bandbridge/internal/sensor"
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("envelope: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("envelope: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborEnvelope struct {
	Code uint8           `cbor:"1,keyasint"`
	Tag  uint8           `cbor:"2,keyasint"`
	Body cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

type cborPairRequest struct {
	Device string `cbor:"1,keyasint"`
	Host   string `cbor:"2,keyasint"`
	Port   uint16 `cbor:"3,keyasint"`
}

type cborReading struct {
	Metric uint8 `cbor:"1,keyasint"`
	Value  int64 `cbor:"2,keyasint"`
}

// CBORCodec encodes envelopes as deterministic CBOR maps with integer keys.
type CBORCodec struct{}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Encode(env Envelope) ([]byte, error) {
	payload := env.Body()
	out := cborEnvelope{Code: uint8(env.Code), Tag: uint8(payload.Tag())}
	if payload.Tag() != TagNone {
		body, err := encodeCBORPayload(payload)
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return encMode.Marshal(out)
}

func (CBORCodec) Decode(data []byte) (Envelope, error) {
	var in cborEnvelope
	if err := decMode.Unmarshal(data, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := New(Code(in.Code), None{})
	if Tag(in.Tag) != TagNone {
		env.Payload = decodeCBORPayload(Tag(in.Tag), in.Body)
	}
	return env, nil
}

func encodeCBORPayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case Text:
		return encMode.Marshal(string(v))
	case TextList:
		list := []string(v)
		if list == nil {
			list = []string{}
		}
		return encMode.Marshal(list)
	case Bool:
		return encMode.Marshal(bool(v))
	case Int:
		return encMode.Marshal(int32(v))
	case PairRequest:
		return encMode.Marshal(cborPairRequest{Device: v.Device, Host: v.Host, Port: v.Port})
	case Readings:
		list := make([]cborReading, 0, len(v))
		for _, r := range v {
			list = append(list, cborReading{Metric: uint8(r.Metric), Value: int64(r.Value)})
		}
		return encMode.Marshal(list)
	case Opaque:
		// Decoded opaque bodies are already CBOR items; anything else goes
		// out as a byte string.
		if len(v.Raw) > 0 && decMode.Wellformed(v.Raw) == nil {
			return append([]byte(nil), v.Raw...), nil
		}
		return encMode.Marshal(v.Raw)
	default:
		return nil, fmt.Errorf("envelope: unsupported payload %T", p)
	}
}

func decodeCBORPayload(tag Tag, body []byte) Payload {
	opaque := Opaque{RawTag: tag, Raw: []byte(body)}
	switch tag {
	case TagText:
		var s string
		if err := decMode.Unmarshal(body, &s); err != nil {
			return opaque
		}
		return Text(s)
	case TagTextList:
		var list []string
		if err := decMode.Unmarshal(body, &list); err != nil {
			return opaque
		}
		if list == nil {
			list = []string{}
		}
		return TextList(list)
	case TagBool:
		var b bool
		if err := decMode.Unmarshal(body, &b); err != nil {
			return opaque
		}
		return Bool(b)
	case TagInt:
		var n int32
		if err := decMode.Unmarshal(body, &n); err != nil {
			return opaque
		}
		return Int(n)
	case TagPairRequest:
		var req cborPairRequest
		if err := decMode.Unmarshal(body, &req); err != nil {
			return opaque
		}
		return PairRequest{Device: req.Device, Host: req.Host, Port: req.Port}
	case TagReadings:
		var list []cborReading
		if err := decMode.Unmarshal(body, &list); err != nil {
			return opaque
		}
		out := make(Readings, 0, len(list))
		for _, r := range list {
			out = append(out, sensor.Reading{Metric: sensor.Metric(r.Metric), Value: int(r.Value)})
		}
		return out
	default:
		return opaque
	}
}
