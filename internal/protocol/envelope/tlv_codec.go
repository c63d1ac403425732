package envelope

import (
	"fmt"

	"github.com/danmuck/bandbridge/internal/protocol/tlv"
	"github.com/danmuck/bandbridge/internal/sensor"
)

// Envelope field IDs.
const (
	fieldCode    uint16 = 1
	fieldPayload uint16 = 2
)

// Pair request field IDs.
const (
	fieldPairDevice uint16 = 1
	fieldPairHost   uint16 = 2
	fieldPairPort   uint16 = 3
)

// TLVCodec encodes an envelope as a code field plus one payload field whose
// TLV type byte is the payload tag.
type TLVCodec struct{}

func (TLVCodec) Name() string { return "tlv" }

func (TLVCodec) Encode(env Envelope) ([]byte, error) {
	fields := []tlv.Field{tlv.U8(fieldCode, uint8(env.Code))}
	payload := env.Body()
	if payload.Tag() != TagNone {
		body, err := encodeTLVPayload(payload)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Field{ID: fieldPayload, Type: uint8(payload.Tag()), Value: body})
	}
	return tlv.EncodeFields(fields), nil
}

func (TLVCodec) Decode(data []byte) (Envelope, error) {
	fields, err := tlv.DecodeFields(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	codeField, ok := tlv.GetField(fields, fieldCode)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing code field", ErrMalformed)
	}
	code, err := tlv.U8FromField(codeField)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env := New(Code(code), None{})
	if pf, ok := tlv.GetField(fields, fieldPayload); ok {
		env.Payload = decodeTLVPayload(Tag(pf.Type), pf.Value)
	}
	return env, nil
}

func encodeTLVPayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case Text:
		return []byte(v), nil
	case TextList:
		fields := make([]tlv.Field, 0, len(v))
		for i, s := range v {
			fields = append(fields, tlv.String(uint16(i+1), s))
		}
		return tlv.EncodeFields(fields), nil
	case Bool:
		return tlv.Bool(0, bool(v)).Value, nil
	case Int:
		return tlv.I32(0, int32(v)).Value, nil
	case PairRequest:
		return tlv.EncodeFields([]tlv.Field{
			tlv.String(fieldPairDevice, v.Device),
			tlv.String(fieldPairHost, v.Host),
			tlv.U16(fieldPairPort, v.Port),
		}), nil
	case Readings:
		fields := make([]tlv.Field, 0, len(v))
		for _, r := range v {
			fields = append(fields, tlv.I32(uint16(r.Metric), int32(r.Value)))
		}
		return tlv.EncodeFields(fields), nil
	case Opaque:
		out := make([]byte, len(v.Raw))
		copy(out, v.Raw)
		return out, nil
	default:
		return nil, fmt.Errorf("envelope: unsupported payload %T", p)
	}
}

// decodeTLVPayload never fails; bodies that do not parse become Opaque.
func decodeTLVPayload(tag Tag, body []byte) Payload {
	opaque := Opaque{RawTag: tag, Raw: body}
	switch tag {
	case TagNone:
		return None{}
	case TagText:
		return Text(body)
	case TagTextList:
		fields, err := tlv.DecodeFields(body)
		if err != nil {
			return opaque
		}
		out := make(TextList, 0, len(fields))
		for _, f := range fields {
			s, err := tlv.StringFromField(f)
			if err != nil {
				return opaque
			}
			out = append(out, s)
		}
		return out
	case TagBool:
		v, err := tlv.BoolFromField(tlv.Field{Type: tlv.TypeBool, Value: body})
		if err != nil {
			return opaque
		}
		return Bool(v)
	case TagInt:
		v, err := tlv.I32FromField(tlv.Field{Type: tlv.TypeI32, Value: body})
		if err != nil {
			return opaque
		}
		return Int(v)
	case TagPairRequest:
		fields, err := tlv.DecodeFields(body)
		if err != nil {
			return opaque
		}
		var req PairRequest
		for _, f := range fields {
			switch f.ID {
			case fieldPairDevice:
				req.Device, err = tlv.StringFromField(f)
			case fieldPairHost:
				req.Host, err = tlv.StringFromField(f)
			case fieldPairPort:
				req.Port, err = tlv.U16FromField(f)
			}
			if err != nil {
				return opaque
			}
		}
		return req
	case TagReadings:
		fields, err := tlv.DecodeFields(body)
		if err != nil {
			return opaque
		}
		out := make(Readings, 0, len(fields))
		for _, f := range fields {
			v, err := tlv.I32FromField(f)
			if err != nil || f.ID > 0xff {
				return opaque
			}
			out = append(out, sensor.Reading{Metric: sensor.Metric(f.ID), Value: int(v)})
		}
		return out
	default:
		return opaque
	}
}
