package envelope

import (
	"fmt"
	"strings"

	"github.com/danmuck/bandbridge/internal/sensor"
)

// Code is the command carried by one envelope.
type Code uint8

const (
	CodeCtrl Code = iota
	CodeShowListAsk
	CodeShowListAns
	CodeGetDataAsk
	CodeGetDataAns
	CodePairAsk
	CodePairAns
	CodeFreeAsk
	CodeFreeAns
	CodeDataPush
)

var codeNames = map[Code]string{
	CodeCtrl:        "CTRL",
	CodeShowListAsk: "SHOW_LIST_ASK",
	CodeShowListAns: "SHOW_LIST_ANS",
	CodeGetDataAsk:  "GET_DATA_ASK",
	CodeGetDataAns:  "GET_DATA_ANS",
	CodePairAsk:     "PAIR_ASK",
	CodePairAns:     "PAIR_ANS",
	CodeFreeAsk:     "FREE_ASK",
	CodeFreeAns:     "FREE_ANS",
	CodeDataPush:    "DATA_PUSH",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint8(c))
}

// Tag identifies the payload shape on the wire.
type Tag uint8

const (
	TagNone Tag = iota
	TagText
	TagTextList
	TagBool
	TagPairRequest
	TagReadings
	TagInt
)

// Payload is the sealed set of envelope payload shapes.
type Payload interface {
	Tag() Tag
	isPayload()
}

type (
	None     struct{}
	Text     string
	TextList []string
	Bool     bool
	Int      int32
	Readings []sensor.Reading
)

// PairRequest asks the bridge to push one device's readings to Host:Port.
type PairRequest struct {
	Device string
	Host   string
	Port   uint16
}

// Opaque carries a payload the codec could not map to a known shape.
type Opaque struct {
	RawTag Tag
	Raw    []byte
}

func (None) Tag() Tag        { return TagNone }
func (Text) Tag() Tag        { return TagText }
func (TextList) Tag() Tag    { return TagTextList }
func (Bool) Tag() Tag        { return TagBool }
func (Int) Tag() Tag         { return TagInt }
func (Readings) Tag() Tag    { return TagReadings }
func (PairRequest) Tag() Tag { return TagPairRequest }
func (o Opaque) Tag() Tag    { return o.RawTag }

func (None) isPayload()        {}
func (Text) isPayload()        {}
func (TextList) isPayload()    {}
func (Bool) isPayload()        {}
func (Int) isPayload()         {}
func (Readings) isPayload()    {}
func (PairRequest) isPayload() {}
func (Opaque) isPayload()      {}

// Envelope is one decoded application message.
type Envelope struct {
	Code    Code
	Payload Payload
}

// New builds an envelope; a nil payload becomes None.
func New(code Code, payload Payload) Envelope {
	if payload == nil {
		payload = None{}
	}
	return Envelope{Code: code, Payload: payload}
}

// Ctrl is the generic control acknowledgement.
func Ctrl() Envelope {
	return New(CodeCtrl, None{})
}

// Body returns the payload, substituting None for nil.
func (e Envelope) Body() Payload {
	if e.Payload == nil {
		return None{}
	}
	return e.Payload
}

func (e Envelope) String() string {
	switch p := e.Body().(type) {
	case None:
		return fmt.Sprintf("Message: [%s][null]", e.Code)
	case Text:
		return fmt.Sprintf("Message: [%s][%q]", e.Code, string(p))
	case TextList:
		return fmt.Sprintf("Message: [%s][%s]", e.Code, strings.Join(p, ", "))
	case Readings:
		parts := make([]string, 0, len(p))
		for _, r := range p {
			parts = append(parts, r.String())
		}
		return fmt.Sprintf("Message: [%s][%s]", e.Code, strings.Join(parts, ""))
	case PairRequest:
		return fmt.Sprintf("Message: [%s][%s -> %s:%d]", e.Code, p.Device, p.Host, p.Port)
	case Opaque:
		return fmt.Sprintf("Message: [%s][opaque tag=%d len=%d]", e.Code, p.RawTag, len(p.Raw))
	default:
		return fmt.Sprintf("Message: [%s][%v]", e.Code, p)
	}
}
