package feed

import (
	"strings"

	"PPNotify/tools/errs"

	"github.com/golang/glog"
)

const DefaultMaxBodyBytes = 128

var (
	ErrTransportFailure = errs.NewCodeError(errs.TransportFailureError, "transport failure")
	ErrUnknownCommand   = errs.NewCodeError(errs.UnknownCommandError, "unknown command")
	ErrMalformedUnit    = errs.NewCodeError(errs.MalformedUnitError, "malformed unit")
)

type UnitKind int

const (
	UnitFollow UnitKind = iota
	UnitPublish
	UnitEndOfStream
	UnitMalformed
	UnitUnknown
)

func (k UnitKind) String() string {
	switch k {
	case UnitFollow:
		return "follow"
	case UnitPublish:
		return "publish"
	case UnitEndOfStream:
		return "eos"
	case UnitMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Unit is one decoded client command. Err explains a Malformed or Unknown
// unit.
type Unit struct {
	Kind      UnitKind
	Payload   string
	Timestamp int64
	Err       error
}

type Decoder func(*Frame) Unit

// Dispatcher turns inbound frames into command units.
type Dispatcher struct {
	decoders map[FrameType]Decoder
}

func NewDispatcher(maxBody int) *Dispatcher {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	d := &Dispatcher{decoders: make(map[FrameType]Decoder)}
	d.Register(FrameFollow, decodeFollow)
	d.Register(FrameSend, sendDecoder(maxBody))
	return d
}

func (d *Dispatcher) Register(t FrameType, dec Decoder) { d.decoders[t] = dec }

func (d *Dispatcher) Decode(f *Frame) Unit {
	dec, ok := d.decoders[f.Type]
	if !ok {
		glog.Infof("no handler for type=%v", f.Type)
		return Unit{Kind: UnitUnknown, Err: ErrUnknownCommand.WrapMsg("", "type", f.Type)}
	}
	return dec(f)
}

func decodeFollow(f *Frame) Unit {
	target := strings.TrimPrefix(strings.TrimSpace(f.Payload), "@")
	if target == "" {
		return Unit{Kind: UnitMalformed, Err: ErrMalformedUnit.WrapMsg("follow without target")}
	}
	return Unit{Kind: UnitFollow, Payload: target, Timestamp: f.Timestamp}
}

func sendDecoder(maxBody int) Decoder {
	return func(f *Frame) Unit {
		if len(f.Payload) > maxBody {
			return Unit{Kind: UnitMalformed, Err: ErrMalformedUnit.WrapMsg("body too long", "len", len(f.Payload), "max", maxBody)}
		}
		return Unit{Kind: UnitPublish, Payload: f.Payload, Timestamp: f.Timestamp}
	}
}
