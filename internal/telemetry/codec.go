package telemetry

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// SchemaVersion is written into every KiteOpt message.
const SchemaVersion = 1

// ErrMalformed indicates a payload that is not a KiteOpt message.
var ErrMalformed = errors.New("telemetry: malformed message")

// KiteState holds one sampled node. P is shared by every node of a message.
type KiteState struct {
	X []float64
	U []float64
	P []float64
}

// KiteOpt mirrors the KiteOpt message in kite.proto.
type KiteOpt struct {
	States        []KiteState
	EndTime       float64
	WindSpeed     float64
	Iters         int32
	Stage         uint32
	StateNames    []string
	ControlNames  []string
	ParamNames    []string
	SchemaVersion uint32
}

const (
	fieldCSS           protowire.Number = 1
	fieldEndTime       protowire.Number = 2
	fieldWindSpeed     protowire.Number = 3
	fieldIters         protowire.Number = 4
	fieldStage         protowire.Number = 5
	fieldStateNames    protowire.Number = 6
	fieldControlNames  protowire.Number = 7
	fieldParamNames    protowire.Number = 8
	fieldSchemaVersion protowire.Number = 15

	fieldX protowire.Number = 1
	fieldU protowire.Number = 2
	fieldP protowire.Number = 3
)

func appendPacked(b []byte, num protowire.Number, v []float64) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(8*len(v)))
	for _, f := range v {
		b = protowire.AppendFixed64(b, math.Float64bits(f))
	}
	return b
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStrings(b []byte, num protowire.Number, ss []string) []byte {
	for _, s := range ss {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func (s *KiteState) appendTo(b []byte) []byte {
	b = appendPacked(b, fieldX, s.X)
	b = appendPacked(b, fieldU, s.U)
	return appendPacked(b, fieldP, s.P)
}

// Marshal encodes m in proto3 wire format.
func (m *KiteOpt) Marshal() []byte {
	return m.AppendMarshal(nil)
}

// AppendMarshal appends the encoding of m to b.
func (m *KiteOpt) AppendMarshal(b []byte) []byte {
	var scratch []byte
	for i := range m.States {
		scratch = m.States[i].appendTo(scratch[:0])
		b = protowire.AppendTag(b, fieldCSS, protowire.BytesType)
		b = protowire.AppendBytes(b, scratch)
	}
	b = appendDouble(b, fieldEndTime, m.EndTime)
	b = appendDouble(b, fieldWindSpeed, m.WindSpeed)
	b = appendVarint(b, fieldIters, uint64(int64(m.Iters)))
	b = appendVarint(b, fieldStage, uint64(m.Stage))
	b = appendStrings(b, fieldStateNames, m.StateNames)
	b = appendStrings(b, fieldControlNames, m.ControlNames)
	b = appendStrings(b, fieldParamNames, m.ParamNames)
	b = appendVarint(b, fieldSchemaVersion, uint64(m.SchemaVersion))
	return b
}

func malformed(field protowire.Number, n int) error {
	return fmt.Errorf("%w: field %d: %v", ErrMalformed, field, protowire.ParseError(n))
}

// consumeDoubles accepts both packed and unpacked encodings.
func consumeDoubles(dst []float64, num protowire.Number, typ protowire.Type, b []byte) ([]float64, int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return dst, 0, malformed(num, n)
		}
		return append(dst, math.Float64frombits(v)), n, nil
	case protowire.BytesType:
		buf, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, 0, malformed(num, n)
		}
		if len(buf)%8 != 0 {
			return dst, 0, fmt.Errorf("%w: field %d: packed length %d", ErrMalformed, num, len(buf))
		}
		for len(buf) > 0 {
			v, m := protowire.ConsumeFixed64(buf)
			dst = append(dst, math.Float64frombits(v))
			buf = buf[m:]
		}
		return dst, n, nil
	}
	return dst, 0, fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, num, typ)
}

func unmarshalState(b []byte) (KiteState, error) {
	var s KiteState
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, malformed(0, n)
		}
		b = b[n:]
		var err error
		switch num {
		case fieldX:
			s.X, n, err = consumeDoubles(s.X, num, typ, b)
		case fieldU:
			s.U, n, err = consumeDoubles(s.U, num, typ, b)
		case fieldP:
			s.P, n, err = consumeDoubles(s.P, num, typ, b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				err = malformed(num, n)
			}
		}
		if err != nil {
			return s, err
		}
		b = b[n:]
	}
	return s, nil
}

// Unmarshal decodes a KiteOpt payload. Unknown fields are skipped.
func Unmarshal(b []byte) (*KiteOpt, error) {
	m := &KiteOpt{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(0, n)
		}
		b = b[n:]

		switch {
		case num == fieldCSS && typ == protowire.BytesType:
			buf, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(num, n)
			}
			s, err := unmarshalState(buf)
			if err != nil {
				return nil, err
			}
			m.States = append(m.States, s)
			b = b[n:]
		case (num == fieldEndTime || num == fieldWindSpeed) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, malformed(num, n)
			}
			if num == fieldEndTime {
				m.EndTime = math.Float64frombits(v)
			} else {
				m.WindSpeed = math.Float64frombits(v)
			}
			b = b[n:]
		case (num == fieldIters || num == fieldStage || num == fieldSchemaVersion) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(num, n)
			}
			switch num {
			case fieldIters:
				m.Iters = int32(v)
			case fieldStage:
				m.Stage = uint32(v)
			default:
				m.SchemaVersion = uint32(v)
			}
			b = b[n:]
		case (num == fieldStateNames || num == fieldControlNames || num == fieldParamNames) && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, malformed(num, n)
			}
			switch num {
			case fieldStateNames:
				m.StateNames = append(m.StateNames, s)
			case fieldControlNames:
				m.ControlNames = append(m.ControlNames, s)
			default:
				m.ParamNames = append(m.ParamNames, s)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(num, n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// Lookup returns the value of a named state, control or parameter at
// sampled node k.
func (m *KiteOpt) Lookup(name string, k int) (float64, bool) {
	if k < 0 || k >= len(m.States) {
		return 0, false
	}
	s := m.States[k]
	for _, group := range []struct {
		names []string
		vals  []float64
	}{{m.StateNames, s.X}, {m.ControlNames, s.U}, {m.ParamNames, s.P}} {
		for i, n := range group.names {
			if n == name && i < len(group.vals) {
				return group.vals[i], true
			}
		}
	}
	return 0, false
}
