package buildspec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"voxelbuild.ai/internal/errs"
)

// decoders is filled in init: the combinator decoders reach back into
// DecodeOp, which reads the map.
var decoders map[Kind]func([]byte) (Op, error)

func init() {
	decoders = map[Kind]func([]byte) (Op, error){
		KindFillCuboid: decodeAs[FillCuboid],
		KindHollowBox:  decodeAs[HollowBox],
		KindReplace:    decodeAs[Replace],
		KindRepeat:     decodeRepeat,
		KindMirror:     decodeMirror,
		KindFoundation: decodeAs[Foundation],
		KindPillarLine: decodeAs[PillarLine],
		KindBeam:       decodeAs[Beam],
		KindWindowRow:  decodeAs[WindowRow],
		KindDoor:       decodeAs[Door],
		KindStaircase:  decodeAs[Staircase],
		KindGableRoof:  decodeAs[GableRoof],
		KindHipRoof:    decodeAs[HipRoof],
		KindFlatRoof:   decodeAs[FlatRoof],
		KindTrimBand:   decodeAs[TrimBand],
		KindOverhang:   decodeAs[Overhang],
		KindBalcony:    decodeAs[Balcony],
		KindArch:       decodeAs[Arch],
		KindRoad:       decodeAs[Road],
		KindLamppost:   decodeAs[Lamppost],
	}
}

// Kinds lists every op tag the decoder understands.
func Kinds() []Kind {
	out := make([]Kind, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	return out
}

func decodeAs[T Op](b []byte) (Op, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type innerEnvelope struct {
	Inner json.RawMessage `json:"innerOp"`
}

func decodeRepeat(b []byte) (Op, error) {
	var r Repeat
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	inner, err := decodeInner(b)
	if err != nil {
		return nil, err
	}
	r.Inner = inner
	return r, nil
}

func decodeMirror(b []byte) (Op, error) {
	var m Mirror
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	inner, err := decodeInner(b)
	if err != nil {
		return nil, err
	}
	m.Inner = inner
	return m, nil
}

func decodeInner(b []byte) (Op, error) {
	var env innerEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if len(env.Inner) == 0 {
		return nil, errs.New(errs.InvalidSpec, "combinator without innerOp")
	}
	return DecodeOp(env.Inner)
}

// DecodeOp decodes one tagged op object.
func DecodeOp(b []byte) (Op, error) {
	var head struct {
		Op Kind `json:"op"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, errs.Wrap(err, errs.InvalidSpec, "decode op")
	}
	dec, ok := decoders[head.Op]
	if !ok {
		return nil, errs.New(errs.InvalidSpec, "unknown op %q", head.Op).With("op", string(head.Op))
	}
	op, err := dec(b)
	if err != nil {
		if errs.KindOf(err) != "" {
			return nil, err
		}
		return nil, errs.Wrap(err, errs.InvalidSpec, "decode %s", head.Op)
	}
	return op, nil
}

// EncodeOp writes the op as a JSON object whose first key is its tag.
func EncodeOp(op Op) ([]byte, error) {
	if op == nil {
		return nil, errs.New(errs.InvalidSpec, "nil op")
	}
	body, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	var extra []byte
	switch v := op.(type) {
	case Repeat:
		if extra, err = encodeInner(v.Inner); err != nil {
			return nil, err
		}
	case Mirror:
		if extra, err = encodeInner(v.Inner); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"op":%q`, string(op.Kind()))
	if extra != nil {
		buf.WriteString(`,"innerOp":`)
		buf.Write(extra)
	}
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeInner(op Op) ([]byte, error) {
	if op == nil {
		return nil, errs.New(errs.InvalidSpec, "combinator without innerOp")
	}
	return EncodeOp(op)
}

// OpList is the JSON form of an ordered op sequence.
type OpList []Op

func (l OpList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, op := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := EncodeOp(op)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (l *OpList) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return err
	}
	out := make(OpList, 0, len(raws))
	for i, raw := range raws {
		op, err := DecodeOp(raw)
		if err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
		out = append(out, op)
	}
	*l = out
	return nil
}
