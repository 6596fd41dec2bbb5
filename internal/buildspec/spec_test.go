package buildspec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
)

const cottageYAML = `
name: cottage
origin: {x: 100, y: 64, z: -20}
palette:
  wall: minecraft:stone_bricks
ops:
  - op: foundation
    rect: {min: {x: 0, y: 0, z: 0}, max: {x: 9, y: 0, z: 9}}
    material: {name: cobblestone}
  - op: mirror
    axis: x
    center: 4.5
    innerOp:
      op: repeat
      dx: 0
      dy: 0
      dz: 3
      count: 3
      innerOp:
        op: fillCuboid
        from: {x: 0, y: 1, z: 0}
        to: {x: 0, y: 3, z: 0}
        block: {bind: wall}
  - op: door
    at: {x: 4, y: 1, z: 0}
    facing: south
    material: {name: oak_door}
`

func TestDecode_YAMLWithCombinators(t *testing.T) {
	spec, err := Decode([]byte(cottageYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if spec.ID == "" {
		t.Fatalf("expected generated id")
	}
	want := OpList{
		Foundation{Rect: geom.Box(geom.V(0, 0, 0), geom.V(9, 0, 9)), Material: blocks.Spec{Name: "cobblestone"}},
		Mirror{Axis: geom.AxisX, Center: 4.5, Inner: Repeat{DZ: 3, Count: 3, Inner: FillCuboid{
			From: geom.V(0, 1, 0), To: geom.V(0, 3, 0), Block: blocks.Spec{Bind: "wall"},
		}}},
		Door{At: geom.V(4, 1, 0), Facing: "south", Material: blocks.Spec{Name: "oak_door"}},
	}
	if diff := cmp.Diff(want, spec.Ops); diff != "" {
		t.Fatalf("ops mismatch (-want +got):\n%s", diff)
	}
	if spec.Origin != geom.V(100, 64, -20) || spec.Palette["wall"] != "minecraft:stone_bricks" {
		t.Fatalf("header: %+v", spec)
	}
}

func TestEncodeDecode_JSONStable(t *testing.T) {
	spec, err := Decode([]byte(cottageYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b1, err := Encode(spec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := Decode(b1)
	if err != nil {
		t.Fatalf("decode json: %v", err)
	}
	b2, _ := Encode(again)
	if string(b1) != string(b2) {
		t.Fatalf("encoding not stable:\n%s\n---\n%s", b1, b2)
	}

	var head map[string]any
	op0, _ := EncodeOp(spec.Ops[1])
	_ = json.Unmarshal(op0, &head)
	if head["op"] != "mirror" {
		t.Fatalf("tag missing: %s", op0)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"unknown op", `{"name":"x","origin":{"x":0,"y":0,"z":0},"ops":[{"op":"teleport"}]}`},
		{"missing block", `{"name":"x","origin":{"x":0,"y":0,"z":0},"ops":[{"op":"fillCuboid","from":{"x":0,"y":0,"z":0},"to":{"x":1,"y":1,"z":1}}]}`},
		{"lamppost too short", `{"name":"x","origin":{"x":0,"y":0,"z":0},"ops":[{"op":"lamppost","at":{"x":0,"y":0,"z":0},"height":1,"material":{"name":"a"},"lightBlock":{"name":"b"}}]}`},
		{"not a document", `name: [`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode([]byte(c.doc))
			if !errs.Has(err, errs.InvalidSpec) {
				t.Fatalf("expected InvalidSpec, got %v", err)
			}
		})
	}
}

func TestDecodeOp_UnknownKind(t *testing.T) {
	_, err := DecodeOp([]byte(`{"op":"teleport"}`))
	if !errs.Has(err, errs.InvalidSpec) {
		t.Fatalf("expected InvalidSpec, got %v", err)
	}
}

func TestRevise_AppendsWithoutMutatingParent(t *testing.T) {
	parent := New("shed", geom.V(0, 0, 0), blocks.Palette{"a": "stone"},
		FillCuboid{From: geom.V(0, 0, 0), To: geom.V(1, 1, 1), Block: blocks.Spec{Bind: "a"}})
	parentSum, _ := parent.Checksum()

	patch := SetBlock(geom.V(2, 0, 0), "minecraft:glass")
	child := parent.Revise(patch)
	child.Palette["a"] = "dirt"

	if len(parent.Ops) != 1 || len(child.Ops) != 2 {
		t.Fatalf("ops: parent %d child %d", len(parent.Ops), len(child.Ops))
	}
	if child.ParentID != parent.ID || child.ID == parent.ID {
		t.Fatalf("lineage: parent %s child %s->%s", parent.ID, child.ParentID, child.ID)
	}
	if parent.Palette["a"] != "stone" {
		t.Fatalf("palette shared with child")
	}
	if sum, _ := parent.Checksum(); sum != parentSum {
		t.Fatalf("parent checksum changed")
	}

	grand := child.Revise(patch)
	if &grand.Ops[0] == &child.Ops[0] {
		t.Fatalf("child shares backing array with grandchild")
	}
}

func TestChecksum_IgnoresIDs(t *testing.T) {
	op := Beam{Start: geom.V(0, 0, 0), End: geom.V(3, 0, 0), Material: blocks.Spec{Name: "oak_log"}}
	a := New("a", geom.V(1, 2, 3), nil, op)
	b := New("b", geom.V(1, 2, 3), nil, op)
	sa, _ := a.Checksum()
	sb, _ := b.Checksum()
	if sa != sb {
		t.Fatalf("checksum depends on id/name: %s vs %s", sa, sb)
	}
	c := New("c", geom.V(1, 2, 4), nil, op)
	if sc, _ := c.Checksum(); sc == sa {
		t.Fatalf("checksum ignores origin")
	}
}

func TestWriteFile_YAMLRoundTrip(t *testing.T) {
	spec, err := Decode([]byte(cottageYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "cottage.yaml")
	if err := WriteFile(path, spec); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, _ := os.ReadFile(path)
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("reload: %v\n%s", err, raw)
	}
	if diff := cmp.Diff(spec.Ops, got.Ops); diff != "" {
		t.Fatalf("ops changed (-want +got):\n%s", diff)
	}
	if got.ID != spec.ID {
		t.Fatalf("id not preserved")
	}
}

func TestDecodeOp_NestedCombinators(t *testing.T) {
	raw := `{"op":"mirror","axis":"x","center":10,"innerOp":{"op":"repeat","dx":2,"count":3,` +
		`"innerOp":{"op":"fillCuboid","from":{"x":0,"y":0,"z":0},"to":{"x":0,"y":1,"z":0},"block":{"name":"stone"}}}}`
	op, err := DecodeOp([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := op.(Mirror)
	if !ok {
		t.Fatalf("got %T want Mirror", op)
	}
	r, ok := m.Inner.(Repeat)
	if !ok {
		t.Fatalf("inner: got %T want Repeat", m.Inner)
	}
	if r.Count != 3 || r.DX != 2 {
		t.Fatalf("repeat: %+v", r)
	}
	fill, ok := r.Inner.(FillCuboid)
	if !ok || fill.Block.Name != "stone" || fill.To != geom.V(0, 1, 0) {
		t.Fatalf("leaf: %#v", r.Inner)
	}

	back, err := EncodeOp(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := DecodeOp(back)
	if err != nil {
		t.Fatalf("decode again: %v", err)
	}
	if diff := cmp.Diff(op, again); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}
