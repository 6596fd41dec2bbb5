package buildspec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/geom"
)

type Style struct {
	Family string   `json:"family,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

type Expected struct {
	BBox     geom.BBox `json:"bbox"`
	Checksum string    `json:"checksum,omitempty"`
}

// Spec is one immutable blueprint revision. Revisions form an append-only
// lineage: a child carries every op of its parent followed by its own.
type Spec struct {
	ID       string         `json:"id"`
	ParentID string         `json:"parentId,omitempty"`
	Name     string         `json:"name"`
	Origin   geom.Vec3i     `json:"origin"`
	Style    *Style         `json:"style,omitempty"`
	Palette  blocks.Palette `json:"palette,omitempty"`
	Ops      OpList         `json:"ops"`
	Expected *Expected      `json:"expected,omitempty"`
}

func New(name string, origin geom.Vec3i, palette blocks.Palette, ops ...Op) Spec {
	return Spec{
		ID:      uuid.NewString(),
		Name:    name,
		Origin:  origin,
		Palette: palette.Clone(),
		Ops:     append(OpList(nil), ops...),
	}
}

// Revise returns a child revision with ops appended. The receiver is left
// untouched; the child never shares the parent's backing array.
func (s Spec) Revise(ops ...Op) Spec {
	child := s
	child.ID = uuid.NewString()
	child.ParentID = s.ID
	child.Palette = s.Palette.Clone()
	child.Ops = make(OpList, 0, len(s.Ops)+len(ops))
	child.Ops = append(child.Ops, s.Ops...)
	child.Ops = append(child.Ops, ops...)
	child.Expected = nil
	if s.Style != nil {
		st := *s.Style
		st.Tags = append([]string(nil), s.Style.Tags...)
		child.Style = &st
	}
	return child
}

// Checksum is a content hash of the origin, palette and ops. Ids are excluded
// so two revisions with the same content hash equal.
func (s Spec) Checksum() (string, error) {
	body, err := json.Marshal(struct {
		Origin  geom.Vec3i     `json:"origin"`
		Palette blocks.Palette `json:"palette,omitempty"`
		Ops     OpList         `json:"ops"`
	}{s.Origin, s.Palette, s.Ops})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// WithExpected returns a copy carrying the cached expected bbox and checksum.
func (s Spec) WithExpected(box geom.BBox) (Spec, error) {
	sum, err := s.Checksum()
	if err != nil {
		return Spec{}, err
	}
	s.Expected = &Expected{BBox: box.Normalize(), Checksum: sum}
	return s, nil
}
