package region

import (
	"fmt"
	"strings"

	"voxelbuild.ai/internal/geom"
)

// MaxCloneVolume is the largest source box a single /clone may copy.
const MaxCloneVolume = 32768

type CloneMask string

const (
	// MaskReplace copies every cell, air included.
	MaskReplace CloneMask = "replace"
	// MaskMasked leaves destination cells alone where the source is air.
	MaskMasked CloneMask = "masked"
)

type CloneMode string

const (
	ModeForce  CloneMode = "force"
	ModeMove   CloneMode = "move"
	ModeNormal CloneMode = "normal"
)

// Clone copies Src so that its minimum corner lands on Dst.
type Clone struct {
	Src  geom.BBox  `json:"src"`
	Dst  geom.Vec3i `json:"dst"`
	Mask CloneMask  `json:"mask"`
	Mode CloneMode  `json:"mode"`
}

// DstBox is the box the clone writes.
func (c Clone) DstBox() geom.BBox {
	src := c.Src.Normalize()
	return src.Translate(c.Dst.Sub(src.Min))
}

// Command renders the clone as world command text.
func (c Clone) Command() string {
	b := c.Src.Normalize()
	return fmt.Sprintf("/clone %d %d %d %d %d %d %d %d %d %s %s",
		b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z,
		c.Dst.X, c.Dst.Y, c.Dst.Z, c.Mask, c.Mode)
}

// ParseClone is the inverse of Clone.Command. Mask and mode may be omitted
// and default to replace and normal.
func ParseClone(cmd string) (Clone, error) {
	f := strings.Fields(cmd)
	if len(f) == 0 || f[0] != "/clone" {
		return Clone{}, fmt.Errorf("not a clone command")
	}
	if len(f) < 10 || len(f) > 12 {
		return Clone{}, fmt.Errorf("clone: want 9 to 11 args, got %d", len(f)-1)
	}
	a, err := parseVec(f[1:4])
	if err != nil {
		return Clone{}, fmt.Errorf("clone: %w", err)
	}
	b, err := parseVec(f[4:7])
	if err != nil {
		return Clone{}, fmt.Errorf("clone: %w", err)
	}
	dst, err := parseVec(f[7:10])
	if err != nil {
		return Clone{}, fmt.Errorf("clone: %w", err)
	}
	c := Clone{Src: geom.Box(a, b), Dst: dst, Mask: MaskReplace, Mode: ModeNormal}
	if len(f) > 10 {
		c.Mask = CloneMask(f[10])
	}
	if len(f) > 11 {
		c.Mode = CloneMode(f[11])
	}
	if err := c.Validate(); err != nil {
		return Clone{}, err
	}
	return c, nil
}

func (c Clone) Validate() error {
	switch c.Mask {
	case MaskReplace, MaskMasked:
	default:
		return fmt.Errorf("clone: unsupported mask mode %q", c.Mask)
	}
	switch c.Mode {
	case ModeForce, ModeMove, ModeNormal:
	default:
		return fmt.Errorf("clone: unsupported clone mode %q", c.Mode)
	}
	if v := c.Src.Volume(); v > MaxCloneVolume {
		return fmt.Errorf("clone: source volume %d exceeds %d", v, MaxCloneVolume)
	}
	if c.Mode != ModeForce && c.Src.Normalize().Overlaps(c.DstBox()) {
		return fmt.Errorf("clone: source and destination overlap")
	}
	return nil
}
