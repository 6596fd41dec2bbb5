package compiler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/region"
)

// CloneSource is a scanned structure that can be copied elsewhere in the
// world.
type CloneSource struct {
	ID  string    `json:"id"`
	Box geom.BBox `json:"box"`
	// Blocks lists the block names present in Box, without properties.
	Blocks []string `json:"blocks"`
}

type CloneOptions struct {
	// Mask defaults to region.MaskReplace.
	Mask region.CloneMask `json:"mask" yaml:"mask"`
	// Mode defaults to region.ModeForce.
	Mode             region.CloneMode `json:"mode" yaml:"mode"`
	MaxCommandLength int              `json:"maxCommandLength" yaml:"max_command_length"`
}

// CloneSlices cuts src into slabs of whole x columns, each at most
// region.MaxCloneVolume cells, paired with their destinations. When the
// destination lies at a higher x the slabs run from high x to low, so no
// slab reads cells an earlier one already wrote.
func CloneSlices(src geom.BBox, dst geom.Vec3i, mask region.CloneMask, mode region.CloneMode) ([]region.Clone, error) {
	src = src.Normalize()
	dx, dy, dz := src.Dims()
	area := dy * dz
	if area > region.MaxCloneVolume {
		return nil, errs.New(errs.InvalidSpec, "clone cross-section %dx%d exceeds %d cells", dy, dz, region.MaxCloneVolume).
			With("bbox", src.String())
	}
	width := min(region.MaxCloneVolume/area, dx)

	var out []region.Clone
	for off := 0; off < dx; off += width {
		end := min(off+width, dx) - 1
		slab := src
		slab.Min.X, slab.Max.X = src.Min.X+off, src.Min.X+end
		out = append(out, region.Clone{
			Src:  slab,
			Dst:  geom.V(dst.X+off, dst.Y, dst.Z),
			Mask: mask,
			Mode: mode,
		})
	}
	if dst.X > src.Min.X {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// CompileClone renders a copy of src at dst as a script. Every step's BBox
// covers the cells it may change, so zone checks and diff capture apply as
// they do to compiled specs.
func CompileClone(src CloneSource, dst geom.Vec3i, opts CloneOptions) (Script, error) {
	limit := opts.MaxCommandLength
	if limit <= 0 {
		limit = DefaultMaxCommandLength
	}
	if opts.Mask == "" {
		opts.Mask = region.MaskReplace
	}
	if opts.Mode == "" {
		opts.Mode = region.ModeForce
	}
	slices, err := CloneSlices(src.Box, dst, opts.Mask, opts.Mode)
	if err != nil {
		return Script{}, err
	}

	names := make([]string, 0, len(src.Blocks))
	for _, n := range src.Blocks {
		names = append(names, blocks.CanonicalName(n))
	}
	sort.Strings(names)

	script := Script{SpecID: src.ID, Steps: make([]Step, 0, len(slices))}
	for i, c := range slices {
		if err := c.Validate(); err != nil {
			return Script{}, errs.Wrap(err, errs.InvalidSpec, "clone slice %d", i).With("slice", i)
		}
		cmd := c.Command()
		if len(cmd) > limit {
			return Script{}, errs.New(errs.InvalidSpec, "max command length %d is below a clone command (%d chars)", limit, len(cmd)).
				With("command", cmd)
		}
		st := Step{Command: cmd, BBox: c.DstBox(), Blocks: names, Estimate: c.Src.Volume()}
		if c.Mode == region.ModeMove {
			st.BBox = st.BBox.Union(c.Src)
			st.Estimate *= 2
		}
		if i == 0 {
			script.BBox = st.BBox
		} else {
			script.BBox = script.BBox.Union(st.BBox)
		}
		script.Estimate += st.Estimate
		script.Steps = append(script.Steps, st)
	}
	script.Commands = len(script.Steps)

	body, err := json.Marshal(struct {
		Source CloneSource `json:"source"`
		Max    int         `json:"max"`
		Steps  []Step      `json:"steps"`
	}{src, limit, script.Steps})
	if err != nil {
		return Script{}, fmt.Errorf("clone script id: %w", err)
	}
	script.ID = uuid.NewSHA1(scriptNamespace, body).String()
	return script, nil
}
