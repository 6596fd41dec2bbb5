package verifier

import (
	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/region"
)

// Expected maps world coordinates inside a bbox to the canonical state the
// spec leaves there. Coordinates it does not hold expect air.
type Expected map[geom.Vec3i]string

// Lookup returns the state expected at p.
func (e Expected) Lookup(p geom.Vec3i) string {
	if s, ok := e[p]; ok {
		return s
	}
	return blocks.Air
}

// ExpectedState replays the spec ops in order, clipped to bbox. Later ops
// overwrite earlier ones, and replace ops only touch cells whose expected
// state matches their filter, as in the world.
func ExpectedState(spec buildspec.Spec, bbox geom.BBox) (Expected, error) {
	bbox = bbox.Normalize()
	out := Expected{}
	err := region.ExpandSpec(spec, func(p region.Primitive) error {
		box, ok := p.Box.Intersect(bbox)
		if !ok {
			return nil
		}
		switch p.Kind {
		case region.Outline:
			// the shell of the clipped box is not the clipped shell
			p.Cells(func(c geom.Vec3i) {
				if bbox.Contains(c) {
					out[c] = p.Block
				}
			})
		case region.Replace:
			filter, err := blocks.ParseState(p.Filter)
			if err != nil {
				return errs.Wrap(err, errs.InvalidSpec, "replace filter %q", p.Filter)
			}
			box.Each(func(c geom.Vec3i) {
				cur, err := blocks.ParseState(out.Lookup(c))
				if err == nil && cur.Matches(filter) {
					out[c] = p.Block
				}
			})
		default:
			box.Each(func(c geom.Vec3i) { out[c] = p.Block })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
