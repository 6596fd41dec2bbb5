// Package compiler turns a build spec into a script of length-bounded world
// commands. Compile is pure: the same spec and options always produce the
// same script, id included.
package compiler

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/region"
)

const DefaultMaxCommandLength = 256

var scriptNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://voxelbuild.ai/script"))

type Options struct {
	// MaxCommandLength bounds every emitted command. Zero means
	// DefaultMaxCommandLength.
	MaxCommandLength int `json:"maxCommandLength" yaml:"max_command_length"`
}

type Step struct {
	Command string    `json:"command"`
	BBox    geom.BBox `json:"bbox"`
	// Blocks lists the block names the step can place, without properties.
	Blocks    []string         `json:"blocks"`
	Estimate  int              `json:"estimate"`
	Primitive region.Primitive `json:"primitive"`
}

type Script struct {
	ID       string    `json:"id"`
	SpecID   string    `json:"specId"`
	Steps    []Step    `json:"steps"`
	BBox     geom.BBox `json:"bbox"`
	Estimate int       `json:"estimate"`
	Commands int       `json:"commands"`
}

// CommandList returns the command text of every step in order.
func (s Script) CommandList() []string {
	out := make([]string, len(s.Steps))
	for i, st := range s.Steps {
		out[i] = st.Command
	}
	return out
}

type compiler struct {
	max   int
	steps []Step
}

// Compile rejects the whole spec on the first error; no partial script is
// returned.
func Compile(spec buildspec.Spec, opts Options) (Script, error) {
	limit := opts.MaxCommandLength
	if limit <= 0 {
		limit = DefaultMaxCommandLength
	}
	c := &compiler{max: limit}
	f := region.FrameOf(spec)
	for i, op := range spec.Ops {
		if err := c.op(f, op); err != nil {
			var e *errs.Error
			if errors.As(err, &e) {
				e.With("op_index", i)
			}
			return Script{}, err
		}
	}

	script := Script{
		SpecID:   spec.ID,
		Steps:    c.steps,
		BBox:     geom.Cell(spec.Origin),
		Commands: len(c.steps),
	}
	if script.Steps == nil {
		script.Steps = []Step{}
	}
	for i, st := range c.steps {
		if i == 0 {
			script.BBox = st.BBox
		} else {
			script.BBox = script.BBox.Union(st.BBox)
		}
		script.Estimate += st.Estimate
	}

	body, err := json.Marshal(struct {
		SpecID string `json:"specId"`
		Max    int    `json:"max"`
		Steps  []Step `json:"steps"`
	}{spec.ID, limit, script.Steps})
	if err != nil {
		return Script{}, err
	}
	script.ID = uuid.NewSHA1(scriptNamespace, body).String()
	return script, nil
}

func (c *compiler) op(f region.Frame, op buildspec.Op) error {
	if err := region.CheckCombinator(op); err != nil {
		return err
	}
	switch o := op.(type) {
	case buildspec.Repeat:
		for i := 0; i < o.Count; i++ {
			if err := c.op(f.Shift(geom.V(o.DX*i, o.DY*i, o.DZ*i)), o.Inner); err != nil {
				return err
			}
		}
		return nil
	case buildspec.Mirror:
		return c.mirror(f, o)
	}
	prims, err := region.Leaf(f, op)
	if err != nil {
		return err
	}
	for _, p := range prims {
		if err := c.emit(p); err != nil {
			return err
		}
	}
	return nil
}

// mirror compiles the inner op, then re-renders each resulting step from its
// reflected primitive. A reflection whose text no longer fits is decomposed
// again.
func (c *compiler) mirror(f region.Frame, o buildspec.Mirror) error {
	start := len(c.steps)
	if err := c.op(f, o.Inner); err != nil {
		return err
	}
	inner := append([]Step(nil), c.steps[start:]...)
	for _, st := range inner {
		if err := c.emit(st.Primitive.Reflect(o.Axis, o.Center)); err != nil {
			return err
		}
	}
	return nil
}

// emit appends p as one step when its command fits, and otherwise bisects it
// along its largest axis (ties: x, then z, then y). Outline shells that do not
// fit are split into disjoint face slabs first.
func (c *compiler) emit(p region.Primitive) error {
	cmd := p.Command()
	if len(cmd) <= c.max {
		c.steps = append(c.steps, Step{
			Command:   cmd,
			BBox:      p.Box,
			Blocks:    []string{p.BlockName()},
			Estimate:  p.Estimate(),
			Primitive: p,
		})
		return nil
	}

	if p.Box.Volume() == 1 {
		if p.Kind == region.Fill || p.Kind == region.Outline {
			p.Kind = region.Set
			if len(p.Command()) <= c.max {
				return c.emit(p)
			}
		}
		return errs.New(errs.InvalidSpec, "max command length %d is below a single-cell command (%d chars)", c.max, len(p.Command())).
			With("command", p.Command())
	}

	if p.Kind == region.Outline {
		for _, face := range region.ShellFaces(p.Box) {
			if err := c.emit(region.Primitive{Kind: region.Fill, Box: face, Block: p.Block}); err != nil {
				return err
			}
		}
		return nil
	}

	a, b := Bisect(p.Box)
	if err := c.emit(p.WithBox(a)); err != nil {
		return err
	}
	return c.emit(p.WithBox(b))
}

// Bisect splits b at floor((min+max)/2) of its largest axis. b must hold more
// than one cell.
func Bisect(b geom.BBox) (geom.BBox, geom.BBox) {
	b = b.Normalize()
	dx, dy, dz := b.Dims()
	lo, hi := b, b
	switch {
	case dx >= dy && dx >= dz:
		mid := geom.FloorDiv(b.Min.X+b.Max.X, 2)
		lo.Max.X, hi.Min.X = mid, mid+1
	case dz >= dy:
		mid := geom.FloorDiv(b.Min.Z+b.Max.Z, 2)
		lo.Max.Z, hi.Min.Z = mid, mid+1
	default:
		mid := geom.FloorDiv(b.Min.Y+b.Max.Y, 2)
		lo.Max.Y, hi.Min.Y = mid, mid+1
	}
	return lo, hi
}
