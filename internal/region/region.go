// Package region turns builder ops into primitive regions. The compiler
// renders primitives as commands and the verifier replays them into an
// expected-state map, so both read op geometry from one place.
package region

import (
	"fmt"
	"strconv"
	"strings"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/geom"
)

type Kind string

const (
	// Fill sets every cell of the box.
	Fill Kind = "fill"
	// Outline sets the outer layer of the box and leaves the interior alone.
	Outline Kind = "outline"
	// Replace sets cells whose current state matches Filter.
	Replace Kind = "replace"
	// Set places one cell.
	Set Kind = "set"
)

// Primitive is a box, a canonical block state and a placement rule.
type Primitive struct {
	Kind   Kind      `json:"kind"`
	Box    geom.BBox `json:"box"`
	Block  string    `json:"block"`
	Filter string    `json:"filter,omitempty"`
}

// BlockName is the placed block without properties.
func (p Primitive) BlockName() string { return blocks.CanonicalName(p.Block) }

// Estimate is an upper bound on the cells the primitive can change.
func (p Primitive) Estimate() int {
	switch p.Kind {
	case Set:
		return 1
	case Outline:
		return ShellVolume(p.Box)
	default:
		return p.Box.Volume()
	}
}

// Cells visits every cell the primitive may write, in geom.BBox.Each order.
func (p Primitive) Cells(visit func(geom.Vec3i)) {
	if p.Kind != Outline {
		p.Box.Each(visit)
		return
	}
	b := p.Box.Normalize()
	b.Each(func(c geom.Vec3i) {
		if OnShell(b, c) {
			visit(c)
		}
	})
}

func (p Primitive) WithBox(b geom.BBox) Primitive {
	p.Box = b.Normalize()
	return p
}

func (p Primitive) Reflect(axis geom.Axis, center float64) Primitive {
	return p.WithBox(p.Box.Reflect(axis, center))
}

// Command renders the primitive as world command text.
func (p Primitive) Command() string {
	b := p.Box.Normalize()
	switch p.Kind {
	case Set:
		return fmt.Sprintf("/setblock %d %d %d %s", b.Min.X, b.Min.Y, b.Min.Z, p.Block)
	case Outline:
		return fillPrefix(b) + p.Block + " outline"
	case Replace:
		return fillPrefix(b) + p.Block + " replace " + p.Filter
	default:
		return fillPrefix(b) + p.Block
	}
}

func fillPrefix(b geom.BBox) string {
	return fmt.Sprintf("/fill %d %d %d %d %d %d ", b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
}

// ParseCommand is the inverse of Command.
func ParseCommand(cmd string) (Primitive, error) {
	f := strings.Fields(cmd)
	if len(f) == 0 {
		return Primitive{}, fmt.Errorf("empty command")
	}
	switch f[0] {
	case "/setblock":
		if len(f) != 5 {
			return Primitive{}, fmt.Errorf("setblock: want 4 args, got %d", len(f)-1)
		}
		pos, err := parseVec(f[1:4])
		if err != nil {
			return Primitive{}, fmt.Errorf("setblock: %w", err)
		}
		return Primitive{Kind: Set, Box: geom.Cell(pos), Block: f[4]}, nil
	case "/fill":
		if len(f) < 8 {
			return Primitive{}, fmt.Errorf("fill: want at least 7 args, got %d", len(f)-1)
		}
		a, err := parseVec(f[1:4])
		if err != nil {
			return Primitive{}, fmt.Errorf("fill: %w", err)
		}
		b, err := parseVec(f[4:7])
		if err != nil {
			return Primitive{}, fmt.Errorf("fill: %w", err)
		}
		p := Primitive{Kind: Fill, Box: geom.Box(a, b), Block: f[7]}
		rest := f[8:]
		switch {
		case len(rest) == 0:
		case len(rest) == 1 && rest[0] == "outline":
			p.Kind = Outline
		case len(rest) == 2 && rest[0] == "replace":
			p.Kind = Replace
			p.Filter = rest[1]
		default:
			return Primitive{}, fmt.Errorf("fill: unsupported mode %q", strings.Join(rest, " "))
		}
		return p, nil
	}
	return Primitive{}, fmt.Errorf("unsupported command %q", f[0])
}

func parseVec(f []string) (geom.Vec3i, error) {
	var out [3]int
	for i, s := range f {
		n, err := strconv.Atoi(s)
		if err != nil {
			return geom.Vec3i{}, fmt.Errorf("bad coordinate %q", s)
		}
		out[i] = n
	}
	return geom.V(out[0], out[1], out[2]), nil
}

// ShellVolume counts the outer layer of b. Boxes two cells thin or less on any
// axis have no interior.
func ShellVolume(b geom.BBox) int {
	dx, dy, dz := b.Dims()
	if dx <= 2 || dy <= 2 || dz <= 2 {
		return b.Volume()
	}
	return b.Volume() - (dx-2)*(dy-2)*(dz-2)
}

func OnShell(b geom.BBox, c geom.Vec3i) bool {
	return c.X == b.Min.X || c.X == b.Max.X ||
		c.Y == b.Min.Y || c.Y == b.Max.Y ||
		c.Z == b.Min.Z || c.Z == b.Max.Z
}

// ShellFaces splits the outer layer of b into disjoint slabs whose union is
// exactly the shell.
func ShellFaces(b geom.BBox) []geom.BBox {
	b = b.Normalize()
	dx, dy, dz := b.Dims()
	if dx <= 2 || dy <= 2 || dz <= 2 {
		return []geom.BBox{b}
	}
	lo, hi := b.Min, b.Max
	return []geom.BBox{
		geom.Box(geom.V(lo.X, lo.Y, lo.Z), geom.V(hi.X, lo.Y, hi.Z)),
		geom.Box(geom.V(lo.X, hi.Y, lo.Z), geom.V(hi.X, hi.Y, hi.Z)),
		geom.Box(geom.V(lo.X, lo.Y+1, lo.Z), geom.V(hi.X, hi.Y-1, lo.Z)),
		geom.Box(geom.V(lo.X, lo.Y+1, hi.Z), geom.V(hi.X, hi.Y-1, hi.Z)),
		geom.Box(geom.V(lo.X, lo.Y+1, lo.Z+1), geom.V(lo.X, hi.Y-1, hi.Z-1)),
		geom.Box(geom.V(hi.X, lo.Y+1, lo.Z+1), geom.V(hi.X, hi.Y-1, hi.Z-1)),
	}
}

// Perimeter returns the edge ring of b at height y as disjoint segments:
// north and south rows span the full x range, west and east columns fill in
// between.
func Perimeter(b geom.BBox, y int) []geom.BBox {
	b = b.Normalize()
	x0, x1, z0, z1 := b.Min.X, b.Max.X, b.Min.Z, b.Max.Z
	out := []geom.BBox{geom.Box(geom.V(x0, y, z0), geom.V(x1, y, z0))}
	if z1 > z0 {
		out = append(out, geom.Box(geom.V(x0, y, z1), geom.V(x1, y, z1)))
	}
	if z1-z0 >= 2 {
		out = append(out, geom.Box(geom.V(x0, y, z0+1), geom.V(x0, y, z1-1)))
		if x1 > x0 {
			out = append(out, geom.Box(geom.V(x1, y, z0+1), geom.V(x1, y, z1-1)))
		}
	}
	return out
}
