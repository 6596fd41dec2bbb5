package geom

import (
	"fmt"
	"math"
)

type Vec3i struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

func V(x, y, z int) Vec3i { return Vec3i{X: x, Y: y, Z: z} }

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d,%d,%d", v.X, v.Y, v.Z) }

// BBox is an inclusive axis-aligned box. Every constructor in this package
// returns it normalized (Min <= Max on each axis).
type BBox struct {
	Min Vec3i `json:"min" yaml:"min"`
	Max Vec3i `json:"max" yaml:"max"`
}

func Box(a, b Vec3i) BBox { return BBox{Min: a, Max: b}.Normalize() }

func Cell(p Vec3i) BBox { return BBox{Min: p, Max: p} }

func (b BBox) Normalize() BBox {
	return BBox{
		Min: Vec3i{X: min(b.Min.X, b.Max.X), Y: min(b.Min.Y, b.Max.Y), Z: min(b.Min.Z, b.Max.Z)},
		Max: Vec3i{X: max(b.Min.X, b.Max.X), Y: max(b.Min.Y, b.Max.Y), Z: max(b.Min.Z, b.Max.Z)},
	}
}

func (b BBox) Dims() (dx, dy, dz int) {
	n := b.Normalize()
	return n.Max.X - n.Min.X + 1, n.Max.Y - n.Min.Y + 1, n.Max.Z - n.Min.Z + 1
}

func (b BBox) Volume() int {
	dx, dy, dz := b.Dims()
	return dx * dy * dz
}

func (b BBox) Union(o BBox) BBox {
	a := b.Normalize()
	c := o.Normalize()
	return BBox{
		Min: Vec3i{X: min(a.Min.X, c.Min.X), Y: min(a.Min.Y, c.Min.Y), Z: min(a.Min.Z, c.Min.Z)},
		Max: Vec3i{X: max(a.Max.X, c.Max.X), Y: max(a.Max.Y, c.Max.Y), Z: max(a.Max.Z, c.Max.Z)},
	}
}

func (b BBox) Contains(p Vec3i) bool {
	n := b.Normalize()
	return p.X >= n.Min.X && p.X <= n.Max.X &&
		p.Y >= n.Min.Y && p.Y <= n.Max.Y &&
		p.Z >= n.Min.Z && p.Z <= n.Max.Z
}

func (b BBox) ContainsBox(inner BBox) bool {
	i := inner.Normalize()
	return b.Contains(i.Min) && b.Contains(i.Max)
}

func (b BBox) Overlaps(o BBox) bool {
	a := b.Normalize()
	c := o.Normalize()
	return a.Min.X <= c.Max.X && c.Min.X <= a.Max.X &&
		a.Min.Y <= c.Max.Y && c.Min.Y <= a.Max.Y &&
		a.Min.Z <= c.Max.Z && c.Min.Z <= a.Max.Z
}

// Intersect returns the overlap of b and o; ok is false when they are
// disjoint.
func (b BBox) Intersect(o BBox) (BBox, bool) {
	if !b.Overlaps(o) {
		return BBox{}, false
	}
	a := b.Normalize()
	c := o.Normalize()
	return BBox{
		Min: Vec3i{X: max(a.Min.X, c.Min.X), Y: max(a.Min.Y, c.Min.Y), Z: max(a.Min.Z, c.Min.Z)},
		Max: Vec3i{X: min(a.Max.X, c.Max.X), Y: min(a.Max.Y, c.Max.Y), Z: min(a.Max.Z, c.Max.Z)},
	}, true
}

func (b BBox) Translate(off Vec3i) BBox {
	return BBox{Min: b.Min.Add(off), Max: b.Max.Add(off)}.Normalize()
}

// ExpandXZ grows the box by n cells on both sides of the x and z axes.
func (b BBox) ExpandXZ(n int) BBox {
	a := b.Normalize()
	return BBox{
		Min: Vec3i{X: a.Min.X - n, Y: a.Min.Y, Z: a.Min.Z - n},
		Max: Vec3i{X: a.Max.X + n, Y: a.Max.Y, Z: a.Max.Z + n},
	}.Normalize()
}

// Layer returns the horizontal slice of b at height y.
func (b BBox) Layer(y int) BBox {
	a := b.Normalize()
	return BBox{Min: Vec3i{X: a.Min.X, Y: y, Z: a.Min.Z}, Max: Vec3i{X: a.Max.X, Y: y, Z: a.Max.Z}}
}

// Each visits every cell, x outermost, then y, then z.
func (b BBox) Each(visit func(Vec3i)) {
	n := b.Normalize()
	for x := n.Min.X; x <= n.Max.X; x++ {
		for y := n.Min.Y; y <= n.Max.Y; y++ {
			for z := n.Min.Z; z <= n.Max.Z; z++ {
				visit(Vec3i{X: x, Y: y, Z: z})
			}
		}
	}
}

func (b BBox) String() string { return fmt.Sprintf("[%s..%s]", b.Min, b.Max) }

type Axis string

const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// ReflectCoord mirrors v across center: floor(2*center - v).
func ReflectCoord(v int, center float64) int {
	return int(math.Floor(2*center - float64(v)))
}

func (v Vec3i) Reflect(axis Axis, center float64) Vec3i {
	switch axis {
	case AxisX:
		v.X = ReflectCoord(v.X, center)
	case AxisZ:
		v.Z = ReflectCoord(v.Z, center)
	case AxisY:
		v.Y = ReflectCoord(v.Y, center)
	}
	return v
}

func (b BBox) Reflect(axis Axis, center float64) BBox {
	return BBox{Min: b.Min.Reflect(axis, center), Max: b.Max.Reflect(axis, center)}.Normalize()
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
