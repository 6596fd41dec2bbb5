package region

import (
	"math"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
)

const DefaultBalconyFloor = "minecraft:oak_slab"

// Frame is the coordinate origin and palette ops resolve against.
type Frame struct {
	Origin  geom.Vec3i
	Palette blocks.Palette
}

func FrameOf(s buildspec.Spec) Frame {
	return Frame{Origin: s.Origin, Palette: s.Palette}
}

func (f Frame) Shift(off geom.Vec3i) Frame {
	return Frame{Origin: f.Origin.Add(off), Palette: f.Palette}
}

func (f Frame) box(a, b geom.Vec3i) geom.BBox {
	return geom.Box(f.Origin.Add(a), f.Origin.Add(b))
}

func (f Frame) rel(b geom.BBox) geom.BBox { return b.Translate(f.Origin) }

func (f Frame) state(s blocks.Spec) (blocks.State, error) {
	return blocks.ResolveState(s, f.Palette)
}

func (f Frame) block(s blocks.Spec) (string, error) {
	st, err := f.state(s)
	if err != nil {
		return "", err
	}
	return st.String(), nil
}

func invalid(kind buildspec.Kind, format string, args ...any) error {
	return errs.New(errs.InvalidSpec, string(kind)+": "+format, args...).With("op", string(kind))
}

// ExpandSpec visits the primitives of every op in order.
func ExpandSpec(s buildspec.Spec, visit func(Primitive) error) error {
	f := FrameOf(s)
	for _, op := range s.Ops {
		if err := Expand(f, op, visit); err != nil {
			return err
		}
	}
	return nil
}

// Expand visits the primitives of one op, combinators included. Mirror
// visits the inner primitives first and then their reflections.
func Expand(f Frame, op buildspec.Op, visit func(Primitive) error) error {
	switch o := op.(type) {
	case buildspec.Repeat:
		if err := checkRepeat(o); err != nil {
			return err
		}
		for i := 0; i < o.Count; i++ {
			sf := f.Shift(geom.V(o.DX*i, o.DY*i, o.DZ*i))
			if err := Expand(sf, o.Inner, visit); err != nil {
				return err
			}
		}
		return nil
	case buildspec.Mirror:
		if err := checkMirror(o); err != nil {
			return err
		}
		var inner []Primitive
		if err := Expand(f, o.Inner, func(p Primitive) error {
			inner = append(inner, p)
			return nil
		}); err != nil {
			return err
		}
		for _, p := range inner {
			if err := visit(p); err != nil {
				return err
			}
		}
		for _, p := range inner {
			if err := visit(p.Reflect(o.Axis, o.Center)); err != nil {
				return err
			}
		}
		return nil
	}
	prims, err := Leaf(f, op)
	if err != nil {
		return err
	}
	for _, p := range prims {
		if err := visit(p); err != nil {
			return err
		}
	}
	return nil
}

func checkRepeat(o buildspec.Repeat) error {
	if o.Inner == nil {
		return invalid(buildspec.KindRepeat, "missing innerOp")
	}
	if o.Count < 0 {
		return invalid(buildspec.KindRepeat, "count %d < 0", o.Count)
	}
	return nil
}

func checkMirror(o buildspec.Mirror) error {
	if o.Inner == nil {
		return invalid(buildspec.KindMirror, "missing innerOp")
	}
	if o.Axis != geom.AxisX && o.Axis != geom.AxisZ {
		return invalid(buildspec.KindMirror, "axis %q must be x or z", o.Axis)
	}
	if math.IsNaN(o.Center) || math.IsInf(o.Center, 0) {
		return invalid(buildspec.KindMirror, "center must be finite")
	}
	return nil
}

// CheckCombinator validates repeat and mirror parameters for callers that
// walk combinators themselves.
func CheckCombinator(op buildspec.Op) error {
	switch o := op.(type) {
	case buildspec.Repeat:
		return checkRepeat(o)
	case buildspec.Mirror:
		return checkMirror(o)
	}
	return nil
}

// Leaf expands a non-combinator op. Primitives of one leaf op never overlap,
// except where a compound deliberately layers trim over a shell or slab.
func Leaf(f Frame, op buildspec.Op) ([]Primitive, error) {
	switch o := op.(type) {
	case buildspec.FillCuboid:
		b, err := f.block(o.Block)
		if err != nil {
			return nil, err
		}
		return []Primitive{{Kind: Fill, Box: f.box(o.From, o.To), Block: b}}, nil

	case buildspec.HollowBox:
		b, err := f.block(o.Wall)
		if err != nil {
			return nil, err
		}
		box := f.box(o.From, o.To)
		out := []Primitive{{Kind: Outline, Box: box, Block: b}}
		if o.Trim != nil {
			t, err := f.block(*o.Trim)
			if err != nil {
				return nil, err
			}
			out = append(out, fills(Perimeter(box, box.Max.Y), t)...)
		}
		return out, nil

	case buildspec.Replace:
		to, err := f.block(o.ToBlock)
		if err != nil {
			return nil, err
		}
		from, err := f.block(o.FromBlock)
		if err != nil {
			return nil, err
		}
		return []Primitive{{Kind: Replace, Box: f.box(o.From, o.To), Block: to, Filter: from}}, nil

	case buildspec.Foundation:
		return foundation(f, o)
	case buildspec.PillarLine:
		return pillarLine(f, o)

	case buildspec.Beam:
		b, err := f.block(o.Material)
		if err != nil {
			return nil, err
		}
		return []Primitive{{Kind: Fill, Box: f.box(o.Start, o.End), Block: b}}, nil

	case buildspec.WindowRow:
		return windowRow(f, o)
	case buildspec.Door:
		return door(f, o)
	case buildspec.Staircase:
		return staircase(f, o)
	case buildspec.GableRoof:
		return steppedRoof(f, buildspec.KindGableRoof, o.BBox, o.Overhang, o.Block, false)
	case buildspec.HipRoof:
		return steppedRoof(f, buildspec.KindHipRoof, o.BBox, o.Overhang, o.Block, true)

	case buildspec.FlatRoof:
		b, err := f.block(o.Block)
		if err != nil {
			return nil, err
		}
		box := f.rel(o.BBox)
		out := []Primitive{{Kind: Fill, Box: box.Layer(box.Min.Y), Block: b}}
		if o.Trim != nil {
			t, err := f.block(*o.Trim)
			if err != nil {
				return nil, err
			}
			out = append(out, fills(Perimeter(box, box.Min.Y), t)...)
		}
		return out, nil

	case buildspec.TrimBand:
		b, err := f.block(o.Material)
		if err != nil {
			return nil, err
		}
		return fills(Perimeter(f.rel(o.BBox), o.Y+f.Origin.Y), b), nil

	case buildspec.Overhang:
		return overhang(f, o)
	case buildspec.Balcony:
		return balcony(f, o)
	case buildspec.Arch:
		return arch(f, o)
	case buildspec.Road:
		return road(f, o)
	case buildspec.Lamppost:
		return lamppost(f, o)
	case buildspec.Repeat, buildspec.Mirror:
		return nil, invalid(op.Kind(), "combinator passed as leaf")
	case nil:
		return nil, errs.New(errs.InvalidSpec, "nil op")
	}
	return nil, errs.New(errs.InvalidSpec, "unsupported op %q", op.Kind()).With("op", string(op.Kind()))
}

func fills(boxes []geom.BBox, block string) []Primitive {
	out := make([]Primitive, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, Primitive{Kind: Fill, Box: b, Block: block})
	}
	return out
}

func foundation(f Frame, o buildspec.Foundation) ([]Primitive, error) {
	h := o.Height
	if h == 0 {
		h = 1
	}
	if h < 0 {
		return nil, invalid(o.Kind(), "height %d < 1", o.Height)
	}
	b, err := f.block(o.Material)
	if err != nil {
		return nil, err
	}
	rect := f.rel(o.Rect)
	box := geom.Box(rect.Min, geom.V(rect.Max.X, rect.Min.Y+h-1, rect.Max.Z))
	return []Primitive{{Kind: Fill, Box: box, Block: b}}, nil
}

// roundHalfUp rounds .5 toward +inf.
func roundHalfUp(v float64) int { return int(math.Floor(v + 0.5)) }

func pillarLine(f Frame, o buildspec.PillarLine) ([]Primitive, error) {
	if o.Spacing < 1 {
		return nil, invalid(o.Kind(), "spacing %d < 1", o.Spacing)
	}
	b, err := f.block(o.Material)
	if err != nil {
		return nil, err
	}
	start, end := f.Origin.Add(o.Start), f.Origin.Add(o.End)
	dx, dz := end.X-start.X, end.Z-start.Z
	length := max(geom.AbsInt(dx), geom.AbsInt(dz))
	var sx, sz float64
	if length > 0 {
		sx, sz = float64(dx)/float64(length), float64(dz)/float64(length)
	}
	y0, y1 := min(start.Y, end.Y), max(start.Y, end.Y)

	var out []Primitive
	for i := 0; i <= length; i += o.Spacing {
		px := roundHalfUp(float64(start.X) + sx*float64(i))
		pz := roundHalfUp(float64(start.Z) + sz*float64(i))
		out = append(out, Primitive{Kind: Fill, Box: geom.Box(geom.V(px, y0, pz), geom.V(px, y1, pz)), Block: b})
	}
	return out, nil
}

func windowRow(f Frame, o buildspec.WindowRow) ([]Primitive, error) {
	if o.Every < 1 {
		return nil, invalid(o.Kind(), "every %d < 1", o.Every)
	}
	wall := f.rel(o.Wall)
	dx, _, dz := wall.Dims()
	alongX, alongZ := dz == 1, dx == 1
	if !alongX && !alongZ {
		return nil, invalid(o.Kind(), "wall %s must be 1 block thick along x or z", wall)
	}
	b, err := f.block(o.Block)
	if err != nil {
		return nil, err
	}
	y := o.Y + f.Origin.Y
	count := dz
	if alongX {
		count = dx
	}
	var out []Primitive
	for i := 0; i < count; i += o.Every {
		pos := geom.V(wall.Min.X, y, wall.Min.Z+i)
		if alongX {
			pos = geom.V(wall.Min.X+i, y, wall.Min.Z)
		}
		out = append(out, Primitive{Kind: Set, Box: geom.Cell(pos), Block: b})
	}
	return out, nil
}

var facings = map[string]bool{"north": true, "south": true, "east": true, "west": true}

func door(f Frame, o buildspec.Door) ([]Primitive, error) {
	if !facings[o.Facing] {
		return nil, invalid(o.Kind(), "facing %q", o.Facing)
	}
	hinge := o.Hinge
	if hinge == "" {
		hinge = "left"
	}
	if hinge != "left" && hinge != "right" {
		return nil, invalid(o.Kind(), "hinge %q", o.Hinge)
	}
	base, err := f.state(o.Material)
	if err != nil {
		return nil, err
	}
	pos := f.Origin.Add(o.At)
	up := pos.Add(geom.V(0, 1, 0))
	lower := base.With("facing", o.Facing, "half", "lower", "hinge", hinge, "open", "false")
	upper := base.With("facing", o.Facing, "half", "upper", "hinge", hinge, "open", "false")
	return []Primitive{
		{Kind: Set, Box: geom.Cell(pos), Block: lower.String()},
		{Kind: Set, Box: geom.Cell(up), Block: upper.String()},
	}, nil
}

// spiralTurn is the radius-2 quarter-turn cycle around the stair center.
var spiralTurn = [4]struct {
	dx, dz float64
	facing string
}{
	{2, 0, "north"},
	{0, 2, "east"},
	{-2, 0, "south"},
	{0, -2, "west"},
}

func staircase(f Frame, o buildspec.Staircase) ([]Primitive, error) {
	style := o.Style
	if style == "" {
		style = buildspec.StairsStraight
	}
	if style != buildspec.StairsStraight && style != buildspec.StairsSpiral {
		return nil, invalid(o.Kind(), "style %q", o.Style)
	}
	base, err := f.state(o.Material)
	if err != nil {
		return nil, err
	}
	start, end := f.Origin.Add(o.From), f.Origin.Add(o.To)
	height := geom.AbsInt(end.Y - start.Y)
	dir := 1
	if end.Y < start.Y {
		dir = -1
	}

	out := make([]Primitive, 0, height+1)
	stair := func(pos geom.Vec3i, facing string) {
		st := base.With("facing", facing, "half", "bottom", "shape", "straight")
		out = append(out, Primitive{Kind: Set, Box: geom.Cell(pos), Block: st.String()})
	}

	if style == buildspec.StairsStraight {
		dx, dz := end.X-start.X, end.Z-start.Z
		var step geom.Vec3i
		var facing string
		if geom.AbsInt(dx) >= geom.AbsInt(dz) {
			step, facing = geom.V(-1, 0, 0), "west"
			if dx > 0 {
				step, facing = geom.V(1, 0, 0), "east"
			}
		} else {
			step, facing = geom.V(0, 0, -1), "north"
			if dz > 0 {
				step, facing = geom.V(0, 0, 1), "south"
			}
		}
		for i := 0; i <= height; i++ {
			stair(geom.V(start.X+step.X*i, start.Y+dir*i, start.Z+step.Z*i), facing)
		}
		return out, nil
	}

	cx := float64(start.X+end.X) / 2
	cz := float64(start.Z+end.Z) / 2
	for i := 0; i <= height; i++ {
		t := spiralTurn[i%4]
		stair(geom.V(roundHalfUp(cx+t.dx), start.Y+dir*i, roundHalfUp(cz+t.dz)), t.facing)
	}
	return out, nil
}

// steppedRoof stacks shrinking layers from the bottom of the box. Gable roofs
// shrink the shorter horizontal axis, hip roofs shrink both.
func steppedRoof(f Frame, kind buildspec.Kind, rel geom.BBox, eave int, block blocks.Spec, hip bool) ([]Primitive, error) {
	if eave < 0 {
		return nil, invalid(kind, "overhang %d < 0", eave)
	}
	b, err := f.block(block)
	if err != nil {
		return nil, err
	}
	roof := f.rel(rel)
	cur := roof.ExpandXZ(eave)
	dx, _, dz := cur.Dims()
	shrinkX := dx <= dz

	var out []Primitive
	for layer := 0; ; layer++ {
		out = append(out, Primitive{Kind: Fill, Box: cur.Layer(roof.Min.Y + layer), Block: b})
		canX := cur.Min.X+1 <= cur.Max.X-1
		canZ := cur.Min.Z+1 <= cur.Max.Z-1
		switch {
		case hip:
			if !canX || !canZ {
				return out, nil
			}
			cur = geom.BBox{
				Min: geom.V(cur.Min.X+1, cur.Min.Y, cur.Min.Z+1),
				Max: geom.V(cur.Max.X-1, cur.Max.Y, cur.Max.Z-1),
			}
		case shrinkX:
			if !canX {
				return out, nil
			}
			cur.Min.X++
			cur.Max.X--
		default:
			if !canZ {
				return out, nil
			}
			cur.Min.Z++
			cur.Max.Z--
		}
	}
}

func overhang(f Frame, o buildspec.Overhang) ([]Primitive, error) {
	if o.Depth < 1 {
		return nil, invalid(o.Kind(), "depth %d < 1", o.Depth)
	}
	b, err := f.block(o.Material)
	if err != nil {
		return nil, err
	}
	box := f.rel(o.BBox)
	y, d := box.Max.Y, o.Depth
	lo, hi := box.Min, box.Max
	slabs := []geom.BBox{
		geom.Box(geom.V(lo.X-d, y, lo.Z-d), geom.V(hi.X+d, y, lo.Z-1)),
		geom.Box(geom.V(lo.X-d, y, hi.Z+1), geom.V(hi.X+d, y, hi.Z+d)),
		geom.Box(geom.V(lo.X-d, y, lo.Z), geom.V(lo.X-1, y, hi.Z)),
		geom.Box(geom.V(hi.X+1, y, lo.Z), geom.V(hi.X+d, y, hi.Z)),
	}
	return fills(slabs, b), nil
}

func balcony(f Frame, o buildspec.Balcony) ([]Primitive, error) {
	rail, err := f.block(o.RailMaterial)
	if err != nil {
		return nil, err
	}
	floor := DefaultBalconyFloor
	if o.FloorMaterial != nil {
		if floor, err = f.block(*o.FloorMaterial); err != nil {
			return nil, err
		}
	}
	box := f.rel(o.BBox)
	out := []Primitive{{Kind: Fill, Box: box.Layer(box.Min.Y), Block: floor}}
	return append(out, fills(Perimeter(box, box.Min.Y+1), rail)...), nil
}

// arch places a pillar at each end of the opening and a lintel across the top
// row. Pillars stop below the lintel.
func arch(f Frame, o buildspec.Arch) ([]Primitive, error) {
	b, err := f.block(o.Material)
	if err != nil {
		return nil, err
	}
	gap := f.rel(o.Opening)
	top := gap.Max.Y
	var out []Primitive
	if top > gap.Min.Y {
		left := geom.Box(geom.V(gap.Min.X, gap.Min.Y, gap.Min.Z), geom.V(gap.Min.X, top-1, gap.Min.Z))
		right := geom.Box(geom.V(gap.Max.X, gap.Min.Y, gap.Max.Z), geom.V(gap.Max.X, top-1, gap.Max.Z))
		out = append(out, Primitive{Kind: Fill, Box: left, Block: b})
		if right != left {
			out = append(out, Primitive{Kind: Fill, Box: right, Block: b})
		}
	}
	return append(out, Primitive{Kind: Fill, Box: gap.Layer(top), Block: b}), nil
}

func road(f Frame, o buildspec.Road) ([]Primitive, error) {
	if o.Width < 1 {
		return nil, invalid(o.Kind(), "width %d < 1", o.Width)
	}
	if len(o.Path) < 2 {
		return nil, invalid(o.Kind(), "path needs at least 2 points, got %d", len(o.Path))
	}
	surface, err := f.block(o.Material)
	if err != nil {
		return nil, err
	}
	edge := ""
	if o.EdgeMaterial != nil {
		if edge, err = f.block(*o.EdgeMaterial); err != nil {
			return nil, err
		}
	}

	lo := -(o.Width / 2)
	hi := o.Width - 1 - o.Width/2
	strip := newCellSet()
	var rim []geom.Vec3i
	for i := 0; i+1 < len(o.Path); i++ {
		p1, p2 := f.Origin.Add(o.Path[i]), f.Origin.Add(o.Path[i+1])
		dx, dz := p2.X-p1.X, p2.Z-p1.Z
		length := max(geom.AbsInt(dx), geom.AbsInt(dz))
		if length == 0 {
			continue
		}
		sx, sz := float64(dx)/float64(length), float64(dz)/float64(length)
		// perpendicular offset unit
		perp := geom.V(1, 0, 0)
		if geom.AbsInt(dx) >= geom.AbsInt(dz) {
			perp = geom.V(0, 0, 1)
		}
		for j := 0; j <= length; j++ {
			c := geom.V(roundHalfUp(float64(p1.X)+sx*float64(j)), p1.Y, roundHalfUp(float64(p1.Z)+sz*float64(j)))
			for k := lo; k <= hi; k++ {
				strip.add(geom.V(c.X+perp.X*k, c.Y, c.Z+perp.Z*k))
			}
			rim = append(rim,
				geom.V(c.X+perp.X*(lo-1), c.Y, c.Z+perp.Z*(lo-1)),
				geom.V(c.X+perp.X*(hi+1), c.Y, c.Z+perp.Z*(hi+1)))
		}
	}
	if strip.len() == 0 {
		return nil, invalid(o.Kind(), "path has no horizontal extent")
	}

	out := fills(Cover(strip.cells()), surface)
	if edge != "" {
		edges := newCellSet()
		for _, c := range rim {
			if !strip.has(c) {
				edges.add(c)
			}
		}
		out = append(out, fills(Cover(edges.cells()), edge)...)
	}
	return out, nil
}

func lamppost(f Frame, o buildspec.Lamppost) ([]Primitive, error) {
	if o.Height < 2 {
		return nil, invalid(o.Kind(), "height %d < 2", o.Height)
	}
	pole, err := f.block(o.Material)
	if err != nil {
		return nil, err
	}
	light, err := f.block(o.LightBlock)
	if err != nil {
		return nil, err
	}
	pos := f.Origin.Add(o.At)
	top := pos.Add(geom.V(0, o.Height-1, 0))
	return []Primitive{
		{Kind: Fill, Box: geom.Box(pos, geom.V(pos.X, top.Y-1, pos.Z)), Block: pole},
		{Kind: Set, Box: geom.Cell(top), Block: light},
	}, nil
}
