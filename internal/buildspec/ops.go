package buildspec

import (
	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/geom"
)

type Kind string

const (
	KindFillCuboid Kind = "fillCuboid"
	KindHollowBox  Kind = "hollowBox"
	KindReplace    Kind = "replace"
	KindRepeat     Kind = "repeat"
	KindMirror     Kind = "mirror"

	KindFoundation Kind = "foundation"
	KindPillarLine Kind = "pillarLine"
	KindBeam       Kind = "beam"
	KindWindowRow  Kind = "windowRow"
	KindDoor       Kind = "door"
	KindStaircase  Kind = "staircase"

	KindGableRoof Kind = "gableRoof"
	KindHipRoof   Kind = "hipRoof"
	KindFlatRoof  Kind = "flatRoof"

	KindTrimBand Kind = "trimBand"
	KindOverhang Kind = "overhang"
	KindBalcony  Kind = "balcony"
	KindArch     Kind = "arch"

	KindRoad     Kind = "road"
	KindLamppost Kind = "lamppost"
)

// Op is one builder instruction. Coordinates are relative to the spec origin.
type Op interface {
	Kind() Kind
}

type FillCuboid struct {
	From  geom.Vec3i  `json:"from"`
	To    geom.Vec3i  `json:"to"`
	Block blocks.Spec `json:"block"`
}

// HollowBox places the outer layer of the box and leaves the interior as is.
type HollowBox struct {
	From geom.Vec3i   `json:"from"`
	To   geom.Vec3i   `json:"to"`
	Wall blocks.Spec  `json:"wall"`
	Trim *blocks.Spec `json:"trim,omitempty"`
}

type Replace struct {
	From      geom.Vec3i  `json:"from"`
	To        geom.Vec3i  `json:"to"`
	FromBlock blocks.Spec `json:"fromBlock"`
	ToBlock   blocks.Spec `json:"toBlock"`
}

type Repeat struct {
	Inner Op  `json:"-"`
	DX    int `json:"dx"`
	DY    int `json:"dy"`
	DZ    int `json:"dz"`
	Count int `json:"count"`
}

type Mirror struct {
	Inner  Op        `json:"-"`
	Axis   geom.Axis `json:"axis"`
	Center float64   `json:"center"`
}

type Foundation struct {
	Rect     geom.BBox   `json:"rect"`
	Material blocks.Spec `json:"material"`
	Height   int         `json:"height,omitempty"`
}

type PillarLine struct {
	Start    geom.Vec3i  `json:"start"`
	End      geom.Vec3i  `json:"end"`
	Material blocks.Spec `json:"material"`
	Spacing  int         `json:"spacing"`
}

type Beam struct {
	Start    geom.Vec3i  `json:"start"`
	End      geom.Vec3i  `json:"end"`
	Material blocks.Spec `json:"material"`
}

type WindowRow struct {
	Wall  geom.BBox   `json:"wall"`
	Y     int         `json:"y"`
	Every int         `json:"every"`
	Block blocks.Spec `json:"block"`
}

type Door struct {
	At       geom.Vec3i  `json:"at"`
	Facing   string      `json:"facing"`
	Material blocks.Spec `json:"material"`
	Hinge    string      `json:"hinge,omitempty"`
}

const (
	StairsStraight = "straight"
	StairsSpiral   = "spiral"
)

type Staircase struct {
	From     geom.Vec3i  `json:"from"`
	To       geom.Vec3i  `json:"to"`
	Material blocks.Spec `json:"material"`
	Style    string      `json:"style"`
}

type GableRoof struct {
	BBox     geom.BBox   `json:"bbox"`
	Overhang int         `json:"overhang,omitempty"`
	Block    blocks.Spec `json:"block"`
}

type HipRoof struct {
	BBox     geom.BBox   `json:"bbox"`
	Overhang int         `json:"overhang,omitempty"`
	Block    blocks.Spec `json:"block"`
}

type FlatRoof struct {
	BBox  geom.BBox    `json:"bbox"`
	Trim  *blocks.Spec `json:"trim,omitempty"`
	Block blocks.Spec  `json:"block"`
}

type TrimBand struct {
	BBox     geom.BBox   `json:"bbox"`
	Y        int         `json:"y"`
	Material blocks.Spec `json:"material"`
}

type Overhang struct {
	BBox     geom.BBox   `json:"bbox"`
	Depth    int         `json:"depth"`
	Material blocks.Spec `json:"material"`
}

type Balcony struct {
	BBox          geom.BBox    `json:"bbox"`
	RailMaterial  blocks.Spec  `json:"railMaterial"`
	FloorMaterial *blocks.Spec `json:"floorMaterial,omitempty"`
}

type Arch struct {
	Opening  geom.BBox   `json:"opening"`
	Material blocks.Spec `json:"material"`
}

type Road struct {
	Path         []geom.Vec3i `json:"path"`
	Width        int          `json:"width"`
	Material     blocks.Spec  `json:"material"`
	EdgeMaterial *blocks.Spec `json:"edgeMaterial,omitempty"`
}

type Lamppost struct {
	At         geom.Vec3i  `json:"at"`
	Height     int         `json:"height"`
	Material   blocks.Spec `json:"material"`
	LightBlock blocks.Spec `json:"lightBlock"`
}

func (FillCuboid) Kind() Kind { return KindFillCuboid }
func (HollowBox) Kind() Kind  { return KindHollowBox }
func (Replace) Kind() Kind    { return KindReplace }
func (Repeat) Kind() Kind     { return KindRepeat }
func (Mirror) Kind() Kind     { return KindMirror }
func (Foundation) Kind() Kind { return KindFoundation }
func (PillarLine) Kind() Kind { return KindPillarLine }
func (Beam) Kind() Kind       { return KindBeam }
func (WindowRow) Kind() Kind  { return KindWindowRow }
func (Door) Kind() Kind       { return KindDoor }
func (Staircase) Kind() Kind  { return KindStaircase }
func (GableRoof) Kind() Kind  { return KindGableRoof }
func (HipRoof) Kind() Kind    { return KindHipRoof }
func (FlatRoof) Kind() Kind   { return KindFlatRoof }
func (TrimBand) Kind() Kind   { return KindTrimBand }
func (Overhang) Kind() Kind   { return KindOverhang }
func (Balcony) Kind() Kind    { return KindBalcony }
func (Arch) Kind() Kind       { return KindArch }
func (Road) Kind() Kind       { return KindRoad }
func (Lamppost) Kind() Kind   { return KindLamppost }

// SetBlock is a single-cell fillCuboid with an exact state, the shape repair
// ops take.
func SetBlock(pos geom.Vec3i, state string) FillCuboid {
	return FillCuboid{From: pos, To: pos, Block: blocks.Spec{State: state}}
}
