// Package spectest holds sample specs shared by package tests.
package spectest

import (
	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/geom"
)

func b(name string) blocks.Spec   { return blocks.Spec{Name: name} }
func bp(name string) *blocks.Spec { return &blocks.Spec{Name: name} }

var Palette = blocks.Palette{
	"wall":  "minecraft:stone_bricks",
	"roof":  "minecraft:spruce_planks",
	"floor": "minecraft:oak_planks",
}

// Cottage is a small house: foundation, shell, door, windows and a roof.
func Cottage(origin geom.Vec3i) buildspec.Spec {
	s := buildspec.New("cottage", origin, Palette,
		buildspec.Foundation{Rect: geom.Box(geom.V(0, 0, 0), geom.V(8, 0, 6)), Material: blocks.Spec{Bind: "floor"}},
		buildspec.HollowBox{From: geom.V(0, 1, 0), To: geom.V(8, 4, 6), Wall: blocks.Spec{Bind: "wall"}, Trim: bp("oak_log")},
		buildspec.Door{At: geom.V(4, 1, 0), Facing: "south", Material: b("oak_door")},
		buildspec.WindowRow{Wall: geom.Box(geom.V(1, 1, 6), geom.V(7, 3, 6)), Y: 2, Every: 2, Block: b("glass_pane")},
		buildspec.GableRoof{BBox: geom.Box(geom.V(0, 5, 0), geom.V(8, 5, 6)), Overhang: 1, Block: blocks.Spec{Bind: "roof"}},
	)
	s.ID = "spec-cottage"
	return s
}

// Everything uses every op kind once, spread out so the ops do not touch.
func Everything(origin geom.Vec3i) buildspec.Spec {
	s := buildspec.New("everything", origin, Palette,
		buildspec.FillCuboid{From: geom.V(0, 0, 0), To: geom.V(3, 1, 3), Block: b("stone")},
		buildspec.HollowBox{From: geom.V(10, 0, 0), To: geom.V(14, 4, 4), Wall: blocks.Spec{Bind: "wall"}, Trim: bp("oak_log")},
		buildspec.Replace{From: geom.V(0, 0, 0), To: geom.V(3, 0, 3), FromBlock: b("stone"), ToBlock: b("andesite")},
		buildspec.Repeat{DX: 2, Count: 3, Inner: buildspec.Beam{Start: geom.V(20, 0, 0), End: geom.V(20, 2, 0), Material: b("oak_log")}},
		buildspec.Mirror{Axis: geom.AxisZ, Center: 12, Inner: buildspec.FillCuboid{From: geom.V(30, 0, 2), To: geom.V(31, 0, 4), Block: b("cobblestone")}},
		buildspec.Foundation{Rect: geom.Box(geom.V(40, 0, 0), geom.V(45, 0, 5)), Material: blocks.Spec{Bind: "floor"}, Height: 2},
		buildspec.PillarLine{Start: geom.V(50, 0, 0), End: geom.V(58, 3, 4), Material: b("oak_log"), Spacing: 3},
		buildspec.Beam{Start: geom.V(60, 4, 0), End: geom.V(66, 4, 0), Material: b("stripped_oak_log")},
		buildspec.WindowRow{Wall: geom.Box(geom.V(70, 0, 0), geom.V(70, 3, 6)), Y: 1, Every: 2, Block: b("glass")},
		buildspec.Door{At: geom.V(75, 0, 0), Facing: "east", Material: b("spruce_door"), Hinge: "right"},
		buildspec.Staircase{From: geom.V(80, 0, 0), To: geom.V(84, 4, 0), Material: b("oak_stairs"), Style: "straight"},
		buildspec.Staircase{From: geom.V(90, 0, 0), To: geom.V(94, 6, 4), Material: b("stone_stairs"), Style: "spiral"},
		buildspec.GableRoof{BBox: geom.Box(geom.V(0, 10, 20), geom.V(6, 10, 28)), Block: blocks.Spec{Bind: "roof"}},
		buildspec.HipRoof{BBox: geom.Box(geom.V(10, 10, 20), geom.V(16, 10, 26)), Overhang: 1, Block: b("dark_oak_planks")},
		buildspec.FlatRoof{BBox: geom.Box(geom.V(30, 10, 20), geom.V(36, 10, 26)), Trim: bp("smooth_stone_slab"), Block: b("smooth_stone")},
		buildspec.TrimBand{BBox: geom.Box(geom.V(40, 0, 20), geom.V(46, 0, 26)), Y: 3, Material: b("polished_andesite")},
		buildspec.Overhang{BBox: geom.Box(geom.V(50, 0, 20), geom.V(54, 3, 24)), Depth: 1, Material: b("spruce_slab")},
		buildspec.Balcony{BBox: geom.Box(geom.V(60, 5, 20), geom.V(63, 5, 22)), RailMaterial: b("oak_fence")},
		buildspec.Arch{Opening: geom.Box(geom.V(70, 0, 20), geom.V(74, 4, 20)), Material: b("bricks")},
		buildspec.Road{Path: []geom.Vec3i{geom.V(0, -1, 40), geom.V(20, -1, 40), geom.V(20, -1, 50)}, Width: 3, Material: b("gravel"), EdgeMaterial: bp("cobblestone")},
		buildspec.Lamppost{At: geom.V(30, 0, 40), Height: 4, Material: b("oak_fence"), LightBlock: b("lantern")},
	)
	s.ID = "spec-everything"
	return s
}
