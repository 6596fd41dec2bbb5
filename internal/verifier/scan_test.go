package verifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
)

func TestScan_SummarizesRegion(t *testing.T) {
	f := newFixture(t)
	spec := specOf(geom.V(0, 0, 0),
		buildspec.FillCuboid{From: geom.V(0, 0, 0), To: geom.V(3, 0, 3), Block: blocks.Spec{Name: "stone"}},
		buildspec.SetBlock(geom.V(1, 1, 1), "minecraft:oak_stairs[facing=east,half=bottom]"),
	)
	f.build(t, spec)

	tmpl, err := f.v.Scan(context.Background(), geom.Box(geom.V(3, 2, 3), geom.V(0, 0, 0)), "plinth", "test")
	require.NoError(t, err)
	assert.NotEmpty(t, tmpl.ID)
	assert.Equal(t, "plinth", tmpl.Name)
	assert.Equal(t, geom.Box(geom.V(0, 0, 0), geom.V(3, 2, 3)), tmpl.Source)
	assert.Equal(t, geom.V(4, 3, 4), tmpl.Dims)
	assert.Equal(t, 17, tmpl.BlockCount)
	assert.Equal(t, map[string]int{"minecraft:stone": 16, "minecraft:oak_stairs": 1}, tmpl.Counts)
	assert.Zero(t, tmpl.Skipped)
	assert.Equal(t, []string{"test"}, tmpl.Tags)

	src := tmpl.CloneSource()
	assert.Equal(t, []string{"minecraft:oak_stairs", "minecraft:stone"}, src.Blocks)
	assert.Equal(t, tmpl.Source, src.Box)
}

func TestScan_CloneReproducesTemplate(t *testing.T) {
	f := newFixture(t)
	f.build(t, specOf(geom.V(0, 0, 0),
		buildspec.HollowBox{From: geom.V(0, 0, 0), To: geom.V(99, 9, 39), Wall: blocks.Spec{Name: "stone"}},
	))
	tmpl, err := f.v.Scan(context.Background(), geom.Box(geom.V(0, 0, 0), geom.V(99, 9, 39)), "hall")
	require.NoError(t, err)

	script, err := compiler.CompileClone(tmpl.CloneSource(), geom.V(200, 0, 0), compiler.CloneOptions{})
	require.NoError(t, err)
	require.Greater(t, len(script.Steps), 1, "400-cell cross-section needs several slabs")
	_, err = f.world.ExecBatch(context.Background(), script.CommandList())
	require.NoError(t, err)

	copyOf, err := f.v.Scan(context.Background(), script.BBox, "hall copy")
	require.NoError(t, err)
	assert.Equal(t, tmpl.Hash, copyOf.Hash)
	assert.Equal(t, tmpl.Counts, copyOf.Counts)
	assert.NotEqual(t, tmpl.ID, copyOf.ID)
}

func TestScan_UnobservedAndUnreachable(t *testing.T) {
	f := newFixture(t)
	f.world.Unload(geom.Cell(geom.V(16, 0, 0)))
	tmpl, err := f.v.Scan(context.Background(), geom.Box(geom.V(8, 0, 0), geom.V(17, 0, 9)), "edge")
	assert.True(t, errs.Has(err, errs.VerificationInconclusive), "%v", err)
	assert.Equal(t, 20, tmpl.Skipped)

	_, err = f.verifier(brokenReader{}).Scan(context.Background(), geom.Box(geom.V(0, 0, 0), geom.V(1, 1, 1)), "x")
	assert.True(t, errs.Has(err, errs.WorldUnavailable), "%v", err)
}
