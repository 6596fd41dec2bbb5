package buildloop

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/buildspec/spectest"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/simworld"
	"voxelbuild.ai/internal/verifier"
)

// griefer knocks out cells right after the first batch lands.
type griefer struct {
	*simworld.World
	once  sync.Once
	holes []geom.Vec3i
}

func (g *griefer) ExecBatch(ctx context.Context, cmds []string) (int, error) {
	n, err := g.World.ExecBatch(ctx, cmds)
	g.once.Do(func() {
		for _, p := range g.holes {
			_ = g.World.SetBlock(p, blocks.Air)
		}
	})
	return n, err
}

func setup(t *testing.T, holes ...geom.Vec3i) (*Loop, *griefer) {
	t.Helper()
	reg, err := blocks.NewRegistry()
	require.NoError(t, err)
	g := &griefer{World: simworld.New(reg), holes: holes}
	return New(executor.New(g), verifier.New(g.World, reg), nil), g
}

func opts(rounds int) Options {
	return Options{Threshold: 1, Policy: verifier.Policy{Attempts: 1}, Rounds: rounds}
}

func TestRun_RepairsInSecondRound(t *testing.T) {
	origin := geom.V(0, 64, 0)
	spec := spectest.Cottage(origin)
	loop, g := setup(t, origin.Add(geom.V(2, 1, 0)), origin.Add(geom.V(8, 3, 4)))

	out, err := loop.Run(context.Background(), spec, opts(3))
	require.NoError(t, err)
	assert.True(t, out.OK)
	require.Len(t, out.Rounds, 2)

	first := out.Rounds[0].Result
	assert.False(t, first.OK)
	assert.Len(t, first.PatchOps, 2)
	assert.Equal(t, spec.ID, out.Rounds[0].SpecID)

	assert.Equal(t, spec.ID, out.Spec.ParentID)
	assert.Len(t, out.Spec.Ops, len(spec.Ops)+2)
	assert.Equal(t, out.Spec.ID, out.Rounds[1].SpecID)
	assert.Equal(t, 1.0, out.Rounds[1].Result.MatchRatio)
	assert.Equal(t, "minecraft:stone_bricks", g.Block(origin.Add(geom.V(8, 3, 4))))
}

func TestRun_OutOfRoundsIsNotAnError(t *testing.T) {
	origin := geom.V(0, 64, 0)
	spec := spectest.Cottage(origin)
	loop, _ := setup(t, origin.Add(geom.V(2, 1, 0)))

	out, err := loop.Run(context.Background(), spec, opts(1))
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Len(t, out.Rounds, 1)
	assert.Equal(t, spec.ID, out.Spec.ID, "no revision without a round to run it")
}

func TestRun_InconclusiveStopsWithoutRebuilding(t *testing.T) {
	spec := spectest.Cottage(geom.V(0, 64, 0))
	loop, g := setup(t)
	g.Unload(geom.Box(geom.V(-16, 0, -16), geom.V(31, 0, 31)))

	out, err := loop.Run(context.Background(), spec, opts(3))
	assert.True(t, errs.Has(err, errs.VerificationInconclusive), "%v", err)
	assert.Len(t, out.Rounds, 1)
	assert.True(t, out.Rounds[0].Result.Inconclusive)
	assert.Equal(t, int64(1), g.MutationCalls())
}

func TestRun_RepeatedRunReplays(t *testing.T) {
	spec := spectest.Cottage(geom.V(0, 64, 0))
	loop, g := setup(t)

	out, err := loop.Run(context.Background(), spec, opts(2))
	require.NoError(t, err)
	require.True(t, out.OK)
	calls := g.MutationCalls()

	again, err := loop.Run(context.Background(), spec, opts(2))
	require.NoError(t, err)
	assert.True(t, again.OK)
	assert.Equal(t, calls, g.MutationCalls())
	assert.Equal(t, out.Rounds[0].Report, again.Rounds[0].Report)
}

func TestRun_CompileErrorStops(t *testing.T) {
	loop, g := setup(t)
	bad := buildspec.New("bad", geom.V(0, 0, 0), nil,
		buildspec.Beam{Start: geom.V(0, 0, 0), End: geom.V(1, 0, 0), Material: blocks.Spec{Bind: "missing"}})

	out, err := loop.Run(context.Background(), bad, opts(2))
	assert.True(t, errs.Has(err, errs.InvalidSpec), "%v", err)
	assert.Empty(t, out.Rounds)
	assert.Zero(t, g.MutationCalls())
}
