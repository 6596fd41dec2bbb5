package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelbuild.ai/internal/errs"
)

func TestResolve_Priority(t *testing.T) {
	pal := Palette{"wall": "minecraft:stone_bricks"}
	cases := []struct {
		name string
		spec Spec
		want string
	}{
		{"state wins", Spec{State: "oak_stairs[facing=east]", Name: "stone", Bind: "wall"}, "oak_stairs[facing=east]"},
		{"name over bind", Spec{Name: "stone", Bind: "wall"}, "stone"},
		{"bind", Spec{Bind: "wall"}, "minecraft:stone_bricks"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Resolve(c.spec, pal)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestResolve_UnresolvableIsInvalidSpec(t *testing.T) {
	_, err := Resolve(Spec{Bind: "missing"}, Palette{"wall": "stone"})
	require.Error(t, err)
	assert.True(t, errs.Has(err, errs.InvalidSpec))
	assert.Contains(t, err.Error(), "bind:missing")

	_, err = Resolve(Spec{}, nil)
	assert.True(t, errs.Has(err, errs.InvalidSpec))
}

func TestParseState_Canonical(t *testing.T) {
	st, err := ParseState("Oak_Stairs[shape=straight, facing=north,half=bottom]")
	require.NoError(t, err)
	assert.Equal(t, "minecraft:oak_stairs", st.Name)
	assert.Equal(t, "minecraft:oak_stairs[facing=north,half=bottom,shape=straight]", st.String())

	st, err = ParseState("create:brass_block")
	require.NoError(t, err)
	assert.Equal(t, "create:brass_block", st.String())

	for _, bad := range []string{"", "stone[", "stone[facing]", "[a=b]", "two words"} {
		_, err := ParseState(bad)
		assert.Error(t, err, bad)
	}
}

func TestState_Matches(t *testing.T) {
	stair := MustParseState("oak_stairs[facing=east,half=bottom]")
	assert.True(t, stair.Matches(MustParseState("oak_stairs")))
	assert.True(t, stair.Matches(MustParseState("oak_stairs[facing=east]")))
	assert.False(t, stair.Matches(MustParseState("oak_stairs[facing=west]")))
	assert.False(t, stair.Matches(MustParseState("spruce_stairs")))
}

func TestRegistry_AirIsZeroAndIDsStable(t *testing.T) {
	r, err := NewRegistry("stone", "minecraft:dirt", "stone")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	air, err := r.StateID("air")
	require.NoError(t, err)
	assert.Equal(t, AirID, air)

	dirt, err := r.StateID("dirt")
	require.NoError(t, err)
	assert.Equal(t, StateID(1), dirt)

	stairs, err := r.StateID("oak_stairs[half=bottom,facing=north]")
	require.NoError(t, err)
	again, err := r.StateID("minecraft:oak_stairs[facing=north,half=bottom]")
	require.NoError(t, err)
	assert.Equal(t, stairs, again)

	s, ok := r.StateString(stairs)
	require.True(t, ok)
	assert.Equal(t, "minecraft:oak_stairs[facing=north,half=bottom]", s)

	_, ok = r.StateString(StateID(999))
	assert.False(t, ok)
}

func TestRegistry_DigestTracksPalette(t *testing.T) {
	a, _ := NewRegistry("stone", "dirt")
	b, _ := NewRegistry("dirt", "stone")
	assert.Equal(t, a.Digest(), b.Digest(), "seed order must not matter")

	_, _ = b.StateID("glass")
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestSameBlock(t *testing.T) {
	r, _ := NewRegistry()
	north, _ := r.StateID("oak_stairs[facing=north]")
	east, _ := r.StateID("oak_stairs[facing=east]")
	stone, _ := r.StateID("stone")
	assert.True(t, SameBlock(r, north, east))
	assert.False(t, SameBlock(r, north, stone))
}

func TestHashCounts_OrderIndependent(t *testing.T) {
	a := map[StateID]int{0: 10, 3: 2, 7: 1}
	b := map[StateID]int{7: 1, 0: 10, 3: 2}
	require.Equal(t, HashCounts(a), HashCounts(b))
	assert.NotEqual(t, HashCounts(a), HashCounts(map[StateID]int{0: 10, 3: 2}))
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, HashCounts(nil))
}
