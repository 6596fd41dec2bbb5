package simworld

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/geom"
)

func newWorld(t *testing.T, opts ...Option) *World {
	t.Helper()
	reg, err := blocks.NewRegistry("minecraft:stone", "minecraft:oak_planks")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return New(reg, opts...)
}

func TestExec_FillOutlineReplaceSet(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	cmds := []string{
		"/fill 0 0 0 4 4 4 minecraft:stone outline",
		"/fill 0 0 0 4 0 4 minecraft:oak_planks replace minecraft:stone",
		"/setblock 2 2 2 minecraft:glass",
		"/fill -3 10 -3 -1 10 -1 minecraft:oak_stairs[facing=north,half=bottom]",
	}
	n, err := w.ExecBatch(ctx, cmds)
	if err != nil || n != len(cmds) {
		t.Fatalf("ExecBatch: n=%d err=%v", n, err)
	}

	cases := []struct {
		pos  geom.Vec3i
		want string
	}{
		{geom.V(0, 0, 0), "minecraft:oak_planks"},
		{geom.V(4, 0, 4), "minecraft:oak_planks"},
		{geom.V(0, 1, 0), "minecraft:stone"},
		{geom.V(4, 4, 4), "minecraft:stone"},
		{geom.V(1, 1, 1), "minecraft:air"},
		{geom.V(2, 2, 2), "minecraft:glass"},
		{geom.V(-2, 10, -2), "minecraft:oak_stairs[facing=north,half=bottom]"},
		{geom.V(5, 0, 0), "minecraft:air"},
	}
	for _, c := range cases {
		if got := w.Block(c.pos); got != c.want {
			t.Fatalf("block at %v: got %q want %q", c.pos, got, c.want)
		}
	}
}

func TestExecBatch_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	w := newWorld(t, WithFault(func(cmd string) error {
		if cmd == "/setblock 1 0 0 minecraft:stone" {
			return boom
		}
		return nil
	}))
	n, err := w.ExecBatch(context.Background(), []string{
		"/setblock 0 0 0 minecraft:stone",
		"/setblock 1 0 0 minecraft:stone",
		"/setblock 2 0 0 minecraft:stone",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err: got %v want %v", err, boom)
	}
	if n != 1 {
		t.Fatalf("executed: got %d want 1", n)
	}
	if got := w.Block(geom.V(2, 0, 0)); got != blocks.Air {
		t.Fatalf("command after failure ran: %q", got)
	}
}

func TestExec_RejectsBadCommands(t *testing.T) {
	w := newWorld(t, WithHeight(0, 10))
	for _, cmd := range []string{
		"",
		"/tp 0 0 0",
		"/fill 0 0 0 1 1 minecraft:stone",
		"/fill 0 0 0 1 11 1 minecraft:stone",
		"/fill 0 0 0 1 1 1 minecraft:stone hollow",
		"/setblock 0 0 0 minecraft:bad[",
		"/clone 0 0 0 1 1 1 0 10 0 replace force",
		"/clone 0 0 0 2 2 2 1 0 0 replace normal",
	} {
		if err := w.Exec(context.Background(), cmd); err == nil {
			t.Fatalf("Exec(%q): expected error", cmd)
		}
	}
	if st := w.Stats(); st.ChangedCells != 0 {
		t.Fatalf("changed cells: got %d want 0", st.ChangedCells)
	}
}

func TestExec_Clone(t *testing.T) {
	ctx := context.Background()
	seed := []string{
		"/fill 0 0 0 2 0 2 minecraft:stone",
		"/setblock 1 1 1 minecraft:oak_planks",
	}
	cases := []struct {
		name   string
		cmd    string
		checks map[geom.Vec3i]string
	}{
		{"replace force", "/clone 0 0 0 2 1 2 10 0 0 replace force", map[geom.Vec3i]string{
			geom.V(10, 0, 0): "minecraft:stone",
			geom.V(11, 1, 1): "minecraft:oak_planks",
			geom.V(12, 1, 2): "minecraft:air",
			geom.V(0, 0, 0):  "minecraft:stone",
		}},
		{"masked keeps destination under air", "/clone 0 0 0 2 1 2 10 0 0 masked force", map[geom.Vec3i]string{
			geom.V(10, 1, 0): "minecraft:glass",
			geom.V(11, 1, 1): "minecraft:oak_planks",
		}},
		{"move clears the source", "/clone 0 0 0 2 1 2 10 0 0 replace move", map[geom.Vec3i]string{
			geom.V(10, 0, 0): "minecraft:stone",
			geom.V(0, 0, 0):  "minecraft:air",
			geom.V(1, 1, 1):  "minecraft:air",
		}},
		{"overlapping force copies originals", "/clone 0 0 0 2 1 2 1 0 0 replace force", map[geom.Vec3i]string{
			geom.V(3, 0, 0): "minecraft:stone",
			geom.V(2, 1, 1): "minecraft:oak_planks",
			geom.V(1, 1, 1): "minecraft:air",
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := newWorld(t)
			if _, err := w.ExecBatch(ctx, seed); err != nil {
				t.Fatalf("seed: %v", err)
			}
			if err := w.SetBlock(geom.V(10, 1, 0), "minecraft:glass"); err != nil {
				t.Fatalf("SetBlock: %v", err)
			}
			if err := w.Exec(ctx, c.cmd); err != nil {
				t.Fatalf("Exec(%q): %v", c.cmd, err)
			}
			for pos, want := range c.checks {
				if got := w.Block(pos); got != want {
					t.Errorf("block at %v: got %q want %q", pos, got, want)
				}
			}
		})
	}
}

func TestReadState_UnloadedIsUnobservable(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.SetBlock(geom.V(20, 0, 20), "stone"); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	w.Unload(geom.Cell(geom.V(20, 0, 20)))

	if _, ok, err := w.ReadState(ctx, geom.V(31, 5, 31)); err != nil || ok {
		t.Fatalf("same chunk: ok=%v err=%v, want unobservable", ok, err)
	}
	if _, ok, _ := w.ReadState(ctx, geom.V(32, 0, 20)); !ok {
		t.Fatalf("neighbor chunk should stay observable")
	}

	w.Load(geom.Cell(geom.V(16, 0, 16)))
	id, ok, err := w.ReadState(ctx, geom.V(20, 0, 20))
	if err != nil || !ok {
		t.Fatalf("after Load: ok=%v err=%v", ok, err)
	}
	if s, _ := w.Codec().StateString(id); s != "minecraft:stone" {
		t.Fatalf("state: got %q", s)
	}
}

func TestReadState_HonorsContext(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := w.ReadState(ctx, geom.V(0, 0, 0)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err: got %v want context.Canceled", err)
	}
}

func TestDigest_ChangesOnlyOnWrite(t *testing.T) {
	w := newWorld(t)
	d0 := w.Digest()
	if err := w.Exec(context.Background(), "/fill 0 0 0 3 3 3 minecraft:stone"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	d1 := w.Digest()
	if d0 == d1 {
		t.Fatalf("digest did not change after write")
	}
	if err := w.Exec(context.Background(), "/fill 0 0 0 3 3 3 minecraft:stone"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if d2 := w.Digest(); d2 != d1 {
		t.Fatalf("rewriting identical blocks changed digest")
	}
}

func TestSnapshot_RoundTripAcrossCodecs(t *testing.T) {
	w := newWorld(t)
	if _, err := w.ExecBatch(context.Background(), []string{
		"/fill -20 0 -20 20 2 20 minecraft:oak_planks",
		"/fill -5 1 -5 5 1 5 minecraft:stone replace minecraft:oak_planks",
		"/setblock 0 3 0 minecraft:lantern[hanging=false]",
	}); err != nil {
		t.Fatalf("ExecBatch: %v", err)
	}

	path := filepath.Join(t.TempDir(), "world.snap.zst")
	if err := WriteSnapshot(path, w.Snapshot()); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}

	// a fresh registry assigns different ids to the same states
	reg, _ := blocks.NewRegistry("minecraft:glass", "minecraft:lantern[hanging=false]")
	other := New(reg)
	if err := other.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for _, p := range []geom.Vec3i{geom.V(-20, 0, -20), geom.V(0, 1, 0), geom.V(0, 3, 0), geom.V(20, 2, 20), geom.V(21, 0, 0)} {
		if a, b := w.Block(p), other.Block(p); a != b {
			t.Fatalf("block at %v: got %q want %q", p, b, a)
		}
	}
}

func TestRLE_RoundTrip(t *testing.T) {
	in := []uint32{1, 1, 1, 2, 2, 3}
	for i := 0; i < 50; i++ {
		in = append(in, 70000)
	}
	in = append(in, 9, 10, 10, 10)

	out, err := DecodeRLE(EncodeRLE(in))
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}
