package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/geom"
)

const sample = `
world:
  url: ws://world.local:9000/v1/world
compiler:
  max_command_length: 128
executor:
  sequential: true
  budgets:
    max_duration: 90s
    max_commands: 10
  zone:
    min: {x: 10, y: 0, z: 10}
    max: {x: 0, y: 64, z: 0}
  allowlist: [stone, minecraft:stone, " oak_planks "]
  diffs:
    mode: per-bbox
verifier:
  threshold: 0.9
  policy:
    attempts: 5
    initial: 500ms
journal:
  dir: /var/lib/voxelbuild/journal
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// replaceFile swaps body in by rename so a watcher never sees a partial file.
func replaceFile(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	writeFile(t, tmp, body)
	require.NoError(t, os.Rename(tmp, path))
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Compiler.MaxCommandLength)
	assert.Equal(t, 0.95, cfg.Verifier.Threshold)
	assert.Equal(t, executor.Budgets{MaxDuration: time.Hour, MaxCommands: 50000, MaxChangedBlocks: 5_000_000}, cfg.Executor.Budgets)
	assert.Equal(t, DefaultWorldURL, cfg.World.URL)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverlaysAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildctl.yaml")
	writeFile(t, path, sample)

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Defaults()
	want.World.URL = "ws://world.local:9000/v1/world"
	want.Compiler.MaxCommandLength = 128
	want.Executor.Sequential = true
	want.Executor.Budgets.MaxDuration = 90 * time.Second
	want.Executor.Budgets.MaxCommands = 10
	zone := geom.Box(geom.V(0, 0, 0), geom.V(10, 64, 10))
	want.Executor.Zone = &zone
	want.Executor.Allowlist = []string{"minecraft:stone", "minecraft:oak_planks"}
	want.Executor.Diffs = executor.DiffOptions{Mode: executor.DiffPerBBox, Encoding: executor.EncodingCountsHash}
	want.Verifier.Threshold = 0.9
	want.Verifier.Policy.Attempts = 5
	want.Verifier.Policy.Initial = 500 * time.Millisecond
	want.Journal.Dir = "/var/lib/voxelbuild/journal"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"short commands": "compiler: {max_command_length: 8}",
		"threshold":      "verifier: {threshold: 1.5}",
		"budgets":        "executor: {budgets: {max_commands: -1}}",
		"diff mode":      "executor: {diffs: {mode: sometimes}}",
		"policy":         "verifier: {policy: {attempts: -2}}",
		"rounds":         "build: {rounds: -1}",
		"yaml":           "executor: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "buildctl.yaml")
			writeFile(t, path, body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	cfg := Defaults()
	zone := geom.Box(geom.V(0, 0, 0), geom.V(1, 1, 1))
	cfg.Executor.Zone = &zone
	cfg.Executor.Allowlist = []string{"minecraft:stone"}

	snap := cfg.Snapshot()
	cfg.Executor.Zone.Max.X = 99
	cfg.Executor.Allowlist[0] = "minecraft:tnt"

	assert.Equal(t, 1, snap.Executor.Zone.Max.X)
	assert.Equal(t, []string{"minecraft:stone"}, snap.Executor.Allowlist)

	opts := snap.ExecutorOptions("k1")
	opts.Safety.Allowlist[0] = "minecraft:lava"
	assert.Equal(t, "minecraft:stone", snap.Executor.Allowlist[0])
	assert.Equal(t, "k1", opts.IdempotencyKey)
}

func TestWatcher_ReloadLeavesSnapshotsAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buildctl.yaml")
	writeFile(t, path, "compiler: {max_command_length: 100}\nexecutor: {allowlist: [stone]}\n")

	core, logs := observer.New(zap.InfoLevel)
	w, err := NewWatcher(path, WithWatchLogger(zap.New(core)), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	reloaded := make(chan Config, 4)
	w.OnReload(func(c Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	before := w.Current()
	require.Equal(t, 100, before.Compiler.MaxCommandLength)

	replaceFile(t, path, "compiler: {max_command_length: 200}\nexecutor: {allowlist: [glass]}\n")
	select {
	case c := <-reloaded:
		assert.Equal(t, 200, c.Compiler.MaxCommandLength)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}

	assert.Equal(t, 100, before.Compiler.MaxCommandLength)
	assert.Equal(t, []string{"minecraft:stone"}, before.Executor.Allowlist)
	assert.Equal(t, []string{"minecraft:glass"}, w.Current().Executor.Allowlist)
	assert.GreaterOrEqual(t, logs.FilterMessage("config reloaded").Len(), 1)
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildctl.yaml")
	writeFile(t, path, "verifier: {threshold: 0.8}\n")

	core, logs := observer.New(zap.InfoLevel)
	w, err := NewWatcher(path, WithWatchLogger(zap.New(core)), WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Close()

	replaceFile(t, path, "verifier: {threshold: 7}\n")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("config reload failed, keeping previous").Len() > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.8, w.Current().Verifier.Threshold)
}

func TestWatcher_CloseWithoutStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buildctl.yaml")
	writeFile(t, path, "")
	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
