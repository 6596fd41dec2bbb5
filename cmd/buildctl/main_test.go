package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildloop"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/buildspec/spectest"
	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/journal"
	"voxelbuild.ai/internal/simworld"
	"voxelbuild.ai/internal/transport/ws"
	"voxelbuild.ai/internal/verifier"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeSpec(t *testing.T, spec buildspec.Spec) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spec.yaml")
	require.NoError(t, buildspec.WriteFile(path, spec))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "buildctl version "+Version)
}

func TestBadLogLevel(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud", "version"})
	assert.Error(t, cmd.Execute())
}

func TestCompile_Commands(t *testing.T) {
	path := writeSpec(t, spectest.Cottage(geom.V(0, 64, 0)))
	out, err := run(t, "compile", "--commands", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "/"), l)
		assert.LessOrEqual(t, len(l), 256)
	}
}

func TestCompile_ScriptJSON(t *testing.T) {
	path := writeSpec(t, spectest.Cottage(geom.V(0, 64, 0)))
	out, err := run(t, "compile", path)
	require.NoError(t, err)

	var script struct {
		ID     string `json:"id"`
		SpecID string `json:"specId"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &script))
	assert.NotEmpty(t, script.ID)
	assert.Equal(t, "spec-cottage", script.SpecID)
}

func TestBuild_LocalWritesJournalAndStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "buildctl.yaml")
	cfg := "journal:\n  dir: " + filepath.Join(dir, "journal") + "\n" +
		"idempotency:\n  db: " + filepath.Join(dir, "idem.db") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	path := writeSpec(t, spectest.Cottage(geom.V(0, 64, 0)))

	out, err := run(t, "-c", cfgPath, "--local", "build", path)
	require.NoError(t, err)

	var res buildloop.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.OK)
	require.Len(t, res.Rounds, 1)
	assert.Equal(t, executor.Succeeded, res.Rounds[0].Report.Outcome)

	files, err := journal.Files(filepath.Join(dir, "journal"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	_, err = os.Stat(filepath.Join(dir, "idem.db"))
	assert.NoError(t, err)

	out, err = run(t, "-c", cfgPath, "journal", "--summary")
	require.NoError(t, err)
	assert.Regexp(t, `execution succeeded\s+1`, out)
	assert.Regexp(t, `verification passed\s+1`, out)

	out, err = run(t, "-c", cfgPath, "journal", "--kind", "verification", "--key", "spec-cottage")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestBuild_OverWebSocket(t *testing.T) {
	reg, err := blocks.NewRegistry()
	require.NoError(t, err)
	w := simworld.New(reg)
	srv := ws.NewServer(w, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	origin := geom.V(10, 64, 10)
	path := writeSpec(t, spectest.Cottage(origin))
	_, err = run(t, "--world", "ws"+strings.TrimPrefix(ts.URL, "http"), "build", path)
	require.NoError(t, err)
	assert.Equal(t, "minecraft:stone_bricks", w.Block(origin.Add(geom.V(8, 3, 4))))
	assert.Positive(t, srv.Requests())
}

func TestVerify_NotBuiltExitsNotVerified(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "buildctl.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("verifier:\n  policy:\n    attempts: 1\n"), 0o644))
	path := writeSpec(t, spectest.Cottage(geom.V(0, 64, 0)))
	out := filepath.Join(dir, "repaired.yaml")
	_, err := run(t, "-c", cfgPath, "--local", "verify", "--threshold", "1", "--out", out, path)
	assert.ErrorIs(t, err, errNotVerified)
	assert.Equal(t, 3, exitCode(err))

	rev, err := buildspec.LoadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "spec-cottage", rev.ParentID)
}

func TestRevise_FoldsPatchOps(t *testing.T) {
	spec := spectest.Cottage(geom.V(0, 64, 0))
	path := writeSpec(t, spec)
	res := verifier.Result{PatchOps: buildspec.OpList{
		buildspec.SetBlock(geom.V(1, 1, 1), "minecraft:glass"),
		buildspec.SetBlock(geom.V(2, 1, 1), "minecraft:glass"),
	}}
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	resPath := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(resPath, raw, 0o644))

	outPath := filepath.Join(t.TempDir(), "rev.json")
	_, err = run(t, "revise", path, resPath, "-o", outPath)
	require.NoError(t, err)

	rev, err := buildspec.LoadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, spec.ID, rev.ParentID)
	assert.NotEqual(t, spec.ID, rev.ID)
	assert.Len(t, rev.Ops, len(spec.Ops)+2)
}

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("5, 70, 5,0,64,0")
	require.NoError(t, err)
	assert.Equal(t, geom.Box(geom.V(0, 64, 0), geom.V(5, 70, 5)), b)

	for _, bad := range []string{"", "1,2,3", "1,2,3,4,5,x"} {
		_, err := parseBBox(bad)
		assert.Error(t, err, bad)
	}
}

func TestScanAndClone_OverWebSocket(t *testing.T) {
	reg, err := blocks.NewRegistry()
	require.NoError(t, err)
	w := simworld.New(reg)
	require.NoError(t, w.SetBlock(geom.V(0, 64, 0), "minecraft:stone"))
	require.NoError(t, w.SetBlock(geom.V(2, 66, 1), "minecraft:oak_planks"))
	srv := ws.NewServer(w, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	tmplPath := filepath.Join(t.TempDir(), "tower.json")

	out, err := run(t, "--world", url, "scan", "--name", "tower", "-o", tmplPath, "0,64,0,2,66,1")
	require.NoError(t, err)
	var tmpl verifier.Template
	require.NoError(t, json.Unmarshal([]byte(out), &tmpl))
	assert.Equal(t, 2, tmpl.BlockCount)
	assert.Equal(t, "tower", tmpl.Name)

	_, err = run(t, "--world", url, "clone", tmplPath, "20,64,0")
	require.NoError(t, err)
	assert.Equal(t, "minecraft:stone", w.Block(geom.V(20, 64, 0)))
	assert.Equal(t, "minecraft:oak_planks", w.Block(geom.V(22, 66, 1)))
	assert.Equal(t, "minecraft:stone", w.Block(geom.V(0, 64, 0)), "force clone keeps the source")
}

func TestParseVec(t *testing.T) {
	v, err := parseVec("4, -2,9")
	require.NoError(t, err)
	assert.Equal(t, geom.V(4, -2, 9), v)
	for _, bad := range []string{"", "1,2", "1,2,z"} {
		_, err := parseVec(bad)
		assert.Error(t, err, bad)
	}
}
