package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec/spectest"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/protocol"
	"voxelbuild.ai/internal/simworld"
	"voxelbuild.ai/internal/verifier"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	world  *simworld.World
	srv    *Server
	ts     *httptest.Server
	url    string
	client *Client
	codec  *blocks.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	serverReg, err := blocks.NewRegistry("minecraft:bedrock", "minecraft:dirt")
	require.NoError(t, err)
	h := &harness{world: simworld.New(serverReg)}
	h.srv = NewServer(h.world, nil)
	h.ts = httptest.NewServer(h.srv.Handler())
	h.url = "ws" + strings.TrimPrefix(h.ts.URL, "http")

	// a separate registry: ids differ from the server's on purpose
	h.codec, err = blocks.NewRegistry()
	require.NoError(t, err)
	h.client, err = Dial(context.Background(), h.url, h.codec)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.client.Close()
		h.srv.Close()
		h.ts.Close()
	})
	return h
}

func TestClient_Handshake(t *testing.T) {
	h := newHarness(t)
	w := h.client.Welcome()
	assert.Equal(t, protocol.Version, w.ProtocolVersion)
	assert.NotEmpty(t, w.SessionID)
	assert.True(t, w.Status.Ready)
	assert.Equal(t, simworld.DefaultMinY, w.MinY)
	assert.Equal(t, simworld.DefaultMaxY, w.MaxY)
}

func TestClient_ExecAndRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.client.Exec(ctx, "/fill 0 0 0 2 2 2 minecraft:stone"))
	n, err := h.client.ExecBatch(ctx, []string{
		"/setblock 1 1 1 minecraft:oak_stairs[facing=east,half=bottom]",
		"/setblock 5 0 0 minecraft:glass",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	id, ok, err := h.client.ReadState(ctx, geom.V(1, 1, 1))
	require.NoError(t, err)
	require.True(t, ok)
	got, _ := h.codec.StateString(id)
	assert.Equal(t, "minecraft:oak_stairs[facing=east,half=bottom]", got)

	id, ok, err = h.client.ReadState(ctx, geom.V(9, 9, 9))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blocks.AirID, id)

	h.world.Unload(geom.Cell(geom.V(40, 0, 40)))
	_, ok, err = h.client.ReadState(ctx, geom.V(40, 0, 40))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), h.world.MutationCalls())
}

func TestClient_BatchStopsAtBadCommand(t *testing.T) {
	h := newHarness(t)
	n, err := h.client.ExecBatch(context.Background(), []string{
		"/setblock 0 0 0 minecraft:stone",
		"/teleport 0 0 0",
		"/setblock 1 0 0 minecraft:stone",
	})
	assert.Equal(t, 1, n)
	assert.True(t, errs.Has(err, errs.ExecFailed), "%v", err)
	assert.Equal(t, blocks.Air, h.world.Block(geom.V(1, 0, 0)))
}

func TestClient_WorldStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.world.SetPaused(true)
	assert.True(t, h.client.Paused())
	ready, paused, err := h.client.WorldStatus(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, paused)
	err = h.client.Exec(ctx, "/setblock 0 0 0 minecraft:stone")
	assert.True(t, errs.Has(err, errs.WorldUnavailable), "%v", err)

	h.world.SetPaused(false)
	h.world.SetReady(false)
	assert.False(t, h.client.Ready())
	_, err = h.client.ExecBatch(ctx, []string{"/setblock 0 0 0 minecraft:stone"})
	assert.True(t, errs.IsRetryable(err), "%v", err)
	assert.Zero(t, h.world.MutationCalls())
}

func TestClient_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := h.client.ReadState(ctx, geom.V(0, 0, 0))
	assert.True(t, errs.Has(err, errs.Cancelled), "%v", err)
}

func TestClient_ServerGone(t *testing.T) {
	h := newHarness(t)
	h.srv.Close()

	assert.False(t, h.client.Ready())
	assert.True(t, h.client.Paused(), "an unreachable world counts as paused")
	ready, paused, err := h.client.WorldStatus(context.Background())
	assert.True(t, errs.Has(err, errs.WorldUnavailable), "%v", err)
	assert.False(t, ready)
	assert.True(t, paused)
	_, _, err = h.client.ReadState(context.Background(), geom.V(0, 0, 0))
	assert.True(t, errs.Has(err, errs.WorldUnavailable), "%v", err)
}

func TestClient_ConcurrentReads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.client.Exec(ctx, "/fill 0 0 0 7 0 7 minecraft:dirt"))
	require.NoError(t, h.client.Exec(ctx, "/fill 0 0 0 7 0 3 minecraft:stone"))

	var wg sync.WaitGroup
	errc := make(chan error, 64)
	for x := 0; x < 8; x++ {
		for z := 0; z < 8; z++ {
			wg.Add(1)
			go func(p geom.Vec3i) {
				defer wg.Done()
				id, ok, err := h.client.ReadState(ctx, p)
				if err != nil || !ok {
					errc <- err
					return
				}
				want := "minecraft:dirt"
				if p.Z <= 3 {
					want = "minecraft:stone"
				}
				if got, _ := h.codec.StateString(id); got != want {
					errc <- assert.AnError
				}
			}(geom.V(x, 0, z))
		}
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Fatalf("read failed: %v", err)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	h := newHarness(t)
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"}))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
}

// A full compile, execute, verify pass with both sides over the socket.
func TestPipeline_OverWebSocket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	spec := spectest.Cottage(geom.V(20, 64, 20))

	script, err := compiler.Compile(spec, compiler.Options{})
	require.NoError(t, err)
	rep, err := executor.New(h.client).Execute(ctx, script, executor.Options{})
	require.NoError(t, err)
	assert.Equal(t, executor.Succeeded, rep.Outcome)
	assert.Equal(t, len(script.Steps), rep.CommandsExecuted)

	res, err := verifier.New(h.client, h.codec).Verify(ctx, spec, script.BBox, 1, verifier.Policy{Attempts: 1})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1.0, res.MatchRatio)
}
