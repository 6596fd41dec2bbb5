package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/simworld"
	"voxelbuild.ai/internal/transport/ws"
)

func newMux(w *simworld.World, wsSrv *ws.Server, reg *prom.Registry, snaps *snapshotDir, admin bool, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/world", wsSrv.Handler())

	if !admin {
		logger.Info("admin endpoints disabled (VB_ENABLE_ADMIN_HTTP=false)")
		return mux
	}
	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		minY, maxY := w.Height()
		writeJSON(rw, http.StatusOK, map[string]any{
			"ready":  w.Ready(),
			"paused": w.Paused(),
			"min_y":  minY,
			"max_y":  maxY,
			"stats":  w.Stats(),
		})
	}))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(postOnly(func(rw http.ResponseWriter, r *http.Request) {
		path, err := snaps.save(w)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path})
	})))
	// status takes ready and paused query flags; absent flags keep their value.
	mux.HandleFunc("/admin/v1/status", loopbackOnly(postOnly(func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for name, set := range map[string]func(bool){"ready": w.SetReady, "paused": w.SetPaused} {
			v := q.Get(name)
			if v == "" {
				continue
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(rw, fmt.Sprintf("bad %s: %v", name, err), http.StatusBadRequest)
				return
			}
			set(b)
		}
		logger.Info("world status changed", zap.Bool("ready", w.Ready()), zap.Bool("paused", w.Paused()))
		writeJSON(rw, http.StatusOK, map[string]any{"ready": w.Ready(), "paused": w.Paused()})
	})))
	// unload and load take a JSON bbox body.
	for path, apply := range map[string]func(geom.BBox){"/admin/v1/unload": w.Unload, "/admin/v1/load": w.Load} {
		apply := apply
		mux.HandleFunc(path, loopbackOnly(postOnly(func(rw http.ResponseWriter, r *http.Request) {
			var b geom.BBox
			if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 1<<16)).Decode(&b); err != nil {
				http.Error(rw, "bad bbox: "+err.Error(), http.StatusBadRequest)
				return
			}
			apply(b.Normalize())
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
		})))
	}
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func registerWorldMetrics(reg *prom.Registry, w *simworld.World, wsSrv *ws.Server) {
	const ns = "voxelbuild_simworld"
	gauge := func(name, help string, f func() float64) prom.Collector {
		return prom.NewGaugeFunc(prom.GaugeOpts{Namespace: ns, Name: name, Help: help}, f)
	}
	counter := func(name, help string, f func() float64) prom.Collector {
		return prom.NewCounterFunc(prom.CounterOpts{Namespace: ns, Name: name, Help: help}, f)
	}
	reg.MustRegister(
		gauge("chunks", "Chunks holding at least one block.", func() float64 { return float64(w.Stats().Chunks) }),
		counter("exec_calls_total", "Single command calls.", func() float64 { return float64(w.Stats().ExecCalls) }),
		counter("batch_calls_total", "Batch calls.", func() float64 { return float64(w.Stats().BatchCalls) }),
		counter("changed_cells_total", "Cells whose state changed.", func() float64 { return float64(w.Stats().ChangedCells) }),
		counter("ws_requests_total", "WebSocket requests served.", func() float64 { return float64(wsSrv.Requests()) }),
	)
}

// snapshotDir names snapshots by unix nanoseconds and keeps the newest few.
type snapshotDir struct {
	dir  string
	keep int
	log  *zap.Logger

	mu sync.Mutex
}

const snapSuffix = ".snap.zst"

func (d *snapshotDir) list() []string {
	ents, err := os.ReadDir(d.dir)
	if err != nil {
		return nil
	}
	type item struct {
		path string
		ts   int64
	}
	var items []item
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapSuffix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(e.Name(), snapSuffix), 10, 64)
		if err != nil {
			continue
		}
		items = append(items, item{filepath.Join(d.dir, e.Name()), ts})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ts < items[j].ts })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.path
	}
	return out
}

// latest returns the newest snapshot path, or "" when there is none.
func (d *snapshotDir) latest() string {
	all := d.list()
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

func (d *snapshotDir) save(w *simworld.World) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	path := filepath.Join(d.dir, strconv.FormatInt(time.Now().UnixNano(), 10)+snapSuffix)
	tmp := path + ".tmp"
	if err := simworld.WriteSnapshot(tmp, w.Snapshot()); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	if d.keep > 0 {
		all := d.list()
		for len(all) > d.keep {
			if err := os.Remove(all[0]); err != nil {
				d.log.Warn("prune snapshot", zap.String("path", all[0]), zap.Error(err))
			}
			all = all[1:]
		}
	}
	return path, nil
}
