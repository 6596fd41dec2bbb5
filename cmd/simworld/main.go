// Command simworld serves an in-memory voxel world over WebSocket for buildctl
// and tests.
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/simworld"
	"voxelbuild.ai/internal/transport/ws"
)

func main() {
	var (
		addr     = flag.String("addr", ":8765", "http listen address")
		dataDir  = flag.String("data", "./data", "runtime data directory")
		registry = flag.String("registry", "", "JSON list of block states to preload (optional)")
		minY     = flag.Int("min_y", simworld.DefaultMinY, "lowest buildable y")
		maxY     = flag.Int("max_y", simworld.DefaultMaxY, "highest buildable y")
		logLevel = flag.String("log_level", "info", "log level (debug, info, warn, error)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		snapEvery  = flag.Duration("snapshot_every", 5*time.Minute, "periodic snapshot interval (0 to disable)")
		keepSnaps  = flag.Int("snapshot_keep", 10, "snapshots to keep in the data dir")
	)
	flag.Parse()

	level, err := zapcore.ParseLevel(*logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger = logger.Named("simworld")

	var reg *blocks.Registry
	if strings.TrimSpace(*registry) != "" {
		reg, err = blocks.LoadRegistry(*registry)
	} else {
		reg, err = blocks.NewRegistry()
	}
	if err != nil {
		logger.Fatal("load registry", zap.Error(err))
	}

	w := simworld.New(reg, simworld.WithLogger(logger), simworld.WithHeight(*minY, *maxY))
	snaps := &snapshotDir{dir: filepath.Join(*dataDir, "snapshots"), keep: *keepSnaps, log: logger}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snaps.latest()
	}
	if snapshotToLoad != "" {
		if err := restore(w, snapshotToLoad); err != nil {
			logger.Fatal("load snapshot", zap.String("path", snapshotToLoad), zap.Error(err))
		}
		logger.Info("loaded snapshot", zap.String("path", snapshotToLoad), zap.Int("chunks", w.Stats().Chunks))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wsSrv := ws.NewServer(w, logger.Named("ws"))
	promReg := prom.NewRegistry()
	registerWorldMetrics(promReg, w, wsSrv)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(w, wsSrv, promReg, snaps, envBool("VB_ENABLE_ADMIN_HTTP", true), logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if *snapEvery > 0 {
		go func() {
			t := time.NewTicker(*snapEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, err := snaps.save(w); err != nil {
						logger.Error("periodic snapshot", zap.Error(err))
					}
				}
			}
		}()
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		wsSrv.Close()
	}()

	logger.Info("listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("ListenAndServe", zap.Error(err))
	}
	<-ctx.Done()
	if path, err := snaps.save(w); err != nil {
		logger.Error("final snapshot", zap.Error(err))
	} else {
		logger.Info("wrote final snapshot", zap.String("path", path))
	}
}

func restore(w *simworld.World, path string) error {
	snap, err := simworld.ReadSnapshot(path)
	if err != nil {
		return err
	}
	return w.Restore(snap)
}
