package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildloop"
	"voxelbuild.ai/internal/config"
	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/idempotency"
	"voxelbuild.ai/internal/journal"
	"voxelbuild.ai/internal/metrics"
	"voxelbuild.ai/internal/simworld"
	"voxelbuild.ai/internal/transport/ws"
	"voxelbuild.ai/internal/verifier"
)

// world is what both the executor and the verifier need from a connection.
type world interface {
	executor.World
	verifier.Reader
}

// env is the wiring for one command run. close releases everything in
// reverse order of acquisition.
type env struct {
	cfg   config.Config
	log   *zap.Logger
	codec *blocks.Registry
	world world
	exec  *executor.Executor
	ver   *verifier.Verifier

	closers []func() error
}

func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return cfg, err
	}
	if a.worldURL != "" {
		cfg.World.URL = a.worldURL
	}
	return cfg, nil
}

func (a *app) codec(cfg config.Config) (*blocks.Registry, error) {
	if cfg.World.Registry == "" {
		return blocks.NewRegistry()
	}
	return blocks.LoadRegistry(cfg.World.Registry)
}

// open connects to the world and builds the executor and verifier with the
// journal, idempotency store and metrics the config asks for.
func (a *app) open(ctx context.Context, cfg config.Config) (*env, error) {
	e := &env{cfg: cfg, log: a.log}
	ok := false
	defer func() {
		if !ok {
			_ = e.close()
		}
	}()

	var err error
	if e.codec, err = a.codec(cfg); err != nil {
		return nil, err
	}

	if a.local {
		e.world = simworld.New(e.codec, simworld.WithLogger(a.log.Named("simworld")))
	} else {
		c, err := ws.Dial(ctx, cfg.World.URL, e.codec, ws.WithClientLogger(a.log.Named("world")))
		if err != nil {
			return nil, err
		}
		e.world = c
		e.closers = append(e.closers, c.Close)
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Listen != "" {
		reg := prom.NewRegistry()
		rec = metrics.NewPrometheusRecorder(reg)
		e.closers = append(e.closers, a.serveMetrics(cfg.Metrics.Listen, reg))
	}

	var store idempotency.Store = idempotency.NewMemoryStore(cfg.Idempotency.TTL)
	if cfg.Idempotency.DB != "" {
		s, err := idempotency.OpenSQLite(cfg.Idempotency.DB, cfg.Idempotency.TTL)
		if err != nil {
			return nil, err
		}
		if n, err := s.Prune(ctx); err != nil {
			a.log.Warn("prune idempotency store", zap.Error(err))
		} else if n > 0 {
			a.log.Debug("pruned idempotency store", zap.Int64("expired", n))
		}
		store = s
		e.closers = append(e.closers, s.Close)
	}

	execOpts := []executor.Option{
		executor.WithLogger(a.log.Named("executor")),
		executor.WithRecorder(rec),
		executor.WithStore(store),
	}
	verOpts := []verifier.Option{
		verifier.WithLogger(a.log.Named("verifier")),
		verifier.WithRecorder(rec),
	}
	if cfg.Journal.Dir != "" {
		j := journal.Open(cfg.Journal.Dir)
		execOpts = append(execOpts, executor.WithJournal(j))
		verOpts = append(verOpts, verifier.WithJournal(j))
		e.closers = append(e.closers, j.Close)
	}

	e.exec = executor.New(e.world, execOpts...)
	e.ver = verifier.New(e.world, e.codec, verOpts...)
	ok = true
	return e, nil
}

func (a *app) serveMetrics(addr string, reg *prom.Registry) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", zap.Error(err))
		}
	}()
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func (e *env) close() error {
	var errsOut []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	e.closers = nil
	return errors.Join(errsOut...)
}

func (e *env) loop() *buildloop.Loop {
	return buildloop.New(e.exec, e.ver, e.log.Named("build"))
}

// buildOptions maps the config onto one build run. key may be empty.
func buildOptions(cfg config.Config, key string) buildloop.Options {
	return buildloop.Options{
		Compiler:  cfg.CompilerOptions(),
		Executor:  cfg.ExecutorOptions(strings.TrimSpace(key)),
		Threshold: cfg.Verifier.Threshold,
		Policy:    cfg.Verifier.Policy,
		Rounds:    cfg.Build.Rounds,
	}
}
