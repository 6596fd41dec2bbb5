// Package executor applies a compiled script to a world under safety and
// resource limits. Every limit is checked before the first mutation; a
// rejected script has no side effects.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/idempotency"
	"voxelbuild.ai/internal/journal"
	"voxelbuild.ai/internal/metrics"
)

// World is the mutation side of a world connection.
type World interface {
	Ready() bool
	Paused() bool
	ReadState(ctx context.Context, pos geom.Vec3i) (blocks.StateID, bool, error)
	ExecBatch(ctx context.Context, cmds []string) (int, error)
	Exec(ctx context.Context, cmd string) error
}

// statusWorld is implemented by worlds that report both flags in one
// round trip.
type statusWorld interface {
	WorldStatus(ctx context.Context) (ready, paused bool, err error)
}

type Journal interface {
	Record(kind, key string, v any) error
}

type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Failed    Outcome = "failed"
	Cancelled Outcome = "cancelled"
)

type Mode string

const (
	ModeBatch      Mode = "batch"
	ModeSequential Mode = "sequential"
)

// Budgets bound one execution. A zero field is unlimited; a positive field is
// enforced exactly as given.
type Budgets struct {
	MaxDuration      time.Duration `json:"maxDuration" yaml:"max_duration"`
	MaxCommands      int           `json:"maxCommands" yaml:"max_commands"`
	MaxChangedBlocks int           `json:"maxChangedBlocks" yaml:"max_changed_blocks"`
}

type Safety struct {
	// Zone, when set, must contain every step bbox.
	Zone *geom.BBox `json:"zone,omitempty" yaml:"zone,omitempty"`
	// Allowlist, when non-empty, must name every block a step places.
	Allowlist []string `json:"allowlist,omitempty" yaml:"allowlist,omitempty"`
}

type DiffMode string

const (
	DiffNone    DiffMode = ""
	DiffPerStep DiffMode = "per-step"
	DiffPerBBox DiffMode = "per-bbox"
)

type DiffEncoding string

const (
	EncodingCountsHash DiffEncoding = "counts+hash"
	EncodingHash       DiffEncoding = "hash"
)

type DiffOptions struct {
	Mode     DiffMode     `json:"mode,omitempty" yaml:"mode,omitempty"`
	Encoding DiffEncoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

type Options struct {
	Budgets    Budgets
	Safety     Safety
	Diffs      DiffOptions
	Sequential bool
	// IdempotencyKey, when set, makes repeated calls return the first
	// stored report without touching the world.
	IdempotencyKey string
}

// RegionState summarizes a bbox at one instant.
type RegionState struct {
	Counts     map[string]int `json:"counts,omitempty"`
	Hash       string         `json:"hash"`
	Unobserved int            `json:"unobserved,omitempty"`
}

type Diff struct {
	BBox   geom.BBox   `json:"bbox"`
	Before RegionState `json:"before"`
	After  RegionState `json:"after"`
}

type Report struct {
	ScriptID                string    `json:"scriptId"`
	Outcome                 Outcome   `json:"outcome"`
	Mode                    Mode      `json:"mode"`
	CommandsExecuted        int       `json:"commandsExecuted"`
	ElapsedSeconds          float64   `json:"elapsedSeconds"`
	ChangedBlocksUpperBound int       `json:"changedBlocksUpperBound"`
	Diffs                   []Diff    `json:"diffs,omitempty"`
	ErrorKind               errs.Kind `json:"errorKind,omitempty"`
	Error                   string    `json:"error,omitempty"`
}

type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.rec = r
		}
	}
}

func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

func WithStore(s idempotency.Store) Option {
	return func(e *Executor) {
		if s != nil {
			e.store = s
		}
	}
}

type Executor struct {
	world   World
	log     *zap.Logger
	rec     metrics.Recorder
	journal Journal
	store   idempotency.Store
	now     func() time.Time

	flight singleflight.Group
}

func New(world World, opts ...Option) *Executor {
	e := &Executor{
		world: world,
		log:   zap.NewNop(),
		rec:   metrics.NoopRecorder{},
		store: idempotency.NewMemoryStore(idempotency.DefaultTTL),
		now:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs script against the world. The returned report is always
// filled in; err is non-nil whenever the outcome is not Succeeded.
func (e *Executor) Execute(ctx context.Context, script compiler.Script, opts Options) (Report, error) {
	opts = snapshotOptions(opts)
	key := opts.IdempotencyKey
	if key == "" {
		rep, _, err := e.run(ctx, script, opts)
		return rep, err
	}

	if rep, ok, err := e.replay(ctx, key); err != nil || ok {
		return rep, err
	}
	type result struct {
		rep Report
		err error
	}
	v, _, _ := e.flight.Do(key, func() (any, error) {
		if rep, ok, err := e.replay(ctx, key); err != nil || ok {
			return result{rep, err}, nil
		}
		rep, store, err := e.run(ctx, script, opts)
		if store {
			if body, merr := json.Marshal(rep); merr == nil {
				if perr := e.store.Put(ctx, key, body); perr != nil {
					e.log.Warn("idempotency store put failed", zap.String("key", key), zap.Error(perr))
				}
			}
		}
		return result{rep, err}, nil
	})
	r := v.(result)
	return r.rep, r.err
}

func (e *Executor) replay(ctx context.Context, key string) (Report, bool, error) {
	body, ok, err := e.store.Get(ctx, key)
	if err != nil {
		// the key may already have run; without the store there is no way to tell
		e.log.Warn("idempotency store get failed", zap.String("key", key), zap.Error(err))
		return Report{}, false, errs.Wrap(err, errs.WorldUnavailable, "idempotency store unavailable").
			With("idempotency_key", key)
	}
	if !ok {
		return Report{}, false, nil
	}
	var rep Report
	if err := json.Unmarshal(body, &rep); err != nil {
		e.log.Warn("idempotency record unreadable", zap.String("key", key), zap.Error(err))
		return Report{}, false, errs.Wrap(err, errs.WorldUnavailable, "idempotency record unreadable").
			With("idempotency_key", key)
	}
	e.rec.IncExecution(metrics.OutcomeReplayed)
	e.log.Info("execution replayed", zap.String("key", key), zap.String("outcome", string(rep.Outcome)))
	if rep.Outcome == Succeeded {
		return rep, true, nil
	}
	return rep, true, errs.New(rep.ErrorKind, "replayed: %s", rep.Error).With("idempotency_key", key)
}

// snapshotOptions copies the slices and pointers in opts so later caller
// mutation cannot change a run in progress.
func snapshotOptions(o Options) Options {
	if o.Safety.Zone != nil {
		z := o.Safety.Zone.Normalize()
		o.Safety.Zone = &z
	}
	o.Safety.Allowlist = append([]string(nil), o.Safety.Allowlist...)
	return o
}

// run reports whether the result may be stored under an idempotency key:
// pre-flight rejections are not.
func (e *Executor) run(ctx context.Context, script compiler.Script, opts Options) (Report, bool, error) {
	start := e.now()
	rep := Report{ScriptID: script.ID, Mode: ModeBatch}
	if opts.Sequential || opts.Diffs.Mode == DiffPerStep {
		rep.Mode = ModeSequential
	}
	log := e.log.With(zap.String("script", script.ID), zap.String("mode", string(rep.Mode)))

	if err := e.preflight(ctx, script, opts); err != nil {
		kind := errs.KindOf(err)
		e.rec.IncPreflightRejection(string(kind))
		e.rec.IncExecution(metrics.OutcomeRejected)
		log.Warn("execution rejected", zap.Error(err))
		rep = e.finish(rep, start, err)
		return rep, false, err
	}

	var err error
	if rep.Mode == ModeSequential {
		err = e.runSequential(ctx, script, opts, &rep, start)
	} else {
		err = e.runBatch(ctx, script, opts, &rep)
	}
	rep = e.finish(rep, start, err)

	e.rec.IncExecution(metrics.Outcome(rep.Outcome))
	e.rec.ObserveExecutionDuration(e.now().Sub(start))
	e.rec.AddCommands(rep.CommandsExecuted)
	fields := []zap.Field{
		zap.String("outcome", string(rep.Outcome)),
		zap.Int("commands", rep.CommandsExecuted),
		zap.Int("changed_upper_bound", rep.ChangedBlocksUpperBound),
		zap.Float64("elapsed_s", rep.ElapsedSeconds),
	}
	if err != nil {
		log.Warn("execution ended early", append(fields, zap.Error(err))...)
	} else {
		log.Info("execution finished", fields...)
	}
	return rep, true, err
}

func (e *Executor) finish(rep Report, start time.Time, err error) Report {
	rep.ElapsedSeconds = e.now().Sub(start).Seconds()
	switch {
	case err == nil:
		rep.Outcome = Succeeded
	case errs.Has(err, errs.Cancelled):
		rep.Outcome = Cancelled
	default:
		rep.Outcome = Failed
	}
	if err != nil {
		rep.ErrorKind = errs.KindOf(err)
		rep.Error = err.Error()
	}
	if e.journal != nil {
		if jerr := e.journal.Record(journal.KindExecution, rep.ScriptID, rep); jerr != nil {
			e.log.Warn("journal write failed", zap.Error(jerr))
		}
	}
	return rep
}

// preflight checks, in order: world availability, build zone, allow-list,
// budgets.
func (e *Executor) preflight(ctx context.Context, script compiler.Script, opts Options) error {
	if err := e.checkWorld(ctx); err != nil {
		return err
	}

	if z := opts.Safety.Zone; z != nil {
		for i, st := range script.Steps {
			if !z.ContainsBox(st.BBox) {
				return errs.New(errs.ZoneViolation, "step %d bbox %s outside build zone %s", i, st.BBox, *z).
					With("step", i).With("command", st.Command)
			}
		}
	}

	if len(opts.Safety.Allowlist) > 0 {
		allowed := make(map[string]bool, len(opts.Safety.Allowlist))
		for _, name := range opts.Safety.Allowlist {
			allowed[blocks.CanonicalName(name)] = true
		}
		for i, st := range script.Steps {
			for _, name := range st.Blocks {
				if !allowed[blocks.CanonicalName(name)] {
					return errs.New(errs.MaterialNotAllowed, "block %s is not on the allow-list", name).
						With("step", i).With("block", name)
				}
			}
		}
	}

	b := opts.Budgets
	if n := len(script.Steps); b.MaxCommands > 0 && n > b.MaxCommands {
		return errs.New(errs.BudgetExceeded, "%d commands > %d limit", n, b.MaxCommands).
			With("estimate", n).With("limit", b.MaxCommands)
	}
	if est := estimate(script.Steps); b.MaxChangedBlocks > 0 && est > b.MaxChangedBlocks {
		return errs.New(errs.BudgetExceeded, "%d changed blocks > %d limit", est, b.MaxChangedBlocks).
			With("estimate", est).With("limit", b.MaxChangedBlocks)
	}
	return nil
}

func estimate(steps []compiler.Step) int {
	n := 0
	for _, st := range steps {
		n += st.Estimate
	}
	return n
}

func (e *Executor) runBatch(ctx context.Context, script compiler.Script, opts Options, rep *Report) error {
	var diff *Diff
	if opts.Diffs.Mode == DiffPerBBox && len(script.Steps) > 0 {
		before, err := e.capture(ctx, script.BBox, opts.Diffs.Encoding)
		if err != nil {
			return err
		}
		diff = &Diff{BBox: script.BBox, Before: before}
	}

	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, errs.Cancelled, "cancelled before dispatch")
	}
	if len(script.Steps) > 0 {
		n, err := e.world.ExecBatch(ctx, script.CommandList())
		n = min(max(n, 0), len(script.Steps))
		rep.CommandsExecuted = n
		rep.ChangedBlocksUpperBound = estimate(script.Steps[:n])
		if err != nil {
			return e.mutationError(ctx, err, n)
		}
	}

	if diff != nil {
		after, err := e.capture(ctx, script.BBox, opts.Diffs.Encoding)
		if err != nil {
			return err
		}
		diff.After = after
		rep.Diffs = append(rep.Diffs, *diff)
	}
	return nil
}

func (e *Executor) runSequential(ctx context.Context, script compiler.Script, opts Options, rep *Report, start time.Time) error {
	var whole *Diff
	if opts.Diffs.Mode == DiffPerBBox && len(script.Steps) > 0 {
		before, err := e.capture(ctx, script.BBox, opts.Diffs.Encoding)
		if err != nil {
			return err
		}
		whole = &Diff{BBox: script.BBox, Before: before}
	}

	for i, st := range script.Steps {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(err, errs.Cancelled, "cancelled at step %d", i).With("step", i)
		}
		if lim := opts.Budgets.MaxDuration; lim > 0 {
			if el := e.now().Sub(start); el > lim {
				return errs.New(errs.BudgetExceeded, "elapsed %s > %s limit at step %d", el.Round(time.Millisecond), lim, i).
					With("step", i).With("limit", lim.String())
			}
		}

		var before RegionState
		if opts.Diffs.Mode == DiffPerStep {
			var err error
			if before, err = e.capture(ctx, st.BBox, opts.Diffs.Encoding); err != nil {
				return err
			}
		}
		if err := e.world.Exec(ctx, st.Command); err != nil {
			return e.mutationError(ctx, err, i).With("command", st.Command)
		}
		rep.CommandsExecuted++
		rep.ChangedBlocksUpperBound += st.Estimate
		if opts.Diffs.Mode == DiffPerStep {
			after, err := e.capture(ctx, st.BBox, opts.Diffs.Encoding)
			if err != nil {
				return err
			}
			rep.Diffs = append(rep.Diffs, Diff{BBox: st.BBox, Before: before, After: after})
		}
	}

	if whole != nil {
		after, err := e.capture(ctx, script.BBox, opts.Diffs.Encoding)
		if err != nil {
			return err
		}
		whole.After = after
		rep.Diffs = append(rep.Diffs, *whole)
	}
	return nil
}

func (e *Executor) checkWorld(ctx context.Context) error {
	var ready, paused bool
	if sw, ok := e.world.(statusWorld); ok {
		var err error
		ready, paused, err = sw.WorldStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errs.Wrap(err, errs.Cancelled, "cancelled before execution")
			}
			return errs.Wrap(err, errs.WorldUnavailable, "world status")
		}
	} else {
		ready, paused = e.world.Ready(), e.world.Paused()
	}
	if !ready {
		return errs.New(errs.WorldUnavailable, "world not ready")
	}
	if paused {
		return errs.New(errs.WorldUnavailable, "world paused")
	}
	return nil
}

func (e *Executor) mutationError(ctx context.Context, err error, step int) *errs.Error {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(err, errs.Cancelled, "cancelled during step %d", step).With("step", step)
	case errs.KindOf(err) != "":
		return errs.Wrap(err, errs.KindOf(err), "step %d", step).With("step", step)
	case !e.world.Ready():
		return errs.Wrap(err, errs.WorldUnavailable, "world lost during step %d", step).With("step", step)
	default:
		return errs.Wrap(err, errs.ExecFailed, "step %d failed", step).With("step", step)
	}
}
