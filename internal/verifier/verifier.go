// Package verifier compares the live world against the state a spec should
// produce and turns each mismatch into a single-cell repair op.
package verifier

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/journal"
	"voxelbuild.ai/internal/metrics"
)

// Reader is the read side of a world connection. ok is false for cells the
// world cannot currently observe.
type Reader interface {
	ReadState(ctx context.Context, pos geom.Vec3i) (id blocks.StateID, ok bool, err error)
}

type Journal interface {
	Record(kind, key string, v any) error
}

type Mismatch struct {
	Pos        geom.Vec3i     `json:"pos"`
	Expected   string         `json:"expected"`
	ExpectedID blocks.StateID `json:"expectedId"`
	Actual     string         `json:"actual"`
	ActualID   blocks.StateID `json:"actualId"`
}

type Result struct {
	OK           bool    `json:"ok"`
	Inconclusive bool    `json:"inconclusive"`
	MatchRatio   float64 `json:"matchRatio"`
	Matched      int     `json:"matched"`
	Checked      int     `json:"checked"`
	Skipped      int     `json:"skipped"`
	Total        int     `json:"total"`
	// Diffs holds at most Policy.MaxDiffs mismatches in x, y, z order.
	Diffs        []Mismatch       `json:"diffs"`
	ExpectedHash string           `json:"expectedHash"`
	ActualHash   string           `json:"actualHash"`
	PatchOps     buildspec.OpList `json:"patchOps"`
	Attempts     int              `json:"attempts"`
}

type Option func(*Verifier)

func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(v *Verifier) {
		if r != nil {
			v.rec = r
		}
	}
}

func WithJournal(j Journal) Option {
	return func(v *Verifier) { v.journal = j }
}

type Verifier struct {
	world   Reader
	codec   blocks.Codec
	log     *zap.Logger
	rec     metrics.Recorder
	journal Journal
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(world Reader, codec blocks.Codec, opts ...Option) *Verifier {
	v := &Verifier{
		world: world,
		codec: codec,
		log:   zap.NewNop(),
		rec:   metrics.NoopRecorder{},
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verify samples bbox up to policy.Attempts times and returns the first
// passing result, or else the best-scoring one. A threshold of zero means
// DefaultThreshold. The error is of kind VerificationInconclusive when the
// returned result is inconclusive.
func (v *Verifier) Verify(ctx context.Context, spec buildspec.Spec, bbox geom.BBox, threshold float64, policy Policy) (Result, error) {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return Result{}, errs.New(errs.InvalidSpec, "threshold %v outside (0, 1]", threshold)
	}
	if err := policy.Validate(); err != nil {
		return Result{}, errs.Wrap(err, errs.InvalidSpec, "verify policy")
	}
	policy = policy.withDefaults()
	bbox = bbox.Normalize()

	exp, err := ExpectedState(spec, bbox)
	if err != nil {
		return Result{}, err
	}
	ids, err := v.resolve(exp)
	if err != nil {
		return Result{}, err
	}
	log := v.log.With(zap.String("spec", spec.ID), zap.Stringer("bbox", bbox))

	var best Result
	have := false
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err := v.sleep(ctx, policy.Delay(attempt)); err != nil {
			if have {
				return v.finish(spec, best, errs.Wrap(err, errs.Cancelled, "verification cancelled after %d attempts", attempt))
			}
			return Result{}, errs.Wrap(err, errs.Cancelled, "verification cancelled")
		}

		res, err := v.once(ctx, spec, bbox, threshold, policy, exp, ids)
		if err != nil {
			return Result{}, err
		}
		res.Attempts = attempt + 1
		v.rec.IncVerifyAttempt(res.OK)
		log.Debug("verify pass",
			zap.Int("attempt", attempt+1),
			zap.Bool("ok", res.OK),
			zap.Float64("ratio", res.MatchRatio),
			zap.Int("skipped", res.Skipped))
		if res.OK {
			return v.finish(spec, res, nil)
		}
		if !have || better(res, best) {
			best, have = res, true
		}
		best.Attempts = attempt + 1
	}

	if best.Inconclusive {
		return v.finish(spec, best, errs.New(errs.VerificationInconclusive,
			"%d of %d coordinates unobserved", best.Skipped, best.Total).
			With("skipped", best.Skipped).With("total", best.Total))
	}
	return v.finish(spec, best, nil)
}

// better ranks a conclusive attempt above an inconclusive one, then by ratio.
func better(a, b Result) bool {
	if a.Inconclusive != b.Inconclusive {
		return !a.Inconclusive
	}
	return a.MatchRatio > b.MatchRatio
}

func (v *Verifier) finish(spec buildspec.Spec, res Result, err error) (Result, error) {
	v.rec.ObserveMatchRatio(res.MatchRatio)
	if res.Inconclusive {
		v.rec.IncVerifyInconclusive()
	}
	v.log.Info("verification finished",
		zap.String("spec", spec.ID),
		zap.Bool("ok", res.OK),
		zap.Bool("inconclusive", res.Inconclusive),
		zap.Float64("ratio", res.MatchRatio),
		zap.Int("diffs", len(res.Diffs)),
		zap.Int("attempts", res.Attempts))
	if v.journal != nil {
		if jerr := v.journal.Record(journal.KindVerification, spec.ID, res); jerr != nil {
			v.log.Warn("journal write failed", zap.Error(jerr))
		}
	}
	return res, err
}

func (v *Verifier) resolve(exp Expected) (map[string]blocks.StateID, error) {
	ids := map[string]blocks.StateID{}
	add := func(s string) error {
		if _, ok := ids[s]; ok {
			return nil
		}
		id, err := v.codec.StateID(s)
		if err != nil {
			return errs.Wrap(err, errs.InvalidSpec, "expected state %q", s)
		}
		ids[s] = id
		return nil
	}
	states := []string{blocks.Air}
	for _, s := range exp {
		states = append(states, s)
	}
	// sorted so a registry assigns new ids in a stable order
	sort.Strings(states)
	for _, s := range states {
		if err := add(s); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

type slab struct {
	matched, skipped int
	diffs            []Mismatch
	exp, act         map[blocks.StateID]int
}

// once is a single sampling pass. x-slabs are read concurrently and merged
// in x order, so the result does not depend on scheduling.
func (v *Verifier) once(ctx context.Context, spec buildspec.Spec, bbox geom.BBox, threshold float64, policy Policy, exp Expected, ids map[string]blocks.StateID) (Result, error) {
	slabs := splitX(bbox, policy.Concurrency)
	out := make([]slab, len(slabs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(policy.Concurrency)
	for i, box := range slabs {
		i, box := i, box
		g.Go(func() error {
			s, err := v.sample(gctx, box, exp, ids, policy.MaxDiffs)
			out[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return Result{}, errs.Wrap(err, errs.Cancelled, "verification cancelled")
		}
		return Result{}, errs.Wrap(err, errs.WorldUnavailable, "reading %s", bbox)
	}

	res := Result{Total: bbox.Volume(), Diffs: []Mismatch{}, PatchOps: buildspec.OpList{}}
	expCounts := map[blocks.StateID]int{}
	actCounts := map[blocks.StateID]int{}
	for _, s := range out {
		res.Matched += s.matched
		res.Skipped += s.skipped
		for id, n := range s.exp {
			expCounts[id] += n
		}
		for id, n := range s.act {
			actCounts[id] += n
		}
		for _, d := range s.diffs {
			if len(res.Diffs) < policy.MaxDiffs {
				res.Diffs = append(res.Diffs, d)
			}
		}
	}
	res.Checked = res.Total - res.Skipped
	if res.Checked > 0 {
		res.MatchRatio = float64(res.Matched) / float64(res.Checked)
	}
	res.Inconclusive = float64(res.Skipped) > SkipLimit*float64(res.Total)
	res.OK = res.MatchRatio >= threshold && !res.Inconclusive
	res.ExpectedHash = blocks.HashCounts(expCounts)
	res.ActualHash = blocks.HashCounts(actCounts)
	res.PatchOps = PatchOps(spec, res.Diffs)
	return res, nil
}

func (v *Verifier) sample(ctx context.Context, box geom.BBox, exp Expected, ids map[string]blocks.StateID, maxDiffs int) (slab, error) {
	s := slab{exp: map[blocks.StateID]int{}, act: map[blocks.StateID]int{}}
	var readErr error
	box.Each(func(p geom.Vec3i) {
		if readErr != nil {
			return
		}
		if readErr = ctx.Err(); readErr != nil {
			return
		}
		actual, ok, err := v.world.ReadState(ctx, p)
		if err != nil {
			readErr = err
			return
		}
		if !ok {
			s.skipped++
			return
		}
		want := exp.Lookup(p)
		wantID := ids[want]
		s.exp[wantID]++
		s.act[actual]++
		if actual == wantID || blocks.SameBlock(v.codec, actual, wantID) {
			s.matched++
			return
		}
		if len(s.diffs) < maxDiffs {
			got, _ := v.codec.StateString(actual)
			s.diffs = append(s.diffs, Mismatch{Pos: p, Expected: want, ExpectedID: wantID, Actual: got, ActualID: actual})
		}
	})
	return s, readErr
}

// splitX cuts b into at most n slabs of whole x columns.
func splitX(b geom.BBox, n int) []geom.BBox {
	dx, _, _ := b.Dims()
	if n > dx {
		n = dx
	}
	if n < 1 {
		n = 1
	}
	out := make([]geom.BBox, 0, n)
	x := b.Min.X
	for i := 0; i < n; i++ {
		w := dx / n
		if i < dx%n {
			w++
		}
		s := b
		s.Min.X, s.Max.X = x, x+w-1
		out = append(out, s)
		x += w
	}
	return out
}

// PatchOps turns mismatches into single-cell fillCuboid ops relative to the
// spec origin, carrying the full expected state.
func PatchOps(spec buildspec.Spec, diffs []Mismatch) buildspec.OpList {
	ops := make(buildspec.OpList, 0, len(diffs))
	for _, d := range diffs {
		ops = append(ops, buildspec.SetBlock(d.Pos.Sub(spec.Origin), d.Expected))
	}
	return ops
}

// Repair folds the patch ops of res into a new revision of spec. It returns
// spec unchanged when there is nothing to repair.
func Repair(spec buildspec.Spec, res Result) buildspec.Spec {
	if len(res.PatchOps) == 0 {
		return spec
	}
	return spec.Revise(res.PatchOps...)
}
