// Package buildloop drives compile, execute and verify rounds. A failed
// verification folds its patch ops into a new spec revision, which is run
// again from the compiler.
package buildloop

import (
	"context"

	"go.uber.org/zap"

	"voxelbuild.ai/internal/buildspec"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/executor"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/verifier"
)

type Options struct {
	Compiler compiler.Options
	Executor executor.Options
	// Threshold and Policy are passed to every verification.
	Threshold float64
	Policy    verifier.Policy
	// Rounds bounds execute/verify passes, the first build included.
	Rounds int
	// BBox overrides the verified region; by default the spec's expected
	// bbox or else the bbox of the first compiled script.
	BBox *geom.BBox
}

type Round struct {
	SpecID   string          `json:"specId"`
	ScriptID string          `json:"scriptId"`
	Report   executor.Report `json:"report"`
	Result   verifier.Result `json:"result"`
}

type Outcome struct {
	OK     bool           `json:"ok"`
	Spec   buildspec.Spec `json:"spec"`
	Rounds []Round        `json:"rounds"`
}

type Loop struct {
	exec   *executor.Executor
	verify *verifier.Verifier
	log    *zap.Logger
}

func New(exec *executor.Executor, verify *verifier.Verifier, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{exec: exec, verify: verify, log: logger}
}

// Run builds spec until verification passes or the rounds run out; running
// out is not an error, Outcome.OK reports it. Outcome carries the last
// revision and every round so far, also on error. Each revision executes
// under its own idempotency key.
func (l *Loop) Run(ctx context.Context, spec buildspec.Spec, opts Options) (Outcome, error) {
	rounds := opts.Rounds
	if rounds <= 0 {
		rounds = 1
	}
	out := Outcome{Spec: spec}
	var bbox *geom.BBox
	switch {
	case opts.BBox != nil:
		b := opts.BBox.Normalize()
		bbox = &b
	case spec.Expected != nil:
		b := spec.Expected.BBox.Normalize()
		bbox = &b
	}

	for i := 0; i < rounds; i++ {
		log := l.log.With(zap.Int("round", i+1), zap.String("spec", out.Spec.ID))
		script, err := compiler.Compile(out.Spec, opts.Compiler)
		if err != nil {
			return out, err
		}
		if bbox == nil {
			b := script.BBox
			bbox = &b
		}

		eo := opts.Executor
		if eo.IdempotencyKey == "" {
			eo.IdempotencyKey = "build:" + out.Spec.ID
		} else if i > 0 {
			eo.IdempotencyKey = opts.Executor.IdempotencyKey + ":" + out.Spec.ID
		}
		rep, err := l.exec.Execute(ctx, script, eo)
		round := Round{SpecID: out.Spec.ID, ScriptID: script.ID, Report: rep}
		if err != nil {
			out.Rounds = append(out.Rounds, round)
			return out, err
		}

		res, err := l.verify.Verify(ctx, out.Spec, *bbox, opts.Threshold, opts.Policy)
		round.Result = res
		out.Rounds = append(out.Rounds, round)
		if err != nil {
			// an inconclusive result calls for better visibility, not another
			// build
			return out, err
		}
		log.Info("round verified",
			zap.Bool("ok", res.OK),
			zap.Float64("ratio", res.MatchRatio),
			zap.Int("patch_ops", len(res.PatchOps)))
		if res.OK {
			out.OK = true
			return out, nil
		}
		if len(res.PatchOps) == 0 {
			break
		}
		if i+1 < rounds {
			out.Spec = verifier.Repair(out.Spec, res)
		}
	}
	l.log.Warn("build did not verify", zap.Int("rounds", len(out.Rounds)), zap.String("spec", out.Spec.ID))
	return out, nil
}
