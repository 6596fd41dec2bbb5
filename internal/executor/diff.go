package executor

import (
	"context"
	"errors"
	"strconv"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
)

// capture reads every cell of b. Unobservable cells are counted but left out
// of the hash.
func (e *Executor) capture(ctx context.Context, b geom.BBox, enc DiffEncoding) (RegionState, error) {
	counts := map[blocks.StateID]int{}
	unobserved := 0
	var readErr error
	b.Each(func(p geom.Vec3i) {
		if readErr != nil {
			return
		}
		if readErr = ctx.Err(); readErr != nil {
			return
		}
		id, ok, err := e.world.ReadState(ctx, p)
		if err != nil {
			readErr = err
			return
		}
		if !ok {
			unobserved++
			return
		}
		counts[id]++
	})
	if readErr != nil {
		if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
			return RegionState{}, errs.Wrap(readErr, errs.Cancelled, "cancelled while reading %s", b)
		}
		return RegionState{}, errs.Wrap(readErr, errs.WorldUnavailable, "reading %s", b)
	}

	st := RegionState{Hash: blocks.HashCounts(counts), Unobserved: unobserved}
	if enc != EncodingHash {
		st.Counts = make(map[string]int, len(counts))
		for id, n := range counts {
			st.Counts[strconv.FormatUint(uint64(id), 10)] = n
		}
	}
	return st, nil
}
