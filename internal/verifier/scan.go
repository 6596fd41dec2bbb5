package verifier

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/compiler"
	"voxelbuild.ai/internal/errs"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/journal"
)

// Template summarizes a scanned region so it can be cloned elsewhere.
type Template struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Source geom.BBox  `json:"source"`
	Dims   geom.Vec3i `json:"dims"`
	// BlockCount counts observed non-air cells.
	BlockCount int `json:"blockCount"`
	// Counts maps canonical block names, air excluded, to cells.
	Counts    map[string]int `json:"counts"`
	Skipped   int            `json:"skipped"`
	Hash      string         `json:"hash"`
	Tags      []string       `json:"tags,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CloneSource lists the template's blocks for allow-list checks.
func (t Template) CloneSource() compiler.CloneSource {
	names := make([]string, 0, len(t.Counts))
	for n := range t.Counts {
		names = append(names, n)
	}
	sort.Strings(names)
	return compiler.CloneSource{ID: t.ID, Box: t.Source, Blocks: names}
}

type scanSlab struct {
	skipped int
	ids     map[blocks.StateID]int
}

// Scan reads bbox once and summarizes what it holds. More than SkipLimit
// unobservable cells make the template VerificationInconclusive; the partial
// template is still returned.
func (v *Verifier) Scan(ctx context.Context, bbox geom.BBox, name string, tags ...string) (Template, error) {
	bbox = bbox.Normalize()
	slabs := splitX(bbox, DefaultPolicy().Concurrency)
	out := make([]scanSlab, len(slabs))

	g, gctx := errgroup.WithContext(ctx)
	for i, box := range slabs {
		i, box := i, box
		g.Go(func() error {
			s := scanSlab{ids: map[blocks.StateID]int{}}
			var readErr error
			box.Each(func(p geom.Vec3i) {
				if readErr != nil {
					return
				}
				if readErr = gctx.Err(); readErr != nil {
					return
				}
				id, ok, err := v.world.ReadState(gctx, p)
				switch {
				case err != nil:
					readErr = err
				case !ok:
					s.skipped++
				default:
					s.ids[id]++
				}
			})
			out[i] = s
			return readErr
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return Template{}, errs.Wrap(err, errs.Cancelled, "scan cancelled")
		}
		return Template{}, errs.Wrap(err, errs.WorldUnavailable, "scanning %s", bbox)
	}

	dx, dy, dz := bbox.Dims()
	t := Template{
		ID:        "tmpl_" + uuid.NewString(),
		Name:      name,
		Source:    bbox,
		Dims:      geom.V(dx, dy, dz),
		Counts:    map[string]int{},
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}
	ids := map[blocks.StateID]int{}
	for _, s := range out {
		t.Skipped += s.skipped
		for id, n := range s.ids {
			ids[id] += n
		}
	}
	for id, n := range ids {
		raw, ok := v.codec.StateString(id)
		if !ok {
			return Template{}, errs.New(errs.WorldUnavailable, "world reported unknown state id %d", id)
		}
		st, err := blocks.ParseState(raw)
		if err != nil {
			return Template{}, errs.Wrap(err, errs.WorldUnavailable, "world reported state %q", raw)
		}
		if st.IsAir() {
			continue
		}
		t.BlockCount += n
		t.Counts[blocks.CanonicalName(raw)] += n
	}
	t.Hash = blocks.HashCounts(ids)

	v.log.Info("structure scanned",
		zap.String("template", t.ID),
		zap.String("name", name),
		zap.Stringer("bbox", bbox),
		zap.Int("blocks", t.BlockCount),
		zap.Int("skipped", t.Skipped))
	if v.journal != nil {
		if jerr := v.journal.Record(journal.KindScan, t.ID, t); jerr != nil {
			v.log.Warn("journal write failed", zap.Error(jerr))
		}
	}
	if float64(t.Skipped) > SkipLimit*float64(bbox.Volume()) {
		return t, errs.New(errs.VerificationInconclusive, "%d of %d coordinates unobserved", t.Skipped, bbox.Volume()).
			With("skipped", t.Skipped).With("total", bbox.Volume())
	}
	return t, nil
}
