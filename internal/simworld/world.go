// Package simworld is an in-memory chunked world that understands the
// commands the compiler emits. Unloaded chunks are unobservable: reads there
// report observable=false, the way a live server hides chunks no player has
// nearby.
package simworld

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/geom"
	"voxelbuild.ai/internal/region"
)

const (
	DefaultMinY = -64
	DefaultMaxY = 319
)

type Option func(*World)

func WithLogger(l *zap.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// WithHeight bounds the writable y range.
func WithHeight(minY, maxY int) Option {
	return func(w *World) { w.minY, w.maxY = minY, maxY }
}

// WithFault installs a hook run before every command. A non-nil error fails
// the command without touching the world.
func WithFault(fn func(cmd string) error) Option {
	return func(w *World) { w.fault = fn }
}

type World struct {
	codec blocks.Codec
	log   *zap.Logger
	fault func(cmd string) error

	minY, maxY int

	mu       sync.RWMutex
	chunks   map[ChunkKey]*Chunk
	unloaded map[ChunkKey]bool
	ready    bool
	paused   bool

	execCalls  atomic.Int64
	batchCalls atomic.Int64
	changed    atomic.Int64
}

func New(codec blocks.Codec, opts ...Option) *World {
	w := &World{
		codec:    codec,
		log:      zap.NewNop(),
		minY:     DefaultMinY,
		maxY:     DefaultMaxY,
		chunks:   map[ChunkKey]*Chunk{},
		unloaded: map[ChunkKey]bool{},
		ready:    true,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *World) Codec() blocks.Codec { return w.codec }

// Height is the inclusive y range commands may touch.
func (w *World) Height() (minY, maxY int) { return w.minY, w.maxY }

func (w *World) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

func (w *World) Paused() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paused
}

func (w *World) SetReady(v bool) {
	w.mu.Lock()
	w.ready = v
	w.mu.Unlock()
}

func (w *World) SetPaused(v bool) {
	w.mu.Lock()
	w.paused = v
	w.mu.Unlock()
}

// Unload hides every chunk touching b from reads. Writes still land.
func (w *World) Unload(b geom.BBox) {
	w.setLoaded(b, false)
}

func (w *World) Load(b geom.BBox) {
	w.setLoaded(b, true)
}

func (w *World) setLoaded(b geom.BBox, loaded bool) {
	b = b.Normalize()
	lo, hi := KeyOf(b.Min), KeyOf(b.Max)
	w.mu.Lock()
	defer w.mu.Unlock()
	for cx := lo.CX; cx <= hi.CX; cx++ {
		for cz := lo.CZ; cz <= hi.CZ; cz++ {
			k := ChunkKey{CX: cx, CZ: cz}
			if loaded {
				delete(w.unloaded, k)
			} else {
				w.unloaded[k] = true
			}
		}
	}
}

func (w *World) Observable(pos geom.Vec3i) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.unloaded[KeyOf(pos)]
}

func (w *World) ReadState(ctx context.Context, pos geom.Vec3i) (blocks.StateID, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.unloaded[KeyOf(pos)] {
		return 0, false, nil
	}
	return w.get(pos), true, nil
}

// Block returns the state at pos regardless of observability.
func (w *World) Block(pos geom.Vec3i) string {
	w.mu.RLock()
	id := w.get(pos)
	w.mu.RUnlock()
	s, _ := w.codec.StateString(id)
	return s
}

// SetBlock writes one state directly, bypassing the command path.
func (w *World) SetBlock(pos geom.Vec3i, state string) error {
	id, err := w.codec.StateID(state)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.set(pos, id)
	return nil
}

func (w *World) get(pos geom.Vec3i) blocks.StateID {
	ch, ok := w.chunks[KeyOf(pos)]
	if !ok {
		return blocks.AirID
	}
	return ch.Get(geom.Mod(pos.X, ChunkSize), pos.Y, geom.Mod(pos.Z, ChunkSize))
}

func (w *World) set(pos geom.Vec3i, id blocks.StateID) {
	k := KeyOf(pos)
	ch, ok := w.chunks[k]
	if !ok {
		if id == blocks.AirID {
			return
		}
		ch = newChunk(k)
		w.chunks[k] = ch
	}
	if ch.Set(geom.Mod(pos.X, ChunkSize), pos.Y, geom.Mod(pos.Z, ChunkSize), id) {
		w.changed.Add(1)
	}
}

func (w *World) Exec(ctx context.Context, cmd string) error {
	w.execCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	return w.apply(cmd)
}

// ExecBatch runs commands in order and stops at the first failure. The
// returned count is the number of commands that completed.
func (w *World) ExecBatch(ctx context.Context, cmds []string) (int, error) {
	w.batchCalls.Add(1)
	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := w.apply(cmd); err != nil {
			return i, err
		}
	}
	return len(cmds), nil
}

func (w *World) apply(cmd string) error {
	if w.fault != nil {
		if err := w.fault(cmd); err != nil {
			return err
		}
	}
	if strings.HasPrefix(cmd, "/clone ") {
		return w.clone(cmd)
	}
	p, err := region.ParseCommand(cmd)
	if err != nil {
		return err
	}
	if p.Box.Min.Y < w.minY || p.Box.Max.Y > w.maxY {
		return fmt.Errorf("%s: outside world height %d..%d", p.Box, w.minY, w.maxY)
	}
	id, err := w.codec.StateID(p.Block)
	if err != nil {
		return fmt.Errorf("block %q: %w", p.Block, err)
	}
	var filter blocks.State
	if p.Kind == region.Replace {
		if filter, err = blocks.ParseState(p.Filter); err != nil {
			return fmt.Errorf("filter %q: %w", p.Filter, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	p.Cells(func(c geom.Vec3i) {
		if p.Kind == region.Replace && !w.matches(c, filter) {
			return
		}
		w.set(c, id)
	})
	w.log.Debug("command applied", zap.String("cmd", cmd), zap.Int("estimate", p.Estimate()))
	return nil
}

// clone reads the whole source before writing, so overlapping force clones
// copy the original cells.
func (w *World) clone(cmd string) error {
	c, err := region.ParseClone(cmd)
	if err != nil {
		return err
	}
	dst := c.DstBox()
	if dst.Min.Y < w.minY || dst.Max.Y > w.maxY {
		return fmt.Errorf("%s: outside world height %d..%d", dst, w.minY, w.maxY)
	}
	src := c.Src.Normalize()
	off := c.Dst.Sub(src.Min)

	w.mu.Lock()
	defer w.mu.Unlock()
	cells := make([]blocks.StateID, 0, src.Volume())
	src.Each(func(p geom.Vec3i) { cells = append(cells, w.get(p)) })
	if c.Mode == region.ModeMove {
		src.Each(func(p geom.Vec3i) { w.set(p, blocks.AirID) })
	}
	i := 0
	src.Each(func(p geom.Vec3i) {
		id := cells[i]
		i++
		if c.Mask == region.MaskMasked && id == blocks.AirID {
			return
		}
		w.set(p.Add(off), id)
	})
	w.log.Debug("clone applied", zap.String("cmd", cmd), zap.Int("volume", src.Volume()))
	return nil
}

func (w *World) matches(pos geom.Vec3i, filter blocks.State) bool {
	s, ok := w.codec.StateString(w.get(pos))
	if !ok {
		return false
	}
	cur, err := blocks.ParseState(s)
	if err != nil {
		return false
	}
	return cur.Matches(filter)
}

type Stats struct {
	ExecCalls    int64 `json:"execCalls"`
	BatchCalls   int64 `json:"batchCalls"`
	ChangedCells int64 `json:"changedCells"`
	Chunks       int   `json:"chunks"`
}

func (w *World) Stats() Stats {
	w.mu.RLock()
	n := len(w.chunks)
	w.mu.RUnlock()
	return Stats{
		ExecCalls:    w.execCalls.Load(),
		BatchCalls:   w.batchCalls.Load(),
		ChangedCells: w.changed.Load(),
		Chunks:       n,
	}
}

// MutationCalls counts Exec and ExecBatch invocations, failed ones included.
func (w *World) MutationCalls() int64 {
	return w.execCalls.Load() + w.batchCalls.Load()
}

func (w *World) ChunkKeys() []ChunkKey {
	w.mu.RLock()
	keys := make([]ChunkKey, 0, len(w.chunks))
	for k := range w.chunks {
		keys = append(keys, k)
	}
	w.mu.RUnlock()
	sortKeys(keys)
	return keys
}

// Digest hashes every chunk digest in key order.
func (w *World) Digest() string {
	keys := w.ChunkKeys()
	w.mu.Lock()
	defer w.mu.Unlock()
	h := sha256.New()
	for _, k := range keys {
		d := w.chunks[k].Digest()
		fmt.Fprintf(h, "%d,%d:", k.CX, k.CZ)
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
