package simworld

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelbuild.ai/internal/blocks"
)

const snapshotVersion = 1

type Header struct {
	Version int    `json:"version"`
	Palette string `json:"palette_digest,omitempty"`
	Chunks  int    `json:"chunks"`
}

// Snapshot stores block states by string so it can be restored into a world
// with a different codec.
type Snapshot struct {
	Header  Header
	Palette []string
	Chunks  []ChunkSnapshot
}

type ChunkSnapshot struct {
	CX, CZ int
	Layers []LayerSnapshot
}

// LayerSnapshot holds one y layer as run-length encoded indexes into
// Snapshot.Palette.
type LayerSnapshot struct {
	Y   int
	RLE string
}

func (w *World) Snapshot() Snapshot {
	keys := w.ChunkKeys()
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := Snapshot{Header: Header{Version: snapshotVersion}}
	local := map[blocks.StateID]uint32{}
	localID := func(id blocks.StateID) uint32 {
		if n, ok := local[id]; ok {
			return n
		}
		s, ok := w.codec.StateString(id)
		if !ok {
			s = blocks.Air
		}
		n := uint32(len(snap.Palette))
		snap.Palette = append(snap.Palette, s)
		local[id] = n
		return n
	}
	localID(blocks.AirID)

	for _, k := range keys {
		ch := w.chunks[k]
		cs := ChunkSnapshot{CX: ch.CX, CZ: ch.CZ}
		for _, y := range ch.layerYs() {
			l := ch.layers[y]
			if isEmpty(l) {
				continue
			}
			ids := make([]uint32, len(l))
			for i, v := range l {
				ids[i] = localID(v)
			}
			cs.Layers = append(cs.Layers, LayerSnapshot{Y: y, RLE: EncodeRLE(ids)})
		}
		if len(cs.Layers) > 0 {
			snap.Chunks = append(snap.Chunks, cs)
		}
	}
	snap.Header.Chunks = len(snap.Chunks)
	if r, ok := w.codec.(*blocks.Registry); ok {
		snap.Header.Palette = r.Digest()
	}
	return snap
}

// Restore replaces the world contents with snap.
func (w *World) Restore(snap Snapshot) error {
	ids := make([]blocks.StateID, len(snap.Palette))
	for i, s := range snap.Palette {
		id, err := w.codec.StateID(s)
		if err != nil {
			return fmt.Errorf("palette %d: %w", i, err)
		}
		ids[i] = id
	}

	chunks := map[ChunkKey]*Chunk{}
	for _, cs := range snap.Chunks {
		k := ChunkKey{CX: cs.CX, CZ: cs.CZ}
		ch := newChunk(k)
		for _, ls := range cs.Layers {
			raw, err := DecodeRLE(ls.RLE)
			if err != nil {
				return fmt.Errorf("chunk %d,%d y=%d: %w", cs.CX, cs.CZ, ls.Y, err)
			}
			if len(raw) != ChunkSize*ChunkSize {
				return fmt.Errorf("chunk %d,%d y=%d: %d cells, want %d", cs.CX, cs.CZ, ls.Y, len(raw), ChunkSize*ChunkSize)
			}
			l := make([]blocks.StateID, len(raw))
			for i, n := range raw {
				if int(n) >= len(ids) {
					return fmt.Errorf("chunk %d,%d y=%d: palette index %d out of range", cs.CX, cs.CZ, ls.Y, n)
				}
				l[i] = ids[n]
			}
			ch.layers[ls.Y] = l
		}
		chunks[k] = ch
	}

	w.mu.Lock()
	w.chunks = chunks
	w.mu.Unlock()
	return nil
}

// WriteSnapshot writes a JSON header line followed by the gob-encoded
// snapshot, all zstd compressed.
func WriteSnapshot(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// header line is for tooling; gob carries it too
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != snapshotVersion {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// EncodeRLE encodes ids as base64 of (id, run length) uvarint pairs.
func EncodeRLE(ids []uint32) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(ids) {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b; j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		i += run
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func DecodeRLE(b64 string) ([]uint32, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFFFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		if run > ChunkSize*ChunkSize {
			return nil, fmt.Errorf("run too long: %d", run)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint32(b))
		}
	}
	return out, nil
}
