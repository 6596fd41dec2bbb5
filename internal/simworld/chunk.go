package simworld

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"voxelbuild.ai/internal/blocks"
	"voxelbuild.ai/internal/geom"
)

const ChunkSize = 16

type ChunkKey struct {
	CX int `json:"cx"`
	CZ int `json:"cz"`
}

func KeyOf(pos geom.Vec3i) ChunkKey {
	return ChunkKey{CX: geom.FloorDiv(pos.X, ChunkSize), CZ: geom.FloorDiv(pos.Z, ChunkSize)}
}

// Chunk is a 16x16 column. Layers are allocated on first write; a missing
// layer is all air.
type Chunk struct {
	CX, CZ int
	layers map[int][]blocks.StateID

	dirty bool
	hash  [32]byte
}

func newChunk(k ChunkKey) *Chunk {
	return &Chunk{CX: k.CX, CZ: k.CZ, layers: map[int][]blocks.StateID{}, dirty: true}
}

func index(x, z int) int {
	// x fastest, then z
	return x + z*ChunkSize
}

func (c *Chunk) Get(x, y, z int) blocks.StateID {
	l, ok := c.layers[y]
	if !ok {
		return blocks.AirID
	}
	return l[index(x, z)]
}

// Set reports whether the cell changed.
func (c *Chunk) Set(x, y, z int, id blocks.StateID) bool {
	l, ok := c.layers[y]
	if !ok {
		if id == blocks.AirID {
			return false
		}
		l = make([]blocks.StateID, ChunkSize*ChunkSize)
		c.layers[y] = l
	}
	i := index(x, z)
	if l[i] == id {
		return false
	}
	l[i] = id
	c.dirty = true
	return true
}

func (c *Chunk) layerYs() []int {
	ys := make([]int, 0, len(c.layers))
	for y := range c.layers {
		ys = append(ys, y)
	}
	sort.Ints(ys)
	return ys
}

// Digest hashes non-empty layers in y order. Empty layers are skipped so a
// chunk that was written and cleared hashes like a fresh one.
func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [4]byte
		for _, y := range c.layerYs() {
			l := c.layers[y]
			if isEmpty(l) {
				continue
			}
			binary.LittleEndian.PutUint32(tmp[:], uint32(int32(y)))
			h.Write(tmp[:])
			for _, v := range l {
				binary.LittleEndian.PutUint32(tmp[:], uint32(v))
				h.Write(tmp[:])
			}
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

func isEmpty(l []blocks.StateID) bool {
	for _, v := range l {
		if v != blocks.AirID {
			return false
		}
	}
	return true
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
}
