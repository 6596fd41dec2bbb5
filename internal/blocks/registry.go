package blocks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

type StateID uint32

// AirID is always palette id 0.
const AirID StateID = 0

// Codec maps canonical block states to world ids and back.
type Codec interface {
	StateID(state string) (StateID, error)
	StateString(id StateID) (string, bool)
}

// Registry is an append-only state palette. Unknown states are assigned the
// next id on first use, so a registry shared by a world and a verifier keeps
// ids stable for the lifetime of the process.
type Registry struct {
	mu      sync.RWMutex
	palette []string
	index   map[string]StateID
}

// NewRegistry seeds the palette with air followed by the given states in
// sorted canonical order.
func NewRegistry(states ...string) (*Registry, error) {
	r := &Registry{index: map[string]StateID{}}
	r.add(Air)

	canon := make([]string, 0, len(states))
	for _, s := range states {
		st, err := ParseState(s)
		if err != nil {
			return nil, err
		}
		canon = append(canon, st.String())
	}
	sort.Strings(canon)
	for _, s := range canon {
		if _, ok := r.index[s]; !ok {
			r.add(s)
		}
	}
	return r, nil
}

// LoadRegistry reads a JSON array of block states.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var states []string
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewRegistry(states...)
}

func (r *Registry) add(s string) StateID {
	id := StateID(len(r.palette))
	r.palette = append(r.palette, s)
	r.index[s] = id
	return id
}

func (r *Registry) StateID(state string) (StateID, error) {
	st, err := ParseState(state)
	if err != nil {
		return 0, err
	}
	key := st.String()
	if st.IsAir() && len(st.Props) == 0 {
		key = Air
	}

	r.mu.RLock()
	id, ok := r.index[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.index[key]; ok {
		return id, nil
	}
	return r.add(key), nil
}

func (r *Registry) StateString(id StateID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.palette) {
		return "", false
	}
	return r.palette[id], true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.palette)
}

// Digest is the sha256 of the JSON-encoded palette in id order.
func (r *Registry) Digest() string {
	r.mu.RLock()
	pal, _ := json.Marshal(r.palette)
	r.mu.RUnlock()
	sum := sha256.Sum256(pal)
	return hex.EncodeToString(sum[:])
}

// SameBlock reports whether two ids share a block name, ignoring properties.
func SameBlock(c Codec, a, b StateID) bool {
	if a == b {
		return true
	}
	as, ok1 := c.StateString(a)
	bs, ok2 := c.StateString(b)
	if !ok1 || !ok2 {
		return false
	}
	return CanonicalName(as) == CanonicalName(bs)
}
