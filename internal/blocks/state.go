package blocks

import (
	"fmt"
	"sort"
	"strings"
)

// State is a parsed block state: namespaced name plus properties.
type State struct {
	Name  string
	Props map[string]string
}

// ParseState accepts `name`, `ns:name` and `ns:name[k=v,...]`. The namespace
// defaults to minecraft.
func ParseState(raw string) (State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return State{}, fmt.Errorf("empty block state")
	}
	name := raw
	var props map[string]string
	if i := strings.IndexByte(raw, '['); i >= 0 {
		if !strings.HasSuffix(raw, "]") {
			return State{}, fmt.Errorf("block state %q: unterminated property list", raw)
		}
		name = raw[:i]
		body := raw[i+1 : len(raw)-1]
		if strings.TrimSpace(body) != "" {
			props = map[string]string{}
			for _, kv := range strings.Split(body, ",") {
				k, v, ok := strings.Cut(kv, "=")
				k = strings.TrimSpace(k)
				v = strings.TrimSpace(v)
				if !ok || k == "" || v == "" {
					return State{}, fmt.Errorf("block state %q: bad property %q", raw, kv)
				}
				props[k] = v
			}
		}
	}
	name = CanonicalName(name)
	if name == "" || strings.ContainsAny(name, " []=,") {
		return State{}, fmt.Errorf("block state %q: bad block name", raw)
	}
	return State{Name: name, Props: props}, nil
}

func MustParseState(raw string) State {
	st, err := ParseState(raw)
	if err != nil {
		panic(err)
	}
	return st
}

// CanonicalName lower-cases and namespaces a bare block name.
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return ""
	}
	if !strings.Contains(name, ":") {
		name = DefaultNamespace + ":" + name
	}
	return name
}

// PropsKey deterministically encodes properties as "k1=v1,k2=v2".
func PropsKey(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+props[k])
	}
	return strings.Join(parts, ",")
}

func (s State) String() string {
	if k := PropsKey(s.Props); k != "" {
		return s.Name + "[" + k + "]"
	}
	return s.Name
}

// With returns a copy with the given properties overlaid.
func (s State) With(kv ...string) State {
	props := make(map[string]string, len(s.Props)+len(kv)/2)
	for k, v := range s.Props {
		props[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		props[kv[i]] = kv[i+1]
	}
	return State{Name: s.Name, Props: props}
}

func (s State) IsAir() bool {
	switch s.Name {
	case Air, "minecraft:cave_air", "minecraft:void_air":
		return true
	}
	return false
}

// Matches reports whether s satisfies a filter: same name, and every property
// the filter names has the same value.
func (s State) Matches(filter State) bool {
	if s.Name != filter.Name {
		return false
	}
	for k, v := range filter.Props {
		if s.Props[k] != v {
			return false
		}
	}
	return true
}
