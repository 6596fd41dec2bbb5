package blocks

import (
	"strings"

	"voxelbuild.ai/internal/errs"
)

const (
	DefaultNamespace = "minecraft"
	Air              = "minecraft:air"
)

// Spec names a block either directly or through a palette alias.
// Resolution priority: State > Name > Bind.
type Spec struct {
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	State string `json:"state,omitempty" yaml:"state,omitempty"`
	Bind  string `json:"bind,omitempty" yaml:"bind,omitempty"`
}

func (s Spec) IsZero() bool { return s == Spec{} }

func (s Spec) String() string {
	switch {
	case s.State != "":
		return "state:" + s.State
	case s.Name != "":
		return "name:" + s.Name
	case s.Bind != "":
		return "bind:" + s.Bind
	}
	return "<empty>"
}

type Palette map[string]string

func (p Palette) Clone() Palette {
	if p == nil {
		return nil
	}
	out := make(Palette, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Resolve returns the block identifier a spec stands for, exactly as written.
func Resolve(s Spec, p Palette) (string, error) {
	if st := strings.TrimSpace(s.State); st != "" {
		return st, nil
	}
	if n := strings.TrimSpace(s.Name); n != "" {
		return n, nil
	}
	if s.Bind != "" && p != nil {
		if bound := strings.TrimSpace(p[s.Bind]); bound != "" {
			return bound, nil
		}
	}
	return "", errs.New(errs.InvalidSpec, "unresolvable block spec %s", s).With("spec", s.String())
}

// ResolveState resolves and parses a spec into a canonical state.
func ResolveState(s Spec, p Palette) (State, error) {
	raw, err := Resolve(s, p)
	if err != nil {
		return State{}, err
	}
	st, err := ParseState(raw)
	if err != nil {
		return State{}, errs.Wrap(err, errs.InvalidSpec, "block spec %s", s)
	}
	return st, nil
}
