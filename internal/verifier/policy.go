package verifier

import (
	"fmt"
	"time"
)

const (
	DefaultThreshold = 0.95
	DefaultAttempts  = 3
	DefaultMaxDiffs  = 500
	// SkipLimit is the unobserved fraction above which a result is
	// inconclusive.
	SkipLimit = 0.10
)

// Policy controls sampling passes. Zero fields take defaults.
type Policy struct {
	Attempts int           `json:"attempts" yaml:"attempts"`
	Initial  time.Duration `json:"initial" yaml:"initial"`
	Max      time.Duration `json:"max" yaml:"max"`
	// MaxDiffs caps the mismatches kept in a result, and so its patch ops.
	MaxDiffs int `json:"maxDiffs" yaml:"max_diffs"`
	// Concurrency bounds how many x-slabs are read at once.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:    DefaultAttempts,
		Initial:     time.Second,
		Max:         10 * time.Second,
		MaxDiffs:    DefaultMaxDiffs,
		Concurrency: 4,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	if p.MaxDiffs <= 0 {
		p.MaxDiffs = d.MaxDiffs
	}
	if p.Concurrency <= 0 {
		p.Concurrency = d.Concurrency
	}
	return p
}

// Delay is the wait before pass attempt (0-based). The first pass does not
// wait; later ones wait Initial*(attempt+1), capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(attempt+1) * p.Initial
	if d > p.Max {
		return p.Max
	}
	return d
}

func (p Policy) Validate() error {
	if p.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative")
	}
	if p.Initial < 0 || p.Max < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	if p.MaxDiffs < 0 {
		return fmt.Errorf("max diffs cannot be negative")
	}
	return nil
}
