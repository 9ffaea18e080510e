package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrInvalidBreakpoint is returned when a breakpoint violates its threshold invariant.
var ErrInvalidBreakpoint = errors.New("invalid breakpoint")

// Breakpoint is one clinical threshold set for a (standard, version,
// organism, antibiotic, method) combination.
//
// For MethodMIC, Susceptible and Intermediate are upper bounds (value <= S is S).
// For MethodZone they are lower bounds in mm (value >= S is S).
type Breakpoint struct {
	Standard     string  `yaml:"standard" json:"standard"`
	Version      string  `yaml:"version" json:"version"`
	Organism     string  `yaml:"organism" json:"organism"`
	Antibiotic   string  `yaml:"antibiotic" json:"antibiotic"`
	Method       Method  `yaml:"method" json:"method"`
	Susceptible  float64 `yaml:"susceptible" json:"susceptible"`
	Intermediate float64 `yaml:"intermediate" json:"intermediate"`
}

// MICBreakpoint builds a MIC breakpoint: value <= sLessEq is S, <= iLessEq is I.
func MICBreakpoint(standard, version, organism, antibiotic string, sLessEq, iLessEq float64) Breakpoint {
	return Breakpoint{
		Standard: standard, Version: version,
		Organism: organism, Antibiotic: antibiotic,
		Method: MethodMIC, Susceptible: sLessEq, Intermediate: iLessEq,
	}
}

// ZoneBreakpoint builds a disk-zone breakpoint: value >= sGreaterEq is S, >= iGreaterEq is I.
func ZoneBreakpoint(standard, version, organism, antibiotic string, sGreaterEq, iGreaterEq float64) Breakpoint {
	return Breakpoint{
		Standard: standard, Version: version,
		Organism: organism, Antibiotic: antibiotic,
		Method: MethodZone, Susceptible: sGreaterEq, Intermediate: iGreaterEq,
	}
}

// Validate checks the threshold invariant for the breakpoint's method.
func (b Breakpoint) Validate() error {
	if b.Standard == "" || b.Version == "" || b.Organism == "" || b.Antibiotic == "" {
		return fmt.Errorf("%w: incomplete key %s", ErrInvalidBreakpoint, b.key())
	}
	if !finite(b.Susceptible) || !finite(b.Intermediate) {
		return fmt.Errorf("%w: non-finite threshold for %s", ErrInvalidBreakpoint, b.key())
	}
	switch b.Method {
	case MethodMIC:
		if !(b.Susceptible < b.Intermediate) {
			return fmt.Errorf("%w: mic requires S < I, got S=%g I=%g for %s",
				ErrInvalidBreakpoint, b.Susceptible, b.Intermediate, b.key())
		}
	case MethodZone:
		if !(b.Susceptible > b.Intermediate) {
			return fmt.Errorf("%w: zone requires S > I, got S=%g I=%g for %s",
				ErrInvalidBreakpoint, b.Susceptible, b.Intermediate, b.key())
		}
	default:
		return fmt.Errorf("%w: unknown method %q for %s", ErrInvalidBreakpoint, b.Method, b.key())
	}
	return nil
}

// Classify applies the thresholds to a value. Boundaries are inclusive on
// the susceptible and intermediate side.
func (b Breakpoint) Classify(value float64) Interpretation {
	if b.Method == MethodZone {
		switch {
		case value >= b.Susceptible:
			return Susceptible
		case value >= b.Intermediate:
			return Intermediate
		default:
			return Resistant
		}
	}
	switch {
	case value <= b.Susceptible:
		return Susceptible
	case value <= b.Intermediate:
		return Intermediate
	default:
		return Resistant
	}
}

func (b Breakpoint) key() breakpointKey {
	return makeKey(b.Standard, b.Version, b.Organism, b.Antibiotic, b.Method)
}

type breakpointKey struct {
	standard   string
	version    string
	organism   string
	antibiotic string
	method     Method
}

func (k breakpointKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", k.standard, k.version, k.organism, k.antibiotic, k.method)
}

func makeKey(standard, version, organism, antibiotic string, method Method) breakpointKey {
	return breakpointKey{
		standard:   strings.ToUpper(strings.TrimSpace(standard)),
		version:    strings.TrimSpace(version),
		organism:   strings.ToUpper(strings.TrimSpace(organism)),
		antibiotic: strings.ToUpper(strings.TrimSpace(antibiotic)),
		method:     Method(strings.ToLower(strings.TrimSpace(string(method)))),
	}
}

// Registry is a versioned breakpoint table. Each (standard, version) pair is
// independent; there is no fallback between versions.
//
// A Registry is not safe for concurrent mutation. Seed it completely with
// NewRegistry or Upsert before sharing it with readers.
type Registry struct {
	entries map[breakpointKey]Breakpoint
}

// NewRegistry creates a registry seeded with entries. The first invalid
// entry aborts seeding.
func NewRegistry(entries ...Breakpoint) (*Registry, error) {
	r := &Registry{entries: make(map[breakpointKey]Breakpoint, len(entries))}
	for _, e := range entries {
		if err := r.Upsert(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Upsert inserts or replaces a breakpoint after normalizing its key.
func (r *Registry) Upsert(b Breakpoint) error {
	k := b.key()
	b.Standard, b.Version, b.Organism, b.Antibiotic, b.Method =
		k.standard, k.version, k.organism, k.antibiotic, k.method
	if err := b.Validate(); err != nil {
		return err
	}
	r.entries[k] = b
	return nil
}

// Get returns the breakpoint for the key. Absence is an expected outcome.
func (r *Registry) Get(standard, version, organism, antibiotic string, method Method) (Breakpoint, bool) {
	b, ok := r.entries[makeKey(standard, version, organism, antibiotic, method)]
	return b, ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Standards returns the distinct standards, sorted.
func (r *Registry) Standards() []string {
	seen := make(map[string]int)
	for k := range r.entries {
		seen[k.standard]++
	}
	return sortedKeys(seen)
}

// Versions returns the number of entries per version of a standard.
func (r *Registry) Versions(standard string) map[string]int {
	std := strings.ToUpper(strings.TrimSpace(standard))
	out := make(map[string]int)
	for k := range r.entries {
		if k.standard == std {
			out[k.version]++
		}
	}
	return out
}

// Entries returns all breakpoints sorted by key.
func (r *Registry) Entries() []Breakpoint {
	out := make([]Breakpoint, 0, len(r.entries))
	for _, b := range r.entries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].key().String() < out[j].key().String()
	})
	return out
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
