// Package traits holds the trait-profile update policy applied when an
// interview finishes processing.
package traits

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
)

const (
	DefaultDelta = 5.0
	DefaultMax   = 100.0

	SelectRandom    = "random"
	SelectArchetype = "archetype"
)

// DefaultNames is the fixed trait set scored by the pipeline.
var DefaultNames = []string{"openness", "conscientiousness", "extraversion", "agreeableness", "emotional_stability"}

// archetypeTrait maps each archetype label to the trait it reinforces.
var archetypeTrait = map[string]string{
	"strategist":   "openness",
	"executor":     "conscientiousness",
	"collaborator": "agreeableness",
	"innovator":    "openness",
	"analyst":      "conscientiousness",
}

// Outcome is what the pipeline learned from one run.
type Outcome struct {
	Succeeded bool
	Archetype string
}

// Selector picks the index of the trait to reinforce, given the outcome and
// the candidate names.
type Selector func(o Outcome, names []string) int

// Policy is a bounded incremental update: one selected trait gains Delta,
// capped at Max.
type Policy struct {
	Names  []string
	Delta  float64
	Max    float64
	Select Selector
}

// RandomSelector picks uniformly from the candidate names.
func RandomSelector(_ Outcome, names []string) int {
	return rand.IntN(len(names))
}

// ArchetypeSelector reinforces the trait associated with the outcome's
// archetype and falls back to a random pick for unknown labels.
func ArchetypeSelector(o Outcome, names []string) int {
	if t, ok := archetypeTrait[strings.ToLower(o.Archetype)]; ok {
		if i := slices.Index(names, t); i >= 0 {
			return i
		}
	}
	return RandomSelector(o, names)
}

// NewPolicy builds a policy from configuration values. Zero values take the defaults.
func NewPolicy(names []string, delta, max float64, selection string) (Policy, error) {
	p := Policy{Names: names, Delta: delta, Max: max}
	if len(p.Names) == 0 {
		p.Names = slices.Clone(DefaultNames)
	}
	if p.Delta <= 0 {
		p.Delta = DefaultDelta
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}

	switch strings.ToLower(strings.TrimSpace(selection)) {
	case "", SelectRandom:
		p.Select = RandomSelector
	case SelectArchetype:
		p.Select = ArchetypeSelector
	default:
		return Policy{}, fmt.Errorf("unknown trait selection %q", selection)
	}

	return p, nil
}

// ErrEmptyPolicy is returned by Validate when there is nothing to select from.
var ErrEmptyPolicy = errors.New("trait policy has no names")

func (p Policy) Validate() error {
	if len(p.Names) == 0 {
		return ErrEmptyPolicy
	}
	if p.Delta <= 0 || p.Max <= 0 {
		return fmt.Errorf("trait policy needs positive delta and max (delta=%v max=%v)", p.Delta, p.Max)
	}
	return nil
}

// Apply returns the profile after the outcome has been folded in. The input
// map is never modified. Failed outcomes return an unchanged copy.
func Apply(profile map[string]float64, o Outcome, p Policy) map[string]float64 {
	out := make(map[string]float64, len(profile)+1)
	for k, v := range profile {
		out[k] = v
	}
	if !o.Succeeded || p.Validate() != nil {
		return out
	}

	sel := p.Select
	if sel == nil {
		sel = RandomSelector
	}
	i := sel(o, p.Names)
	if i < 0 || i >= len(p.Names) {
		i = 0
	}
	name := p.Names[i]

	next := out[name] + p.Delta
	if next > p.Max {
		next = p.Max
	}
	if next < 0 {
		next = 0
	}
	out[name] = next

	return out
}
