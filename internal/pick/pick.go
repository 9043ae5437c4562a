// Package pick implements the single nondeterminism primitive the rest
// of the machine is built on (spec.md §9: "Model as a single primitive
// pick(domain, predicate) -> T ... Do not spread nondeterminism through
// multiple ad hoc APIs"). There is no teacher analog for daemonic choice
// (golang.org/x/debug reads a fixed, already-recorded core dump, so it
// never needs to choose); this is a new leaf package, backed by a seeded
// math/rand/v2 generator rather than crypto/rand so that a run is exactly
// reproducible from its --seed flag, which the spec's "pick" contract
// requires for verification/replay use (spec.md §5, §6 CLI --seed).
package pick

import (
	"fmt"
	"math/rand/v2"
)

// ErrEmpty is returned when no element of the domain satisfies predicate.
// It is an ordinary error, not a panic, because the subdomain can genuinely
// be empty for a well-formed program; each call site decides what it means
// (the scheduler reports a deadlock, lock release reports UB, int-to-pointer
// casts fall back to no provenance).
var ErrEmpty = fmt.Errorf("pick: no candidate satisfies the predicate")

// Picker drives every daemonic choice in the machine: thread scheduling,
// allocation address selection, integer-to-pointer provenance choice, and
// lock-wakeup victim selection.
type Picker struct {
	rnd *rand.Rand
}

// New constructs a Picker seeded for reproducibility. Two Pickers built
// from the same seed and driven by the same sequence of calls make the
// same choices.
func New(seed uint64) *Picker {
	return &Picker{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pick uniformly selects one index in [0, n) whose corresponding element
// satisfies predicate, or returns ErrEmpty if none do.
func Pick[T any](p *Picker, domain []T, predicate func(T) bool) (T, error) {
	var candidates []int
	for i, v := range domain {
		if predicate == nil || predicate(v) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	i := candidates[p.rnd.IntN(len(candidates))]
	return domain[i], nil
}

// PickIndex is like Pick but returns the chosen index into domain rather
// than the element, which callers that need to mutate in place prefer.
func PickIndex[T any](p *Picker, domain []T, predicate func(T) bool) (int, error) {
	var candidates []int
	for i, v := range domain {
		if predicate == nil || predicate(v) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1, ErrEmpty
	}
	return candidates[p.rnd.IntN(len(candidates))], nil
}

// Uint64InRange uniformly picks an unsigned integer in [lo, hi]. Used for
// nondeterministic allocation base address selection (spec.md §4.2),
// where enumerating every candidate address is infeasible.
func (p *Picker) Uint64InRange(lo, hi uint64) uint64 {
	if hi <= lo {
		return lo
	}
	span := hi - lo + 1
	return lo + p.rnd.Uint64N(span)
}

// Bool picks a uniform random boolean. No caller in this module uses it.
func (p *Picker) Bool() bool {
	return p.rnd.IntN(2) == 0
}
