// Package raceset implements the data-race detector of spec.md §4.4: a
// per-step access log checked against the previous step's log, gated by
// a per-step synchronized-thread set. It is the concurrency-aware
// counterpart of golang.org/x/debug's internal/core/thread.go Thread —
// that package records one OS thread's registers from a single frozen
// snapshot; this package records which (thread, byte range, kind) tuples
// touched memory across two adjacent logical steps of a live, still
// running, multi-threaded interpreter.
package raceset

import (
	"fmt"

	"github.com/minirust/minirust-sub000/internal/memory"
)

// ThreadID identifies a machine thread (an index into Machine.Threads).
type ThreadID int

// Access is one recorded memory touch during a single step.
type Access struct {
	Addr   uint64
	Size   int64
	Kind   memory.AccessKind
	Atomic memory.Atomicity
	Thread ThreadID
}

func (a Access) end() uint64 { return a.Addr + uint64(a.Size) }

func overlaps(a, b Access) bool {
	return a.Addr < b.end() && b.Addr < a.end()
}

// races reports whether a and b, from different threads, constitute a
// data race per spec.md §4.4: overlapping ranges and at least one Write
// or non-atomic access.
func races(a, b Access) bool {
	if a.Thread == b.Thread || !overlaps(a, b) {
		return false
	}
	if a.Kind == memory.Write || b.Kind == memory.Write {
		return true
	}
	return a.Atomic == memory.NonAtomic || b.Atomic == memory.NonAtomic
}

// Tracker is the ConcurrentMemory wrapper of spec.md §4.4.
type Tracker struct {
	prev, cur    []Access
	synchronized map[ThreadID]bool
}

func New() *Tracker {
	return &Tracker{synchronized: map[ThreadID]bool{}}
}

// BeginStep snapshots the previous step's accesses and resets the
// current-step access log and synchronized-thread set.
func (t *Tracker) BeginStep() {
	t.prev = t.cur
	t.cur = nil
	t.synchronized = map[ThreadID]bool{}
}

// Record appends one access to the current step's log.
func (t *Tracker) Record(a Access) {
	t.cur = append(t.cur, a)
}

// Synchronize marks tid as happens-before the current step boundary
// (spec.md §4.4: spawn, join completion, lock ownership transfer, and a
// releasing thread waking a waiter all synchronize with their target).
func (t *Tracker) Synchronize(tid ThreadID) {
	t.synchronized[tid] = true
}

// CheckRace compares this step's accesses against the previous step's,
// returning the first detected race (spec.md §4.4, §8 property 5).
func (t *Tracker) CheckRace() error {
	for _, c := range t.cur {
		for _, p := range t.prev {
			if !races(c, p) {
				continue
			}
			if t.synchronized[c.Thread] || t.synchronized[p.Thread] {
				continue
			}
			lo, hi := c.Addr, c.end()
			if p.Addr < lo {
				lo = p.Addr
			}
			if p.end() > hi {
				hi = p.end()
			}
			return fmt.Errorf("raceset: data race on [0x%x,0x%x) between thread %d and thread %d", lo, hi, c.Thread, p.Thread)
		}
	}
	return nil
}
