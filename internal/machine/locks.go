// locks.go implements the lock state machine of spec.md §4.7, grounded on
// the same control-primitive shape as golang.org/x/debug/program/server's
// breakpoint/continue bookkeeping: a small list of named resources, each
// with a single owner and a wake-one-waiter release discipline.
package machine

import (
	"github.com/minirust/minirust-sub000/internal/pick"
	"github.com/minirust/minirust-sub000/internal/raceset"
)

// LockState is one lock's ownership state (spec.md §4.7).
type LockState struct {
	Locked bool
	Owner  int // valid iff Locked
}

// lockCreate appends a new Unlocked lock, returning its id (spec.md §4.7).
// UB if the id does not fit the requested int type is the caller's
// responsibility (intrinsics.go converts and range-checks it).
func (m *Machine) lockCreate() int {
	m.Locks = append(m.Locks, LockState{})
	return len(m.Locks) - 1
}

// lockAcquire takes the lock for tid if unlocked, else blocks tid
// (spec.md §4.7).
func (m *Machine) lockAcquire(tid int, id int) error {
	if id < 0 || id >= len(m.Locks) {
		return ub("acquiring an undefined lock %d", id)
	}
	l := &m.Locks[id]
	if l.Locked && l.Owner == tid {
		// Ownership was already transferred to tid by a concurrent
		// lockRelease while tid was blocked; this re-entry after waking
		// just confirms it, it does not re-block.
		return nil
	}
	if !l.Locked {
		l.Locked = true
		l.Owner = tid
		return nil
	}
	m.Threads[tid].State = BlockedOnLock
	m.Threads[tid].lock = id
	return nil
}

// lockRelease releases a lock tid holds, waking exactly one waiter
// (nondeterministically, per spec.md §4.7) if any exist, and synchronizing
// with it; otherwise the lock becomes Unlocked.
func (m *Machine) lockRelease(tid int, id int) error {
	if id < 0 || id >= len(m.Locks) {
		return ub("releasing an undefined lock %d", id)
	}
	l := &m.Locks[id]
	if !l.Locked || l.Owner != tid {
		return ub("releasing a lock this thread does not hold")
	}
	var waiters []int
	for i, th := range m.Threads {
		if th.State == BlockedOnLock && th.lock == id {
			waiters = append(waiters, i)
		}
	}
	if len(waiters) == 0 {
		l.Locked = false
		return nil
	}
	idx, err := pick.PickIndex(m.Picker, waiters, nil)
	if err != nil {
		return ub("%s", err.Error())
	}
	winner := waiters[idx]
	l.Owner = winner
	m.Threads[winner].State = Enabled
	m.Race.Synchronize(raceset.ThreadID(winner))
	return nil
}
