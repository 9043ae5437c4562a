// scheduler.go implements spec.md §5's cooperative-preemptive scheduler:
// one Enabled thread chosen uniformly per step, deadlock detection when
// none remain, and the top-level Run loop. Grounded on the control-loop
// shape of golang.org/x/debug/program/server's Server: a single driving
// loop that advances a target by one logical unit and reports a terminal
// condition when the target can make no further progress.
package machine

import "github.com/minirust/minirust-sub000/internal/pick"

// Step executes exactly one statement or terminator on one nondeterministically
// chosen Enabled thread (spec.md §4.6). A non-nil Outcome is always
// terminal; nil means the machine made progress and Step may be called
// again.
func (m *Machine) Step() *Outcome {
	m.Race.BeginStep()

	var enabled []int
	for i, th := range m.Threads {
		if th.State == Enabled {
			enabled = append(enabled, i)
		}
	}
	if len(enabled) == 0 {
		allTerminated := true
		for _, th := range m.Threads {
			if th.State != Terminated {
				allTerminated = false
				break
			}
		}
		if allTerminated {
			return &Outcome{Tag: TagMachineStop}
		}
		return &Outcome{Tag: TagDeadlock, Msg: "all threads blocked"}
	}
	idx, err := pick.PickIndex(m.Picker, enabled, nil)
	if err != nil {
		return &Outcome{Tag: TagDeadlock, Msg: err.Error()}
	}
	m.Active = enabled[idx]
	th := m.Threads[m.Active]
	frame := th.top()
	if frame == nil {
		panic("machine: an Enabled thread has no frame")
	}
	bb := frame.Fn.Blocks[frame.PC.Block]

	var out *Outcome
	if frame.PC.Stmt < len(bb.Statements) {
		if err := m.execStatement(th, frame, bb.Statements[frame.PC.Stmt]); err != nil {
			out = asOutcome(err)
		} else {
			frame.PC.Stmt++
		}
	} else {
		out = m.execTerminator(th, frame, bb.Terminator)
	}
	if out != nil {
		return out
	}
	if err := m.Race.CheckRace(); err != nil {
		return &Outcome{Tag: TagUB, Msg: err.Error()}
	}
	return nil
}

func asOutcome(err error) *Outcome {
	if o, ok := err.(*Outcome); ok {
		return o
	}
	return &Outcome{Tag: TagUB, Msg: err.Error()}
}

// Run drives Step to a terminal Outcome, running the end-of-program leak
// check after a clean Exit (spec.md §4.2 leak_check, §8 "Leak").
func (m *Machine) Run() *Outcome {
	for {
		if out := m.Step(); out != nil {
			if out.Tag == TagMachineStop {
				if err := m.Mem.LeakCheck(); err != nil {
					return &Outcome{Tag: TagMemoryLeak, Msg: err.Error()}
				}
			}
			return out
		}
	}
}
