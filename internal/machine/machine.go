// Package machine implements the abstract machine of spec.md §3–§4.8: the
// thread/stack/memory state, the step function, intrinsics, locks, and
// the scheduler. It plays the role golang.org/x/debug's internal/core's
// Process (the single owning container passed to every read helper) and
// program/server's Server (the control loop driving a target forward one
// logical step at a time, through fc/ec channels) play together in the
// teacher repository — generalized from "drive and inspect a real OS
// process" to "drive and inspect an in-memory abstract machine".
package machine

import (
	"fmt"
	"io"

	"github.com/minirust/minirust-sub000/internal/allocid"
	"github.com/minirust/minirust-sub000/internal/bigint"
	"github.com/minirust/minirust-sub000/internal/ir"
	"github.com/minirust/minirust-sub000/internal/memory"
	"github.com/minirust/minirust-sub000/internal/pick"
	"github.com/minirust/minirust-sub000/internal/raceset"
	"github.com/minirust/minirust-sub000/internal/repr"
	"github.com/minirust/minirust-sub000/internal/target"
	"github.com/minirust/minirust-sub000/internal/treeborrows"
	"github.com/minirust/minirust-sub000/internal/types"
	"github.com/minirust/minirust-sub000/internal/value"
	"github.com/minirust/minirust-sub000/internal/wf"
)

// OutcomeTag is the closed set of terminal outcomes of spec.md §6/§7.
type OutcomeTag uint8

const (
	TagMachineStop OutcomeTag = iota // clean Exit
	TagUB
	TagIllFormed
	TagDeadlock
	TagMemoryLeak
	TagOutOfMemory
)

func (t OutcomeTag) String() string {
	switch t {
	case TagMachineStop:
		return "Stop"
	case TagUB:
		return "UB"
	case TagIllFormed:
		return "IllFormed"
	case TagDeadlock:
		return "Deadlock"
	case TagMemoryLeak:
		return "MemoryLeak"
	case TagOutOfMemory:
		return "OutOfMemory"
	default:
		return "?"
	}
}

// Outcome is the machine's terminal result: either clean (TagMachineStop,
// with no further meaning in Msg) or a failure tag carrying a diagnostic
// message (spec.md §6, §7).
type Outcome struct {
	Tag OutcomeTag
	Msg string
}

func (o *Outcome) Error() string {
	if o.Msg == "" {
		return o.Tag.String()
	}
	return fmt.Sprintf("%s: %s", o.Tag, o.Msg)
}

func ub(format string, args ...any) *Outcome {
	return &Outcome{Tag: TagUB, Msg: fmt.Sprintf(format, args...)}
}

// ThreadState is one thread's scheduling state (spec.md §3).
type ThreadState uint8

const (
	Enabled ThreadState = iota
	BlockedOnJoin
	BlockedOnLock
	Terminated
)

// PopKind tags a StackFrame's StackPopAction (spec.md §3, §9).
type PopKind uint8

const (
	PopBottom PopKind = iota
	PopReturn
)

// StackPopAction says what happens when a frame's Return terminator runs
// (spec.md §3, §4.6).
type StackPopAction struct {
	Kind PopKind

	// PopReturn
	CallerRetPtr value.Pointer
	CallerRetTy  *types.Type
	CallerBlock  ir.BbName
}

// pc is a frame's program counter: a block plus a statement index, where
// Stmt == len(statements) selects the terminator (spec.md §3).
type pc struct {
	Block ir.BbName
	Stmt  int
}

// StackFrame is one activation record (spec.md §3).
type StackFrame struct {
	Fn         *ir.Function
	Locals     map[ir.LocalName]value.Pointer
	PC         pc
	Pop        StackPopAction
	Protectors []treeborrows.ProtectorRef
}

// Thread is a stack of frames plus a scheduling state (spec.md §3).
type Thread struct {
	Frames []*StackFrame
	State  ThreadState
	join   int // BlockedOnJoin target thread index
	lock   int // BlockedOnLock target lock index
}

func (t *Thread) top() *StackFrame {
	if len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[len(t.Frames)-1]
}

// Machine is the full abstract-machine state of spec.md §3.
type Machine struct {
	Prog   *ir.Program
	Target target.Target

	Mem   *memory.Memory
	Race  *raceset.Tracker
	UseTB bool

	Threads []*Thread
	Active  int

	GlobalAddrs map[ir.GlobalName]value.ThinPointer
	FnAddrs     map[ir.FnName]value.ThinPointer
	VTableAddrs map[ir.VTableName]value.ThinPointer
	vtableByPtr map[uint64]ir.VTableName

	Locks []LockState

	Stdout io.Writer
	Stderr io.Writer

	Picker  *pick.Picker
	Exposed []value.Provenance

	Warnings []string
	exited   bool
}

// New constructs a Machine for prog, running the well-formedness checker
// first (spec.md §4.8: WF must pass before any step runs).
func New(prog *ir.Program, tgt target.Target, stdout, stderr io.Writer, seed uint64, useTreeBorrows bool) (*Machine, error) {
	if err := wf.Check(prog, tgt); err != nil {
		return nil, &Outcome{Tag: TagIllFormed, Msg: err.Error()}
	}
	var aliasing memory.Aliasing
	if useTreeBorrows {
		aliasing = treeborrows.Model{}
	} else {
		aliasing = memory.NullAliasing{}
	}
	m := &Machine{
		Prog:        prog,
		Target:      tgt,
		Mem:         memory.New(tgt.AddrSpaceBits(), aliasing),
		Race:        raceset.New(),
		UseTB:       useTreeBorrows,
		GlobalAddrs: map[ir.GlobalName]value.ThinPointer{},
		FnAddrs:     map[ir.FnName]value.ThinPointer{},
		VTableAddrs: map[ir.VTableName]value.ThinPointer{},
		vtableByPtr: map[uint64]ir.VTableName{},
		Stdout:      stdout,
		Stderr:      stderr,
		Picker:      pick.New(seed),
	}
	if err := m.loadStatics(); err != nil {
		return nil, &Outcome{Tag: TagIllFormed, Msg: err.Error()}
	}
	th := &Thread{State: Enabled}
	m.Threads = append(m.Threads, th)
	if err := m.pushCall(th, prog.Start, nil, StackPopAction{Kind: PopBottom}); err != nil {
		return nil, err
	}
	return m, nil
}

// loadStatics allocates a Function/VTable/Global allocation for every
// static item and records its address, exactly as a frontend would place
// a module's statically addressed data (spec.md §3, grounded on
// golang.org/x/debug/internal/gocore/module.go's function/global tables).
func (m *Machine) loadStatics() error {
	for name := range m.Prog.Functions {
		a, err := m.Mem.Allocate(m.Picker, 1, 1, memory.Function)
		if err != nil {
			return err
		}
		tp := value.ThinPointer{Addr: bigint.FromUint64(a.Base), Prov: &value.Provenance{Alloc: a.ID}}
		m.FnAddrs[name] = tp
	}
	for name, vt := range m.Prog.VTables {
		a, err := m.Mem.Allocate(m.Picker, vt.Size, vt.Align, memory.VTable)
		if err != nil {
			return err
		}
		tp := value.ThinPointer{Addr: bigint.FromUint64(a.Base), Prov: &value.Provenance{Alloc: a.ID}}
		m.VTableAddrs[name] = tp
		m.vtableByPtr[a.Base] = name
	}
	for name, g := range m.Prog.Globals {
		size := int64(len(g.Bytes))
		a, err := m.Mem.Allocate(m.Picker, size, g.Align, memory.Global)
		if err != nil {
			return err
		}
		for i, b := range g.Bytes {
			if b != nil {
				a.Bytes[i] = value.InitByte(*b, nil)
			}
		}
		m.GlobalAddrs[name] = value.ThinPointer{Addr: bigint.FromUint64(a.Base), Prov: &value.Provenance{Alloc: a.ID}}
	}
	for name, g := range m.Prog.Globals {
		a := m.Mem.Get(m.findAllocByBase(m.GlobalAddrs[name].Addr.Uint64()))
		for _, p := range g.Patches {
			target := m.GlobalAddrs[p.Reloc.Global]
			target.Addr = target.Addr.Add(bigint.FromInt64(p.Reloc.Offset))
			raw := target.Addr.Bytes(int(m.Target.PtrSize()), m.Target.LittleEndian)
			for i, b := range raw {
				a.Bytes[p.Offset+int64(i)] = value.InitByte(b, target.Prov)
			}
		}
	}
	return nil
}

func (m *Machine) findAllocByBase(base uint64) allocid.ID {
	for _, a := range m.Mem.Live() {
		if a.Base == base {
			return a.ID
		}
	}
	return allocid.None
}

// reprEnv builds the repr.Env this machine resolves encode/decode/
// check_value against (spec.md §4.1).
func (m *Machine) reprEnv() repr.Env {
	return repr.Env{
		Target: m.Target,
		VTableSizeAlign: func(trait types.TraitName, addr bigint.Int) (int64, int64, bool) {
			name, ok := m.vtableByPtr[addr.Uint64()]
			if !ok {
				return 0, 0, false
			}
			vt := m.Prog.VTables[name]
			if vt.Trait != trait {
				return 0, 0, false
			}
			return vt.Size, vt.Align, true
		},
		VTableAt: func(addr bigint.Int, trait types.TraitName) bool {
			name, ok := m.vtableByPtr[addr.Uint64()]
			if !ok {
				return false
			}
			return m.Prog.VTables[name].Trait == trait
		},
		Dereferenceable: func(ptr value.Pointer, size int64) bool {
			return m.Mem.Dereferenceable(ptr, size)
		},
	}
}

func (m *Machine) warn(format string, args ...any) {
	m.Warnings = append(m.Warnings, fmt.Sprintf(format, args...))
}

func (m *Machine) activeThread() *Thread { return m.Threads[m.Active] }

// allocLocal creates the Stack allocation backing a fresh local of type ty
// (spec.md §4.6 StorageLive / function entry).
func (m *Machine) allocLocal(frame *StackFrame, name ir.LocalName, ty *types.Type) error {
	size, align := ty.SizeAlign(m.Target, types.Metadata{})
	a, err := m.Mem.Allocate(m.Picker, size, align, memory.Stack)
	if err != nil {
		return err
	}
	frame.Locals[name] = value.Pointer{Thin: value.ThinPointer{Addr: bigint.FromUint64(a.Base), Prov: &value.Provenance{Alloc: a.ID}}}
	return nil
}

func (m *Machine) deallocLocal(frame *StackFrame, name ir.LocalName, ty *types.Type) error {
	ptr, ok := frame.Locals[name]
	if !ok {
		return nil
	}
	size, align := ty.SizeAlign(m.Target, types.Metadata{})
	if err := m.Mem.Deallocate(ptr, size, align, memory.Stack); err != nil {
		return err
	}
	delete(frame.Locals, name)
	return nil
}
