package machine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/minirust/minirust-sub000/internal/fixtures"
	"github.com/minirust/minirust-sub000/internal/machine"
	"github.com/minirust/minirust-sub000/internal/target"
)

func runScenario(t *testing.T, name string, seed uint64) (*machine.Outcome, string) {
	t.Helper()
	prog := fixtures.Program(name)
	if prog == nil {
		t.Fatalf("no fixture named %q", name)
	}
	var stdout bytes.Buffer
	m, err := machine.New(prog, target.Default64(), &stdout, &stdout, seed, true)
	if err != nil {
		return err.(*machine.Outcome), stdout.String()
	}
	return m.Run(), stdout.String()
}

func TestExitClean(t *testing.T) {
	out, stdout := runScenario(t, "exit-clean", 1)
	if out.Tag != machine.TagMachineStop {
		t.Fatalf("got %s, want clean stop", out.Error())
	}
	if stdout != "" {
		t.Fatalf("stdout = %q, want empty", stdout)
	}
}

func TestPrintInt(t *testing.T) {
	out, stdout := runScenario(t, "print-int", 1)
	if out.Tag != machine.TagMachineStop {
		t.Fatalf("got %s, want clean stop", out.Error())
	}
	if stdout != "42\n" {
		t.Fatalf("stdout = %q, want \"42\\n\"", stdout)
	}
}

func TestAllocStoreLoadDealloc(t *testing.T) {
	out, _ := runScenario(t, "alloc-store-load-dealloc", 1)
	if out.Tag != machine.TagMachineStop {
		t.Fatalf("got %s, want clean stop", out.Error())
	}
}

func TestUseAfterFree(t *testing.T) {
	out, _ := runScenario(t, "use-after-free", 1)
	if out.Tag != machine.TagUB {
		t.Fatalf("got %s, want UB", out.Error())
	}
	if !strings.Contains(out.Msg, "dead allocation") {
		t.Fatalf("message %q does not mention the dead allocation", out.Msg)
	}
}

func TestDataRace(t *testing.T) {
	for seed := uint64(0); seed < 8; seed++ {
		out, _ := runScenario(t, "data-race", seed)
		if out.Tag == machine.TagUB && strings.Contains(out.Msg, "race") {
			return
		}
	}
	t.Fatal("no seed in [0,8) produced a detected data race")
}

func TestTreeBorrowsViolation(t *testing.T) {
	out, _ := runScenario(t, "tree-borrows-violation", 1)
	if out.Tag != machine.TagUB {
		t.Fatalf("got %s, want UB", out.Error())
	}
}

func TestDeadlock(t *testing.T) {
	for seed := uint64(0); seed < 16; seed++ {
		out, _ := runScenario(t, "deadlock", seed)
		if out.Tag == machine.TagDeadlock {
			return
		}
	}
	t.Fatal("no seed in [0,16) produced a deadlock report")
}

func TestLeak(t *testing.T) {
	out, _ := runScenario(t, "leak", 1)
	if out.Tag != machine.TagMemoryLeak {
		t.Fatalf("got %s, want memory leak", out.Error())
	}
}
