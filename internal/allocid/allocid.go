// Package allocid defines the identifier used to name a single live or
// dead allocation. It is split out from internal/memory so that
// internal/value's Provenance (which names an allocation a pointer is
// entitled to access) does not need to import the memory package that in
// turn stores values — mirroring how the teacher keeps Address a leaf
// type that both core and gocore depend on without a cycle.
package allocid

import "fmt"

// ID names one allocation, live or dead, for the lifetime of a Machine.
// IDs are never reused, so a dangling Provenance unambiguously refers to
// a specific (now possibly dead) allocation rather than to whatever else
// later took its address range.
type ID uint64

func (id ID) String() string { return fmt.Sprintf("alloc%d", uint64(id)) }

// None is the zero value, never assigned to a real allocation.
const None ID = 0
