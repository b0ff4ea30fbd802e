// Package mem defines the shared memory-system vocabulary: line-aligned
// addresses, the IMemory client interface, bank selectors, and the
// functional backing store shared by all timing models.
package mem

import (
	"fmt"

	"github.com/sarchlab/tokensim/sim"
)

// Address is a byte address in simulated physical memory.
type Address uint64

// MCID identifies a registered memory client.
type MCID int

// WClientID is an opaque tag a client attaches to a write so the
// completion callback can be matched to the issuing unit.
type WClientID int

// InvalidWClientID marks a write that needs no completion callback.
const InvalidWClientID WClientID = -1

// MaxLineSize bounds the size of a single memory operation.
const MaxLineSize = 256

// Client is the callback half of a memory client. All callbacks return
// false to signal back pressure; the memory retries next cycle.
type Client interface {
	sim.Named

	// OnMemoryReadCompleted delivers a full line of data.
	OnMemoryReadCompleted(addr Address, data []byte) bool
	// OnMemoryWriteCompleted acknowledges the write tagged wid.
	OnMemoryWriteCompleted(wid WClientID) bool
	// OnMemorySnooped exposes another client's write to this client.
	OnMemorySnooped(addr Address, data []byte, mask []bool) bool
	// OnMemoryInvalidated signals the loss of a line.
	OnMemoryInvalidated(addr Address) bool
}

// Memory is the interface every timing backend provides to the pipeline.
// All addresses must be line aligned; unaligned accesses are rejected
// with an invariant violation, not back pressure.
type Memory interface {
	// RegisterClient attaches a client driven by the given process.
	// writeTraces and readTraces declare the storages the client's
	// process may enqueue into on the respective paths; they feed the
	// deadlock watchdog report. Every registration receives its own
	// MCID, grouped or not; the ring backends place a grouped
	// registration in the cache slot of the previous client, and the
	// other backends ignore the flag.
	RegisterClient(client Client, proc *sim.Process, writeTraces, readTraces []string, grouped bool) MCID
	UnregisterClient(id MCID)

	// Read requests a full line. False means back pressure.
	Read(id MCID, addr Address) bool
	// Write stores masked bytes of one line. False means back pressure.
	Write(id MCID, addr Address, data []byte, mask []bool, wid WClientID) bool

	LineSize() int
	Statistics() Statistics
}

// Statistics aggregates the traffic counters every backend keeps.
type Statistics struct {
	Reads          uint64
	Writes         uint64
	ReadBytes      uint64
	WriteBytes     uint64
	ExternalReads  uint64
	ExternalWrites uint64
}

// CheckAligned panics unless addr is aligned to lineSize.
func CheckAligned(who sim.Named, addr Address, lineSize int) {
	if uint64(addr)%uint64(lineSize) != 0 {
		sim.PanicInvariantf(who, "unaligned access 0x%x (line size %d)", uint64(addr), lineSize)
	}
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}

// ILog2 returns log2(v) for a power of two v.
func ILog2(v int) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
