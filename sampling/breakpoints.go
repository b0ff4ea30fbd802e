package sampling

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// BreakMode is a bit set of the access kinds a breakpoint fires on.
type BreakMode int

const (
	// BreakRead fires on memory reads.
	BreakRead BreakMode = 1 << iota
	// BreakWrite fires on memory writes.
	BreakWrite
	// BreakExecute fires on instruction fetch.
	BreakExecute
	// BreakTrace reports the hit without stopping.
	BreakTrace
)

func (m BreakMode) String() string {
	var b strings.Builder
	if m&BreakRead != 0 {
		b.WriteByte('R')
	}
	if m&BreakWrite != 0 {
		b.WriteByte('W')
	}
	if m&BreakExecute != 0 {
		b.WriteByte('X')
	}
	if m&BreakTrace != 0 {
		b.WriteByte('T')
	}
	return b.String()
}

// ParseBreakMode reads a mode string such as "RW" or "T".
func ParseBreakMode(s string) (BreakMode, error) {
	var m BreakMode
	for _, c := range strings.ToUpper(s) {
		switch c {
		case 'R':
			m |= BreakRead
		case 'W':
			m |= BreakWrite
		case 'X':
			m |= BreakExecute
		case 'T':
			m |= BreakTrace
		default:
			return 0, fmt.Errorf("unknown breakpoint mode %q", string(c))
		}
	}
	if m == 0 {
		return 0, fmt.Errorf("empty breakpoint mode")
	}
	return m, nil
}

type breakpoint struct {
	mode    BreakMode
	enabled bool
}

// Hit describes one breakpoint trigger.
type Hit struct {
	Address uint64
	Mode    BreakMode
	Cycle   uint64
	// Stop is false for trace-only breakpoints.
	Stop bool
}

// Breakpoints checks memory accesses against the configured address set.
type Breakpoints struct {
	points map[uint64]*breakpoint
	hits   []Hit
	// Enabled gates the whole checker; clear it to run at full speed.
	Enabled bool
}

// NewBreakpoints creates an empty, enabled checker.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{points: make(map[uint64]*breakpoint), Enabled: true}
}

// Set installs or extends a breakpoint.
func (b *Breakpoints) Set(addr uint64, mode BreakMode) {
	if bp, ok := b.points[addr]; ok {
		bp.mode |= mode
		bp.enabled = true
		return
	}
	b.points[addr] = &breakpoint{mode: mode, enabled: true}
}

// Clear removes a breakpoint.
func (b *Breakpoints) Clear(addr uint64) {
	delete(b.points, addr)
}

// Enable toggles one breakpoint.
func (b *Breakpoints) Enable(addr uint64, enabled bool) bool {
	bp, ok := b.points[addr]
	if ok {
		bp.enabled = enabled
	}
	return ok
}

// Check tests one access; it returns a hit when a matching enabled
// breakpoint exists. Trace-only breakpoints report Stop=false.
func (b *Breakpoints) Check(addr uint64, kind BreakMode, cycle uint64) (Hit, bool) {
	if !b.Enabled {
		return Hit{}, false
	}
	bp, ok := b.points[addr]
	if !ok || !bp.enabled || bp.mode&kind == 0 {
		return Hit{}, false
	}
	hit := Hit{
		Address: addr,
		Mode:    bp.mode & kind,
		Cycle:   cycle,
		Stop:    bp.mode&BreakTrace == 0,
	}
	b.hits = append(b.hits, hit)
	return hit, true
}

// Hits returns the recorded triggers.
func (b *Breakpoints) Hits() []Hit { return b.hits }

// List writes the configured breakpoints.
func (b *Breakpoints) List(w io.Writer) {
	addrs := make([]uint64, 0, len(b.points))
	for a := range b.points {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	fmt.Fprintf(w, "%-18s | Mode | Enabled\n", "Address")
	for _, a := range addrs {
		bp := b.points[a]
		fmt.Fprintf(w, "0x%-16x | %-4s | %t\n", a, bp.mode, bp.enabled)
	}
}
