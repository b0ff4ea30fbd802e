package sim

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/tokensim/tslog"
)

// Kernel drives all clock domains of one simulation. It is not safe for
// concurrent use; the whole simulator is a flat loop over phases.
type Kernel struct {
	clocks      []*Clock
	masterFreq  uint64
	masterCycle uint64

	phase   Phase
	current *Process

	deadlockLimit uint64
	quietCycles   uint64
	stallLog      []string

	logger *tslog.Logger
}

// DefaultDeadlockLimit is the number of consecutive unproductive cycles
// after which the watchdog trips.
const DefaultDeadlockLimit = 1000000

// NewKernel creates an empty kernel.
func NewKernel() *Kernel {
	return &Kernel{
		deadlockLimit: DefaultDeadlockLimit,
		logger:        tslog.Discard(),
	}
}

// SetLogger replaces the kernel logger. A nil logger disables logging.
func (k *Kernel) SetLogger(l *tslog.Logger) {
	if l == nil {
		l = tslog.Discard()
	}
	k.logger = l
}

// Logger returns the kernel logger.
func (k *Kernel) Logger() *tslog.Logger { return k.logger }

// SetDeadlockLimit sets the watchdog threshold D. Zero disables the
// watchdog.
func (k *Kernel) SetDeadlockLimit(cycles uint64) { k.deadlockLimit = cycles }

// NewClock registers a clock domain running at the given frequency. The
// frequency unit is arbitrary; only ratios between domains matter.
func (k *Kernel) NewClock(name string, freq uint64) *Clock {
	if freq == 0 {
		panic(&InvariantViolation{Component: name, Reason: "clock frequency must be positive"})
	}
	c := &Clock{kernel: k, name: name, freq: freq}
	k.clocks = append(k.clocks, c)
	k.rescale()
	return c
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// rescale recomputes the master frequency (LCM of all domain frequencies)
// and each clock's period in master cycles.
func (k *Kernel) rescale() {
	if k.masterCycle != 0 {
		panic(&InvariantViolation{Component: "kernel", Reason: "cannot add clocks after the simulation started"})
	}
	lcm := uint64(1)
	for _, c := range k.clocks {
		lcm = lcm / gcd(lcm, c.freq) * c.freq
	}
	k.masterFreq = lcm
	for _, c := range k.clocks {
		c.period = lcm / c.freq
	}
}

// Phase returns the phase currently being executed.
func (k *Kernel) Phase() Phase { return k.phase }

// Committing reports whether effects take hold right now. Code guarded by
// it is the Go rendering of a COMMIT region.
func (k *Kernel) Committing() bool { return k.phase == PhaseCommit || k.phase == PhaseUpdate }

// CurrentProcess returns the process whose delegate is executing, or nil
// between processes.
func (k *Kernel) CurrentProcess() *Process { return k.current }

// MasterCycle returns the number of elapsed master cycles.
func (k *Kernel) MasterCycle() uint64 { return k.masterCycle }

// DeadlockWritef records a stall reason for the watchdog dump. Cheap when
// nothing is deadlocked: the buffer is cleared on every productive cycle.
func (k *Kernel) DeadlockWritef(format string, args ...interface{}) {
	who := "?"
	if k.current != nil {
		who = k.current.Name()
	}
	if len(k.stallLog) < 256 {
		k.stallLog = append(k.stallLog, who+": "+fmt.Sprintf(format, args...))
	}
}

// Idle reports whether no process in any domain is runnable.
func (k *Kernel) Idle() bool {
	for _, c := range k.clocks {
		for _, p := range c.processes {
			if p.activations > 0 {
				return false
			}
		}
	}
	return true
}

// Step advances the simulation by one master cycle, running every clock
// domain whose edge falls on it. It returns a DeadlockError when the
// watchdog trips.
func (k *Kernel) Step() error {
	anyActive := false
	anySuccess := false
	anyFailed := false
	for _, c := range k.clocks {
		if k.masterCycle%c.period != 0 {
			continue
		}
		active, success, failed := c.runCycle()
		anyActive = anyActive || active
		anySuccess = anySuccess || success
		anyFailed = anyFailed || failed
	}
	k.masterCycle++

	if anyActive && !anySuccess && anyFailed {
		k.quietCycles++
	} else {
		k.quietCycles = 0
		k.stallLog = k.stallLog[:0]
	}
	if k.deadlockLimit > 0 && k.quietCycles >= k.deadlockLimit {
		return k.deadlockError()
	}
	return nil
}

// Run executes up to maxCycles master cycles, stopping early when the
// simulation goes idle. maxCycles of zero means no bound.
func (k *Kernel) Run(maxCycles uint64) error {
	for i := uint64(0); maxCycles == 0 || i < maxCycles; i++ {
		if k.Idle() {
			return nil
		}
		if err := k.Step(); err != nil {
			return err
		}
	}
	return nil
}

// DeadlockError reports a tripped watchdog: the set of stalled processes
// with their declared storage traces, plus recent stall reasons.
type DeadlockError struct {
	Cycle     uint64
	Processes []string
	Reasons   []string
}

func (e *DeadlockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deadlock detected at master cycle %d; stalled processes:\n", e.Cycle)
	for _, p := range e.Processes {
		fmt.Fprintf(&b, "  %s\n", p)
	}
	if len(e.Reasons) > 0 {
		b.WriteString("recent stall reasons:\n")
		for _, r := range e.Reasons {
			fmt.Fprintf(&b, "  %s\n", r)
		}
	}
	return b.String()
}

func (k *Kernel) deadlockError() error {
	var procs []string
	for _, c := range k.clocks {
		for _, p := range c.processes {
			if p.activations > 0 && p.state == Failed {
				desc := p.Name()
				if len(p.traces) > 0 {
					desc += " (storages: " + strings.Join(p.traces, ", ") + ")"
				}
				procs = append(procs, desc)
			}
		}
	}
	sort.Strings(procs)
	reasons := make([]string, len(k.stallLog))
	copy(reasons, k.stallLog)
	err := &DeadlockError{Cycle: k.masterCycle, Processes: procs, Reasons: reasons}
	k.logger.Err().
		Uint64("cycle", k.masterCycle).
		Int("stalled", len(procs)).
		Log("deadlock watchdog tripped")
	return err
}

// InvariantViolation indicates an implementation bug: a double storage
// update, a token conservation breach, or an illegal state transition.
// These are raised as panics; there is no in-simulator recovery.
type InvariantViolation struct {
	Component string
	Reason    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Component, e.Reason)
}

// PanicInvariantf aborts the simulation with a structural trace.
func PanicInvariantf(component Named, format string, args ...interface{}) {
	name := "?"
	if component != nil {
		name = component.Name()
	}
	panic(&InvariantViolation{Component: name, Reason: fmt.Sprintf(format, args...)})
}
