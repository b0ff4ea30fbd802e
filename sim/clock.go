package sim

// Clock is one clock domain. Processes and storages belong to exactly one
// domain; the kernel fires the domain every period master cycles.
type Clock struct {
	kernel *Kernel
	name   string
	freq   uint64
	period uint64
	cycle  CycleNo

	processes []*Process
	services  []*ArbitratedService
	updates   []updatable
}

type updatable interface {
	Named
	applyUpdate()
}

// Name returns the domain name.
func (c *Clock) Name() string { return c.name }

// Frequency returns the configured frequency.
func (c *Clock) Frequency() uint64 { return c.freq }

// Cycle returns the domain-local cycle counter.
func (c *Clock) Cycle() CycleNo { return c.cycle }

// Kernel returns the owning kernel.
func (c *Clock) Kernel() *Kernel { return c.kernel }

// NewProcess registers a process in this domain. Processes execute in
// registration order; ties at arbitration are broken by the service's
// discipline, never by wall clock.
func (c *Clock) NewProcess(name string, delegate func() Result) *Process {
	p := &Process{name: name, clock: c, delegate: delegate, state: Delayed}
	c.processes = append(c.processes, p)
	return p
}

func (c *Clock) registerUpdate(s updatable) {
	c.updates = append(c.updates, s)
}

// runCycle sequences one cycle of this domain: acquire, arbitrate,
// check+commit per process, then storage update.
func (c *Clock) runCycle() (active, anySuccess, anyFailed bool) {
	k := c.kernel

	// Acquire: run every runnable process with effects suppressed so that
	// arbitrated services see all contenders.
	k.phase = PhaseAcquire
	for _, p := range c.processes {
		if !p.runnable(k.masterCycle) {
			continue
		}
		active = true
		k.current = p
		p.delegate()
	}

	for _, s := range c.services {
		s.arbitrate()
	}

	// Check, then commit on success. The commit run re-executes the same
	// delegate; since storage state cannot change mid-cycle the two runs
	// agree, and only the commit run applies effects.
	for _, p := range c.processes {
		if !p.runnable(k.masterCycle) {
			continue
		}
		k.current = p
		k.phase = PhaseCheck
		r := p.delegate()
		if r == Success {
			k.phase = PhaseCommit
			r = p.delegate()
			if r != Success {
				PanicInvariantf(p, "commit run returned %v after successful check", r)
			}
			anySuccess = true
		} else if r == Failed {
			anyFailed = true
		}
		p.state = r
	}
	k.current = nil

	// Update: apply deferred storage mutations atomically. Full/empty
	// transitions toggle process sensitivity for the next cycle.
	k.phase = PhaseUpdate
	c.cycle++
	pending := c.updates
	c.updates = c.updates[:0]
	for _, s := range pending {
		s.applyUpdate()
	}
	for _, s := range c.services {
		s.commitCycle()
	}
	k.phase = PhaseIdle
	return active, anySuccess, anyFailed
}

// Process is a unit of simulated activity: a delegate bound to a host
// component, driven by the storages it is sensitive on.
type Process struct {
	name     string
	clock    *Clock
	delegate func() Result

	activations int
	wakeAt      uint64
	state       Result
	traces      []string
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Clock returns the owning clock domain.
func (p *Process) Clock() *Clock { return p.clock }

// State returns the result of the last executed step.
func (p *Process) State() Result { return p.state }

// SetStorageTraces declares the storages this process may enqueue into.
// The declaration is reported by the deadlock watchdog.
func (p *Process) SetStorageTraces(names ...string) {
	p.traces = append(p.traces[:0], names...)
}

// runnable reports whether the process executes in the given master
// cycle. A process woken during an update phase becomes runnable only in
// the next master cycle, so a value written in cycle c is visible at
// cycle c+1, in the writer's domain and across domains alike.
func (p *Process) runnable(masterCycle uint64) bool {
	return p.activations > 0 && p.wakeAt <= masterCycle
}

func (p *Process) activate() {
	if p.activations == 0 {
		k := p.clock.kernel
		p.wakeAt = k.masterCycle
		if k.phase == PhaseUpdate {
			p.wakeAt = k.masterCycle + 1
		}
	}
	p.activations++
}

func (p *Process) deactivate() {
	if p.activations == 0 {
		PanicInvariantf(p, "deactivated below zero")
	}
	p.activations--
	if p.activations == 0 {
		p.state = Delayed
	}
}
