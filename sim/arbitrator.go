package sim

// Discipline selects how an arbitrated service breaks ties between
// contending processes.
type Discipline int

const (
	// DisciplinePriority grants strictly by registration order.
	DisciplinePriority Discipline = iota
	// DisciplineCyclic grants round-robin, continuing after the last
	// winner.
	DisciplineCyclic
	// DisciplinePriorityCyclic grants the lowest priority cohort first
	// and rotates within the cohort.
	DisciplinePriorityCyclic
)

// ArbitratedService guards a resource shared by a static set of processes.
// During the acquire phase Invoke records the caller as a contender; the
// service resolves arbitration before the check phase, after which Invoke
// answers whether the caller holds the service this cycle. Rotation state
// is committed only at the cycle boundary.
type ArbitratedService struct {
	name       string
	clock      *Clock
	discipline Discipline

	procs      []*Process
	priorities []int

	requested map[*Process]bool
	selected  *Process
	lastIdx   int
	nextIdx   int
}

// NewArbitratedService creates a service in the given clock domain.
func (c *Clock) NewArbitratedService(name string, d Discipline) *ArbitratedService {
	s := &ArbitratedService{
		name:       name,
		clock:      c,
		discipline: d,
		requested:  make(map[*Process]bool),
		lastIdx:    -1,
		nextIdx:    -1,
	}
	c.services = append(c.services, s)
	return s
}

// Name returns the service name.
func (s *ArbitratedService) Name() string { return s.name }

// AddProcess registers an eligible process. Registration order is the
// priority order for the priority disciplines.
func (s *ArbitratedService) AddProcess(p *Process) {
	s.AddPriorityProcess(p, len(s.procs))
}

// AddPriorityProcess registers an eligible process in a priority cohort.
// Lower priority values win. Only meaningful with
// DisciplinePriorityCyclic; the other disciplines ignore the cohort.
func (s *ArbitratedService) AddPriorityProcess(p *Process, priority int) {
	s.procs = append(s.procs, p)
	s.priorities = append(s.priorities, priority)
}

// Invoke requests or checks ownership of the service for the current
// process, depending on the kernel phase.
func (s *ArbitratedService) Invoke() bool {
	k := s.clock.kernel
	p := k.current
	if p == nil {
		PanicInvariantf(s, "invoke outside a process step")
	}
	switch k.phase {
	case PhaseAcquire:
		if !s.eligible(p) {
			PanicInvariantf(s, "invoke by unregistered process %s", p.Name())
		}
		s.requested[p] = true
		return true
	case PhaseCheck, PhaseCommit:
		return s.selected == p
	}
	PanicInvariantf(s, "invoke during %v phase", k.phase)
	return false
}

func (s *ArbitratedService) eligible(p *Process) bool {
	for _, q := range s.procs {
		if q == p {
			return true
		}
	}
	return false
}

// arbitrate resolves this cycle's winner from the contenders collected in
// the acquire phase.
func (s *ArbitratedService) arbitrate() {
	s.selected = nil
	s.nextIdx = -1
	if len(s.requested) == 0 {
		return
	}
	switch s.discipline {
	case DisciplinePriority:
		for i, p := range s.procs {
			if s.requested[p] {
				s.selected = p
				s.nextIdx = i
				break
			}
		}
	case DisciplineCyclic:
		n := len(s.procs)
		for off := 1; off <= n; off++ {
			i := (s.lastIdx + off) % n
			if s.requested[s.procs[i]] {
				s.selected = s.procs[i]
				s.nextIdx = i
				break
			}
		}
	case DisciplinePriorityCyclic:
		best := -1
		for i, p := range s.procs {
			if s.requested[p] && (best == -1 || s.priorities[i] < best) {
				best = s.priorities[i]
			}
		}
		n := len(s.procs)
		for off := 1; off <= n; off++ {
			i := (s.lastIdx + off) % n
			if s.requested[s.procs[i]] && s.priorities[i] == best {
				s.selected = s.procs[i]
				s.nextIdx = i
				break
			}
		}
	}
}

// commitCycle commits rotation state and clears the contender set.
func (s *ArbitratedService) commitCycle() {
	if s.selected != nil {
		s.lastIdx = s.nextIdx
	}
	s.selected = nil
	s.nextIdx = -1
	for p := range s.requested {
		delete(s.requested, p)
	}
}
