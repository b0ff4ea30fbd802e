package sim

// storage is the common part of all sensitive storages. A storage wakes its
// sensitive process on every empty-to-full transition and puts it back to
// sleep on full-to-empty. It registers at most one deferred update per
// cycle; further mutations in the same cycle join that update. Conflicting
// mutations (a second push, pop, write or flag update in one cycle) are
// rejected with an invariant violation by the individual storage types.
type storage struct {
	name      string
	clock     *Clock
	sensitive *Process
	pending   bool
}

func (s *storage) init(name string, clock *Clock) {
	s.name = name
	s.clock = clock
}

// Name returns the storage name.
func (s *storage) Name() string { return s.name }

// Clock returns the owning clock domain.
func (s *storage) Clock() *Clock { return s.clock }

// Sensitive binds the process woken by this storage's non-empty state.
// Each storage has at most one sensitive process.
func (s *storage) Sensitive(p *Process) {
	if s.sensitive != nil {
		PanicInvariantf(s, "sensitive process already bound to %s", s.sensitive.Name())
	}
	s.sensitive = p
}

func (s *storage) committing() bool { return s.clock.kernel.Committing() }

// markUpdate schedules u's applyUpdate for this cycle's update phase.
func (s *storage) markUpdate(u updatable) {
	if s.pending {
		return
	}
	s.pending = true
	s.clock.registerUpdate(u)
}

func (s *storage) clearPending() { s.pending = false }

func (s *storage) notifyFilled() {
	if s.sensitive != nil {
		s.sensitive.activate()
	}
}

func (s *storage) notifyDrained() {
	if s.sensitive != nil {
		s.sensitive.deactivate()
	}
}
