package sim

// Buffer is a bounded FIFO storage. Pushes and pops are deferred to the
// update phase; within a cycle every reader observes the pre-update state.
type Buffer[T any] struct {
	storage

	items []T
	size  int

	pushed   bool
	pushItem T
	popped   bool
}

// NewBuffer creates an empty buffer with the given capacity.
func NewBuffer[T any](name string, clock *Clock, size int) *Buffer[T] {
	if size <= 0 {
		panic(&InvariantViolation{Component: name, Reason: "buffer capacity must be positive"})
	}
	b := &Buffer[T]{size: size}
	b.init(name, clock)
	return b
}

// Empty reports whether the buffer holds no items.
func (b *Buffer[T]) Empty() bool { return len(b.items) == 0 }

// Len returns the number of items currently held.
func (b *Buffer[T]) Len() int { return len(b.items) }

// Cap returns the configured capacity.
func (b *Buffer[T]) Cap() int { return b.size }

// Front returns the oldest item. Calling it on an empty buffer is an error.
func (b *Buffer[T]) Front() T {
	if len(b.items) == 0 {
		PanicInvariantf(b, "front of empty buffer")
	}
	return b.items[0]
}

// Items returns the current contents, front first. The slice is shared;
// callers must not mutate it. Intended for inspection only.
func (b *Buffer[T]) Items() []T { return b.items }

// Push appends an item at the end of the cycle. It fails when the buffer
// has no free slot.
func (b *Buffer[T]) Push(item T) bool {
	return b.PushReserve(item, 1)
}

// PushReserve appends an item only if at least minSpace slots are free
// before the push. The reservation lets a shortcut path keep slots free
// for the forwarded path, preventing head-of-line deadlock.
func (b *Buffer[T]) PushReserve(item T, minSpace int) bool {
	if minSpace < 1 {
		PanicInvariantf(b, "push with min space %d", minSpace)
	}
	if b.size-len(b.items) < minSpace {
		return false
	}
	if b.committing() {
		if b.pushed {
			PanicInvariantf(b, "double push in one cycle")
		}
		b.pushed = true
		b.pushItem = item
		b.markUpdate(b)
	}
	return true
}

// Pop removes the front item at the end of the cycle. Popping an empty
// buffer is an error.
func (b *Buffer[T]) Pop() {
	if len(b.items) == 0 {
		PanicInvariantf(b, "pop of empty buffer")
	}
	if b.committing() {
		if b.popped {
			PanicInvariantf(b, "double pop in one cycle")
		}
		b.popped = true
		b.markUpdate(b)
	}
}

func (b *Buffer[T]) applyUpdate() {
	b.clearPending()
	wasEmpty := len(b.items) == 0
	if b.popped {
		var zero T
		b.items[0] = zero
		b.items = b.items[1:]
	}
	if b.pushed {
		b.items = append(b.items, b.pushItem)
		var zero T
		b.pushItem = zero
	}
	b.pushed = false
	b.popped = false
	if wasEmpty && len(b.items) > 0 {
		b.notifyFilled()
	} else if !wasEmpty && len(b.items) == 0 {
		b.notifyDrained()
	}
}
