package cdma

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/sim"
)

// RootState is the allocation state of a root directory line.
type RootState int

const (
	// RootLoading lines have a DDR read outstanding.
	RootLoading RootState = iota
	// RootFull lines are present somewhere in the system.
	RootFull
)

func (s RootState) String() string {
	if s == RootLoading {
		return "loading"
	}
	return "loaded"
}

// RootLine tracks one address owned by this root.
type RootLine struct {
	State  RootState
	Tokens int
	Sender NodeID
}

// RootDirectory owns the token budget for its address stripe and proxies
// it to a DDR channel. Addresses are striped across roots by line index.
type RootDirectory struct {
	Node

	system   *System
	clock    *sim.Clock
	lineSize int
	id       int
	numRoots int

	dir map[mem.Address]*RootLine

	pLines *sim.ArbitratedService

	// pResponsePush arbitrates the response queue between the DDR
	// completion callback and the long-path re-insertion.
	pResponsePush *sim.ArbitratedService

	channel *ddr.Channel

	requests  *sim.Buffer[*Message]
	responses *sim.Buffer[*Message]
	active    []*Message

	pIncoming  *sim.Process
	pRequests  *sim.Process
	pResponses *sim.Process

	nreads  uint64
	nwrites uint64
}

func newRootDirectory(name string, system *System, clock *sim.Clock, id int, channel *ddr.Channel) *RootDirectory {
	r := &RootDirectory{
		system:   system,
		clock:    clock,
		lineSize: system.lineSize,
		id:       id,
		numRoots: system.numRoots,
		dir:      make(map[mem.Address]*RootLine),
		channel:  channel,
	}
	r.initNode(name, NoNodeID, system, clock)

	r.requests = sim.NewBuffer[*Message](name+".requests", clock, system.externalQueueSize)
	r.responses = sim.NewBuffer[*Message](name+".responses", clock, system.externalQueueSize)

	r.pIncoming = clock.NewProcess(name+".incoming", r.doIncoming)
	r.pRequests = clock.NewProcess(name+".requests", r.doRequests)
	r.pResponses = clock.NewProcess(name+".responses", r.doResponses)

	r.incoming.Sensitive(r.pIncoming)
	r.requests.Sensitive(r.pRequests)
	r.responses.Sensitive(r.pResponses)

	r.pLines = clock.NewArbitratedService(name+".p_lines", sim.DisciplinePriority)
	r.pLines.AddProcess(r.pResponses)
	r.pLines.AddProcess(r.pIncoming)

	r.pResponsePush = clock.NewArbitratedService(name+".p_response_push", sim.DisciplinePriority)
	r.pResponsePush.AddProcess(channel.CompletionProcess())
	r.pResponsePush.AddProcess(r.pRequests)

	r.pIncoming.SetStorageTraces(r.outgoing.Name(), r.requests.Name())
	r.pRequests.SetStorageTraces(r.responses.Name())
	r.pResponses.SetStorageTraces(r.outgoing.Name())

	channel.SetClient(r)
	return r
}

func (r *RootDirectory) committing() bool { return r.system.kernel.Committing() }

// IsLocal reports whether this root owns the address stripe of addr.
func (r *RootDirectory) IsLocal(addr mem.Address) bool {
	return int(uint64(addr)/uint64(r.lineSize))%r.numRoots == r.id
}

// denseAddr folds the striped address into the dense per-channel space
// the DDR model sees.
func (r *RootDirectory) denseAddr(addr mem.Address) mem.Address {
	return addr / mem.Address(r.lineSize) / mem.Address(r.numRoots) * mem.Address(r.lineSize)
}

// FindLine exposes the line table for inspection.
func (r *RootDirectory) FindLine(addr mem.Address) *RootLine {
	return r.dir[addr]
}

// Statistics returns external reads and writes issued to DDR.
func (r *RootDirectory) Statistics() (reads, writes uint64) {
	return r.nreads, r.nwrites
}

// OnReadCompleted is the DDR channel callback: the oldest outstanding
// read becomes a token-carrying reply.
func (r *RootDirectory) OnReadCompleted() bool {
	if len(r.active) == 0 {
		sim.PanicInvariantf(r, "DDR completion without outstanding read")
	}
	if !r.pResponsePush.Invoke() {
		return false
	}
	msg := r.active[0]
	if !r.responses.Push(msg) {
		r.system.kernel.DeadlockWritef("unable to push DDR reply into send buffer")
		return false
	}
	if r.committing() {
		msg.Type = MsgRequestDataToken
		msg.Dirty = false
		r.system.backing.Read(msg.Address, msg.Data)
		for i := range msg.Mask {
			msg.Mask[i] = true
		}
		r.active = r.active[1:]
	}
	return true
}

func (r *RootDirectory) onMessageReceived(msg *Message) bool {
	if r.IsLocal(msg.Address) && !msg.Ignore {
		if !r.pLines.Invoke() {
			r.system.kernel.DeadlockWritef("unable to acquire lines")
			return false
		}

		switch msg.Type {
		case MsgRead:
			line := r.dir[msg.Address]
			if line == nil {
				// Miss: queue the DDR read and track the requester.
				if !r.requests.Push(msg) {
					r.system.kernel.DeadlockWritef("unable to queue read request to memory")
					return false
				}
				if r.committing() {
					r.dir[msg.Address] = &RootLine{State: RootLoading, Sender: msg.Sender}
				}
				r.system.traceLine(msg.Address, "%s: read miss, loading from memory", r.Name())
				return true
			}
			// Already loading or in some cache; the message circulates
			// and picks its data up on a cache later on.
			r.system.traceLine(msg.Address, "%s: read hit, going around", r.Name())

		case MsgRequestData:
			line := r.dir[msg.Address]
			switch {
			case line == nil:
				// The last copy was evicted while this request was in
				// flight; the data it gathered is complete, so the
				// tokens re-enter the system without a DDR read.
				if r.committing() {
					msg.Type = MsgRequestDataToken
					msg.Tokens = r.system.TotalTokens()
					r.dir[msg.Address] = &RootLine{State: RootFull}
				}
				r.system.traceLine(msg.Address, "%s: reintroducing %d tokens", r.Name(), r.system.TotalTokens())
			case line.State == RootFull && line.Tokens > 0:
				if r.committing() {
					msg.Type = MsgRequestDataToken
					msg.Tokens = line.Tokens
					line.Tokens = 0
				}
			default:
				// No tokens here: going around.
			}

		case MsgEviction:
			line := r.dir[msg.Address]
			if line == nil || line.State != RootFull {
				sim.PanicInvariantf(r, "eviction for %s without loaded line", msg.Address)
			}
			tokens := msg.Tokens + line.Tokens
			if tokens > r.system.TotalTokens() {
				sim.PanicInvariantf(r, "token overflow for %s: %d", msg.Address, tokens)
			}
			if tokens < r.system.TotalTokens() {
				// Partial: bank the tokens and consume the message.
				if r.committing() {
					line.Tokens = tokens
					r.system.pool.Put(msg)
				}
				return true
			}
			// All tokens returned: the line leaves the system.
			addr := msg.Address
			if msg.Dirty {
				if !r.requests.Push(msg) {
					r.system.kernel.DeadlockWritef("unable to queue eviction to memory")
					return false
				}
			} else if r.committing() {
				r.system.pool.Put(msg)
			}
			if r.committing() {
				delete(r.dir, addr)
			}
			r.system.traceLine(addr, "%s: all tokens returned, clearing line", r.Name())
			return true

		case MsgUpdate, MsgRequestDataToken:
			// Just forward.

		default:
			sim.PanicInvariantf(r, "unknown message type %d", int(msg.Type))
		}
	}

	if !r.SendMessage(msg, MinSpaceShortcut) {
		// Cannot shortcut: go the long way through the request queue.
		if r.committing() {
			msg.Ignore = true
		}
		if !r.requests.Push(msg) {
			r.system.kernel.DeadlockWritef("unable to forward request")
			return false
		}
	}
	return true
}

func (r *RootDirectory) doIncoming() sim.Result {
	if !r.onMessageReceived(r.incoming.Front()) {
		return sim.Failed
	}
	r.incoming.Pop()
	return sim.Success
}

// doRequests issues queued work to the DDR channel. Messages with the
// ignore flag are merely re-inserted into the ring via the response path.
func (r *RootDirectory) doRequests() sim.Result {
	msg := r.requests.Front()
	if msg.Ignore {
		if !r.pResponsePush.Invoke() {
			return sim.Failed
		}
		if !r.responses.Push(msg) {
			return sim.Failed
		}
		r.requests.Pop()
		return sim.Success
	}

	dense := r.denseAddr(msg.Address)
	if msg.Type == MsgRead {
		if !r.channel.Read(dense, r.lineSize) {
			return sim.Failed
		}
		if r.committing() {
			r.nreads++
			r.active = append(r.active, msg)
		}
	} else {
		if msg.Type != MsgEviction {
			sim.PanicInvariantf(r, "unexpected %s in memory queue", msg)
		}
		if !r.channel.Write(dense, r.lineSize) {
			return sim.Failed
		}
		if r.committing() {
			r.system.backing.Write(msg.Address, msg.Data, nil)
			r.nwrites++
			r.system.pool.Put(msg)
		}
	}
	r.requests.Pop()
	return sim.Success
}

// doResponses re-emits completed reads (and long-path messages) onto the
// ring. A completed read carries the full token budget.
func (r *RootDirectory) doResponses() sim.Result {
	msg := r.responses.Front()

	// The arbitrator covers the outgoing channel even when no line is
	// touched.
	if !r.pLines.Invoke() {
		r.system.kernel.DeadlockWritef("unable to acquire lines")
		return sim.Failed
	}

	if !msg.Ignore {
		line := r.dir[msg.Address]
		if line == nil || line.State != RootLoading {
			sim.PanicInvariantf(r, "response for %s without loading line", msg.Address)
		}
		if r.committing() {
			msg.Tokens = r.system.TotalTokens()
			msg.Sender = line.Sender
			line.State = RootFull
			line.Sender = NoNodeID
		}
		r.system.traceLine(msg.Address, "%s: sending read response with %d tokens", r.Name(), r.system.TotalTokens())
	}
	if r.committing() {
		msg.Ignore = false
	}
	if !r.SendMessage(msg, MinSpaceForward) {
		return sim.Failed
	}
	r.responses.Pop()
	return sim.Success
}

// Info describes the component for the monitor.
func (r *RootDirectory) Info(w io.Writer, _ []string) {
	fmt.Fprintf(w,
		"The root directory owns the token budget for every %d-th line and\n"+
			"acts as memory controller for its DDR channel.\n\n"+
			"Current directory size: %d\n",
		r.numRoots, len(r.dir))
}

// Inspect prints the line table or the buffers.
func (r *RootDirectory) Inspect(w io.Writer, args []string) {
	if len(args) > 0 && args[0] == "buffers" {
		printBuffer(w, "external requests", r.requests)
		printBuffer(w, "external responses", r.responses)
		r.Print(w)
		return
	}
	addrs := make([]mem.Address, 0, len(r.dir))
	for a := range r.dir {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	fmt.Fprintf(w, "%-18s | State   | Tokens\n", "Address")
	for _, a := range addrs {
		line := r.dir[a]
		fmt.Fprintf(w, "%-18s | %-7s | %6d\n", a, line.State, line.Tokens)
	}
}
