package zlcdma

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
	RootLoading RootState = iota
	RootFull
)

func (s RootState) String() string {
	if s == RootLoading {
		return "loading"
	}
	return "loaded"
}

// RootLine tracks one address owned by this root. When no line exists
// the root implicitly holds the full budget including the priority
// token.
type RootLine struct {
	State    RootState
	Tokens   int
	Priority bool
	Sender   NodeID
}

// RootDirectory owns the token budget for its address stripe.
type RootDirectory struct {
	Node

	system   *System
	clock    *sim.Clock
	lineSize int
	id       int
	numRoots int

	dir map[mem.Address]*RootLine

	pLines        *sim.ArbitratedService
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

// OnReadCompleted is the DDR channel callback.
func (r *RootDirectory) OnReadCompleted() bool {
	if len(r.active) == 0 {
		sim.PanicInvariantf(r, "DDR completion without outstanding read")
	}
	if !r.pResponsePush.Invoke() {
		return false
	}
	msg := r.active[0]
	if !r.responses.Push(msg) {
		return false
	}
	if r.committing() {
		msg.DataAttached = true
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
			switch {
			case line == nil && !msg.DataAttached:
				if !r.requests.Push(msg) {
					r.system.kernel.DeadlockWritef("unable to queue read request to memory")
					return false
				}
				if r.committing() {
					r.dir[msg.Address] = &RootLine{State: RootLoading, Sender: msg.Sender}
				}
				r.system.traceLine(msg.Address, "%s: read miss, loading from memory", r.Name())
				return true
			case line == nil && msg.DataAttached:
				// The last copy left while this read was gathering; its
				// data is complete, so the budget re-enters on the spot.
				if r.committing() {
					msg.Tokens = r.system.TotalTokens()
					msg.Priority = true
					r.dir[msg.Address] = &RootLine{State: RootFull}
				}
			case line.State == RootFull && line.Tokens > 0 && msg.DataAttached:
				if r.committing() {
					msg.Tokens += line.Tokens
					if line.Priority {
						msg.Priority = true
					}
					line.Tokens = 0
					line.Priority = false
				}
			default:
				// Loading, or nothing banked: going around.
			}

		case MsgAcquireTokens:
			line := r.dir[msg.Address]
			switch {
			case line == nil:
				if r.committing() {
					msg.Tokens += r.system.TotalTokens()
					msg.Priority = true
					msg.Transient = false
					r.dir[msg.Address] = &RootLine{State: RootFull}
				}
			case line.State == RootFull && line.Tokens > 0:
				if r.committing() {
					msg.Tokens += line.Tokens
					if line.Priority {
						msg.Priority = true
						msg.Transient = false
					}
					line.Tokens = 0
					line.Priority = false
				}
			default:
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
				if r.committing() {
					line.Tokens = tokens
					line.Priority = line.Priority || msg.Priority
					r.system.pool.Put(msg)
				}
				return true
			}
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

		case MsgLocalDirNotify:
			sim.PanicInvariantf(r, "notification reached a root directory")

		default:
			sim.PanicInvariantf(r, "unknown message type %d", int(msg.Type))
		}
	}

	if !r.SendMessage(msg, MinSpaceShortcut) {
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

func (r *RootDirectory) doResponses() sim.Result {
	msg := r.responses.Front()
	if !r.pLines.Invoke() {
		return sim.Failed
	}
	if !msg.Ignore {
		line := r.dir[msg.Address]
		if line == nil || line.State != RootLoading {
			sim.PanicInvariantf(r, "response for %s without loading line", msg.Address)
		}
		if r.committing() {
			msg.Tokens = r.system.TotalTokens()
			msg.Priority = true
			msg.Sender = line.Sender
			line.State = RootFull
			line.Sender = NoNodeID
		}
		r.system.traceLine(msg.Address, "%s: sending read response with the full budget", r.Name())
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
		"The root directory owns the token budget, including the priority\n"+
			"token, for every %d-th line, and proxies its DDR channel.\n\n"+
			"Current directory size: %d\n",
		r.numRoots, len(r.dir))
}

// Inspect prints the line table or the buffers.
func (r *RootDirectory) Inspect(w io.Writer, args []string) {
	if len(args) > 0 && args[0] == "buffers" {
		r.Print(w)
		return
	}
	addrs := make([]mem.Address, 0, len(r.dir))
	for a := range r.dir {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	fmt.Fprintf(w, "%-18s | State   | Tokens | Prio\n", "Address")
	for _, a := range addrs {
		line := r.dir[a]
		fmt.Fprintf(w, "%-18s | %-7s | %6d | %4t\n", a, line.State, line.Tokens, line.Priority)
	}
}
