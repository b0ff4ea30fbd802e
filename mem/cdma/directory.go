package cdma

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

// Directory joins a bottom ring of caches to the top ring. Per address it
// counts the tokens currently held below; an entry exists iff the subring
// holds at least one token.
type Directory struct {
	name   string
	system *System

	Bottom *Node
	Top    *Node

	// pLines arbitrates line access and the top-ring outgoing buffer
	// jointly: the counter update and the upward forward must happen
	// under one grant so the transient counter window closes before any
	// dependent event.
	pLines *sim.ArbitratedService

	dir         map[mem.Address]int
	maxNumLines int
	firstNode   NodeID
	lastNode    NodeID

	pInBottom *sim.Process
	pInTop    *sim.Process
}

func newDirectory(name string, system *System, clock *sim.Clock) *Directory {
	d := &Directory{
		name:      name,
		system:    system,
		dir:       make(map[mem.Address]int),
		firstNode: NoNodeID,
		lastNode:  NoNodeID,
	}
	d.Bottom = &Node{}
	d.Bottom.initNode(name+".bottom", NoNodeID, system, clock)
	d.Top = &Node{}
	d.Top.initNode(name+".top", NoNodeID, system, clock)

	d.pInBottom = clock.NewProcess(name+".bottom-incoming", d.doInBottom)
	d.pInTop = clock.NewProcess(name+".top-incoming", d.doInTop)
	d.Bottom.incoming.Sensitive(d.pInBottom)
	d.Top.incoming.Sensitive(d.pInTop)

	d.pLines = clock.NewArbitratedService(name+".p_lines", sim.DisciplineCyclic)
	d.pLines.AddProcess(d.pInTop)
	d.pLines.AddProcess(d.pInBottom)

	d.pInBottom.SetStorageTraces(d.Top.outgoing.Name())
	d.pInTop.SetStorageTraces(d.Top.outgoing.Name(), d.Bottom.outgoing.Name())

	return d
}

// Name returns the directory name.
func (d *Directory) Name() string { return d.name }

func (d *Directory) committing() bool { return d.system.kernel.Committing() }

// ConnectRing hooks the bottom interface between the first and last cache
// of the subring: messages enter the subring at the first cache and come
// back to the directory after the last.
func (d *Directory) ConnectRing(first, last *Node) {
	d.Bottom.Connect(first, last)
}

// Initialize records the subring's node ID range and sizes the directory.
// The caches below must have contiguous IDs so that IsBelow is accurate
// and constant time; this is enforced, not asserted.
func (d *Directory) Initialize() error {
	d.firstNode = d.Bottom.NextNode().NodeID()
	d.lastNode = d.Bottom.PrevNode().NodeID()
	for p := d.Bottom.NextNode(); p != d.Bottom; p = p.NextNode() {
		if p.NextNode() != d.Bottom && p.NextNode().NodeID() != p.NodeID()+1 {
			return fmt.Errorf("directory %s: cache IDs in subring are not contiguous", d.name)
		}
		d.maxNumLines += d.system.cacheByNodeID(p.NodeID()).NumLines()
	}
	return nil
}

// IsBelow reports whether the cache with the given ID sits in this
// directory's subring.
func (d *Directory) IsBelow(id NodeID) bool {
	return id >= d.firstNode && id <= d.lastNode
}

func (d *Directory) findLine(addr mem.Address) (int, bool) {
	tokens, ok := d.dir[addr]
	return tokens, ok
}

// onMessageReceivedBottom accounts tokens leaving the subring and puts
// the message on the top ring.
func (d *Directory) onMessageReceivedBottom(msg *Message) bool {
	// The grant also covers the top-ring outgoing buffer.
	if !d.pLines.Invoke() {
		d.system.kernel.DeadlockWritef("unable to get access to lines")
		return false
	}

	if !msg.Ignore {
		switch msg.Type {
		case MsgEviction, MsgRequestDataToken:
			// Tokens leave the subring. Evictions always originate below
			// except on the deadlock-avoidance path, which sets ignore.
			tokens, ok := d.findLine(msg.Address)
			if !ok || tokens < msg.Tokens {
				sim.PanicInvariantf(d, "counter for %s (%d) below departing tokens (%d)",
					msg.Address, tokens, msg.Tokens)
			}
			if d.committing() {
				if tokens == msg.Tokens {
					delete(d.dir, msg.Address)
				} else {
					d.dir[msg.Address] = tokens - msg.Tokens
				}
			}
		case MsgRead, MsgRequestData, MsgUpdate:
		default:
			sim.PanicInvariantf(d, "unexpected message type %d on bottom ring", int(msg.Type))
		}
	}

	if d.committing() {
		msg.Ignore = false
	}
	if !d.Top.SendMessage(msg, MinSpaceForward) {
		d.system.kernel.DeadlockWritef("unable to buffer message for next node on top ring")
		return false
	}
	return true
}

// onMessageReceivedTop routes a downward message into the subring when a
// cache below holds the line, and otherwise shortcuts it around the top
// ring. When the shortcut has no reserved space left, the message goes
// the long way through the subring with its ignore flag set.
func (d *Directory) onMessageReceivedTop(msg *Message) bool {
	if !d.pLines.Invoke() {
		d.system.kernel.DeadlockWritef("unable to get access to lines")
		return false
	}

	below := false
	switch msg.Type {
	case MsgRead, MsgRequestData, MsgUpdate:
		_, below = d.findLine(msg.Address)
	case MsgRequestDataToken:
		if d.IsBelow(msg.Sender) {
			// The reply enters the subring carrying tokens for a cache
			// below; account them on the way in.
			if d.committing() {
				d.dir[msg.Address] += msg.Tokens
			}
			below = true
		}
	case MsgEviction:
		// Evictions ride the top ring to the root.
	default:
		sim.PanicInvariantf(d, "unexpected message type %d on top ring", int(msg.Type))
	}

	if !below {
		if d.Top.SendMessage(msg, MinSpaceShortcut) {
			return true
		}
		// No shortcut space: go the long way, effects suppressed.
		if d.committing() {
			msg.Ignore = true
		}
		if !d.Bottom.SendMessage(msg, MinSpaceForward) {
			d.system.kernel.DeadlockWritef("unable to buffer message for bottom ring")
			return false
		}
		return true
	}

	if !d.Bottom.SendMessage(msg, MinSpaceForward) {
		d.system.kernel.DeadlockWritef("unable to buffer message for bottom ring")
		return false
	}
	return true
}

func (d *Directory) doInBottom() sim.Result {
	if !d.onMessageReceivedBottom(d.Bottom.incoming.Front()) {
		return sim.Failed
	}
	d.Bottom.incoming.Pop()
	return sim.Success
}

func (d *Directory) doInTop() sim.Result {
	if !d.onMessageReceivedTop(d.Top.incoming.Front()) {
		return sim.Failed
	}
	d.Top.incoming.Pop()
	return sim.Success
}

// Tokens returns the counter for addr, zero when absent.
func (d *Directory) Tokens(addr mem.Address) int {
	return d.dir[addr]
}

// HasLine reports whether the subring holds any token for addr.
func (d *Directory) HasLine(addr mem.Address) bool {
	_, ok := d.dir[addr]
	return ok
}

// Info describes the component for the monitor.
func (d *Directory) Info(w io.Writer, _ []string) {
	fmt.Fprintf(w,
		"The directory connects a ring of caches to the top-level ring and\n"+
			"counts the tokens present below it per address.\n\n"+
			"Max directory size: %d\nNode IDs on lower ring: %d - %d\n",
		d.maxNumLines, d.firstNode, d.lastNode)
}

// Inspect prints the directory contents or its ring buffers.
func (d *Directory) Inspect(w io.Writer, args []string) {
	if len(args) > 0 && args[0] == "buffers" {
		fmt.Fprintln(w, "Top ring interface:")
		d.Top.Print(w)
		fmt.Fprintln(w, "Bottom ring interface:")
		d.Bottom.Print(w)
		return
	}
	addrs := make([]mem.Address, 0, len(d.dir))
	for a := range d.dir {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	fmt.Fprintf(w, "%-18s | Tokens\n", "Address")
	for _, a := range addrs {
		fmt.Fprintf(w, "%-18s | %6d\n", a, d.dir[a])
	}
}
