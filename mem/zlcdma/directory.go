package zlcdma

import (
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

// Directory joins a bottom ring of caches to the top ring and counts the
// tokens its subring holds per address. Read and eviction traffic is
// accounted at the ring interfaces; token movement caused by
// acquisitions is invisible there, so the caches below report it with
// LOCALDIR_NOTIFICATION messages, which the directory consumes.
type Directory struct {
	name   string
	system *System

	Bottom *Node
	Top    *Node

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

// Initialize records the subring's node ID range, enforcing contiguity.
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

func (d *Directory) adjust(addr mem.Address, delta int) {
	if !d.committing() {
		return
	}
	tokens := d.dir[addr] + delta
	if tokens < 0 {
		sim.PanicInvariantf(d, "counter for %s fell below zero", addr)
	}
	if tokens == 0 {
		delete(d.dir, addr)
	} else {
		d.dir[addr] = tokens
	}
}

func (d *Directory) onMessageReceivedBottom(msg *Message) bool {
	if !d.pLines.Invoke() {
		d.system.kernel.DeadlockWritef("unable to get access to lines")
		return false
	}

	if !msg.Ignore {
		switch msg.Type {
		case MsgLocalDirNotify:
			// Consumed here: a cache below reports a token delta the
			// ring interfaces could not see.
			tokens := d.dir[msg.Address] + msg.TokenDelta
			if tokens < 0 {
				sim.PanicInvariantf(d, "notification drives counter for %s below zero", msg.Address)
			}
			if d.committing() {
				if tokens == 0 {
					delete(d.dir, msg.Address)
				} else {
					d.dir[msg.Address] = tokens
				}
				d.system.pool.Put(msg)
			}
			return true
		case MsgEviction:
			d.adjust(msg.Address, -msg.Tokens)
		case MsgRead:
			// A read leaving with gathered tokens takes them out of the
			// subring.
			if msg.Tokens > 0 {
				d.adjust(msg.Address, -msg.Tokens)
			}
		case MsgAcquireTokens:
			// Accounted via notifications only.
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

func (d *Directory) onMessageReceivedTop(msg *Message) bool {
	if !d.pLines.Invoke() {
		d.system.kernel.DeadlockWritef("unable to get access to lines")
		return false
	}

	below := false
	switch msg.Type {
	case MsgRead:
		_, present := d.dir[msg.Address]
		homebound := d.IsBelow(msg.Sender) && (msg.DataAttached || msg.Tokens > 0)
		below = present || homebound
		// Any tokens riding into the subring are counted on entry; the
		// bottom interface counts them back out if they leave.
		if below && msg.Tokens > 0 {
			d.adjust(msg.Address, msg.Tokens)
		}
	case MsgAcquireTokens:
		_, present := d.dir[msg.Address]
		below = present || d.IsBelow(msg.Sender)
	case MsgEviction:
		// Evictions ride the top ring to the root.
	case MsgLocalDirNotify:
		sim.PanicInvariantf(d, "notification escaped onto the top ring")
	default:
		sim.PanicInvariantf(d, "unexpected message type %d on top ring", int(msg.Type))
	}

	if !below {
		if d.Top.SendMessage(msg, MinSpaceShortcut) {
			return true
		}
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
		"The directory counts the tokens held in its ring of caches and\n"+
			"routes top-ring traffic down only when the address has holders\n"+
			"below.\n\nMax directory size: %d\nNode IDs below: %d - %d\n",
		d.maxNumLines, d.firstNode, d.lastNode)
}

// Inspect prints the counters or the ring buffers.
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
