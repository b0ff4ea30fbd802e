package zlcdma

import (
	"fmt"
	"io"

	"github.com/sarchlab/tokensim/sim"
)

// Buffer space reservations; see the cdma package for the rationale.
const (
	MinSpaceShortcut = 2
	MinSpaceForward  = 1
)

const nodeBufferSize = 2

// Node is one station on a unidirectional ring.
type Node struct {
	name   string
	id     NodeID
	system *System

	incoming *sim.Buffer[*Message]
	outgoing *sim.Buffer[*Message]

	next *Node
	prev *Node

	pForward *sim.Process
}

func (n *Node) initNode(name string, id NodeID, system *System, clock *sim.Clock) {
	n.name = name
	n.id = id
	n.system = system
	n.incoming = sim.NewBuffer[*Message](name+".incoming", clock, nodeBufferSize)
	n.outgoing = sim.NewBuffer[*Message](name+".outgoing", clock, nodeBufferSize)
	n.pForward = clock.NewProcess(name+".forward", n.doForward)
	n.outgoing.Sensitive(n.pForward)
}

// Name returns the node name.
func (n *Node) Name() string { return n.name }

// NodeID returns the cache ID, or NoNodeID for directory interfaces.
func (n *Node) NodeID() NodeID { return n.id }

// Connect links the node between its ring neighbours.
func (n *Node) Connect(next, prev *Node) {
	n.next = next
	n.prev = prev
	n.pForward.SetStorageTraces(next.incoming.Name())
}

// NextNode returns the downstream neighbour.
func (n *Node) NextNode() *Node { return n.next }

// PrevNode returns the upstream neighbour.
func (n *Node) PrevNode() *Node { return n.prev }

// Incoming exposes the inbound buffer.
func (n *Node) Incoming() *sim.Buffer[*Message] { return n.incoming }

// SendMessage admits a message to the outgoing buffer only if minSpace
// slots are free before the push.
func (n *Node) SendMessage(msg *Message, minSpace int) bool {
	return n.outgoing.PushReserve(msg, minSpace)
}

func (n *Node) doForward() sim.Result {
	if n.next == nil {
		sim.PanicInvariantf(n, "forward on unconnected node")
	}
	if !n.next.incoming.Push(n.outgoing.Front()) {
		n.system.kernel.DeadlockWritef("unable to send message to next node %s", n.next.Name())
		return sim.Failed
	}
	n.outgoing.Pop()
	return sim.Success
}

// Print renders both buffers of this node.
func (n *Node) Print(w io.Writer) {
	for _, pair := range []struct {
		name string
		b    *sim.Buffer[*Message]
	}{{"incoming", n.incoming}, {"outgoing", n.outgoing}} {
		fmt.Fprintf(w, "%s (%d/%d):\n", pair.name, pair.b.Len(), pair.b.Cap())
		for _, m := range pair.b.Items() {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
}
