package cdma

import (
	"fmt"
	"io"

	"github.com/sarchlab/tokensim/sim"
)

// Buffer space reservations for ring sends. A shortcut over the ring must
// leave slots free for forwarded traffic, otherwise the two paths can
// deadlock against each other.
const (
	MinSpaceShortcut = 2
	MinSpaceForward  = 1
)

const nodeBufferSize = 2

// Node is one station on a unidirectional ring. Caches, directory
// interfaces and root directories all embed one, so heterogeneous rings
// compose without the neighbours knowing each other's type.
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

// Incoming exposes the inbound buffer, for protocol processes and tests.
func (n *Node) Incoming() *sim.Buffer[*Message] { return n.incoming }

// Outgoing exposes the outbound buffer.
func (n *Node) Outgoing() *sim.Buffer[*Message] { return n.outgoing }

// SendMessage admits a message to the outgoing buffer only if minSpace
// slots are free before the push.
func (n *Node) SendMessage(msg *Message, minSpace int) bool {
	return n.outgoing.PushReserve(msg, minSpace)
}

// doForward moves one message per cycle to the next node's inbound buffer.
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

// printBuffer renders a message queue for the inspection commands.
func printBuffer(w io.Writer, name string, b *sim.Buffer[*Message]) {
	fmt.Fprintf(w, "%s (%d/%d):\n", name, b.Len(), b.Cap())
	for _, m := range b.Items() {
		fmt.Fprintf(w, "  %s\n", m)
	}
}

// Print renders both buffers of this node.
func (n *Node) Print(w io.Writer) {
	printBuffer(w, "incoming", n.incoming)
	printBuffer(w, "outgoing", n.outgoing)
}
