package cdma

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/tokensim/mem"
)

// MsgType discriminates the protocol messages carried on the rings.
type MsgType int

const (
	// MsgRead is a read request without data.
	MsgRead MsgType = iota
	// MsgRequestData is a read request that gathers data while it
	// travels, used when the requester already holds partial bytes.
	MsgRequestData
	// MsgRequestDataToken is a read reply carrying data and tokens.
	MsgRequestDataToken
	// MsgEviction carries a line's tokens, and its data when dirty, out
	// of a cache.
	MsgEviction
	// MsgUpdate propagates written bytes to all copies of a line.
	MsgUpdate
)

func (t MsgType) String() string {
	switch t {
	case MsgRead:
		return "READ"
	case MsgRequestData:
		return "REQUEST_DATA"
	case MsgRequestDataToken:
		return "REQUEST_DATA_TOKEN"
	case MsgEviction:
		return "EVICTION"
	case MsgUpdate:
		return "UPDATE"
	}
	return "INVALID"
}

// NodeID identifies a cache on a ring. Directory interface nodes carry
// NoNodeID.
type NodeID int

// NoNodeID marks nodes that are not caches.
const NoNodeID NodeID = -1

// Message is one coherence message. A message is owned by exactly one
// buffer or process at any moment; it is allocated from the system's pool
// on issue and released on terminal consumption.
type Message struct {
	ID      string
	Type    MsgType
	Address mem.Address
	Sender  NodeID
	Tokens  int
	Dirty   bool

	// Ignore suppresses protocol effects while the message is rerouted
	// over the long path for deadlock avoidance.
	Ignore bool

	// Client and WID identify the write acknowledged when an UPDATE
	// returns to its sender.
	Client int
	WID    mem.WClientID

	Data []byte
	Mask []bool

	next *Message
}

func (m *Message) String() string {
	return fmt.Sprintf("%s addr=%s tokens=%d sender=%d dirty=%t ignore=%t",
		m.Type, m.Address, m.Tokens, m.Sender, m.Dirty, m.Ignore)
}

// MsgPool is a typed slab allocator with a free list. It is owned by the
// memory system instance so teardown is clean and no state is process
// global.
type MsgPool struct {
	lineSize  int
	free      *Message
	allocated int
}

// NewMsgPool creates a pool issuing messages with line-sized data buffers.
func NewMsgPool(lineSize int) *MsgPool {
	return &MsgPool{lineSize: lineSize}
}

const poolChunk = 64

// Get returns a zeroed message.
func (p *MsgPool) Get() *Message {
	if p.free == nil {
		for i := 0; i < poolChunk; i++ {
			m := &Message{
				Data: make([]byte, p.lineSize),
				Mask: make([]bool, p.lineSize),
			}
			m.next = p.free
			p.free = m
		}
		p.allocated += poolChunk
	}
	m := p.free
	p.free = m.next
	m.next = nil
	m.ID = xid.New().String()
	m.Sender = NoNodeID
	m.WID = mem.InvalidWClientID
	return m
}

// Put releases a message back to the pool.
func (p *MsgPool) Put(m *Message) {
	m.Type = MsgRead
	m.Address = 0
	m.Sender = NoNodeID
	m.Tokens = 0
	m.Dirty = false
	m.Ignore = false
	m.Client = 0
	m.WID = mem.InvalidWClientID
	for i := range m.Data {
		m.Data[i] = 0
		m.Mask[i] = false
	}
	m.ID = ""
	m.next = p.free
	p.free = m
}

// Allocated returns the number of messages ever taken from the OS heap.
func (p *MsgPool) Allocated() int { return p.allocated }
