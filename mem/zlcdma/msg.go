package zlcdma

import (
	"fmt"

	"github.com/rs/xid"
	"github.com/sarchlab/tokensim/mem"
)

// MsgType discriminates the ring messages of the token-acquisition
// protocol.
type MsgType int

const (
	// MsgRead is a read request; it gathers data and tokens while it
	// circulates and returns to its sender as its own reply.
	MsgRead MsgType = iota
	// MsgAcquireTokens collects every token of a line for a writer.
	MsgAcquireTokens
	// MsgEviction disseminates a line's tokens out of a cache.
	MsgEviction
	// MsgLocalDirNotify informs the local directory of a token delta it
	// could not observe on its ring interfaces.
	MsgLocalDirNotify
)

func (t MsgType) String() string {
	switch t {
	case MsgRead:
		return "READ"
	case MsgAcquireTokens:
		return "ACQUIRE_TOKENS"
	case MsgEviction:
		return "EVICTION"
	case MsgLocalDirNotify:
		return "LOCALDIR_NOTIFICATION"
	}
	return "INVALID"
}

// NodeID identifies a cache on a ring; directory interfaces carry
// NoNodeID.
type NodeID int

// NoNodeID marks nodes that are not caches.
const NoNodeID NodeID = -1

// Message is one protocol message. Tokens collected by a request without
// the priority token are transient: they exist only on the message and
// cannot be pocketed until the priority token converts them.
type Message struct {
	ID      string
	Type    MsgType
	Address mem.Address
	Sender  NodeID
	Tokens  int
	Dirty   bool

	// Priority marks possession of the designated priority token.
	Priority bool
	// Transient marks tokens that exist only in flight. Priority and
	// transient are mutually exclusive.
	Transient bool
	// Ignore suppresses protocol effects on the deadlock-avoidance
	// long path.
	Ignore bool

	// DataAttached marks a read that has picked up its line contents.
	DataAttached bool

	// TokenDelta is the signed counter adjustment carried by a local
	// directory notification.
	TokenDelta int

	Client int
	WID    mem.WClientID

	Data []byte
	Mask []bool

	next *Message
}

// PermanentTokens returns the tokens a line may pocket from this message.
func (m *Message) PermanentTokens() int {
	if m.Transient {
		return 0
	}
	return m.Tokens
}

func (m *Message) String() string {
	return fmt.Sprintf("%s addr=%s tokens=%d%s%s sender=%d dirty=%t ignore=%t",
		m.Type, m.Address, m.Tokens,
		map[bool]string{true: "P", false: ""}[m.Priority],
		map[bool]string{true: "T", false: ""}[m.Transient],
		m.Sender, m.Dirty, m.Ignore)
}

// MsgPool is the slab allocator for protocol messages, owned by the
// system instance.
type MsgPool struct {
	lineSize  int
	free      *Message
	allocated int
}

// NewMsgPool creates a pool issuing line-sized messages.
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
	m.Priority = false
	m.Transient = false
	m.Ignore = false
	m.DataAttached = false
	m.TokenDelta = 0
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
