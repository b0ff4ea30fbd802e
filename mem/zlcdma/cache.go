package zlcdma

import (
	"fmt"
	"io"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

// LineState is the allocation state of one cache line.
type LineState int

const (
	LineEmpty LineState = iota
	LineLoading
	LineFull
)

func (s LineState) String() string {
	switch s {
	case LineEmpty:
		return "empty"
	case LineLoading:
		return "loading"
	case LineFull:
		return "full"
	}
	return "invalid"
}

type pendingWrite struct {
	client int
	wid    mem.WClientID
}

// Line is one associative way. A full line that holds every token (and
// so is allowed to be dirty) may be written freely; otherwise a write
// launches a token acquisition.
type Line struct {
	State  LineState
	Tag    mem.Address
	Data   []byte
	Valid  []bool
	Access sim.CycleNo
	Tokens int

	// Priority marks possession of the designated priority token; it is
	// what lets this line's acquisition win against concurrent writers.
	Priority bool
	Dirty    bool

	// Acquiring is set while an ACQUIRE_TOKENS for this line circulates.
	Acquiring bool

	set     int
	waiters []bool
	pending []pendingWrite
}

// Request is a queued client memory operation.
type Request struct {
	Write   bool
	Address mem.Address
	Data    []byte
	Mask    []bool
	Client  int
	WID     mem.WClientID
}

type notifyEntry struct {
	addr  mem.Address
	delta int
}

// CacheStats are the per-cache protocol counters.
type CacheStats struct {
	ReadAccesses      uint64
	WriteAccesses     uint64
	ReadHits          uint64
	Loads             uint64
	Evictions         uint64
	HardConflicts     uint64
	NetworkRHits      uint64
	ReadCompletions   uint64
	WriteCompletions  uint64
	Acquisitions      uint64
	LostAcquisitions  uint64
	InjectedEvictions uint64
	IgnoredMessages   uint64
}

// Cache is one set-associative L2 cache on a ring.
type Cache struct {
	Node

	system   *System
	clock    *sim.Clock
	lineSize int
	assoc    int
	sets     int
	selector mem.BankSelector

	clients []mem.Client
	lines   []Line

	pBus   *sim.ArbitratedService
	pLines *sim.ArbitratedService

	requests      *sim.Buffer[Request]
	notifications *sim.Buffer[notifyEntry]

	pRequests *sim.Process
	pIn       *sim.Process
	pNotify   *sim.Process

	stats CacheStats
}

func newCache(name string, system *System, clock *sim.Clock, id NodeID) *Cache {
	c := &Cache{
		system:   system,
		clock:    clock,
		lineSize: system.lineSize,
		assoc:    system.assoc,
		sets:     system.sets,
	}
	c.initNode(name, id, system, clock)

	sel, err := mem.MakeBankSelector(system.selectorName, c.sets)
	if err != nil {
		panic(&sim.InvariantViolation{Component: name, Reason: err.Error()})
	}
	c.selector = sel

	c.lines = make([]Line, c.sets*c.assoc)
	for i := range c.lines {
		c.lines[i].Data = make([]byte, c.lineSize)
		c.lines[i].Valid = make([]bool, c.lineSize)
		c.lines[i].set = i / c.assoc
	}

	c.requests = sim.NewBuffer[Request](name+".requests", clock, system.requestQueueSize)
	c.notifications = sim.NewBuffer[notifyEntry](name+".notifications", clock, system.requestQueueSize)

	c.pRequests = clock.NewProcess(name+".requests", c.doRequests)
	c.pIn = clock.NewProcess(name+".incoming", c.doReceive)
	c.pNotify = clock.NewProcess(name+".notifications", c.doNotifications)

	c.requests.Sensitive(c.pRequests)
	c.incoming.Sensitive(c.pIn)
	c.notifications.Sensitive(c.pNotify)

	c.pBus = clock.NewArbitratedService(name+".p_bus", sim.DisciplinePriorityCyclic)
	c.pLines = clock.NewArbitratedService(name+".p_lines", sim.DisciplinePriority)
	c.pLines.AddProcess(c.pIn)
	c.pLines.AddProcess(c.pRequests)
	c.pLines.AddProcess(c.pNotify)

	c.pRequests.SetStorageTraces(c.outgoing.Name(), c.notifications.Name())
	c.pIn.SetStorageTraces(c.outgoing.Name(), c.notifications.Name())
	c.pNotify.SetStorageTraces(c.outgoing.Name())

	return c
}

func (c *Cache) committing() bool { return c.clock.Kernel().Committing() }

// Stats returns the cache's counters.
func (c *Cache) Stats() CacheStats { return c.stats }

// NumLines returns the line capacity.
func (c *Cache) NumLines() int { return len(c.lines) }

// RegisterClient attaches one client to this cache's bus.
func (c *Cache) RegisterClient(client mem.Client, proc *sim.Process, writeTraces, readTraces []string) int {
	id := len(c.clients)
	c.clients = append(c.clients, client)
	for i := range c.lines {
		c.lines[i].waiters = append(c.lines[i].waiters, false)
	}
	if proc != nil {
		c.pBus.AddPriorityProcess(proc, id)
		traces := append(append([]string{c.requests.Name()}, writeTraces...), readTraces...)
		proc.SetStorageTraces(traces...)
	}
	return id
}

// UnregisterClient detaches a client slot.
func (c *Cache) UnregisterClient(id int) {
	c.clients[id] = nil
}

func (c *Cache) lineAddrOf(line *Line) mem.Address {
	return c.selector.Unmap(line.Tag, line.set) * mem.Address(c.lineSize)
}

func (c *Cache) findLine(addr mem.Address) *Line {
	tag, set := c.selector.Map(addr / mem.Address(c.lineSize))
	base := set * c.assoc
	for w := 0; w < c.assoc; w++ {
		line := &c.lines[base+w]
		if line.State != LineEmpty && line.Tag == tag {
			return line
		}
	}
	return nil
}

func (c *Cache) allocateLine(addr mem.Address) (*Line, bool) {
	tag, set := c.selector.Map(addr / mem.Address(c.lineSize))
	base := set * c.assoc
	var empty *Line
	var victim *Line
	for w := 0; w < c.assoc; w++ {
		line := &c.lines[base+w]
		switch line.State {
		case LineEmpty:
			if empty == nil {
				empty = line
			}
		case LineFull:
			if !line.Acquiring && len(line.pending) == 0 &&
				(victim == nil || line.Access < victim.Access) {
				victim = line
			}
		}
	}
	if empty != nil {
		if c.committing() {
			empty.Tag = tag
		}
		return empty, false
	}
	if victim != nil {
		return victim, true
	}
	return nil, false
}

func (c *Cache) sendNew(minSpace int, fill func(m *Message)) bool {
	if !c.committing() {
		return c.SendMessage(nil, minSpace)
	}
	m := c.system.pool.Get()
	fill(m)
	if !c.SendMessage(m, minSpace) {
		c.system.pool.Put(m)
		return false
	}
	return true
}

func (c *Cache) forward(msg *Message) bool {
	if !c.SendMessage(msg, MinSpaceForward) {
		c.system.kernel.DeadlockWritef("unable to forward %s", msg)
		return false
	}
	return true
}

// notifyLocalDir queues a token-delta notification for the local
// directory. One-level systems have no directories to notify.
func (c *Cache) notifyLocalDir(addr mem.Address, delta int) bool {
	if !c.system.twoLevel || delta == 0 {
		return true
	}
	return c.notifications.Push(notifyEntry{addr: addr, delta: delta})
}

func (c *Cache) doNotifications() sim.Result {
	entry := c.notifications.Front()
	if !c.pLines.Invoke() {
		return sim.Failed
	}
	if !c.sendNew(MinSpaceForward, func(m *Message) {
		m.Type = MsgLocalDirNotify
		m.Address = entry.addr
		m.Sender = c.id
		m.TokenDelta = entry.delta
	}) {
		return sim.Failed
	}
	c.notifications.Pop()
	return sim.Success
}

// Read queues a full-line read for the client.
func (c *Cache) Read(id int, addr mem.Address) bool {
	mem.CheckAligned(c, addr, c.lineSize)
	if !c.pBus.Invoke() {
		return false
	}
	if !c.requests.Push(Request{Address: addr, Client: id, WID: mem.InvalidWClientID}) {
		return false
	}
	if c.committing() {
		c.stats.ReadAccesses++
	}
	return true
}

// Write queues a masked line write and snoops it to the other clients.
func (c *Cache) Write(id int, addr mem.Address, data []byte, mask []bool, wid mem.WClientID) bool {
	mem.CheckAligned(c, addr, c.lineSize)
	if !c.pBus.Invoke() {
		return false
	}
	req := Request{
		Write:   true,
		Address: addr,
		Data:    append([]byte(nil), data...),
		Mask:    append([]bool(nil), mask...),
		Client:  id,
		WID:     wid,
	}
	if !c.requests.Push(req) {
		return false
	}
	for i, client := range c.clients {
		if i == id || client == nil {
			continue
		}
		if !client.OnMemorySnooped(addr, data, mask) {
			return false
		}
	}
	if c.committing() {
		c.stats.WriteAccesses++
	}
	return true
}

func (c *Cache) doRequests() sim.Result {
	req := c.requests.Front()
	var r sim.Result
	if req.Write {
		r = c.onWriteRequest(&req)
	} else {
		r = c.onReadRequest(&req)
	}
	if r == sim.Failed {
		return sim.Failed
	}
	if r == sim.Success {
		c.requests.Pop()
	}
	return sim.Success
}

func (c *Cache) onReadRequest(req *Request) sim.Result {
	if !c.pLines.Invoke() {
		return sim.Failed
	}
	line := c.findLine(req.Address)
	if line == nil {
		line, evict := c.allocateLine(req.Address)
		if line == nil {
			if c.committing() {
				c.stats.HardConflicts++
			}
			return sim.Failed
		}
		if evict {
			if !c.evictLine(line) {
				return sim.Failed
			}
			return sim.Delayed
		}
		if !c.sendNew(MinSpaceForward, func(m *Message) {
			m.Type = MsgRead
			m.Address = req.Address
			m.Sender = c.id
		}) {
			return sim.Failed
		}
		if c.committing() {
			line.State = LineLoading
			line.Tokens = 0
			line.Priority = false
			line.Dirty = false
			line.Acquiring = false
			line.Access = c.clock.Cycle()
			for i := range line.Valid {
				line.Valid[i] = false
			}
			line.waiters[req.Client] = true
			c.stats.Loads++
		}
		return sim.Success
	}

	switch line.State {
	case LineLoading:
		if c.committing() {
			line.waiters[req.Client] = true
		}
		return sim.Success
	case LineFull:
		client := c.clients[req.Client]
		if client != nil && !client.OnMemoryReadCompleted(req.Address, line.Data) {
			return sim.Failed
		}
		if c.committing() {
			line.Access = c.clock.Cycle()
			c.stats.ReadHits++
			c.stats.ReadCompletions++
		}
		return sim.Success
	}
	sim.PanicInvariantf(c, "read request found line in state %v", line.State)
	return sim.Failed
}

func (c *Cache) onWriteRequest(req *Request) sim.Result {
	if !c.pLines.Invoke() {
		return sim.Failed
	}
	line := c.findLine(req.Address)
	if line == nil {
		line, evict := c.allocateLine(req.Address)
		if line == nil {
			if c.committing() {
				c.stats.HardConflicts++
			}
			return sim.Failed
		}
		if evict {
			if !c.evictLine(line) {
				return sim.Failed
			}
			return sim.Delayed
		}
		// Write-allocate: store the bytes locally, gather the line and
		// then the tokens.
		if !c.sendNew(MinSpaceForward, func(m *Message) {
			m.Type = MsgRead
			m.Address = req.Address
			m.Sender = c.id
		}) {
			return sim.Failed
		}
		if c.committing() {
			line.State = LineLoading
			line.Tokens = 0
			line.Priority = false
			line.Dirty = false
			line.Acquiring = false
			line.Access = c.clock.Cycle()
			for i := range line.Valid {
				line.Valid[i] = false
			}
			c.applyWrite(line, req.Data, req.Mask)
			line.pending = append(line.pending, pendingWrite{req.Client, req.WID})
			c.stats.Loads++
		}
		return sim.Success
	}

	switch line.State {
	case LineLoading:
		if c.committing() {
			c.applyWrite(line, req.Data, req.Mask)
			line.pending = append(line.pending, pendingWrite{req.Client, req.WID})
		}
		return sim.Success
	case LineFull:
		if line.Tokens == c.system.TotalTokens() {
			client := c.clients[req.Client]
			if client != nil && !client.OnMemoryWriteCompleted(req.WID) {
				return sim.Failed
			}
			if c.committing() {
				c.applyWrite(line, req.Data, req.Mask)
				line.Dirty = true
				line.Access = c.clock.Cycle()
				c.stats.WriteCompletions++
			}
			return sim.Success
		}
		// Partial tokens: buffer the write and acquire the rest.
		if line.Acquiring {
			if c.committing() {
				c.applyWrite(line, req.Data, req.Mask)
				line.pending = append(line.pending, pendingWrite{req.Client, req.WID})
			}
			return sim.Success
		}
		if !c.sendNew(MinSpaceForward, func(m *Message) {
			m.Type = MsgAcquireTokens
			m.Address = req.Address
			m.Sender = c.id
			if line.Priority {
				m.Priority = true
			}
		}) {
			return sim.Failed
		}
		if c.committing() {
			c.applyWrite(line, req.Data, req.Mask)
			line.pending = append(line.pending, pendingWrite{req.Client, req.WID})
			line.Acquiring = true
			line.Access = c.clock.Cycle()
			c.stats.Acquisitions++
		}
		c.system.traceLine(req.Address, "%s: acquiring tokens for write", c.Name())
		return sim.Success
	}
	sim.PanicInvariantf(c, "write request found line in state %v", line.State)
	return sim.Failed
}

func (c *Cache) applyWrite(line *Line, data []byte, mask []bool) {
	for i := range mask {
		if mask[i] {
			line.Data[i] = data[i]
			line.Valid[i] = true
		}
	}
}

func (c *Cache) evictLine(line *Line) bool {
	addr := c.lineAddrOf(line)
	ok := c.sendNew(MinSpaceForward, func(m *Message) {
		m.Type = MsgEviction
		m.Address = addr
		m.Sender = c.id
		m.Tokens = line.Tokens
		m.Priority = line.Priority
		m.Dirty = line.Dirty
		copy(m.Data, line.Data)
		for i := range m.Mask {
			m.Mask[i] = true
		}
	})
	if !ok {
		return false
	}
	c.system.traceLine(addr, "%s: evicting line with %d tokens", c.Name(), line.Tokens)
	if c.committing() {
		line.State = LineEmpty
		line.Tokens = 0
		line.Priority = false
		line.Dirty = false
		c.stats.Evictions++
	}
	return true
}

func (c *Cache) doReceive() sim.Result {
	msg := c.incoming.Front()
	if !c.onMessageReceived(msg) {
		return sim.Failed
	}
	c.incoming.Pop()
	return sim.Success
}

func (c *Cache) onMessageReceived(msg *Message) bool {
	if msg.Ignore || msg.Type == MsgLocalDirNotify {
		// Notifications are consumed by directories; caches pass them on.
		if msg.Ignore && c.committing() {
			c.stats.IgnoredMessages++
		}
		return c.forward(msg)
	}
	if !c.pLines.Invoke() {
		return false
	}
	switch msg.Type {
	case MsgRead:
		if msg.Sender == c.id {
			return c.onReadReturned(msg)
		}
		return c.onReadSnoop(msg)
	case MsgAcquireTokens:
		if msg.Sender == c.id {
			return c.onAcquireReturned(msg)
		}
		return c.onAcquireSnoop(msg)
	case MsgEviction:
		return c.onEvictionSnoop(msg)
	}
	sim.PanicInvariantf(c, "unknown message type %d", int(msg.Type))
	return false
}

// onReadSnoop attaches data and donates half of a full line's tokens to
// a passing read. A dirty line cannot split its tokens (dirtiness
// requires the full budget), so it migrates whole instead.
func (c *Cache) onReadSnoop(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line == nil || line.State != LineFull || line.Acquiring {
		return c.forward(msg)
	}
	if line.Dirty {
		for _, client := range c.clients {
			if client == nil {
				continue
			}
			if !client.OnMemoryInvalidated(msg.Address) {
				return false
			}
		}
		if c.committing() {
			msg.Tokens += line.Tokens
			msg.Priority = msg.Priority || line.Priority
			msg.Dirty = true
			msg.DataAttached = true
			copy(msg.Data, line.Data)
			for i := range msg.Mask {
				msg.Mask[i] = true
			}
			line.State = LineEmpty
			line.Tokens = 0
			line.Priority = false
			line.Dirty = false
			c.stats.NetworkRHits++
		}
		c.system.traceLine(msg.Address, "%s: migrating dirty line to reader", c.Name())
		return c.forward(msg)
	}
	if line.Tokens >= 2 {
		if c.committing() {
			donated := line.Tokens / 2
			line.Tokens -= donated
			msg.Tokens += donated
			msg.DataAttached = true
			copy(msg.Data, line.Data)
			for i := range msg.Mask {
				msg.Mask[i] = true
			}
			c.stats.NetworkRHits++
		}
		c.system.traceLine(msg.Address, "%s: serving read from network", c.Name())
	}
	return c.forward(msg)
}

// onReadReturned fills the loading line when the read gathered data and
// tokens; otherwise it keeps circulating.
func (c *Cache) onReadReturned(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line == nil || line.State != LineLoading {
		sim.PanicInvariantf(c, "returning read for %s without loading line", msg.Address)
	}
	if !msg.DataAttached || msg.Tokens == 0 {
		return c.forward(msg)
	}

	merged := make([]byte, c.lineSize)
	for i := range merged {
		if line.Valid[i] {
			merged[i] = line.Data[i]
		} else {
			merged[i] = msg.Data[i]
		}
	}
	for id, waiting := range line.waiters {
		if !waiting || c.clients[id] == nil {
			continue
		}
		if !c.clients[id].OnMemoryReadCompleted(msg.Address, merged) {
			return false
		}
	}

	total := c.system.TotalTokens()
	exclusive := msg.Tokens == total
	if len(line.pending) > 0 && exclusive {
		for _, pw := range line.pending {
			client := c.clients[pw.client]
			if client != nil && !client.OnMemoryWriteCompleted(pw.wid) {
				return false
			}
		}
	}
	if len(line.pending) > 0 && !exclusive {
		// The fill is not exclusive: launch the token acquisition in
		// place of forwarding the consumed read.
		if !c.sendNew(MinSpaceForward, func(m *Message) {
			m.Type = MsgAcquireTokens
			m.Address = msg.Address
			m.Sender = c.id
			if msg.Priority {
				m.Priority = true
			}
		}) {
			return false
		}
	}

	c.system.traceLine(msg.Address, "%s: line filled with %d tokens", c.Name(), msg.Tokens)
	if c.committing() {
		for i := range line.Valid {
			if !line.Valid[i] && msg.Mask[i] {
				line.Data[i] = msg.Data[i]
				line.Valid[i] = true
			}
		}
		line.Tokens = msg.Tokens
		line.Priority = msg.Priority
		line.State = LineFull
		line.Dirty = msg.Dirty
		line.Access = c.clock.Cycle()
		for id := range line.waiters {
			if line.waiters[id] {
				line.waiters[id] = false
				c.stats.ReadCompletions++
			}
		}
		if len(line.pending) > 0 {
			if exclusive {
				line.Dirty = true
				c.stats.WriteCompletions += uint64(len(line.pending))
				line.pending = line.pending[:0]
			} else {
				line.Acquiring = true
				c.stats.Acquisitions++
			}
		}
		c.system.pool.Put(msg)
	}
	return true
}

// onAcquireSnoop surrenders the local copy to a passing acquisition,
// unless this cache holds the priority token for its own racing write.
func (c *Cache) onAcquireSnoop(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line == nil || line.State != LineFull {
		return c.forward(msg)
	}
	if line.Acquiring && line.Priority {
		// Our own acquisition holds the priority token and wins; the
		// passing request keeps circulating until ours completes.
		return c.forward(msg)
	}

	for _, client := range c.clients {
		if client == nil {
			continue
		}
		if !client.OnMemoryInvalidated(msg.Address) {
			return false
		}
	}
	if line.Acquiring {
		// Our competing write loses the race. Its data merges into the
		// winner below, so the queued writes are complete: linearized
		// just before the winner's.
		for _, pw := range line.pending {
			client := c.clients[pw.client]
			if client != nil && !client.OnMemoryWriteCompleted(pw.wid) {
				return false
			}
		}
	}

	surrendered := line.Tokens
	if !c.notifyLocalDir(msg.Address, -surrendered) {
		return false
	}
	if c.committing() {
		for i := range msg.Mask {
			if line.Valid[i] && !msg.Mask[i] {
				msg.Data[i] = line.Data[i]
				msg.Mask[i] = true
			}
		}
		msg.Tokens += surrendered
		if line.Priority {
			msg.Priority = true
			msg.Transient = false
		} else if !msg.Priority && msg.Tokens > 0 {
			msg.Transient = true
		}
		if line.Dirty {
			msg.Dirty = true
		}
		if line.Acquiring {
			c.stats.LostAcquisitions++
			c.stats.WriteCompletions += uint64(len(line.pending))
		}
		line.State = LineEmpty
		line.Tokens = 0
		line.Priority = false
		line.Dirty = false
		line.Acquiring = false
		line.pending = line.pending[:0]
	}
	c.system.traceLine(msg.Address, "%s: surrendered %d tokens to acquisition", c.Name(), surrendered)
	return c.forward(msg)
}

// onAcquireReturned deposits gathered tokens; the write completes once
// every token is home.
func (c *Cache) onAcquireReturned(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line == nil || line.State != LineFull || !line.Acquiring {
		// The race was lost and the line invalidated; the tokens the
		// message carries return to the system as an eviction.
		if msg.Tokens == 0 {
			if c.committing() {
				c.system.pool.Put(msg)
			}
			return true
		}
		if c.committing() {
			msg.Type = MsgEviction
			msg.Transient = false
			msg.Dirty = false
		}
		return c.forward(msg)
	}

	tokens := msg.PermanentTokens()
	if line.Priority || msg.Priority {
		tokens = msg.Tokens
	}
	newTotal := line.Tokens + tokens
	if newTotal == c.system.TotalTokens() {
		for _, pw := range line.pending {
			client := c.clients[pw.client]
			if client != nil && !client.OnMemoryWriteCompleted(pw.wid) {
				return false
			}
		}
		if !c.notifyLocalDir(msg.Address, tokens) {
			return false
		}
		c.system.traceLine(msg.Address, "%s: acquisition complete, line exclusive", c.Name())
		if c.committing() {
			for i := range msg.Mask {
				if !line.Valid[i] && msg.Mask[i] {
					line.Data[i] = msg.Data[i]
					line.Valid[i] = true
				}
			}
			line.Tokens = newTotal
			line.Priority = line.Priority || msg.Priority
			line.Dirty = true
			line.Acquiring = false
			c.stats.WriteCompletions += uint64(len(line.pending))
			line.pending = line.pending[:0]
			c.system.pool.Put(msg)
		}
		return true
	}

	if tokens == 0 {
		// Nothing to deposit; keep hunting for the stragglers.
		return c.forward(msg)
	}
	if !c.notifyLocalDir(msg.Address, tokens) {
		return false
	}
	if c.committing() {
		for i := range msg.Mask {
			if !line.Valid[i] && msg.Mask[i] {
				line.Data[i] = msg.Data[i]
				line.Valid[i] = true
			}
		}
		line.Tokens = newTotal
		line.Priority = line.Priority || msg.Priority
		msg.Tokens = 0
		msg.Priority = false
		msg.Transient = false
	}
	return c.forward(msg)
}

// onEvictionSnoop injects a passing eviction into a local full copy when
// cache injection is enabled.
func (c *Cache) onEvictionSnoop(msg *Message) bool {
	if !c.system.injection {
		return c.forward(msg)
	}
	line := c.findLine(msg.Address)
	if line == nil || line.State != LineFull {
		return c.forward(msg)
	}
	c.system.traceLine(msg.Address, "%s: injected eviction carrying %d tokens", c.Name(), msg.Tokens)
	if c.committing() {
		line.Tokens += msg.Tokens
		line.Priority = line.Priority || msg.Priority
		if msg.Dirty {
			c.applyWrite(line, msg.Data, msg.Mask)
			line.Dirty = true
		}
		c.stats.InjectedEvictions++
		c.system.pool.Put(msg)
	}
	return true
}

// FindLine exposes line lookup for the inspection commands.
func (c *Cache) FindLine(addr mem.Address) *Line {
	return c.findLine(addr)
}

// Info describes the component for the monitor.
func (c *Cache) Info(w io.Writer, _ []string) {
	fmt.Fprintf(w,
		"The L2 cache services several clients on a ring. Writes gather\n"+
			"every token before completing; the priority token linearizes\n"+
			"racing writers.\n\n%d sets, %d-way associative, %d-byte lines\n",
		c.sets, c.assoc, c.lineSize)
}

// Inspect prints the allocated lines.
func (c *Cache) Inspect(w io.Writer, args []string) {
	if len(args) > 0 && args[0] == "buffers" {
		c.Print(w)
		return
	}
	fmt.Fprintf(w, "Set | Way | %-18s | State   | Tokens | Prio | Dirty\n", "Address")
	for i := range c.lines {
		line := &c.lines[i]
		if line.State == LineEmpty {
			continue
		}
		fmt.Fprintf(w, "%3d | %3d | %-18s | %-7s | %6d | %4t | %5t\n",
			line.set, i%c.assoc, c.lineAddrOf(line), line.State,
			line.Tokens, line.Priority, line.Dirty)
	}
}
