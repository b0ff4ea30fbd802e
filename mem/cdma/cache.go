package cdma

import (
	"fmt"
	"io"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

// LineState is the allocation state of one cache line.
type LineState int

const (
	// LineEmpty lines can be allocated.
	LineEmpty LineState = iota
	// LineLoading lines have a read request in flight and hold no
	// tokens. They are never evicted until they become full.
	LineLoading
	// LineFull lines hold data and at least one token.
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

// Line is one associative way of the cache.
type Line struct {
	State  LineState
	Tag    mem.Address
	Data   []byte
	Valid  []bool
	Access sim.CycleNo
	Tokens int
	Dirty  bool

	// Updating counts UPDATE messages in flight for this line; a line
	// with updates pending cannot be evicted.
	Updating int

	// PendingRecs counts queued write records referencing this line.
	PendingRecs int

	set     int
	waiters []bool

	pendingHead int
	pendingTail int
	hasPending  bool
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

// writeRecord tracks one write queued behind a pending load.
type writeRecord struct {
	mask   []bool
	client int
	wid    mem.WClientID
	line   int
	next   int
}

// CacheStats are the per-cache protocol counters.
type CacheStats struct {
	ReadAccesses     uint64
	WriteAccesses    uint64
	ReadHits         uint64
	LoadingRMisses   uint64
	Loads            uint64
	Evictions        uint64
	HardConflicts    uint64
	NetworkRHits     uint64
	ReadCompletions  uint64
	WriteCompletions uint64
	MergedEvictions  uint64
	IgnoredMessages  uint64
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

	records    []writeRecord
	freeRecord int

	pBus   *sim.ArbitratedService
	pLines *sim.ArbitratedService

	requests       *sim.Buffer[Request]
	pendingUpdates *sim.LinkedList[int]

	pRequests *sim.Process
	pIn       *sim.Process
	pUpdates  *sim.Process

	stats CacheStats
}

func newCache(name string, system *System, clock *sim.Clock, id NodeID) *Cache {
	c := &Cache{
		system:     system,
		clock:      clock,
		lineSize:   system.lineSize,
		assoc:      system.assoc,
		sets:       system.sets,
		freeRecord: -1,
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
	c.pendingUpdates = sim.NewLinkedList[int](name+".pending_updates", clock, (*recordTable)(c))

	c.pRequests = clock.NewProcess(name+".requests", c.doRequests)
	c.pIn = clock.NewProcess(name+".incoming", c.doReceive)
	c.pUpdates = clock.NewProcess(name+".updates", c.doWriteUpdates)

	c.requests.Sensitive(c.pRequests)
	c.incoming.Sensitive(c.pIn)
	c.pendingUpdates.Sensitive(c.pUpdates)

	c.pBus = clock.NewArbitratedService(name+".p_bus", sim.DisciplinePriorityCyclic)
	c.pLines = clock.NewArbitratedService(name+".p_lines", sim.DisciplinePriority)
	c.pLines.AddProcess(c.pIn)
	c.pLines.AddProcess(c.pRequests)
	c.pLines.AddProcess(c.pUpdates)

	c.pRequests.SetStorageTraces(c.outgoing.Name())
	c.pIn.SetStorageTraces(c.outgoing.Name())
	c.pUpdates.SetStorageTraces(c.outgoing.Name())

	return c
}

// recordTable adapts the write-record arena to the linked list.
type recordTable Cache

func (t *recordTable) Next(i int) int       { return t.records[i].next }
func (t *recordTable) SetNext(i, next int)  { t.records[i].next = next }
func (t *recordTable) Name() string         { return t.Node.name + ".records" }

func (c *Cache) committing() bool { return c.clock.Kernel().Committing() }

// Stats returns the cache's counters.
func (c *Cache) Stats() CacheStats { return c.stats }

// NumLines returns the line capacity, used to size directories above.
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

// UnregisterClient detaches a client slot. The slot stays reserved so
// MCIDs of other clients remain stable.
func (c *Cache) UnregisterClient(id int) {
	if id < 0 || id >= len(c.clients) || c.clients[id] == nil {
		sim.PanicInvariantf(c, "unregister of unknown client %d", id)
	}
	c.clients[id] = nil
}

// lineAddrOf reconstructs the byte address of a line from tag and set.
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

// allocateLine picks a way for addr: an empty way if available, otherwise
// the least recently used full line with no pending activity. The second
// return is true when the chosen line must be evicted first. A nil line
// means nothing in the set is evictable this cycle.
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
			if line.Updating == 0 && line.PendingRecs == 0 &&
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

// sendNew allocates, fills and sends a message. During the check phase it
// only probes buffer space so the pool is untouched until commit.
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

// Read queues a full-line read for the client. Called from the client's
// own process; false means bus back pressure.
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

// Write queues a masked line write for the client and snoops it to the
// other clients sharing this cache.
func (c *Cache) Write(id int, addr mem.Address, data []byte, mask []bool, wid mem.WClientID) bool {
	mem.CheckAligned(c, addr, c.lineSize)
	if len(data) != c.lineSize || len(mask) != c.lineSize {
		sim.PanicInvariantf(c, "write of %d bytes to line of %d", len(data), c.lineSize)
	}
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
	// Writes are observed by the other clients on the same bus.
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
		c.system.kernel.DeadlockWritef("unable to acquire lines for read")
		return sim.Failed
	}

	line := c.findLine(req.Address)
	if line == nil {
		line, evict := c.allocateLine(req.Address)
		if line == nil {
			if c.committing() {
				c.stats.HardConflicts++
			}
			c.system.kernel.DeadlockWritef("no evictable line for %s", req.Address)
			return sim.Failed
		}
		if evict {
			if !c.evictLine(line) {
				return sim.Failed
			}
			// The set has room next cycle; keep the request queued.
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
			line.Dirty = false
			line.Access = c.clock.Cycle()
			for i := range line.Valid {
				line.Valid[i] = false
			}
			line.waiters[req.Client] = true
			c.stats.Loads++
		}
		c.system.traceLine(req.Address, "%s: read miss, requesting line", c.Name())
		return sim.Success
	}

	switch line.State {
	case LineLoading:
		if c.committing() {
			line.waiters[req.Client] = true
			c.stats.LoadingRMisses++
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
		c.system.kernel.DeadlockWritef("unable to acquire lines for write")
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
		// Write-allocate: store the written bytes locally and gather the
		// rest of the line (and eventually tokens) from the system.
		if !c.sendNew(MinSpaceForward, func(m *Message) {
			m.Type = MsgRequestData
			m.Address = req.Address
			m.Sender = c.id
			copy(m.Data, req.Data)
			copy(m.Mask, req.Mask)
		}) {
			return sim.Failed
		}
		if c.committing() {
			line.State = LineLoading
			line.Tokens = 0
			line.Dirty = false
			line.Access = c.clock.Cycle()
			for i := range line.Valid {
				line.Valid[i] = false
			}
			c.applyWrite(line, req.Data, req.Mask)
			c.queuePendingWrite(line, req)
			c.stats.Loads++
		}
		return sim.Success
	}

	switch line.State {
	case LineLoading:
		if c.committing() {
			c.applyWrite(line, req.Data, req.Mask)
			c.queuePendingWrite(line, req)
		}
		return sim.Success
	case LineFull:
		if line.Tokens == c.system.TotalTokens() {
			// Exclusive: no propagation needed.
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
		// Shared: update locally and propagate the change to the other
		// copies; the acknowledgment happens when the UPDATE returns.
		if !c.sendNew(MinSpaceForward, func(m *Message) {
			m.Type = MsgUpdate
			m.Address = req.Address
			m.Sender = c.id
			m.Client = req.Client
			m.WID = req.WID
			copy(m.Data, req.Data)
			copy(m.Mask, req.Mask)
		}) {
			return sim.Failed
		}
		if c.committing() {
			c.applyWrite(line, req.Data, req.Mask)
			line.Dirty = true
			line.Updating++
			line.Access = c.clock.Cycle()
		}
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

// queuePendingWrite records a write to be acknowledged (and, with partial
// tokens, propagated) once the line's load completes. Commit phase only.
func (c *Cache) queuePendingWrite(line *Line, req *Request) {
	idx := c.allocRecord()
	rec := &c.records[idx]
	rec.mask = append(rec.mask[:0], req.Mask...)
	rec.client = req.Client
	rec.wid = req.WID
	rec.line = c.lineIndex(line)
	rec.next = -1
	if line.hasPending {
		c.records[line.pendingTail].next = idx
		line.pendingTail = idx
	} else {
		line.pendingHead = idx
		line.pendingTail = idx
		line.hasPending = true
	}
	line.PendingRecs++
}

func (c *Cache) lineIndex(line *Line) int {
	for i := range c.lines {
		if &c.lines[i] == line {
			return i
		}
	}
	sim.PanicInvariantf(c, "line not in cache")
	return -1
}

func (c *Cache) allocRecord() int {
	if c.freeRecord >= 0 {
		idx := c.freeRecord
		c.freeRecord = c.records[idx].next
		return idx
	}
	c.records = append(c.records, writeRecord{next: -1})
	return len(c.records) - 1
}

func (c *Cache) freeRecordAt(idx int) {
	c.records[idx].next = c.freeRecord
	c.freeRecord = idx
}

// evictLine sends the line's tokens (and data) out as an EVICTION and
// frees the way.
func (c *Cache) evictLine(line *Line) bool {
	addr := c.lineAddrOf(line)
	ok := c.sendNew(MinSpaceForward, func(m *Message) {
		m.Type = MsgEviction
		m.Address = addr
		m.Sender = c.id
		m.Tokens = line.Tokens
		m.Dirty = line.Dirty
		copy(m.Data, line.Data)
		for i := range m.Mask {
			m.Mask[i] = true
		}
	})
	if !ok {
		c.system.kernel.DeadlockWritef("unable to evict %s", addr)
		return false
	}
	c.system.traceLine(addr, "%s: evicting line with %d tokens", c.Name(), line.Tokens)
	if c.committing() {
		line.State = LineEmpty
		line.Tokens = 0
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
	if msg.Ignore {
		if c.committing() {
			c.stats.IgnoredMessages++
		}
		return c.forward(msg)
	}
	if !c.pLines.Invoke() {
		c.system.kernel.DeadlockWritef("unable to acquire lines for message %s", msg)
		return false
	}
	switch msg.Type {
	case MsgRead:
		return c.onReadSnoop(msg)
	case MsgRequestData:
		return c.onRequestDataSnoop(msg)
	case MsgRequestDataToken:
		return c.onReadReply(msg)
	case MsgUpdate:
		return c.onUpdateSnoop(msg)
	case MsgEviction:
		return c.onEvictionSnoop(msg)
	}
	sim.PanicInvariantf(c, "unknown message type %d", int(msg.Type))
	return false
}

// onReadSnoop serves a passing read request: a full line with at least
// two tokens donates half of them along with the data.
func (c *Cache) onReadSnoop(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line != nil && line.State == LineFull && msg.Sender != c.id && line.Tokens >= 2 {
		if c.committing() {
			donated := line.Tokens / 2
			line.Tokens -= donated
			msg.Type = MsgRequestDataToken
			msg.Tokens = donated
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

// onRequestDataSnoop merges newer local bytes into a passing data-gather
// request and donates tokens the same way a plain read is served.
func (c *Cache) onRequestDataSnoop(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line != nil && line.State == LineFull && msg.Sender != c.id {
		if c.committing() {
			for i := range msg.Mask {
				if !msg.Mask[i] && line.Valid[i] {
					msg.Data[i] = line.Data[i]
					msg.Mask[i] = true
				}
			}
			if line.Tokens >= 2 {
				donated := line.Tokens / 2
				line.Tokens -= donated
				msg.Type = MsgRequestDataToken
				msg.Tokens = donated
				c.stats.NetworkRHits++
			}
		}
	}
	return c.forward(msg)
}

// onReadReply fills this cache's loading line when the reply is addressed
// to it; otherwise the reply just passes through.
func (c *Cache) onReadReply(msg *Message) bool {
	if msg.Sender != c.id {
		return c.forward(msg)
	}
	line := c.findLine(msg.Address)
	if line == nil || line.State != LineLoading {
		sim.PanicInvariantf(c, "read reply for %s without loading line", msg.Address)
	}

	// All waiting readers observe the same merged data; the delivery is
	// all-or-nothing so a stalled client retries the whole fill.
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

	tokens := line.Tokens + msg.Tokens
	if line.hasPending && tokens == c.system.TotalTokens() {
		// Exclusive after fill: the queued writes complete on the spot.
		for idx := line.pendingHead; idx != -1; idx = c.records[idx].next {
			client := c.clients[c.records[idx].client]
			if client != nil && !client.OnMemoryWriteCompleted(c.records[idx].wid) {
				return false
			}
		}
	}

	c.system.traceLine(msg.Address, "%s: line filled with %d tokens", c.Name(), msg.Tokens)
	if c.committing() {
		for i := range line.Valid {
			if !line.Valid[i] {
				line.Data[i] = msg.Data[i]
				line.Valid[i] = true
			}
		}
		line.Tokens = tokens
		line.State = LineFull
		line.Dirty = line.Dirty || msg.Dirty
		line.Access = c.clock.Cycle()
		for id := range line.waiters {
			if line.waiters[id] {
				line.waiters[id] = false
				c.stats.ReadCompletions++
			}
		}
		if line.hasPending {
			line.Dirty = true
			if tokens == c.system.TotalTokens() {
				for idx := line.pendingHead; idx != -1; {
					next := c.records[idx].next
					c.freeRecordAt(idx)
					c.stats.WriteCompletions++
					idx = next
				}
				line.PendingRecs = 0
			} else {
				// Keep the records; a drain process turns each into an
				// UPDATE broadcast, one per cycle.
				c.pendingUpdates.Append(line.pendingHead, line.pendingTail)
			}
			line.hasPending = false
		}
		c.system.pool.Put(msg)
	}
	return true
}

// doWriteUpdates drains one queued write into an UPDATE broadcast.
func (c *Cache) doWriteUpdates() sim.Result {
	idx := c.pendingUpdates.Front()
	rec := &c.records[idx]
	line := &c.lines[rec.line]
	if !c.pLines.Invoke() {
		return sim.Failed
	}
	addr := c.lineAddrOf(line)
	ok := c.sendNew(MinSpaceForward, func(m *Message) {
		m.Type = MsgUpdate
		m.Address = addr
		m.Sender = c.id
		m.Client = rec.client
		m.WID = rec.wid
		copy(m.Data, line.Data)
		copy(m.Mask, rec.mask)
	})
	if !ok {
		return sim.Failed
	}
	c.pendingUpdates.Pop()
	if c.committing() {
		line.Updating++
		line.PendingRecs--
		c.freeRecordAt(idx)
	}
	return sim.Success
}

// onUpdateSnoop applies a passing write to the local copy, or completes
// the write when the update has come full circle.
func (c *Cache) onUpdateSnoop(msg *Message) bool {
	if msg.Sender == c.id {
		line := c.findLine(msg.Address)
		if line == nil || line.Updating == 0 {
			sim.PanicInvariantf(c, "returning update for %s without line", msg.Address)
		}
		client := c.clients[msg.Client]
		if client != nil && !client.OnMemoryWriteCompleted(msg.WID) {
			return false
		}
		if c.committing() {
			line.Updating--
			c.stats.WriteCompletions++
			c.system.pool.Put(msg)
		}
		return true
	}

	line := c.findLine(msg.Address)
	if line != nil {
		for _, client := range c.clients {
			if client == nil {
				continue
			}
			if !client.OnMemorySnooped(msg.Address, msg.Data, msg.Mask) {
				return false
			}
		}
		if c.committing() {
			c.applyWrite(line, msg.Data, msg.Mask)
		}
	}
	return c.forward(msg)
}

// onEvictionSnoop absorbs a passing eviction when a full copy of the line
// lives here; the tokens merge instead of travelling to the root.
func (c *Cache) onEvictionSnoop(msg *Message) bool {
	line := c.findLine(msg.Address)
	if line != nil && line.State == LineFull {
		c.system.traceLine(msg.Address, "%s: absorbed eviction carrying %d tokens", c.Name(), msg.Tokens)
		if c.committing() {
			line.Tokens += msg.Tokens
			if msg.Dirty {
				c.applyWrite(line, msg.Data, msg.Mask)
				line.Dirty = true
			}
			c.stats.MergedEvictions++
			c.system.pool.Put(msg)
		}
		return true
	}
	return c.forward(msg)
}

// FindLine exposes line lookup for the inspection commands.
func (c *Cache) FindLine(addr mem.Address) *Line {
	return c.findLine(addr)
}

// Info describes the component for the monitor.
func (c *Cache) Info(w io.Writer, _ []string) {
	fmt.Fprintf(w,
		"The L2 cache services several clients and is connected to its peers\n"+
			"via a ring network. Lines hold tokens; all %d tokens grant write\n"+
			"exclusivity, one or more grant reads.\n\n"+
			"%d sets, %d-way associative, %d-byte lines\n",
		c.system.TotalTokens(), c.sets, c.assoc, c.lineSize)
}

// Inspect prints the buffers and the allocated lines.
func (c *Cache) Inspect(w io.Writer, args []string) {
	if len(args) > 0 && args[0] == "buffers" {
		fmt.Fprintf(w, "requests (%d/%d)\n", c.requests.Len(), c.requests.Cap())
		c.Print(w)
		return
	}
	fmt.Fprintf(w, "Set | Way | %-18s | State   | Tokens | Dirty | Access\n", "Address")
	for i := range c.lines {
		line := &c.lines[i]
		if line.State == LineEmpty {
			continue
		}
		fmt.Fprintf(w, "%3d | %3d | %-18s | %-7s | %6d | %5t | %d\n",
			line.set, i%c.assoc, c.lineAddrOf(line), line.State,
			line.Tokens, line.Dirty, line.Access)
	}
}
