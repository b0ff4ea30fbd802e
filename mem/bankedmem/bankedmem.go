// Package bankedmem implements the banked reference backend. A
// configurable bank selector maps lines to banks; each bank serializes
// its requests through an incoming queue, a busy stage and an outgoing
// queue. The inter-bank network costs log2(banks) cycles for the head of
// a message plus one cycle per line of data in its body and one more
// cycle.
package bankedmem

import (
	"fmt"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

type request struct {
	write  bool
	addr   mem.Address
	data   []byte
	mask   []bool
	client mem.MCID
	wid    mem.WClientID
	done   sim.CycleNo
}

type clientInfo struct {
	client  mem.Client
	service *sim.ArbitratedService
}

type bank struct {
	name   string
	memory *Memory

	pIncoming *sim.ArbitratedService
	incoming  *sim.Buffer[request]
	outgoing  *sim.Buffer[request]
	busy      *sim.Flag
	current   request

	pIn   *sim.Process
	pOut  *sim.Process
	pBank *sim.Process
}

// addRequest queues a request with its network arrival time. A message
// whose predecessor arrives later inherits that arrival, modelling
// back-to-back delivery on the shared link.
func (b *bank) addRequest(queue *sim.Buffer[request], req request, hasData bool) bool {
	headDelay, bodyDelay := b.memory.messageDelay(hasData)
	now := b.memory.clock.Cycle()
	done := now + headDelay
	if items := queue.Items(); len(items) > 0 {
		if last := items[len(items)-1].done; done < last {
			done = last
		}
	}
	req.done = done + bodyDelay
	return queue.Push(req)
}

func (b *bank) doIncoming() sim.Result {
	req := b.incoming.Front()
	if b.memory.clock.Cycle() < req.done {
		return sim.Delayed
	}
	if b.busy.IsSet() {
		return sim.Failed
	}
	if b.memory.kernel.Committing() {
		b.current = req
		b.current.done = b.memory.clock.Cycle() + b.memory.memoryDelay(b.memory.lineSize)
	}
	if !b.busy.Set() {
		return sim.Failed
	}
	b.incoming.Pop()
	return sim.Success
}

func (b *bank) doBank() sim.Result {
	if b.memory.clock.Cycle() < b.current.done {
		return sim.Delayed
	}
	req := b.current
	if req.write {
		if b.memory.kernel.Committing() {
			b.memory.backing.Write(req.addr, req.data, req.mask)
		}
	} else {
		req.data = make([]byte, b.memory.lineSize)
		b.memory.backing.Read(req.addr, req.data)
	}
	if !b.addRequest(b.outgoing, req, !req.write) {
		return sim.Failed
	}
	if !b.busy.Clear() {
		return sim.Failed
	}
	return sim.Success
}

func (b *bank) doOutgoing() sim.Result {
	req := b.outgoing.Front()
	if b.memory.clock.Cycle() < req.done {
		return sim.Delayed
	}
	ci := b.memory.clients[req.client]
	if !ci.service.Invoke() {
		return sim.Failed
	}
	if req.write {
		if !ci.client.OnMemoryWriteCompleted(req.wid) {
			return sim.Failed
		}
	} else {
		if !ci.client.OnMemoryReadCompleted(req.addr, req.data) {
			return sim.Failed
		}
	}
	b.outgoing.Pop()
	return sim.Success
}

// Memory is the banked backend. It implements mem.Memory.
type Memory struct {
	name   string
	kernel *sim.Kernel
	clock  *sim.Clock

	lineSize        int
	baseRequestTime sim.CycleNo
	timePerLine     sim.CycleNo
	bufferSize      int

	selector mem.BankSelector
	backing  *mem.Backing
	banks    []*bank
	clients  []clientInfo
	logBanks sim.CycleNo

	stats mem.Statistics
}

// New creates the backend with the named bank selector.
func New(name string, kernel *sim.Kernel, clock *sim.Clock, backing *mem.Backing,
	lineSize, numBanks int, selectorName string,
	baseRequestTime, timePerLine sim.CycleNo, bufferSize int) (*Memory, error) {
	selector, err := mem.MakeBankSelector(selectorName, numBanks)
	if err != nil {
		return nil, err
	}
	if backing == nil {
		backing = mem.NewBacking()
	}
	m := &Memory{
		name:            name,
		kernel:          kernel,
		clock:           clock,
		lineSize:        lineSize,
		baseRequestTime: baseRequestTime,
		timePerLine:     timePerLine,
		bufferSize:      bufferSize,
		selector:        selector,
		backing:         backing,
	}
	for n := numBanks; n > 1; n >>= 1 {
		m.logBanks++
	}
	for i := 0; i < numBanks; i++ {
		b := &bank{name: fmt.Sprintf("%s.bank%d", name, i), memory: m}
		b.incoming = sim.NewBuffer[request](b.name+".incoming", clock, bufferSize)
		b.outgoing = sim.NewBuffer[request](b.name+".outgoing", clock, bufferSize)
		b.busy = sim.NewFlag(b.name+".busy", clock)
		b.pIn = clock.NewProcess(b.name+".incoming", b.doIncoming)
		b.pOut = clock.NewProcess(b.name+".outgoing", b.doOutgoing)
		b.pBank = clock.NewProcess(b.name+".bank", b.doBank)
		b.incoming.Sensitive(b.pIn)
		b.outgoing.Sensitive(b.pOut)
		b.busy.Sensitive(b.pBank)
		b.pIncoming = clock.NewArbitratedService(b.name+".p_incoming", sim.DisciplineCyclic)
		m.banks = append(m.banks, b)
	}
	return m, nil
}

// Name returns the backend name.
func (m *Memory) Name() string { return m.name }

// LineSize returns the transfer granularity.
func (m *Memory) LineSize() int { return m.lineSize }

// Backing exposes the functional contents.
func (m *Memory) Backing() *mem.Backing { return m.backing }

// Statistics returns the traffic counters.
func (m *Memory) Statistics() mem.Statistics { return m.stats }

// messageDelay splits the network cost into head and body cycles.
func (m *Memory) messageDelay(hasData bool) (head, body sim.CycleNo) {
	body = 1
	if hasData {
		body = sim.CycleNo((m.lineSize+m.lineSize-1)/m.lineSize) + 1
	}
	return m.logBanks, body
}

// memoryDelay is the bank service time for one access.
func (m *Memory) memoryDelay(size int) sim.CycleNo {
	lines := (size + m.lineSize - 1) / m.lineSize
	return m.baseRequestTime + m.timePerLine*sim.CycleNo(lines)
}

// RegisterClient attaches a client to every bank.
func (m *Memory) RegisterClient(client mem.Client, proc *sim.Process, writeTraces, readTraces []string, _ bool) mem.MCID {
	id := mem.MCID(len(m.clients))
	service := m.clock.NewArbitratedService(
		fmt.Sprintf("%s.client%d.p_completions", m.name, id), sim.DisciplinePriority)
	for _, b := range m.banks {
		service.AddProcess(b.pOut)
		if proc != nil {
			b.pIncoming.AddProcess(proc)
		}
	}
	if proc != nil {
		var traces []string
		for _, b := range m.banks {
			traces = append(traces, b.incoming.Name())
		}
		traces = append(traces, writeTraces...)
		traces = append(traces, readTraces...)
		proc.SetStorageTraces(traces...)
	}
	m.clients = append(m.clients, clientInfo{client: client, service: service})
	return id
}

// UnregisterClient detaches a client.
func (m *Memory) UnregisterClient(id mem.MCID) {
	m.clients[id].client = nil
}

func (m *Memory) bankFor(addr mem.Address) *bank {
	_, index := m.selector.Map(addr / mem.Address(m.lineSize))
	return m.banks[index]
}

// Read queues a line read on the owning bank.
func (m *Memory) Read(id mem.MCID, addr mem.Address) bool {
	mem.CheckAligned(m, addr, m.lineSize)
	b := m.bankFor(addr)
	if !b.pIncoming.Invoke() {
		return false
	}
	if !b.addRequest(b.incoming, request{addr: addr, client: id, wid: mem.InvalidWClientID}, false) {
		return false
	}
	if m.kernel.Committing() {
		m.stats.Reads++
		m.stats.ReadBytes += uint64(m.lineSize)
	}
	return true
}

// Write queues a masked line write on the owning bank.
func (m *Memory) Write(id mem.MCID, addr mem.Address, data []byte, mask []bool, wid mem.WClientID) bool {
	mem.CheckAligned(m, addr, m.lineSize)
	b := m.bankFor(addr)
	if !b.pIncoming.Invoke() {
		return false
	}
	req := request{
		write:  true,
		addr:   addr,
		data:   append([]byte(nil), data...),
		mask:   append([]bool(nil), mask...),
		client: id,
		wid:    wid,
	}
	if !b.addRequest(b.incoming, req, true) {
		return false
	}
	for i, ci := range m.clients {
		if mem.MCID(i) == id || ci.client == nil {
			continue
		}
		if !ci.client.OnMemorySnooped(addr, data, mask) {
			return false
		}
	}
	if m.kernel.Committing() {
		m.stats.Writes++
		m.stats.WriteBytes += uint64(m.lineSize)
	}
	return true
}
