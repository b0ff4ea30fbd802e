package ddr

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
}

type clientInfo struct {
	client  mem.Client
	service *sim.ArbitratedService
}

// iface couples one DDR channel with its request and response queues.
type iface struct {
	name   string
	memory *Memory

	channel *Channel

	pService  *sim.ArbitratedService
	requests  *sim.Buffer[request]
	responses *sim.Buffer[request]
	active    []request

	pRequests  *sim.Process
	pResponses *sim.Process
}

func (f *iface) Name() string { return f.name }

// OnReadCompleted is the channel callback: the oldest outstanding read
// picks up its data and moves to the response queue.
func (f *iface) OnReadCompleted() bool {
	if len(f.active) == 0 {
		sim.PanicInvariantf(f, "DDR completion without outstanding read")
	}
	req := f.active[0]
	req.data = make([]byte, f.memory.lineSize)
	f.memory.backing.Read(req.addr, req.data)
	if !f.responses.Push(req) {
		return false
	}
	if f.memory.kernel.Committing() {
		f.active = f.active[1:]
	}
	return true
}

func (f *iface) doRequests() sim.Result {
	req := f.requests.Front()
	if req.write {
		if !f.channel.Write(req.addr, f.memory.lineSize) {
			return sim.Failed
		}
		ci := f.memory.clients[req.client]
		if ci.client != nil && !ci.client.OnMemoryWriteCompleted(req.wid) {
			return sim.Failed
		}
		if f.memory.kernel.Committing() {
			f.memory.backing.Write(req.addr, req.data, req.mask)
			f.memory.stats.ExternalWrites++
		}
	} else {
		if !f.channel.Read(req.addr, f.memory.lineSize) {
			return sim.Failed
		}
		if f.memory.kernel.Committing() {
			f.active = append(f.active, req)
			f.memory.stats.ExternalReads++
		}
	}
	f.requests.Pop()
	return sim.Success
}

func (f *iface) doResponses() sim.Result {
	req := f.responses.Front()
	ci := f.memory.clients[req.client]
	if !ci.service.Invoke() {
		return sim.Failed
	}
	if ci.client != nil && !ci.client.OnMemoryReadCompleted(req.addr, req.data) {
		return sim.Failed
	}
	f.responses.Pop()
	return sim.Success
}

// Memory is the DDR-backed timing model. It implements mem.Memory with
// one interface per channel; lines stripe across interfaces through the
// configured bank selector.
type Memory struct {
	name   string
	kernel *sim.Kernel
	clock  *sim.Clock

	lineSize int
	selector mem.BankSelector
	backing  *mem.Backing

	ifaces  []*iface
	clients []clientInfo

	stats mem.Statistics
}

// NewMemory creates the backend with numInterfaces channels.
func NewMemory(name string, kernel *sim.Kernel, clock *sim.Clock, backing *mem.Backing,
	lineSize, numInterfaces, queueSize int, selectorName string, cfg ChannelConfig) (*Memory, error) {
	selector, err := mem.MakeBankSelector(selectorName, numInterfaces)
	if err != nil {
		return nil, err
	}
	if backing == nil {
		backing = mem.NewBacking()
	}
	m := &Memory{
		name:     name,
		kernel:   kernel,
		clock:    clock,
		lineSize: lineSize,
		selector: selector,
		backing:  backing,
	}
	for i := 0; i < numInterfaces; i++ {
		f := &iface{
			name:    fmt.Sprintf("%s.if%d", name, i),
			memory:  m,
			channel: NewChannel(fmt.Sprintf("%s.ddr%d", name, i), clock, cfg),
		}
		f.requests = sim.NewBuffer[request](f.name+".requests", clock, queueSize)
		f.responses = sim.NewBuffer[request](f.name+".responses", clock, queueSize)
		f.pRequests = clock.NewProcess(f.name+".requests", f.doRequests)
		f.pResponses = clock.NewProcess(f.name+".responses", f.doResponses)
		f.requests.Sensitive(f.pRequests)
		f.responses.Sensitive(f.pResponses)
		f.pService = clock.NewArbitratedService(f.name+".p_service", sim.DisciplineCyclic)
		f.channel.SetClient(f)
		m.ifaces = append(m.ifaces, f)
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

// RegisterClient attaches a client to every interface.
func (m *Memory) RegisterClient(client mem.Client, proc *sim.Process, writeTraces, readTraces []string, _ bool) mem.MCID {
	id := mem.MCID(len(m.clients))
	service := m.clock.NewArbitratedService(
		fmt.Sprintf("%s.client%d.p_completions", m.name, id), sim.DisciplinePriority)
	for _, f := range m.ifaces {
		service.AddProcess(f.pResponses)
		if proc != nil {
			f.pService.AddProcess(proc)
		}
	}
	if proc != nil {
		var traces []string
		for _, f := range m.ifaces {
			traces = append(traces, f.requests.Name())
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

func (m *Memory) ifaceFor(addr mem.Address) *iface {
	_, index := m.selector.Map(addr / mem.Address(m.lineSize))
	return m.ifaces[index]
}

// Read queues a line read on the owning interface.
func (m *Memory) Read(id mem.MCID, addr mem.Address) bool {
	mem.CheckAligned(m, addr, m.lineSize)
	f := m.ifaceFor(addr)
	if !f.pService.Invoke() {
		return false
	}
	if !f.requests.Push(request{addr: addr, client: id, wid: mem.InvalidWClientID}) {
		return false
	}
	if m.kernel.Committing() {
		m.stats.Reads++
		m.stats.ReadBytes += uint64(m.lineSize)
	}
	return true
}

// Write queues a masked line write on the owning interface.
func (m *Memory) Write(id mem.MCID, addr mem.Address, data []byte, mask []bool, wid mem.WClientID) bool {
	mem.CheckAligned(m, addr, m.lineSize)
	f := m.ifaceFor(addr)
	if !f.pService.Invoke() {
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
	if !f.requests.Push(req) {
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
