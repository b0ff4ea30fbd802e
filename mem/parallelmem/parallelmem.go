// Package parallelmem implements the contention-free reference backend:
// every client gets a private port and requests complete after a fixed
// latency of base + perLine * ceil(size/line) cycles.
package parallelmem

import (
	"fmt"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

type request struct {
	write bool
	addr  mem.Address
	data  []byte
	mask  []bool
	wid   mem.WClientID
	done  sim.CycleNo
}

type port struct {
	name     string
	memory   *Memory
	client   mem.Client
	requests *sim.Buffer[request]
	pReq     *sim.Process
	service  *sim.ArbitratedService
}

func (p *port) Name() string { return p.name }

func (p *port) doRequests() sim.Result {
	req := p.requests.Front()
	if p.memory.clock.Cycle() < req.done {
		return sim.Delayed
	}
	if req.write {
		if !p.client.OnMemoryWriteCompleted(req.wid) {
			return sim.Failed
		}
		if p.memory.kernel.Committing() {
			p.memory.backing.Write(req.addr, req.data, req.mask)
		}
	} else {
		data := make([]byte, p.memory.lineSize)
		p.memory.backing.Read(req.addr, data)
		if !p.client.OnMemoryReadCompleted(req.addr, data) {
			return sim.Failed
		}
	}
	p.requests.Pop()
	return sim.Success
}

// Memory is the parallel backend. It implements mem.Memory.
type Memory struct {
	name   string
	kernel *sim.Kernel
	clock  *sim.Clock

	lineSize        int
	baseRequestTime sim.CycleNo
	timePerLine     sim.CycleNo
	bufferSize      int

	backing *mem.Backing
	ports   []*port

	stats mem.Statistics
}

// New creates the backend. Latency is baseRequestTime plus timePerLine
// per transferred line.
func New(name string, kernel *sim.Kernel, clock *sim.Clock, backing *mem.Backing,
	lineSize int, baseRequestTime, timePerLine sim.CycleNo, bufferSize int) *Memory {
	if backing == nil {
		backing = mem.NewBacking()
	}
	return &Memory{
		name:            name,
		kernel:          kernel,
		clock:           clock,
		lineSize:        lineSize,
		baseRequestTime: baseRequestTime,
		timePerLine:     timePerLine,
		bufferSize:      bufferSize,
		backing:         backing,
	}
}

// Name returns the backend name.
func (m *Memory) Name() string { return m.name }

// LineSize returns the transfer granularity.
func (m *Memory) LineSize() int { return m.lineSize }

// Backing exposes the functional contents.
func (m *Memory) Backing() *mem.Backing { return m.backing }

// Statistics returns the traffic counters.
func (m *Memory) Statistics() mem.Statistics { return m.stats }

func (m *Memory) delay(size int) sim.CycleNo {
	lines := (size + m.lineSize - 1) / m.lineSize
	return m.baseRequestTime + m.timePerLine*sim.CycleNo(lines)
}

// RegisterClient creates a private port for the client.
func (m *Memory) RegisterClient(client mem.Client, proc *sim.Process, writeTraces, readTraces []string, _ bool) mem.MCID {
	id := mem.MCID(len(m.ports))
	p := &port{
		name:   fmt.Sprintf("%s.port%d", m.name, id),
		memory: m,
		client: client,
	}
	p.requests = sim.NewBuffer[request](p.name+".requests", m.clock, m.bufferSize)
	p.pReq = m.clock.NewProcess(p.name+".requests", p.doRequests)
	p.requests.Sensitive(p.pReq)
	p.service = m.clock.NewArbitratedService(p.name+".p_requests", sim.DisciplinePriority)
	if proc != nil {
		p.service.AddProcess(proc)
		proc.SetStorageTraces(append(append([]string{p.requests.Name()}, writeTraces...), readTraces...)...)
	}
	m.ports = append(m.ports, p)
	return id
}

// UnregisterClient detaches a client's port.
func (m *Memory) UnregisterClient(id mem.MCID) {
	m.ports[id].client = nil
}

// Read queues a line read on the client's port.
func (m *Memory) Read(id mem.MCID, addr mem.Address) bool {
	mem.CheckAligned(m, addr, m.lineSize)
	p := m.ports[id]
	if !p.service.Invoke() {
		return false
	}
	if !p.requests.Push(request{
		addr: addr,
		wid:  mem.InvalidWClientID,
		done: m.clock.Cycle() + m.delay(m.lineSize),
	}) {
		return false
	}
	if m.kernel.Committing() {
		m.stats.Reads++
		m.stats.ReadBytes += uint64(m.lineSize)
	}
	return true
}

// Write queues a masked line write on the client's port.
func (m *Memory) Write(id mem.MCID, addr mem.Address, data []byte, mask []bool, wid mem.WClientID) bool {
	mem.CheckAligned(m, addr, m.lineSize)
	p := m.ports[id]
	if !p.service.Invoke() {
		return false
	}
	if !p.requests.Push(request{
		write: true,
		addr:  addr,
		data:  append([]byte(nil), data...),
		mask:  append([]bool(nil), mask...),
		wid:   wid,
		done:  m.clock.Cycle() + m.delay(m.lineSize),
	}) {
		return false
	}
	// Other clients see the write immediately.
	for i, other := range m.ports {
		if mem.MCID(i) == id || other.client == nil {
			continue
		}
		if !other.client.OnMemorySnooped(addr, data, mask) {
			return false
		}
	}
	if m.kernel.Committing() {
		m.stats.Writes++
		m.stats.WriteBytes += uint64(m.lineSize)
	}
	return true
}
