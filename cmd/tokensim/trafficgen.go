package main

import (
	"math/rand"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sampling"
	"github.com/sarchlab/tokensim/sim"
	"github.com/sarchlab/tokensim/tracing"
)

type trafficOp struct {
	write bool
	addr  mem.Address
	data  byte
}

// trafficGen is a synthetic memory client: it replays a pregenerated
// sequence of line reads and writes with a bounded number of outstanding
// operations.
type trafficGen struct {
	name   string
	kernel *sim.Kernel
	memory mem.Memory
	mcid   mem.MCID

	proc   *sim.Process
	work   *sim.Flag
	breaks *sampling.Breakpoints
	tracer *tracing.Tracer

	ops            []trafficOp
	next           int
	outstanding    int
	maxOutstanding int

	readsDone  uint64
	writesDone uint64
}

func newTrafficGen(name string, kernel *sim.Kernel, clock *sim.Clock, memory mem.Memory,
	seed int64, numOps int, workingSet []mem.Address) *trafficGen {
	g := &trafficGen{
		name:           name,
		kernel:         kernel,
		memory:         memory,
		maxOutstanding: 4,
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < numOps; i++ {
		g.ops = append(g.ops, trafficOp{
			write: rng.Intn(2) == 0,
			addr:  workingSet[rng.Intn(len(workingSet))],
			data:  byte(rng.Intn(256)),
		})
	}
	g.proc = clock.NewProcess(name+".issue", g.doIssue)
	g.work = sim.NewFlagSet(name+".work", clock, len(g.ops) > 0)
	g.work.Sensitive(g.proc)
	g.mcid = memory.RegisterClient(g, g.proc, nil, nil, false)
	return g
}

func (g *trafficGen) Name() string { return g.name }

func (g *trafficGen) doIssue() sim.Result {
	if g.next >= len(g.ops) {
		if g.outstanding > 0 {
			return sim.Delayed
		}
		g.work.Clear()
		return sim.Success
	}
	op := g.ops[g.next]
	if g.outstanding >= g.maxOutstanding {
		return sim.Delayed
	}
	if op.write {
		data := make([]byte, g.memory.LineSize())
		mask := make([]bool, g.memory.LineSize())
		data[0] = op.data
		mask[0] = true
		if !g.memory.Write(g.mcid, op.addr, data, mask, mem.WClientID(g.next)) {
			return sim.Failed
		}
	} else {
		if !g.memory.Read(g.mcid, op.addr) {
			return sim.Failed
		}
	}
	if g.kernel.Committing() {
		g.next++
		g.outstanding++
		if g.breaks != nil {
			kind := sampling.BreakRead
			if op.write {
				kind = sampling.BreakWrite
			}
			g.breaks.Check(uint64(op.addr), kind, g.kernel.MasterCycle())
		}
		if g.tracer != nil {
			kind := "read"
			if op.write {
				kind = "write"
			}
			g.tracer.Trace(g.kernel.MasterCycle(), g.name, kind, uint64(op.addr), "")
		}
	}
	return sim.Success
}

// OnMemoryReadCompleted accepts a finished read.
func (g *trafficGen) OnMemoryReadCompleted(_ mem.Address, _ []byte) bool {
	if g.kernel.Committing() {
		g.outstanding--
		g.readsDone++
	}
	return true
}

// OnMemoryWriteCompleted accepts a finished write.
func (g *trafficGen) OnMemoryWriteCompleted(_ mem.WClientID) bool {
	if g.kernel.Committing() {
		g.outstanding--
		g.writesDone++
	}
	return true
}

// OnMemorySnooped observes other clients' writes.
func (g *trafficGen) OnMemorySnooped(_ mem.Address, _ []byte, _ []bool) bool { return true }

// OnMemoryInvalidated observes line loss.
func (g *trafficGen) OnMemoryInvalidated(_ mem.Address) bool { return true }
