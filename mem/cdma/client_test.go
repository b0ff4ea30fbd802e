package cdma_test

import (
	"fmt"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

type scriptedOp struct {
	write bool
	addr  mem.Address
	data  []byte
	mask  []bool
	wid   mem.WClientID
}

type readResult struct {
	addr mem.Address
	data []byte
}

// scriptClient issues a fixed operation sequence, one operation at a
// time, waiting for each completion before the next issue.
type scriptClient struct {
	name   string
	kernel *sim.Kernel
	memory mem.Memory
	mcid   mem.MCID

	proc *sim.Process
	work *sim.Flag

	ops     []scriptedOp
	next    int
	waiting bool

	reads       []readResult
	writesAcked []mem.WClientID
	invalidated []mem.Address
	snooped     int
}

func newScriptClient(name string, kernel *sim.Kernel, clock *sim.Clock, memory mem.Memory) *scriptClient {
	c := &scriptClient{name: name, kernel: kernel, memory: memory}
	c.proc = clock.NewProcess(name+".issue", c.doIssue)
	c.work = sim.NewFlag(name+".work", clock)
	c.work.Sensitive(c.proc)
	c.mcid = memory.RegisterClient(c, c.proc, nil, nil, false)
	return c
}

func (c *scriptClient) Name() string { return c.name }

// enqueue appends operations; call before the kernel runs or between
// runs while the kernel is idle.
func (c *scriptClient) enqueue(ops ...scriptedOp) {
	c.ops = append(c.ops, ops...)
	c.work.Raise()
}

func (c *scriptClient) done() bool {
	return c.next >= len(c.ops) && !c.waiting
}

func (c *scriptClient) doIssue() sim.Result {
	if c.waiting {
		return sim.Delayed
	}
	if c.next >= len(c.ops) {
		c.work.Clear()
		return sim.Success
	}
	op := c.ops[c.next]
	if op.write {
		if !c.memory.Write(c.mcid, op.addr, op.data, op.mask, op.wid) {
			return sim.Failed
		}
	} else {
		if !c.memory.Read(c.mcid, op.addr) {
			return sim.Failed
		}
	}
	if c.kernel.Committing() {
		c.next++
		c.waiting = true
	}
	return sim.Success
}

func (c *scriptClient) OnMemoryReadCompleted(addr mem.Address, data []byte) bool {
	if c.kernel.Committing() {
		c.reads = append(c.reads, readResult{addr: addr, data: append([]byte(nil), data...)})
		c.waiting = false
	}
	return true
}

func (c *scriptClient) OnMemoryWriteCompleted(wid mem.WClientID) bool {
	if c.kernel.Committing() {
		c.writesAcked = append(c.writesAcked, wid)
		c.waiting = false
	}
	return true
}

func (c *scriptClient) OnMemorySnooped(_ mem.Address, _ []byte, _ []bool) bool {
	if c.kernel.Committing() {
		c.snooped++
	}
	return true
}

func (c *scriptClient) OnMemoryInvalidated(addr mem.Address) bool {
	if c.kernel.Committing() {
		c.invalidated = append(c.invalidated, addr)
	}
	return true
}

func lineWrite(addr mem.Address, lineSize int, offset int, bytes []byte, wid mem.WClientID) scriptedOp {
	data := make([]byte, lineSize)
	mask := make([]bool, lineSize)
	copy(data[offset:], bytes)
	for i := range bytes {
		mask[offset+i] = true
	}
	return scriptedOp{write: true, addr: addr, data: data, mask: mask, wid: wid}
}

func lineRead(addr mem.Address) scriptedOp {
	return scriptedOp{addr: addr}
}

// runUntil steps the kernel until cond holds, failing after maxCycles.
func runUntil(kernel *sim.Kernel, maxCycles int, cond func() bool) error {
	for i := 0; i < maxCycles; i++ {
		if cond() {
			return nil
		}
		if err := kernel.Step(); err != nil {
			return err
		}
	}
	if cond() {
		return nil
	}
	return fmt.Errorf("condition not reached within %d cycles", maxCycles)
}
