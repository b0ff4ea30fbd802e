package zlcdma_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/mem/zlcdma"
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

func (c *scriptClient) OnMemorySnooped(_ mem.Address, _ []byte, _ []bool) bool { return true }

func (c *scriptClient) OnMemoryInvalidated(addr mem.Address) bool {
	if c.kernel.Committing() {
		c.invalidated = append(c.invalidated, addr)
	}
	return true
}

func lineWrite(addr mem.Address, lineSize, offset int, bytes []byte, wid mem.WClientID) scriptedOp {
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

type testSystem struct {
	kernel  *sim.Kernel
	system  *zlcdma.System
	clients []*scriptClient
}

func buildTestSystem(numClients int, injection bool) *testSystem {
	kernel := sim.NewKernel()
	kernel.SetDeadlockLimit(50000)
	clock := kernel.NewClock("mem", 1000)

	system, err := zlcdma.MakeBuilder().
		WithKernel(kernel).
		WithClock(clock).
		WithLineSize(64).
		WithGeometry(4, 2).
		WithClientsPerCache(1).
		WithCachesPerRing(8).
		WithRootDirectories(1).
		WithBankSelector("DIRECT").
		WithCacheInjection(injection).
		WithDDRConfig(ddr.ChannelConfig{
			TRCD: 10, TRP: 5, TCL: 26, TWR: 6,
			ColBits: 10, BankBits: 1, RankBits: 0,
			BytesPerCycle: 16, QueueSize: 8,
		}).
		Build("memory")
	Expect(err).ToNot(HaveOccurred())

	ts := &testSystem{kernel: kernel, system: system}
	for i := 0; i < numClients; i++ {
		c := newScriptClient(fmt.Sprintf("client%d", i), kernel, clock, system)
		ts.clients = append(ts.clients, c)
	}
	Expect(system.Initialize()).To(Succeed())
	return ts
}

func (ts *testSystem) tokenSum(addr mem.Address) int {
	sum := 0
	for _, c := range ts.system.Caches() {
		if l := c.FindLine(addr); l != nil {
			sum += l.Tokens
		}
	}
	for _, r := range ts.system.RootDirectories() {
		if l := r.FindLine(addr); l != nil {
			sum += l.Tokens
		}
	}
	return sum
}

var _ = Describe("ZLCDMA protocol", func() {
	It("should grant the full budget and the priority token on a cold read", func() {
		ts := buildTestSystem(4, false)
		ts.clients[0].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[0].reads) == 1
		})).To(Succeed())

		line := ts.system.Caches()[0].FindLine(0x0)
		Expect(line).ToNot(BeNil())
		Expect(line.State).To(Equal(zlcdma.LineFull))
		Expect(line.Tokens).To(Equal(4))
		Expect(line.Priority).To(BeTrue())
	})

	It("should gather every token on a write upgrade and invalidate the sharer", func() {
		ts := buildTestSystem(4, false)
		ts.clients[0].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[0].reads) == 1
		})).To(Succeed())
		ts.clients[2].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[2].reads) == 1
		})).To(Succeed())

		// Both caches share the line now.
		Expect(ts.system.Caches()[0].FindLine(0x0).Tokens).To(Equal(2))
		Expect(ts.system.Caches()[2].FindLine(0x0).Tokens).To(Equal(2))

		payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		ts.clients[2].enqueue(lineWrite(0x0, 64, 0, payload, 9))
		Expect(runUntil(ts.kernel, 4000, func() bool {
			return len(ts.clients[2].writesAcked) == 1
		})).To(Succeed())

		// The sharer surrendered its copy.
		Expect(ts.system.Caches()[0].FindLine(0x0)).To(BeNil())
		Expect(ts.clients[0].invalidated).To(ContainElement(mem.Address(0x0)))

		line := ts.system.Caches()[2].FindLine(0x0)
		Expect(line.Tokens).To(Equal(4))
		Expect(line.Dirty).To(BeTrue())
		Expect(line.Data[:8]).To(Equal(payload))
		Expect(ts.tokenSum(0x0)).To(Equal(4))
	})

	It("should keep dirty lines exclusive", func() {
		ts := buildTestSystem(4, false)
		ts.clients[0].enqueue(
			lineRead(0x0),
			lineWrite(0x0, 64, 0, []byte{0xcc}, 1),
		)
		Expect(runUntil(ts.kernel, 4000, func() bool {
			return len(ts.clients[0].writesAcked) == 1
		})).To(Succeed())

		// A reader migrates the whole dirty line rather than splitting
		// its tokens.
		ts.clients[3].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 4000, func() bool {
			return len(ts.clients[3].reads) == 1
		})).To(Succeed())
		Expect(ts.clients[3].reads[0].data[0]).To(Equal(byte(0xcc)))

		Expect(ts.system.Caches()[0].FindLine(0x0)).To(BeNil())
		line := ts.system.Caches()[3].FindLine(0x0)
		Expect(line).ToNot(BeNil())
		Expect(line.Tokens).To(Equal(4))
		Expect(line.Dirty).To(BeTrue())

		for _, c := range ts.system.Caches() {
			if l := c.FindLine(0x0); l != nil && l.Dirty {
				Expect(l.Tokens).To(Equal(ts.system.TotalTokens()))
			}
		}
	})

	It("should preserve the token budget across mixed traffic", func() {
		ts := buildTestSystem(4, false)
		for i, c := range ts.clients {
			c.enqueue(
				lineRead(0x0),
				lineWrite(0x0, 64, i, []byte{byte(i + 1)}, mem.WClientID(i)),
				lineRead(0x0),
			)
		}
		done := func() bool {
			for _, c := range ts.clients {
				if !c.done() {
					return false
				}
			}
			return true
		}
		Expect(runUntil(ts.kernel, 200000, done)).To(Succeed())
		Expect(runUntil(ts.kernel, 200000, ts.kernel.Idle)).To(Succeed())
		Expect(ts.tokenSum(0x0)).To(Equal(4))

		for _, c := range ts.system.Caches() {
			if l := c.FindLine(0x0); l != nil && l.Dirty {
				Expect(l.Tokens).To(Equal(4))
			}
		}
	})
})
