package cdma_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/cdma"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/sim"
)

// testDDRConfig gives a cold read latency of tRCD + tCL + burst =
// 10 + 26 + 4 = 40 cycles.
func testDDRConfig() ddr.ChannelConfig {
	return ddr.ChannelConfig{
		TRCD:          10,
		TRP:           5,
		TCL:           26,
		TWR:           6,
		ColBits:       10,
		BankBits:      1,
		RankBits:      0,
		BytesPerCycle: 16,
		QueueSize:     8,
	}
}

type testSystem struct {
	kernel  *sim.Kernel
	system  *cdma.System
	clients []*scriptClient
}

func buildTestSystem(numClients, sets, assoc, cachesPerRing, numRoots int) *testSystem {
	kernel := sim.NewKernel()
	kernel.SetDeadlockLimit(50000)
	clock := kernel.NewClock("mem", 1000)

	system, err := cdma.MakeBuilder().
		WithKernel(kernel).
		WithClock(clock).
		WithLineSize(64).
		WithGeometry(sets, assoc).
		WithClientsPerCache(1).
		WithCachesPerRing(cachesPerRing).
		WithRootDirectories(numRoots).
		WithBankSelector("DIRECT").
		WithDDRConfig(testDDRConfig()).
		Build("memory")
	Expect(err).ToNot(HaveOccurred())

	ts := &testSystem{kernel: kernel, system: system}
	for i := 0; i < numClients; i++ {
		c := newScriptClient(names(i), kernel, clock, system)
		ts.clients = append(ts.clients, c)
	}
	Expect(system.Initialize()).To(Succeed())
	return ts
}

func names(i int) string {
	return string(rune('a'+i)) + "-client"
}

// tokenSum adds the tokens of one line across caches and roots; valid
// only at quiescence, when nothing is in flight.
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

func (ts *testSystem) allDone() bool {
	for _, c := range ts.clients {
		if !c.done() {
			return false
		}
	}
	return true
}

var _ = Describe("CDMA protocol", func() {
	It("should serve a cold read from DDR with the full token budget", func() {
		ts := buildTestSystem(4, 4, 2, 8, 1)
		ts.clients[0].enqueue(lineRead(0x0))

		start := ts.kernel.MasterCycle()
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[0].reads) == 1
		})).To(Succeed())

		// The round trip includes the DDR read latency of 40 cycles.
		Expect(ts.kernel.MasterCycle() - start).To(BeNumerically(">=", 40))

		read := ts.clients[0].reads[0]
		Expect(read.addr).To(Equal(mem.Address(0x0)))
		Expect(read.data).To(Equal(make([]byte, 64)))

		line := ts.system.Caches()[0].FindLine(0x0)
		Expect(line).ToNot(BeNil())
		Expect(line.State).To(Equal(cdma.LineFull))
		Expect(line.Tokens).To(Equal(4))

		root := ts.system.RootDirectories()[0].FindLine(0x0)
		Expect(root).ToNot(BeNil())
		Expect(root.State).To(Equal(cdma.RootFull))
	})

	It("should split tokens between two readers", func() {
		ts := buildTestSystem(4, 4, 2, 8, 1)
		ts.clients[0].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[0].reads) == 1
		})).To(Succeed())

		ts.clients[2].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[2].reads) == 1
		})).To(Succeed())

		line0 := ts.system.Caches()[0].FindLine(0x0)
		line2 := ts.system.Caches()[2].FindLine(0x0)
		Expect(line0.State).To(Equal(cdma.LineFull))
		Expect(line2.State).To(Equal(cdma.LineFull))
		Expect(line0.Tokens).To(Equal(2))
		Expect(line2.Tokens).To(Equal(2))
		Expect(ts.tokenSum(0x0)).To(Equal(4))
	})

	It("should propagate a shared write to the other copy", func() {
		ts := buildTestSystem(4, 4, 2, 8, 1)
		ts.clients[0].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[0].reads) == 1
		})).To(Succeed())
		ts.clients[2].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[2].reads) == 1
		})).To(Succeed())

		payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		ts.clients[2].enqueue(lineWrite(0x0, 64, 0, payload, 7))
		Expect(runUntil(ts.kernel, 2000, func() bool {
			return len(ts.clients[2].writesAcked) == 1
		})).To(Succeed())
		Expect(ts.clients[2].writesAcked[0]).To(Equal(mem.WClientID(7)))

		line0 := ts.system.Caches()[0].FindLine(0x0)
		line2 := ts.system.Caches()[2].FindLine(0x0)
		Expect(line2.Dirty).To(BeTrue())
		Expect(line0.Data[:8]).To(Equal(payload))
		Expect(line2.Data[:8]).To(Equal(payload))
		Expect(ts.tokenSum(0x0)).To(Equal(4))
	})

	It("should complete an exclusive write without network traffic", func() {
		ts := buildTestSystem(4, 4, 2, 8, 1)
		ts.clients[0].enqueue(
			lineRead(0x0),
			lineWrite(0x0, 64, 0, []byte{0xaa}, 1),
		)
		Expect(runUntil(ts.kernel, 2000, ts.allDone)).To(Succeed())

		line := ts.system.Caches()[0].FindLine(0x0)
		Expect(line.Tokens).To(Equal(4))
		Expect(line.Dirty).To(BeTrue())
		Expect(line.Data[0]).To(Equal(byte(0xaa)))
	})

	It("should write back a dirty eviction and serve later reads from it", func() {
		// One set, one way: the second read evicts the first line.
		ts := buildTestSystem(4, 1, 1, 8, 1)
		ts.clients[0].enqueue(
			lineRead(0x0),
			lineWrite(0x0, 64, 0, []byte{0x5a, 0x5b}, 1),
			lineRead(0x40),
		)
		Expect(runUntil(ts.kernel, 4000, ts.allDone)).To(Succeed())
		Expect(runUntil(ts.kernel, 4000, ts.kernel.Idle)).To(Succeed())

		// The dirty line left cache 0 with all its tokens; exactly one
		// DDR write happened and the root entry was cleared before the
		// next reader recreated it.
		_, writes := ts.system.RootDirectories()[0].Statistics()
		Expect(writes).To(Equal(uint64(1)))
		Expect(ts.system.Caches()[0].FindLine(0x0)).To(BeNil())

		got := make([]byte, 64)
		ts.system.Backing().Read(0x0, got)
		Expect(got[0]).To(Equal(byte(0x5a)))
		Expect(got[1]).To(Equal(byte(0x5b)))

		ts.clients[1].enqueue(lineRead(0x0))
		Expect(runUntil(ts.kernel, 4000, func() bool {
			return len(ts.clients[1].reads) == 1
		})).To(Succeed())
		Expect(ts.clients[1].reads[0].data[0]).To(Equal(byte(0x5a)))
	})

	It("should stripe lines across root directories", func() {
		ts := buildTestSystem(4, 4, 2, 8, 2)
		ts.clients[0].enqueue(lineRead(0x0), lineRead(0x40))
		Expect(runUntil(ts.kernel, 4000, func() bool {
			return len(ts.clients[0].reads) == 2
		})).To(Succeed())

		roots := ts.system.RootDirectories()
		reads0, _ := roots[0].Statistics()
		reads1, _ := roots[1].Statistics()
		Expect(reads0).To(Equal(uint64(1)))
		Expect(reads1).To(Equal(uint64(1)))
		Expect(roots[0].FindLine(0x0)).ToNot(BeNil())
		Expect(roots[0].FindLine(0x40)).To(BeNil())
		Expect(roots[1].FindLine(0x40)).ToNot(BeNil())
	})

	It("should keep directory counters consistent in a two-level system", func() {
		// Four caches in rings of two under two directories.
		ts := buildTestSystem(4, 4, 2, 2, 1)
		Expect(ts.system.Directories()).To(HaveLen(2))

		for i, c := range ts.clients {
			c.enqueue(lineRead(mem.Address((i % 2) * 64)))
		}
		Expect(runUntil(ts.kernel, 8000, ts.allDone)).To(Succeed())
		Expect(runUntil(ts.kernel, 8000, ts.kernel.Idle)).To(Succeed())

		for _, addr := range []mem.Address{0x0, 0x40} {
			for di, d := range ts.system.Directories() {
				sum := 0
				for ci, c := range ts.system.Caches() {
					if ci/2 != di {
						continue
					}
					if l := c.FindLine(addr); l != nil {
						sum += l.Tokens
					}
				}
				Expect(d.Tokens(addr)).To(Equal(sum),
					"directory %d, address %s", di, addr)
			}
			Expect(ts.tokenSum(addr)).To(Equal(4))
		}
	})

	It("should preserve invariants and memory contents under random traffic", func() {
		ts := buildTestSystem(4, 2, 2, 8, 1)
		rng := rand.New(rand.NewSource(42))

		// A sequential reference: the single client's writes applied in
		// order.
		ref := make(map[mem.Address]byte)
		var ops []scriptedOp
		for i := 0; i < 60; i++ {
			addr := mem.Address(rng.Intn(8) * 64)
			if rng.Intn(2) == 0 {
				v := byte(rng.Intn(255) + 1)
				ops = append(ops, lineWrite(addr, 64, 0, []byte{v}, mem.WClientID(i)))
				ref[addr] = v
			} else {
				ops = append(ops, lineRead(addr))
			}
		}
		ts.clients[0].enqueue(ops...)
		Expect(runUntil(ts.kernel, 100000, ts.allDone)).To(Succeed())
		Expect(runUntil(ts.kernel, 100000, ts.kernel.Idle)).To(Succeed())

		for addr, want := range ref {
			got := ts.readAnywhere(addr)
			Expect(got).To(Equal(want), "address %s", addr)
			sum := ts.tokenSum(addr)
			Expect(sum == 0 || sum == 4).To(BeTrue(),
				"token sum for %s is %d", addr, sum)
		}
	})
})

// readAnywhere returns byte 0 of a line, preferring a cached dirty copy
// over the backing store.
func (ts *testSystem) readAnywhere(addr mem.Address) byte {
	for _, c := range ts.system.Caches() {
		if l := c.FindLine(addr); l != nil && l.State == cdma.LineFull {
			return l.Data[0]
		}
	}
	data := make([]byte, 64)
	ts.system.Backing().Read(addr, data)
	return data[0]
}
