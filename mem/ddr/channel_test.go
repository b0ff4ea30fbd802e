package ddr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/sim"
)

// collector counts read completions and stamps their cycles.
type collector struct {
	kernel *sim.Kernel
	clock  *sim.Clock
	cycles []sim.CycleNo
}

func (c *collector) OnReadCompleted() bool {
	if c.kernel.Committing() {
		c.cycles = append(c.cycles, c.clock.Cycle())
	}
	return true
}

var _ = Describe("Channel", func() {
	var (
		kernel *sim.Kernel
		clock  *sim.Clock
		ch     *ddr.Channel
		sink   *collector
	)

	cfg := ddr.ChannelConfig{
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

	issue := func(reqs ...func() bool) {
		i := 0
		flag := sim.NewFlagSet("go", clock, true)
		proc := clock.NewProcess("issuer", func() sim.Result {
			if i >= len(reqs) {
				flag.Clear()
				return sim.Success
			}
			if !reqs[i]() {
				return sim.Failed
			}
			if kernel.Committing() {
				i++
			}
			return sim.Success
		})
		flag.Sensitive(proc)
	}

	BeforeEach(func() {
		kernel = sim.NewKernel()
		kernel.SetDeadlockLimit(10000)
		clock = kernel.NewClock("ddr", 800)
		ch = ddr.NewChannel("ch", clock, cfg)
		sink = &collector{kernel: kernel, clock: clock}
		ch.SetClient(sink)
	})

	It("should charge activate plus CAS plus burst on a cold read", func() {
		issue(func() bool { return ch.Read(0x0, 64) })
		Expect(kernel.Run(200)).To(Succeed())
		Expect(sink.cycles).To(HaveLen(1))
		// tRCD + tCL + 64/16 = 40 cycles of service time.
		Expect(sink.cycles[0]).To(BeNumerically(">=", 40))
		reads, _ := ch.Statistics()
		Expect(reads).To(Equal(uint64(1)))
	})

	It("should serve a row hit faster than a row conflict", func() {
		issue(
			func() bool { return ch.Read(0x0, 64) },
			func() bool { return ch.Read(0x40, 64) },        // same row
			func() bool { return ch.Read(1<<(10+1+0), 64) }, // other row, same bank
		)
		Expect(kernel.Run(500)).To(Succeed())
		Expect(sink.cycles).To(HaveLen(3))

		hit := sink.cycles[1] - sink.cycles[0]
		conflict := sink.cycles[2] - sink.cycles[1]
		Expect(hit).To(BeNumerically("<", conflict))
	})

	It("should not fill the queue with pushes made outside a cycle", func() {
		full := false
		for i := 0; !full && i < 100; i++ {
			full = !ch.Read(mem.Address(i*64), 64)
		}
		// Pushes outside a cycle do not commit, so the queue stays
		// logically empty; this just checks the space predicate.
		Expect(full).To(BeFalse())
		Expect(ch.Busy()).To(BeFalse())
	})
})
