package bankedmem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/bankedmem"
	"github.com/sarchlab/tokensim/sim"
)

// driver issues one scripted operation at a time against the memory.
type driver struct {
	name   string
	kernel *sim.Kernel
	memory *bankedmem.Memory
	mcid   mem.MCID
	proc   *sim.Process
	work   *sim.Flag

	reads   []mem.Address
	acks    []mem.WClientID
	pending []func() bool
	next    int
	waiting bool
}

func newDriver(name string, kernel *sim.Kernel, clock *sim.Clock, memory *bankedmem.Memory) *driver {
	d := &driver{name: name, kernel: kernel, memory: memory}
	d.proc = clock.NewProcess(name+".issue", d.doIssue)
	d.work = sim.NewFlag(name+".work", clock)
	d.work.Sensitive(d.proc)
	d.mcid = memory.RegisterClient(d, d.proc, nil, nil, false)
	return d
}

func (d *driver) Name() string { return d.name }

func (d *driver) read(addr mem.Address) {
	d.pending = append(d.pending, func() bool { return d.memory.Read(d.mcid, addr) })
	d.work.Raise()
}

func (d *driver) write(addr mem.Address, data []byte, mask []bool, wid mem.WClientID) {
	d.pending = append(d.pending, func() bool {
		return d.memory.Write(d.mcid, addr, data, mask, wid)
	})
	d.work.Raise()
}

func (d *driver) done() bool { return d.next >= len(d.pending) && !d.waiting }

func (d *driver) doIssue() sim.Result {
	if d.waiting {
		return sim.Delayed
	}
	if d.next >= len(d.pending) {
		d.work.Clear()
		return sim.Success
	}
	if !d.pending[d.next]() {
		return sim.Failed
	}
	if d.kernel.Committing() {
		d.next++
		d.waiting = true
	}
	return sim.Success
}

func (d *driver) OnMemoryReadCompleted(addr mem.Address, _ []byte) bool {
	if d.kernel.Committing() {
		d.reads = append(d.reads, addr)
		d.waiting = false
	}
	return true
}

func (d *driver) OnMemoryWriteCompleted(wid mem.WClientID) bool {
	if d.kernel.Committing() {
		d.acks = append(d.acks, wid)
		d.waiting = false
	}
	return true
}

func (d *driver) OnMemorySnooped(_ mem.Address, _ []byte, _ []bool) bool { return true }
func (d *driver) OnMemoryInvalidated(_ mem.Address) bool                 { return true }

var _ = Describe("BankedMemory", func() {
	var (
		kernel *sim.Kernel
		clock  *sim.Clock
		memory *bankedmem.Memory
	)

	BeforeEach(func() {
		kernel = sim.NewKernel()
		kernel.SetDeadlockLimit(10000)
		clock = kernel.NewClock("mem", 1000)
		var err error
		memory, err = bankedmem.New("memory", kernel, clock, nil,
			64, 4, "DIRECT", 2, 3, 8)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should round-trip a write and a read through a bank", func() {
		d := newDriver("d0", kernel, clock, memory)

		data := make([]byte, 64)
		mask := make([]bool, 64)
		data[0] = 0x42
		mask[0] = true
		d.write(0x100, data, mask, 11)
		d.read(0x100)

		Expect(kernel.Run(500)).To(Succeed())
		Expect(d.done()).To(BeTrue())
		Expect(d.acks).To(Equal([]mem.WClientID{11}))
		Expect(d.reads).To(Equal([]mem.Address{0x100}))

		got := make([]byte, 64)
		memory.Backing().Read(0x100, got)
		Expect(got[0]).To(Equal(byte(0x42)))
	})

	It("should serve two clients hitting different banks", func() {
		d0 := newDriver("d0", kernel, clock, memory)
		d1 := newDriver("d1", kernel, clock, memory)

		// Lines 0 and 1 land in different banks under DIRECT selection.
		d0.read(0x0)
		d1.read(0x40)

		Expect(kernel.Run(500)).To(Succeed())
		Expect(d0.reads).To(Equal([]mem.Address{0x0}))
		Expect(d1.reads).To(Equal([]mem.Address{0x40}))
	})

	It("should serialize conflicting requests on one bank", func() {
		d0 := newDriver("d0", kernel, clock, memory)
		d1 := newDriver("d1", kernel, clock, memory)

		// Lines 0 and 4 share bank 0 with four banks.
		d0.read(0x0)
		d1.read(0x100)

		Expect(kernel.Run(500)).To(Succeed())
		Expect(d0.reads).To(HaveLen(1))
		Expect(d1.reads).To(HaveLen(1))
		Expect(memory.Statistics().Reads).To(Equal(uint64(2)))
	})
})
