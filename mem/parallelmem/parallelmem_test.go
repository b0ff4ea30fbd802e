package parallelmem_test

import (
	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/parallelmem"
	"github.com/sarchlab/tokensim/sim"
)

var _ = Describe("ParallelMemory", func() {
	var (
		mockCtrl *gomock.Controller
		kernel   *sim.Kernel
		clock    *sim.Clock
		memory   *parallelmem.Memory
		client   *MockClient
	)

	const (
		lineSize = 64
		baseTime = 2
		perLine  = 4
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		kernel = sim.NewKernel()
		kernel.SetDeadlockLimit(10000)
		clock = kernel.NewClock("mem", 1000)
		memory = parallelmem.New("memory", kernel, clock, nil,
			lineSize, baseTime, perLine, 8)
		client = NewMockClient(mockCtrl)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should complete a read after the fixed latency", func() {
		issued := false
		var completedAt sim.CycleNo

		flag := sim.NewFlagSet("go", clock, true)
		proc := clock.NewProcess("driver", func() sim.Result {
			if issued {
				flag.Clear()
				return sim.Success
			}
			if !memory.Read(0, 0x40) {
				return sim.Failed
			}
			if kernel.Committing() {
				issued = true
			}
			return sim.Success
		})
		flag.Sensitive(proc)
		id := memory.RegisterClient(client, proc, nil, nil, false)
		Expect(id).To(Equal(mem.MCID(0)))

		client.EXPECT().
			OnMemoryReadCompleted(mem.Address(0x40), gomock.Len(lineSize)).
			DoAndReturn(func(_ mem.Address, _ []byte) bool {
				if kernel.Committing() {
					completedAt = clock.Cycle()
				}
				return true
			}).
			MinTimes(1)

		Expect(kernel.Run(100)).To(Succeed())
		Expect(kernel.Idle()).To(BeTrue())
		// One line costs base + perLine cycles.
		Expect(completedAt).To(BeNumerically(">=", baseTime+perLine))
	})

	It("should acknowledge writes and update the backing store", func() {
		data := make([]byte, lineSize)
		mask := make([]bool, lineSize)
		data[3] = 0x7e
		mask[3] = true

		issued := false
		flag := sim.NewFlagSet("go", clock, true)
		proc := clock.NewProcess("driver", func() sim.Result {
			if issued {
				flag.Clear()
				return sim.Success
			}
			if !memory.Write(0, 0x80, data, mask, 5) {
				return sim.Failed
			}
			if kernel.Committing() {
				issued = true
			}
			return sim.Success
		})
		flag.Sensitive(proc)
		memory.RegisterClient(client, proc, nil, nil, false)

		client.EXPECT().
			OnMemoryWriteCompleted(mem.WClientID(5)).
			Return(true).
			MinTimes(1)

		Expect(kernel.Run(100)).To(Succeed())

		got := make([]byte, lineSize)
		memory.Backing().Read(0x80, got)
		Expect(got[3]).To(Equal(byte(0x7e)))
		Expect(memory.Statistics().Writes).To(Equal(uint64(1)))
	})

	It("should reject unaligned addresses", func() {
		flag := sim.NewFlagSet("go", clock, true)
		proc := clock.NewProcess("driver", func() sim.Result {
			defer GinkgoRecover()
			Expect(func() { memory.Read(0, 0x41) }).To(Panic())
			flag.Clear()
			return sim.Success
		})
		flag.Sensitive(proc)
		memory.RegisterClient(client, proc, nil, nil, false)
		Expect(kernel.Step()).To(Succeed())
	})
})
