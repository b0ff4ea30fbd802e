package sim_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/tokensim/sim"
)

var _ = Describe("Kernel", func() {
	var (
		kernel *sim.Kernel
		clock  *sim.Clock
	)

	BeforeEach(func() {
		kernel = sim.NewKernel()
		clock = kernel.NewClock("clk", 1000)
	})

	Context("registers", func() {
		It("should defer writes to the end of the cycle", func() {
			reg := sim.NewRegister[int]("r", clock)
			observed := -1

			flag := sim.NewFlagSet("go", clock, true)
			writer := clock.NewProcess("writer", func() sim.Result {
				reg.Write(42)
				// Pre-update state stays visible within the cycle.
				if !reg.Empty() {
					observed = reg.Read()
				}
				flag.Clear()
				return sim.Success
			})
			flag.Sensitive(writer)

			Expect(kernel.Step()).To(Succeed())
			Expect(observed).To(Equal(-1))
			Expect(reg.Empty()).To(BeFalse())
			Expect(reg.Read()).To(Equal(42))
		})

		It("should wake the sensitive process on empty to full", func() {
			reg := sim.NewRegister[int]("r", clock)
			got := 0
			reader := clock.NewProcess("reader", func() sim.Result {
				got = reg.Read()
				reg.Clear()
				return sim.Success
			})
			reg.Sensitive(reader)

			flag := sim.NewFlagSet("go", clock, true)
			writer := clock.NewProcess("writer", func() sim.Result {
				reg.Write(7)
				flag.Clear()
				return sim.Success
			})
			flag.Sensitive(writer)

			Expect(kernel.Run(0)).To(Succeed())
			Expect(got).To(Equal(7))
			Expect(reg.Empty()).To(BeTrue())
			Expect(kernel.Idle()).To(BeTrue())
		})
	})

	Context("buffers", func() {
		It("should honor space reservations", func() {
			buf := sim.NewBuffer[int]("b", clock, 2)
			var tight, loose bool

			cycle := 0
			flag := sim.NewFlagSet("go", clock, true)
			producer := clock.NewProcess("producer", func() sim.Result {
				switch cycle {
				case 0:
					buf.PushReserve(1, 2)
				case 1:
					// One slot left: a shortcut-style reservation of
					// two is refused while a plain forward still fits.
					tight = buf.PushReserve(2, 2)
					if !tight {
						buf.PushReserve(2, 1)
						loose = true
					}
					flag.Clear()
				}
				if kernel.Committing() {
					cycle++
				}
				return sim.Success
			})
			flag.Sensitive(producer)

			Expect(kernel.Step()).To(Succeed())
			Expect(kernel.Step()).To(Succeed())
			Expect(tight).To(BeFalse())
			Expect(loose).To(BeTrue())
			Expect(buf.Len()).To(Equal(2))
		})

		It("should deliver items in FIFO order across cycles", func() {
			buf := sim.NewBuffer[int]("b", clock, 4)
			var got []int

			consumer := clock.NewProcess("consumer", func() sim.Result {
				item := buf.Front()
				buf.Pop()
				if kernel.Committing() {
					got = append(got, item)
				}
				return sim.Success
			})
			buf.Sensitive(consumer)

			n := 0
			flag := sim.NewFlagSet("go", clock, true)
			producer := clock.NewProcess("producer", func() sim.Result {
				if !buf.Push(n) {
					return sim.Failed
				}
				if kernel.Committing() {
					n++
				}
				if n >= 3 {
					flag.Clear()
				}
				return sim.Success
			})
			flag.Sensitive(producer)

			Expect(kernel.Run(100)).To(Succeed())
			Expect(kernel.Idle()).To(BeTrue())
			Expect(got).To(Equal([]int{0, 1, 2}))
		})
	})

	Context("arbitration", func() {
		It("should grant strict priority by registration order", func() {
			service := clock.NewArbitratedService("svc", sim.DisciplinePriority)
			var winners []string

			mkProc := func(name string) (*sim.Process, *sim.Flag) {
				flag := sim.NewFlagSet(name+".go", clock, true)
				var proc *sim.Process
				proc = clock.NewProcess(name, func() sim.Result {
					if !service.Invoke() {
						return sim.Failed
					}
					if kernel.Committing() {
						winners = append(winners, name)
					}
					flag.Clear()
					return sim.Success
				})
				flag.Sensitive(proc)
				return proc, flag
			}

			pa, _ := mkProc("a")
			pb, _ := mkProc("b")
			service.AddProcess(pa)
			service.AddProcess(pb)

			Expect(kernel.Step()).To(Succeed())
			Expect(winners).To(Equal([]string{"a"}))
			Expect(kernel.Step()).To(Succeed())
			Expect(winners).To(Equal([]string{"a", "b"}))
		})

		It("should rotate winners under the cyclic discipline", func() {
			service := clock.NewArbitratedService("svc", sim.DisciplineCyclic)
			counts := map[string]int{}

			mkProc := func(name string, rounds int) *sim.Process {
				flag := sim.NewFlagSet(name+".go", clock, true)
				var proc *sim.Process
				proc = clock.NewProcess(name, func() sim.Result {
					if counts[name] >= rounds {
						flag.Clear()
						return sim.Success
					}
					if !service.Invoke() {
						return sim.Failed
					}
					if kernel.Committing() {
						counts[name]++
					}
					return sim.Success
				})
				flag.Sensitive(proc)
				return proc
			}

			service.AddProcess(mkProc("a", 3))
			service.AddProcess(mkProc("b", 3))

			Expect(kernel.Step()).To(Succeed())
			Expect(kernel.Step()).To(Succeed())
			// After two cycles both contenders have won once.
			Expect(counts["a"]).To(Equal(1))
			Expect(counts["b"]).To(Equal(1))
		})
	})

	Context("deadlock watchdog", func() {
		It("should report the stalled processes", func() {
			kernel.SetDeadlockLimit(10)
			buf := sim.NewBuffer[int]("full", clock, 1)

			flag := sim.NewFlagSet("go", clock, true)
			blocked := clock.NewProcess("blocked", func() sim.Result {
				if !buf.Push(1) {
					return sim.Failed
				}
				return sim.Success
			})
			blocked.SetStorageTraces("full")
			flag.Sensitive(blocked)

			err := kernel.Run(1000)
			var deadlock *sim.DeadlockError
			Expect(errors.As(err, &deadlock)).To(BeTrue())
			Expect(deadlock.Processes).To(HaveLen(1))
			Expect(deadlock.Processes[0]).To(ContainSubstring("blocked"))
			Expect(deadlock.Processes[0]).To(ContainSubstring("full"))
		})
	})

	Context("register pairs", func() {
		It("should carry values across clock domains", func() {
			fast := kernel.NewClock("fast", 2000)
			pair := sim.NewRegisterPair[int]("xfer", clock, fast)

			flag := sim.NewFlagSet("go", clock, true)
			writer := clock.NewProcess("writer", func() sim.Result {
				pair.Out.Write(99)
				flag.Clear()
				return sim.Success
			})
			flag.Sensitive(writer)

			got := 0
			reader := fast.NewProcess("reader", func() sim.Result {
				got = pair.In.Read()
				pair.In.Clear()
				return sim.Success
			})
			pair.In.Sensitive(reader)

			Expect(kernel.Run(100)).To(Succeed())
			Expect(got).To(Equal(99))
			Expect(pair.Out.Empty()).To(BeTrue())
			Expect(pair.In.Empty()).To(BeTrue())
		})
	})
})
