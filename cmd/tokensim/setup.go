package main

import (
	"fmt"

	"github.com/sarchlab/tokensim/config"
	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/bankedmem"
	"github.com/sarchlab/tokensim/mem/cdma"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/mem/parallelmem"
	"github.com/sarchlab/tokensim/mem/zlcdma"
	"github.com/sarchlab/tokensim/monitoring"
	"github.com/sarchlab/tokensim/sampling"
	"github.com/sarchlab/tokensim/tracing"
	"github.com/sarchlab/tokensim/tslog"

	"github.com/sarchlab/tokensim/sim"
)

// lineReporter is implemented by the ring memories for the line command.
type lineReporter interface {
	LineReport(addr mem.Address) string
}

// lineTracer is implemented by the ring memories for address tracing.
type lineTracer interface {
	TraceLine(addr mem.Address, enable bool)
}

type simulation struct {
	kernel  *sim.Kernel
	clock   *sim.Clock
	logger  *tslog.Logger
	memory  mem.Memory
	gens    []*trafficGen
	monitor *monitoring.Monitor
	tracer  *tracing.Tracer
	breaks  *sampling.Breakpoints
	samples *sampling.Registry
}

func buildSimulation() (*simulation, error) {
	logger := newLogger()
	store, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s := &simulation{
		kernel:  sim.NewKernel(),
		logger:  logger,
		breaks:  sampling.NewBreakpoints(),
		samples: sampling.NewRegistry(),
	}
	s.kernel.SetLogger(logger)
	s.clock = s.kernel.NewClock("memclock", 1000)
	s.monitor = monitoring.NewMonitor(s.kernel, logger)

	lineSize, err := store.GetIntDefault("CacheLineSize", 64)
	if err != nil {
		return nil, err
	}
	bufferSize, err := store.GetIntDefault("BufferSize", 16)
	if err != nil {
		return nil, err
	}
	baseTime, err := store.GetIntDefault("BaseRequestTime", 2)
	if err != nil {
		return nil, err
	}
	perLine, err := store.GetIntDefault("TimePerLine", 4)
	if err != nil {
		return nil, err
	}

	switch flagBackend {
	case "cdma":
		builder, err := cdma.MakeBuilder().
			WithKernel(s.kernel).
			WithClock(s.clock).
			WithLogger(logger).
			WithConfig(store)
		if err != nil {
			return nil, err
		}
		memsys, err := builder.Build("memory")
		if err != nil {
			return nil, err
		}
		s.memory = memsys
	case "zlcdma":
		builder, err := zlcdma.MakeBuilder().
			WithKernel(s.kernel).
			WithClock(s.clock).
			WithLogger(logger).
			WithCacheInjection(flagInjected).
			WithConfig(store)
		if err != nil {
			return nil, err
		}
		memsys, err := builder.Build("memory")
		if err != nil {
			return nil, err
		}
		s.memory = memsys
	case "banked":
		numBanks, err := store.GetIntDefault("NumBanks", 8)
		if err != nil {
			return nil, err
		}
		selector := store.GetStringDefault("BankSelector", "DIRECT")
		memsys, err := bankedmem.New("memory", s.kernel, s.clock, nil,
			lineSize, numBanks, selector,
			sim.CycleNo(baseTime), sim.CycleNo(perLine), bufferSize)
		if err != nil {
			return nil, err
		}
		s.memory = memsys
	case "parallel":
		s.memory = parallelmem.New("memory", s.kernel, s.clock, nil,
			lineSize, sim.CycleNo(baseTime), sim.CycleNo(perLine), bufferSize)
	case "ddr":
		numIf, err := store.GetIntDefault("NumInterfaces", 2)
		if err != nil {
			return nil, err
		}
		selector := store.GetStringDefault("BankSelector", "DIRECT")
		memsys, err := ddr.NewMemory("memory", s.kernel, s.clock, nil,
			lineSize, numIf, bufferSize, selector, ddr.DefaultChannelConfig())
		if err != nil {
			return nil, err
		}
		s.memory = memsys
	default:
		return nil, &config.Error{Key: "backend", Reason: "unknown backend " + flagBackend}
	}

	// A small shared working set keeps the coherence traffic interesting.
	var workingSet []mem.Address
	for i := 0; i < 32; i++ {
		workingSet = append(workingSet, mem.Address(i*lineSize))
	}
	for i := 0; i < flagClients; i++ {
		g := newTrafficGen(fmt.Sprintf("client%d", i), s.kernel, s.clock, s.memory,
			flagSeed+int64(i), flagOps, workingSet)
		g.breaks = s.breaks
		s.gens = append(s.gens, g)
		s.samples.RegisterCounter(fmt.Sprintf("client%d.reads", i), &g.readsDone)
		s.samples.RegisterCounter(fmt.Sprintf("client%d.writes", i), &g.writesDone)
	}

	switch memsys := s.memory.(type) {
	case *cdma.System:
		if err := memsys.Initialize(); err != nil {
			return nil, err
		}
		s.monitor.RegisterComponent(memsys)
		for _, c := range memsys.Caches() {
			s.monitor.RegisterComponent(c)
		}
		for _, d := range memsys.Directories() {
			s.monitor.RegisterComponent(d)
		}
		for _, r := range memsys.RootDirectories() {
			s.monitor.RegisterComponent(r)
		}
	case *zlcdma.System:
		if err := memsys.Initialize(); err != nil {
			return nil, err
		}
		s.monitor.RegisterComponent(memsys)
		for _, c := range memsys.Caches() {
			s.monitor.RegisterComponent(c)
		}
		for _, d := range memsys.Directories() {
			s.monitor.RegisterComponent(d)
		}
		for _, r := range memsys.RootDirectories() {
			s.monitor.RegisterComponent(r)
		}
	}

	if flagTraceDB != "" {
		backend, err := tracing.NewSQLiteBackend(flagTraceDB)
		if err != nil {
			return nil, err
		}
		s.tracer = tracing.NewTracer(backend)
		for _, g := range s.gens {
			g.tracer = s.tracer
		}
	}
	if flagMonitor != "" {
		if _, err := s.monitor.StartServer(flagMonitor); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *simulation) close() {
	if s.tracer != nil {
		s.tracer.Close()
	}
	s.monitor.StopServer()
}
