package cdma

import (
	"fmt"

	"github.com/sarchlab/tokensim/config"
	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/sim"
	"github.com/sarchlab/tokensim/tslog"
)

// Builder constructs a CDMA memory system.
type Builder struct {
	kernel  *sim.Kernel
	clock   *sim.Clock
	logger  *tslog.Logger
	backing *mem.Backing

	lineSize           int
	assoc              int
	sets               int
	numClientsPerCache int
	numCachesPerRing   int
	numRoots           int
	selectorName       string
	requestQueueSize   int
	externalQueueSize  int
	ddrChannelBase     int
	ddrConfig          ddr.ChannelConfig
}

// MakeBuilder returns a builder with the default geometry.
func MakeBuilder() Builder {
	return Builder{
		lineSize:           64,
		assoc:              4,
		sets:               128,
		numClientsPerCache: 4,
		numCachesPerRing:   8,
		numRoots:           1,
		selectorName:       "XORFOLD",
		requestQueueSize:   16,
		externalQueueSize:  16,
		ddrConfig:          ddr.DefaultChannelConfig(),
	}
}

// WithKernel sets the simulation kernel.
func (b Builder) WithKernel(k *sim.Kernel) Builder {
	b.kernel = k
	return b
}

// WithClock sets the clock domain the memory runs in.
func (b Builder) WithClock(c *sim.Clock) Builder {
	b.clock = c
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(l *tslog.Logger) Builder {
	b.logger = l
	return b
}

// WithBacking shares a functional backing store. A fresh one is created
// when unset.
func (b Builder) WithBacking(backing *mem.Backing) Builder {
	b.backing = backing
	return b
}

// WithLineSize sets the cache line size in bytes.
func (b Builder) WithLineSize(n int) Builder {
	b.lineSize = n
	return b
}

// WithGeometry sets the sets and associativity of each cache.
func (b Builder) WithGeometry(sets, assoc int) Builder {
	b.sets = sets
	b.assoc = assoc
	return b
}

// WithClientsPerCache sets how many clients pack into one cache.
func (b Builder) WithClientsPerCache(n int) Builder {
	b.numClientsPerCache = n
	return b
}

// WithCachesPerRing sets the directory fan-in.
func (b Builder) WithCachesPerRing(n int) Builder {
	b.numCachesPerRing = n
	return b
}

// WithRootDirectories sets the number of roots (and DDR channels).
func (b Builder) WithRootDirectories(n int) Builder {
	b.numRoots = n
	return b
}

// WithBankSelector names the set index mapping of the caches.
func (b Builder) WithBankSelector(name string) Builder {
	b.selectorName = name
	return b
}

// WithDDRConfig sets the DDR channel timing.
func (b Builder) WithDDRConfig(cfg ddr.ChannelConfig) Builder {
	b.ddrConfig = cfg
	return b
}

// WithQueueSizes sets the client request and external memory queues.
func (b Builder) WithQueueSizes(request, external int) Builder {
	b.requestQueueSize = request
	b.externalQueueSize = external
	return b
}

// WithConfig reads the recognized options from a configuration store.
func (b Builder) WithConfig(store *config.Store) (Builder, error) {
	var err error
	read := func(key string, def int) int {
		if err != nil {
			return 0
		}
		var v int
		v, err = store.GetIntDefault(key, def)
		return v
	}
	b.lineSize = read("CacheLineSize", b.lineSize)
	b.sets = read("L2CacheNumSets", b.sets)
	b.assoc = read("L2CacheAssociativity", b.assoc)
	b.numClientsPerCache = read("NumClientsPerL2Cache", b.numClientsPerCache)
	b.numCachesPerRing = read("NumL2CachesPerRing", b.numCachesPerRing)
	b.numRoots = read("NumRootDirectories", b.numRoots)
	b.requestQueueSize = read("BufferSize", b.requestQueueSize)
	b.ddrChannelBase = read("DDRChannelID", b.ddrChannelBase)
	if err != nil {
		return b, err
	}
	b.selectorName = store.GetStringDefault("BankSelector", b.selectorName)
	return b, nil
}

// Build validates the geometry and creates the system with its root
// directories and DDR channels. Clients register afterwards; Initialize
// closes the rings.
func (b Builder) Build(name string) (*System, error) {
	if b.kernel == nil || b.clock == nil {
		return nil, &config.Error{Key: name, Reason: "memory needs a kernel and a clock"}
	}
	if !mem.IsPowerOfTwo(b.lineSize) {
		return nil, &config.Error{Key: "CacheLineSize", Reason: fmt.Sprintf("%d is not a power of two", b.lineSize)}
	}
	if b.lineSize > mem.MaxLineSize {
		return nil, &config.Error{Key: "CacheLineSize", Reason: fmt.Sprintf("%d exceeds the maximum operation size", b.lineSize)}
	}
	if !mem.IsPowerOfTwo(b.numRoots) {
		return nil, &config.Error{Key: "NumRootDirectories", Reason: fmt.Sprintf("%d is not a power of two", b.numRoots)}
	}
	if b.assoc < 1 || b.sets < 1 || b.numClientsPerCache < 1 || b.numCachesPerRing < 1 {
		return nil, &config.Error{Key: name, Reason: "cache geometry values must be positive"}
	}
	if _, err := mem.MakeBankSelector(b.selectorName, b.sets); err != nil {
		return nil, &config.Error{Key: "BankSelector", Reason: err.Error()}
	}

	logger := b.logger
	if logger == nil {
		logger = tslog.Discard()
	}
	backing := b.backing
	if backing == nil {
		backing = mem.NewBacking()
	}

	s := &System{
		name:               name,
		kernel:             b.kernel,
		clock:              b.clock,
		logger:             logger,
		lineSize:           b.lineSize,
		assoc:              b.assoc,
		sets:               b.sets,
		numClientsPerCache: b.numClientsPerCache,
		numCachesPerRing:   b.numCachesPerRing,
		numRoots:           b.numRoots,
		selectorName:       b.selectorName,
		requestQueueSize:   b.requestQueueSize,
		externalQueueSize:  b.externalQueueSize,
		pool:               NewMsgPool(b.lineSize),
		backing:            backing,
		traces:             make(map[mem.Address]bool),
	}

	s.ddr = ddr.NewRegistry(name+".ddr", b.clock, b.numRoots, b.ddrConfig)
	for i := 0; i < b.numRoots; i++ {
		channel := s.ddr[(i+b.ddrChannelBase)%b.numRoots]
		root := newRootDirectory(fmt.Sprintf("%s.rootdir%d", name, i), s, b.clock, i, channel)
		s.roots = append(s.roots, root)
	}
	return s, nil
}
