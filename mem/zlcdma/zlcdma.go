// Package zlcdma implements the token-acquisition variant of the ring
// memory hierarchy. Reads gather data and tokens as they circulate;
// writes collect every token of a line with ACQUIRE_TOKENS messages, and
// the designated priority token linearizes racing writers. Token
// movement the directories cannot observe on their ring interfaces is
// reported with LOCALDIR_NOTIFICATION messages.
package zlcdma

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/tokensim/config"
	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/sim"
	"github.com/sarchlab/tokensim/tslog"
)

type clientMapping struct {
	cache *Cache
	id    int
}

// System is the ZLCDMA memory. It implements mem.Memory.
type System struct {
	name   string
	kernel *sim.Kernel
	clock  *sim.Clock
	logger *tslog.Logger

	lineSize           int
	assoc              int
	sets               int
	numClientsPerCache int
	numCachesPerRing   int
	numRoots           int
	selectorName       string
	requestQueueSize   int
	externalQueueSize  int
	injection          bool

	pool    *MsgPool
	backing *mem.Backing
	ddr     ddr.Registry

	caches []*Cache
	dirs   []*Directory
	roots  []*RootDirectory

	clientMap  []clientMapping
	numClients int

	traces map[mem.Address]bool

	twoLevel    bool
	initialized bool
	stats       mem.Statistics
}

// Name returns the system name.
func (s *System) Name() string { return s.name }

// LineSize returns the coherence granularity in bytes.
func (s *System) LineSize() int { return s.lineSize }

// TotalTokens returns the token budget T, one per cache.
func (s *System) TotalTokens() int { return len(s.caches) }

// Backing exposes the functional memory contents.
func (s *System) Backing() *mem.Backing { return s.backing }

// Caches returns the caches in ID order.
func (s *System) Caches() []*Cache { return s.caches }

// Directories returns the directories in creation order.
func (s *System) Directories() []*Directory { return s.dirs }

// RootDirectories returns the roots in stripe order.
func (s *System) RootDirectories() []*RootDirectory { return s.roots }

func (s *System) cacheByNodeID(id NodeID) *Cache {
	return s.caches[id]
}

// RegisterClient attaches a client, creating caches on demand.
func (s *System) RegisterClient(client mem.Client, proc *sim.Process, writeTraces, readTraces []string, grouped bool) mem.MCID {
	if s.initialized {
		sim.PanicInvariantf(s, "client registration after Initialize")
	}
	id := mem.MCID(len(s.clientMap))

	var abstract int
	if grouped {
		abstract = s.numClients - 1
	} else {
		abstract = s.numClients
		s.numClients++
	}
	cacheID := abstract / s.numClientsPerCache
	if cacheID == len(s.caches) {
		cache := newCache(fmt.Sprintf("%s.cache%d", s.name, cacheID), s, s.clock, NodeID(cacheID))
		s.caches = append(s.caches, cache)
	}
	cache := s.caches[cacheID]
	idInCache := cache.RegisterClient(client, proc, writeTraces, readTraces)
	s.clientMap = append(s.clientMap, clientMapping{cache: cache, id: idInCache})
	return id
}

// UnregisterClient detaches a client.
func (s *System) UnregisterClient(id mem.MCID) {
	m := s.clientMap[id]
	m.cache.UnregisterClient(m.id)
}

// Read forwards a line read to the client's cache.
func (s *System) Read(id mem.MCID, addr mem.Address) bool {
	if s.kernel.Committing() {
		s.stats.Reads++
		s.stats.ReadBytes += uint64(s.lineSize)
	}
	m := s.clientMap[id]
	return m.cache.Read(m.id, addr)
}

// Write forwards a masked line write to the client's cache.
func (s *System) Write(id mem.MCID, addr mem.Address, data []byte, mask []bool, wid mem.WClientID) bool {
	if s.kernel.Committing() {
		s.stats.Writes++
		s.stats.WriteBytes += uint64(s.lineSize)
	}
	m := s.clientMap[id]
	return m.cache.Write(m.id, addr, data, mask, wid)
}

// Statistics aggregates traffic counters including external accesses.
func (s *System) Statistics() mem.Statistics {
	st := s.stats
	for _, r := range s.roots {
		nr, nw := r.Statistics()
		st.ExternalReads += nr
		st.ExternalWrites += nw
	}
	return st
}

// Initialize builds the ring topology.
func (s *System) Initialize() error {
	if s.initialized {
		return nil
	}
	if len(s.caches) == 0 {
		return fmt.Errorf("zlcdma %s: no clients registered", s.name)
	}

	if len(s.caches) <= s.numCachesPerRing {
		s.buildOneLevel()
	} else {
		s.twoLevel = true
		if err := s.buildTwoLevel(); err != nil {
			return err
		}
	}
	s.initialized = true
	s.logger.Info().
		Str("comp", s.name).
		Int("caches", len(s.caches)).
		Int("directories", len(s.dirs)).
		Int("roots", len(s.roots)).
		Bool("injection", s.injection).
		Log("memory rings constructed")
	return nil
}

func (s *System) placeRing(inner []*Node) {
	nodes := make([]*Node, len(s.roots)+len(inner))
	for i, r := range s.roots {
		pos := i*len(inner)/len(s.roots) + i
		for nodes[pos] != nil {
			pos = (pos + 1) % len(nodes)
		}
		nodes[pos] = &r.Node
	}
	for p, i := 0, 0; i < len(inner); i, p = i+1, p+1 {
		for nodes[p] != nil {
			p++
		}
		nodes[p] = inner[i]
	}
	for i := range nodes {
		next := nodes[(i+1)%len(nodes)]
		prev := nodes[(i+len(nodes)-1)%len(nodes)]
		nodes[i].Connect(next, prev)
	}
}

func (s *System) buildOneLevel() {
	inner := make([]*Node, len(s.caches))
	for i, c := range s.caches {
		inner[i] = &c.Node
	}
	s.placeRing(inner)
}

func (s *System) buildTwoLevel() error {
	numDirs := (len(s.caches) + s.numCachesPerRing - 1) / s.numCachesPerRing
	for i := 0; i < numDirs; i++ {
		s.dirs = append(s.dirs, newDirectory(fmt.Sprintf("%s.dir%d", s.name, i), s, s.clock))
	}

	for i, c := range s.caches {
		dir := s.dirs[i/s.numCachesPerRing]
		first := i%s.numCachesPerRing == 0
		last := i%s.numCachesPerRing == s.numCachesPerRing-1 || i == len(s.caches)-1

		next := dir.Bottom
		if !last {
			next = &s.caches[i+1].Node
		}
		prev := dir.Bottom
		if !first {
			prev = &s.caches[i-1].Node
		}
		c.Connect(next, prev)
	}

	for i, d := range s.dirs {
		lastIdx := i*s.numCachesPerRing + s.numCachesPerRing
		if lastIdx > len(s.caches) {
			lastIdx = len(s.caches)
		}
		d.ConnectRing(&s.caches[i*s.numCachesPerRing].Node, &s.caches[lastIdx-1].Node)
		if err := d.Initialize(); err != nil {
			return err
		}
	}

	inner := make([]*Node, len(s.dirs))
	for i, d := range s.dirs {
		inner[i] = d.Top
	}
	s.placeRing(inner)
	return nil
}

// TraceLine enables or disables address tracing for a line.
func (s *System) TraceLine(addr mem.Address, enable bool) {
	line := addr / mem.Address(s.lineSize) * mem.Address(s.lineSize)
	if enable {
		s.traces[line] = true
	} else {
		delete(s.traces, line)
	}
}

// TracedLines returns the traced line addresses.
func (s *System) TracedLines() []mem.Address {
	lines := make([]mem.Address, 0, len(s.traces))
	for a := range s.traces {
		lines = append(lines, a)
	}
	return lines
}

func (s *System) traceLine(addr mem.Address, format string, args ...interface{}) {
	if len(s.traces) == 0 || !s.kernel.Committing() {
		return
	}
	line := addr / mem.Address(s.lineSize) * mem.Address(s.lineSize)
	if !s.traces[line] {
		return
	}
	s.logger.Info().
		Str("addr", line.String()).
		Uint64("cycle", uint64(s.clock.Cycle())).
		Log(fmt.Sprintf(format, args...))
}

// Info describes the memory for the monitor.
func (s *System) Info(w io.Writer, _ []string) {
	fmt.Fprintf(w,
		"The ZLCDMA memory is a hierarchical ring network of caches using\n"+
			"token acquisition for writes; the priority token linearizes\n"+
			"concurrent writers.\n\n"+
			"%d caches, %d directories, %d root directories, %d tokens per line\n",
		len(s.caches), len(s.dirs), len(s.roots), s.TotalTokens())
}

// Inspect prints overall statistics.
func (s *System) Inspect(w io.Writer, _ []string) {
	st := s.Statistics()
	fmt.Fprintf(w, "reads: %d (%d bytes)\nwrites: %d (%d bytes)\n"+
		"external reads: %d\nexternal writes: %d\n",
		st.Reads, st.ReadBytes, st.Writes, st.WriteBytes,
		st.ExternalReads, st.ExternalWrites)
}

// LineReport renders the distributed state of one line.
func (s *System) LineReport(addr mem.Address) string {
	var b strings.Builder
	line := addr / mem.Address(s.lineSize) * mem.Address(s.lineSize)
	for _, r := range s.roots {
		if l := r.FindLine(line); l != nil {
			fmt.Fprintf(&b, "%s: %s, %d tokens\n", r.Name(), l.State, l.Tokens)
		}
	}
	for _, d := range s.dirs {
		if d.HasLine(line) {
			fmt.Fprintf(&b, "%s: present, %d tokens\n", d.Name(), d.Tokens(line))
		}
	}
	for _, c := range s.caches {
		if l := c.FindLine(line); l != nil {
			fmt.Fprintf(&b, "%s: %s, %d tokens\n", c.Name(), l.State, l.Tokens)
		}
	}
	if b.Len() == 0 {
		return "line not present in the system\n"
	}
	return b.String()
}

// Builder constructs a ZLCDMA memory system.
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
	injection          bool
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
func (b Builder) WithKernel(k *sim.Kernel) Builder { b.kernel = k; return b }

// WithClock sets the clock domain.
func (b Builder) WithClock(c *sim.Clock) Builder { b.clock = c; return b }

// WithLogger sets the logger.
func (b Builder) WithLogger(l *tslog.Logger) Builder { b.logger = l; return b }

// WithBacking shares a functional backing store.
func (b Builder) WithBacking(backing *mem.Backing) Builder { b.backing = backing; return b }

// WithLineSize sets the cache line size in bytes.
func (b Builder) WithLineSize(n int) Builder { b.lineSize = n; return b }

// WithGeometry sets the sets and associativity of each cache.
func (b Builder) WithGeometry(sets, assoc int) Builder {
	b.sets = sets
	b.assoc = assoc
	return b
}

// WithClientsPerCache sets how many clients pack into one cache.
func (b Builder) WithClientsPerCache(n int) Builder { b.numClientsPerCache = n; return b }

// WithCachesPerRing sets the directory fan-in.
func (b Builder) WithCachesPerRing(n int) Builder { b.numCachesPerRing = n; return b }

// WithRootDirectories sets the number of roots (and DDR channels).
func (b Builder) WithRootDirectories(n int) Builder { b.numRoots = n; return b }

// WithBankSelector names the set index mapping of the caches.
func (b Builder) WithBankSelector(name string) Builder { b.selectorName = name; return b }

// WithCacheInjection lets passing evictions merge into sibling caches.
func (b Builder) WithCacheInjection(enable bool) Builder { b.injection = enable; return b }

// WithDDRConfig sets the DDR channel timing.
func (b Builder) WithDDRConfig(cfg ddr.ChannelConfig) Builder { b.ddrConfig = cfg; return b }

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
	b.injection, err = store.GetBoolDefault("EnableCacheInjection", b.injection)
	return b, err
}

// Build validates the geometry and creates the system.
func (b Builder) Build(name string) (*System, error) {
	if b.kernel == nil || b.clock == nil {
		return nil, &config.Error{Key: name, Reason: "memory needs a kernel and a clock"}
	}
	if !mem.IsPowerOfTwo(b.lineSize) {
		return nil, &config.Error{Key: "CacheLineSize", Reason: fmt.Sprintf("%d is not a power of two", b.lineSize)}
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
		injection:          b.injection,
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
