// Package cdma implements the token-coherence memory hierarchy: L2
// caches, directories and root directories connected by unidirectional
// rings, backed by DDR channel timing models.
//
// Coherence is count based. Every line has a fixed budget of tokens equal
// to the number of caches; a holder of all tokens may write freely, a
// holder of one or more may read, and the budget is conserved between
// caches, directories and in-flight messages. When a line is nowhere in
// the system the whole budget rests implicitly at its root directory.
package cdma

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/mem/ddr"
	"github.com/sarchlab/tokensim/sim"
	"github.com/sarchlab/tokensim/tslog"
)

type clientMapping struct {
	cache *Cache
	id    int
}

// System is the CDMA memory. It implements mem.Memory. Caches are created
// on demand as clients register; Initialize builds the rings once the
// client population is known.
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

	pool    *MsgPool
	backing *mem.Backing
	ddr     ddr.Registry

	caches []*Cache
	dirs   []*Directory
	roots  []*RootDirectory

	clientMap  []clientMapping
	numClients int

	traces map[mem.Address]bool

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

// DDRChannels returns the channel registry.
func (s *System) DDRChannels() ddr.Registry { return s.ddr }

func (s *System) cacheByNodeID(id NodeID) *Cache {
	return s.caches[id]
}

// RegisterClient attaches a client. Clients pack into caches in
// registration order, NumClientsPerL2Cache per cache; a grouped
// registration shares the slot of the previous client. New caches (and,
// in two-level topologies, their directories) appear as needed.
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

// Statistics aggregates traffic counters including external DDR accesses.
func (s *System) Statistics() mem.Statistics {
	st := s.stats
	for _, r := range s.roots {
		nr, nw := r.Statistics()
		st.ExternalReads += nr
		st.ExternalWrites += nw
	}
	return st
}

// Initialize builds the ring topology. With at most NumL2CachesPerRing
// caches the system is a single ring of caches and roots; otherwise the
// caches form directory-anchored subrings under a top ring of directories
// and roots.
func (s *System) Initialize() error {
	if s.initialized {
		return nil
	}
	if len(s.caches) == 0 {
		return fmt.Errorf("cdma %s: no clients registered", s.name)
	}

	if len(s.caches) <= s.numCachesPerRing {
		s.buildOneLevel()
	} else {
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
		Log("memory rings constructed")
	return nil
}

// placeRing distributes the roots evenly around a ring of n+len(roots)
// slots and fills the gaps with the given nodes, then connects the ring.
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

	// Chain each subring's caches in ID order towards its directory.
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
		first := &s.caches[i*s.numCachesPerRing].Node
		last := &s.caches[lastIdx-1].Node
		d.ConnectRing(first, last)
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

// TraceLine enables or disables address tracing for the line containing
// addr.
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

// traceLine logs a protocol event when the address is traced. Events are
// emitted on the commit run only so each fires once per cycle.
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
		"The CDMA memory is a hierarchical ring network of caches, each\n"+
			"servicing several clients. Rings of caches connect through\n"+
			"directories to a top-level ring where root directories provide\n"+
			"access to off-chip storage.\n\n"+
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

// LineReport renders the distributed state of one line across roots,
// directories and caches, for the monitor's line command.
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
