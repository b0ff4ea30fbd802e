// Package ddr models DDR channel timing: row activation and precharge,
// CAS latency, and burst transfer, per rank and bank. The channel times
// requests only; functional data lives in the shared backing store.
package ddr

import (
	"fmt"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

// ChannelConfig carries the timing and geometry parameters of one
// channel.
type ChannelConfig struct {
	// TRCD is the row-to-column (activate) delay in cycles.
	TRCD uint64
	// TRP is the row precharge delay in cycles.
	TRP uint64
	// TCL is the CAS latency in cycles.
	TCL uint64
	// TWR is the write recovery time in cycles.
	TWR uint64

	// ColBits and RankBits slice the address into column, bank and rank
	// fields; the remainder above is the row.
	ColBits  int
	BankBits int
	RankBits int

	// BytesPerCycle is the burst transfer rate.
	BytesPerCycle int

	// QueueSize bounds the request queue.
	QueueSize int
}

// DefaultChannelConfig resembles a DDR3-1600 channel.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		TRCD:          11,
		TRP:           11,
		TCL:           11,
		TWR:           12,
		ColBits:       10,
		BankBits:      3,
		RankBits:      1,
		BytesPerCycle: 16,
		QueueSize:     16,
	}
}

// Callback is implemented by the channel's single client. OnReadCompleted
// fires in request order; false means the client cannot take the
// completion this cycle and the channel retries.
type Callback interface {
	OnReadCompleted() bool
}

type channelRequest struct {
	write bool
	addr  mem.Address
	size  int
}

// Channel serializes requests of one client with open-row tracking.
type Channel struct {
	name  string
	clock *sim.Clock
	cfg   ChannelConfig

	callback Callback

	requests *sim.Buffer[channelRequest]
	busy     *sim.Flag
	current  channelRequest
	done     sim.CycleNo

	// openRow remembers the active row per (rank, bank); -1 when the
	// bank is precharged.
	openRow []int64

	pPickup   *sim.Process
	pComplete *sim.Process

	nreads  uint64
	nwrites uint64
}

// NewChannel creates an idle channel.
func NewChannel(name string, clock *sim.Clock, cfg ChannelConfig) *Channel {
	ch := &Channel{
		name:  name,
		clock: clock,
		cfg:   cfg,
	}
	ch.requests = sim.NewBuffer[channelRequest](name+".requests", clock, cfg.QueueSize)
	ch.busy = sim.NewFlag(name+".busy", clock)
	ch.openRow = make([]int64, 1<<(cfg.BankBits+cfg.RankBits))
	for i := range ch.openRow {
		ch.openRow[i] = -1
	}
	ch.pPickup = clock.NewProcess(name+".pickup", ch.doPickup)
	ch.pComplete = clock.NewProcess(name+".complete", ch.doComplete)
	ch.requests.Sensitive(ch.pPickup)
	ch.busy.Sensitive(ch.pComplete)
	ch.pPickup.SetStorageTraces(ch.busy.Name())
	return ch
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// CompletionProcess returns the process that fires the read callback, so
// clients can register it with their arbitrators.
func (ch *Channel) CompletionProcess() *sim.Process { return ch.pComplete }

// SetClient binds the completion callback. The channel has exactly one
// client (its root directory or memory interface).
func (ch *Channel) SetClient(cb Callback) {
	if ch.callback != nil {
		sim.PanicInvariantf(ch, "client already bound")
	}
	ch.callback = cb
}

// Read queues a timed read. False means the channel queue is full.
func (ch *Channel) Read(addr mem.Address, size int) bool {
	return ch.requests.Push(channelRequest{addr: addr, size: size})
}

// Write queues a timed write. False means the channel queue is full.
func (ch *Channel) Write(addr mem.Address, size int) bool {
	return ch.requests.Push(channelRequest{write: true, addr: addr, size: size})
}

// Busy reports whether requests are queued or in service.
func (ch *Channel) Busy() bool {
	return ch.busy.IsSet() || !ch.requests.Empty()
}

// Statistics returns reads and writes served.
func (ch *Channel) Statistics() (reads, writes uint64) {
	return ch.nreads, ch.nwrites
}

func (ch *Channel) bankOf(addr mem.Address) int {
	return int(uint64(addr)>>ch.cfg.ColBits) & (len(ch.openRow) - 1)
}

func (ch *Channel) rowOf(addr mem.Address) int64 {
	return int64(uint64(addr) >> (ch.cfg.ColBits + ch.cfg.BankBits + ch.cfg.RankBits))
}

// latency computes the service time of a request against the current row
// state and records the newly opened row when committing.
func (ch *Channel) latency(req channelRequest) uint64 {
	bank := ch.bankOf(req.addr)
	row := ch.rowOf(req.addr)
	var cycles uint64
	switch {
	case ch.openRow[bank] == row:
		// Row hit.
	case ch.openRow[bank] < 0:
		cycles += ch.cfg.TRCD
	default:
		cycles += ch.cfg.TRP + ch.cfg.TRCD
	}
	if req.write {
		cycles += ch.cfg.TWR
	} else {
		cycles += ch.cfg.TCL
	}
	burst := (req.size + ch.cfg.BytesPerCycle - 1) / ch.cfg.BytesPerCycle
	cycles += uint64(burst)
	if ch.clock.Kernel().Committing() {
		ch.openRow[bank] = row
	}
	return cycles
}

func (ch *Channel) doPickup() sim.Result {
	if ch.busy.IsSet() {
		return sim.Delayed
	}
	req := ch.requests.Front()
	delay := ch.latency(req)
	if !ch.busy.Set() {
		return sim.Failed
	}
	ch.requests.Pop()
	if ch.clock.Kernel().Committing() {
		ch.current = req
		ch.done = ch.clock.Cycle() + sim.CycleNo(delay)
	}
	return sim.Success
}

func (ch *Channel) doComplete() sim.Result {
	if ch.clock.Cycle() < ch.done {
		return sim.Delayed
	}
	if ch.current.write {
		ch.busy.Clear()
		if ch.clock.Kernel().Committing() {
			ch.nwrites++
		}
		return sim.Success
	}
	if ch.callback == nil {
		sim.PanicInvariantf(ch, "read completion without client")
	}
	if !ch.callback.OnReadCompleted() {
		ch.clock.Kernel().DeadlockWritef("client cannot take DDR read completion")
		return sim.Failed
	}
	ch.busy.Clear()
	if ch.clock.Kernel().Committing() {
		ch.nreads++
	}
	return sim.Success
}

// Registry is the set of channels available to root directories.
type Registry []*Channel

// NewRegistry creates n channels on the same clock.
func NewRegistry(name string, clock *sim.Clock, n int, cfg ChannelConfig) Registry {
	r := make(Registry, n)
	for i := range r {
		r[i] = NewChannel(fmt.Sprintf("%s.%d", name, i), clock, cfg)
	}
	return r
}
