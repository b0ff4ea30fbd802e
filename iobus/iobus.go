// Package iobus implements the typed I/O interconnect at the device
// boundary. Devices register in order and are addressed by the ID they
// received; a name index supports glob lookup for the monitor.
package iobus

import (
	"fmt"
	"path"
	"strings"

	"github.com/sarchlab/tokensim/mem"
	"github.com/sarchlab/tokensim/sim"
)

// DeviceID addresses one device on the interconnect.
type DeviceID int

// MsgKind discriminates the I/O message flavours.
type MsgKind int

const (
	ReadRequest MsgKind = iota
	ReadResponse
	WriteRequest
	InterruptRequest
	Notification
	ActiveMessage
)

func (k MsgKind) String() string {
	switch k {
	case ReadRequest:
		return "READ_REQUEST"
	case ReadResponse:
		return "READ_RESPONSE"
	case WriteRequest:
		return "WRITE_REQUEST"
	case InterruptRequest:
		return "INTERRUPT_REQUEST"
	case Notification:
		return "NOTIFICATION"
	case ActiveMessage:
		return "ACTIVE_MESSAGE"
	}
	return "INVALID"
}

// Msg is one I/O message.
type Msg struct {
	Kind MsgKind
	From DeviceID
	To   DeviceID

	Address mem.Address
	Size    int
	Data    []byte

	// Channel distinguishes interrupt and notification channels.
	Channel int
	// Tag carries the read-response matching tag.
	Tag int
}

// ProtocolError reports a message a device does not implement. It is not
// fatal to the kernel: the bus drops the message and logs a warning. The
// originating device is not notified.
type ProtocolError struct {
	Device string
	Kind   MsgKind
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("device %s does not implement %s", e.Device, e.Kind)
}

// Device is the client half of the interconnect. Handlers return false
// for back pressure; unsupported kinds return a ProtocolError from
// OnIOMessage at delivery time.
type Device interface {
	sim.Named
	OnIOMessage(msg *Msg) (bool, error)
}

// Bus is the interconnect. Delivery is one message per device per cycle
// through per-device buffers.
type Bus struct {
	name  string
	clock *sim.Clock

	devices []Device
	queues  []*sim.Buffer[*Msg]
	procs   []*sim.Process

	sendGuards []*sim.ArbitratedService
}

// New creates an empty interconnect.
func New(name string, clock *sim.Clock) *Bus {
	return &Bus{name: name, clock: clock}
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

const deviceQueueSize = 4

// Register attaches a device and returns its ID, assigned in order of
// registration.
func (b *Bus) Register(dev Device) DeviceID {
	id := DeviceID(len(b.devices))
	qname := fmt.Sprintf("%s.dev%d", b.name, id)
	queue := sim.NewBuffer[*Msg](qname+".queue", b.clock, deviceQueueSize)
	proc := b.clock.NewProcess(qname+".deliver", func() sim.Result {
		return b.deliver(id)
	})
	queue.Sensitive(proc)
	guard := b.clock.NewArbitratedService(qname+".p_send", sim.DisciplineCyclic)

	b.devices = append(b.devices, dev)
	b.queues = append(b.queues, queue)
	b.procs = append(b.procs, proc)
	b.sendGuards = append(b.sendGuards, guard)
	return id
}

// AddSender registers a process that may send to the given device, for
// arbitration of the device's queue.
func (b *Bus) AddSender(to DeviceID, proc *sim.Process) {
	b.sendGuards[to].AddProcess(proc)
}

// Send queues a message for its destination. False means back pressure.
// The calling process must have been registered with AddSender.
func (b *Bus) Send(msg *Msg) bool {
	if int(msg.To) >= len(b.devices) {
		sim.PanicInvariantf(b, "send to unknown device %d", msg.To)
	}
	if !b.sendGuards[msg.To].Invoke() {
		return false
	}
	return b.queues[msg.To].Push(msg)
}

func (b *Bus) deliver(id DeviceID) sim.Result {
	queue := b.queues[id]
	msg := queue.Front()
	ok, err := b.devices[id].OnIOMessage(msg)
	if err != nil {
		// Unsupported message: drop it and log a warning. The originator
		// is not notified.
		queue.Pop()
		if b.clock.Kernel().Committing() {
			b.clock.Kernel().Logger().Warning().
				Str("device", b.devices[id].Name()).
				Str("kind", msg.Kind.String()).
				Log("device does not implement message")
		}
		return sim.Success
	}
	if !ok {
		return sim.Failed
	}
	queue.Pop()
	return sim.Success
}

// DeviceByName resolves a device name; the pattern may use globs. The
// first registered match wins.
func (b *Bus) DeviceByName(pattern string) (DeviceID, bool) {
	lower := strings.ToLower(pattern)
	for i, d := range b.devices {
		if ok, _ := path.Match(lower, strings.ToLower(d.Name())); ok {
			return DeviceID(i), true
		}
	}
	return 0, false
}

// Devices lists the registered device names in ID order.
func (b *Bus) Devices() []string {
	names := make([]string, len(b.devices))
	for i, d := range b.devices {
		names[i] = d.Name()
	}
	return names
}
