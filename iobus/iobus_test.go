package iobus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarchlab/tokensim/sim"
)

type fakeDevice struct {
	name     string
	kernel   *sim.Kernel
	received []MsgKind
	reject   bool
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) OnIOMessage(msg *Msg) (bool, error) {
	if d.reject {
		return false, &ProtocolError{Device: d.name, Kind: msg.Kind}
	}
	if d.kernel.Committing() {
		d.received = append(d.received, msg.Kind)
	}
	return true, nil
}

func TestDeviceIDsFollowRegistrationOrder(t *testing.T) {
	kernel := sim.NewKernel()
	clock := kernel.NewClock("io", 100)
	bus := New("bus", clock)

	a := bus.Register(&fakeDevice{name: "uart0", kernel: kernel})
	b := bus.Register(&fakeDevice{name: "uart1", kernel: kernel})
	c := bus.Register(&fakeDevice{name: "display", kernel: kernel})

	assert.Equal(t, DeviceID(0), a)
	assert.Equal(t, DeviceID(1), b)
	assert.Equal(t, DeviceID(2), c)
	assert.Equal(t, []string{"uart0", "uart1", "display"}, bus.Devices())
}

func TestDeviceLookupSupportsGlobs(t *testing.T) {
	kernel := sim.NewKernel()
	clock := kernel.NewClock("io", 100)
	bus := New("bus", clock)
	bus.Register(&fakeDevice{name: "uart0", kernel: kernel})
	bus.Register(&fakeDevice{name: "display", kernel: kernel})

	id, ok := bus.DeviceByName("disp*")
	require.True(t, ok)
	assert.Equal(t, DeviceID(1), id)

	id, ok = bus.DeviceByName("uart?")
	require.True(t, ok)
	assert.Equal(t, DeviceID(0), id)

	_, ok = bus.DeviceByName("nic*")
	assert.False(t, ok)
}

func TestDelivery(t *testing.T) {
	kernel := sim.NewKernel()
	clock := kernel.NewClock("io", 100)
	bus := New("bus", clock)

	dev := &fakeDevice{name: "uart0", kernel: kernel}
	id := bus.Register(dev)

	flag := sim.NewFlagSet("go", clock, true)
	var sender *sim.Process
	sent := false
	sender = clock.NewProcess("sender", func() sim.Result {
		if sent {
			flag.Clear()
			return sim.Success
		}
		if !bus.Send(&Msg{Kind: InterruptRequest, To: id, Channel: 3}) {
			return sim.Failed
		}
		if kernel.Committing() {
			sent = true
		}
		return sim.Success
	})
	flag.Sensitive(sender)
	bus.AddSender(id, sender)

	require.NoError(t, kernel.Run(50))
	assert.True(t, kernel.Idle())
	assert.Equal(t, []MsgKind{InterruptRequest}, dev.received)
}

func TestUnsupportedMessageIsDroppedNotFatal(t *testing.T) {
	kernel := sim.NewKernel()
	clock := kernel.NewClock("io", 100)
	bus := New("bus", clock)

	dev := &fakeDevice{name: "brick", kernel: kernel, reject: true}
	id := bus.Register(dev)

	flag := sim.NewFlagSet("go", clock, true)
	sent := false
	sender := clock.NewProcess("sender", func() sim.Result {
		if sent {
			flag.Clear()
			return sim.Success
		}
		if !bus.Send(&Msg{Kind: ActiveMessage, To: id}) {
			return sim.Failed
		}
		if kernel.Committing() {
			sent = true
		}
		return sim.Success
	})
	flag.Sensitive(sender)
	bus.AddSender(id, sender)

	require.NoError(t, kernel.Run(50))
	assert.Empty(t, dev.received)
}
