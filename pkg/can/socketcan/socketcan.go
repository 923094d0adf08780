// Package socketcan wraps github.com/brutella/can to provide a real
// classical-CAN Bus implementation (C1) over a named SocketCAN interface.
package socketcan

import (
	sockcan "github.com/brutella/can"

	n54 "github.com/n54diag/core"
)

func init() {
	n54.RegisterInterface("socketcan", NewBus)
}

// Bus adapts brutella/can's Bus to the n54.Bus interface.
type Bus struct {
	raw      *sockcan.Bus
	listener n54.FrameListener
}

// NewBus opens a SocketCAN interface by name (e.g. "can0", "vcan0"). The
// interface must already exist and be up; there is no fallback mode.
func NewBus(name string) (n54.Bus, error) {
	raw, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &Bus{raw: raw}, nil
}

func (b *Bus) Connect(...any) error {
	go b.raw.ConnectAndPublish()
	return nil
}

func (b *Bus) Disconnect() error {
	return b.raw.Disconnect()
}

func (b *Bus) Send(frame n54.Frame) error {
	return b.raw.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(listener n54.FrameListener) error {
	b.listener = listener
	b.raw.Subscribe(b)
	return nil
}

// Handle implements brutella/can's Handler interface.
func (b *Bus) Handle(frame sockcan.Frame) {
	b.listener.Handle(n54.Frame{ID: frame.ID, DLC: frame.Length, Data: frame.Data})
}
