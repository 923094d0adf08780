// Package n54 provides the CAN frame model and bus abstraction shared by
// every layer of the N54 diagnostic/flash core.
package n54

import "fmt"

// MaxCanId is the largest 11-bit standard CAN arbitration ID.
const MaxCanId = 0x7FF

// Default tester/ECU arbitration IDs for the N54 MSD80/MSD81 family.
const (
	DefaultTxID uint32 = 0x6F1 // tester -> ECU
	DefaultRxID uint32 = 0x6F9 // ECU -> tester
)

// Frame is a classical CAN frame: up to 8 data bytes addressed by an 11-bit
// arbitration ID. Padding to 8 bytes on TX is mandatory per spec.md §6.
type Frame struct {
	ID        uint32
	DLC       uint8
	Data      [8]byte
	Extended  bool
}

// NewFrame builds a Frame, zero-padding data to 8 bytes.
func NewFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	n := len(data)
	if n > 8 {
		n = 8
	}
	copy(f.Data[:], data[:n])
	f.DLC = 8
	return f
}

func (f Frame) String() string {
	return fmt.Sprintf("id=%03X data=% X", f.ID, f.Data)
}

// FrameListener receives CAN frames from a Bus. Handle must not block.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is a CAN bus interface. Implementations must fail closed: if Connect
// cannot establish a real link, it must return an error rather than
// silently behaving like an open bus (spec.md §9 "no silent fallback").
type Bus interface {
	Connect(args ...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// NewBusFunc constructs a Bus for a named channel (e.g. "can0", "vcan0",
// "localhost:18000").
type NewBusFunc func(channel string) (Bus, error)

var registry = make(map[string]NewBusFunc)

// RegisterInterface registers a Bus constructor under an interface name.
// Intended to be called from an init() function of a pkg/can/* package.
func RegisterInterface(name string, ctor NewBusFunc) {
	registry[name] = ctor
}

// NewBus looks up a registered interface by name and constructs a Bus for
// the given channel. Returns KindBusOpenError if the interface name is not
// registered (no demo/mock fallback, per spec.md Non-goals).
func NewBus(interfaceName, channel string) (Bus, error) {
	ctor, ok := registry[interfaceName]
	if !ok {
		return nil, NewError(KindBusOpenError, fmt.Sprintf("unsupported CAN interface %q", interfaceName), nil)
	}
	bus, err := ctor(channel)
	if err != nil {
		return nil, NewError(KindBusOpenError, err.Error(), err)
	}
	return bus, nil
}
