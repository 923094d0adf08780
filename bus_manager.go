package n54

import (
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// lookupSize covers every standard arbitration ID; RTR frames are not used
// by UDS-over-CAN so no doubling is needed (unlike the teacher's CANopen
// listener table, which reserves a second half for RTR).
const lookupSize = MaxCanId + 1

type subscriber struct {
	id       uint64
	callback FrameListener
}

// BusManager wraps a Bus and serializes all sends, fanning received frames
// out to arbitration-ID-keyed subscribers. Only one UDS transaction may hold
// the send path at a time; callers coordinate that at the transaction
// boundary (spec.md §5), BusManager itself only guarantees each individual
// Send is atomic with respect to other Sends.
type BusManager struct {
	logger *slog.Logger
	mu     sync.Mutex
	sendMu sync.Mutex
	bus    Bus

	listeners [lookupSize][]subscriber
	nextSubID uint64
}

// NewBusManager wraps bus. The manager itself implements FrameListener and
// must be subscribed to the bus by the caller.
func NewBusManager(bus Bus) *BusManager {
	return &BusManager{
		bus:    bus,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (bm *BusManager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		bm.logger = logger
	}
}

// Bus returns the wrapped Bus.
func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Handle implements FrameListener: dispatch a received frame to every
// subscriber registered for its arbitration ID.
func (bm *BusManager) Handle(frame Frame) {
	id := frame.ID & unix.CAN_SFF_MASK
	if id >= lookupSize {
		return
	}
	bm.mu.Lock()
	listeners := bm.listeners[id]
	bm.mu.Unlock()
	for _, sub := range listeners {
		sub.callback.Handle(frame)
	}
}

// Send transmits a frame on the bus, serialized against other Sends.
func (bm *BusManager) Send(frame Frame) error {
	bm.sendMu.Lock()
	defer bm.sendMu.Unlock()
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return NewError(KindBusIoError, "bus not connected", nil)
	}
	if err := bus.Send(frame); err != nil {
		bm.logger.Warn("frame send failed", "id", frame.ID, "err", err)
		return NewError(KindBusIoError, err.Error(), err)
	}
	return nil
}

// Subscribe registers callback for frames with the given arbitration id.
// Returns a cancel function removing the subscription.
func (bm *BusManager) Subscribe(id uint32, callback FrameListener) (cancel func(), err error) {
	if id >= lookupSize {
		return nil, NewError(KindIllegalArgument, "arbitration id out of range", nil)
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.nextSubID++
	subID := bm.nextSubID
	bm.listeners[id] = append(bm.listeners[id], subscriber{id: subID, callback: callback})
	return func() {
		bm.mu.Lock()
		defer bm.mu.Unlock()
		subs := bm.listeners[id]
		for i, s := range subs {
			if s.id == subID {
				bm.listeners[id] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}
