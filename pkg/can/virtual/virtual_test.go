package virtual

import (
	"testing"

	"github.com/stretchr/testify/assert"

	n54 "github.com/n54diag/core"
)

type captureListener struct {
	frames []n54.Frame
}

func (c *captureListener) Handle(f n54.Frame) { c.frames = append(c.frames, f) }

func TestSendWithoutConnectionFails(t *testing.T) {
	busAny, err := NewBus("unused")
	assert.NoError(t, err)
	bus := busAny.(*Bus)
	err = bus.Send(n54.NewFrame(0x100, []byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestReceiveOwnLoopback(t *testing.T) {
	busAny, _ := NewBus("unused")
	bus := busAny.(*Bus)
	bus.SetReceiveOwn(true)
	cap := &captureListener{}
	_ = bus.Subscribe(cap)
	frame := n54.NewFrame(0x6F1, []byte{0x22, 0xF1, 0x90})
	// receiveOwn loopback does not require a live connection.
	bus.listener = cap
	_ = bus.Send(frame)
	assert.Len(t, cap.frames, 1)
	assert.Equal(t, uint32(0x6F1), cap.frames[0].ID)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	f := n54.NewFrame(0x7E0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	body := serialize(f)
	out, err := deserialize(body[4:])
	assert.NoError(t, err)
	assert.Equal(t, f.ID, out.ID)
	assert.Equal(t, f.Data, out.Data)
}
