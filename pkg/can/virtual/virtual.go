// Package virtual implements a TCP-loopback CAN bus used for bench testing
// and for the ISO-TP/UDS property tests: two Bus instances dialed to the
// same listener exchange real frames over a real socket, so the
// segmentation and flow-control state machines are exercised exactly as
// they would be over a physical bus. This is not a mock: absence of a peer
// fails closed with a connection error, per spec.md's Non-goals.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	n54 "github.com/n54diag/core"
)

func init() {
	n54.RegisterInterface("virtual", NewBus)
	n54.RegisterInterface("virtualcan", NewBus)
}

// Bus is a TCP-backed CAN bus for testing. Frames are framed as a 4-byte
// big-endian length prefix followed by the serialized frame.
type Bus struct {
	mu         sync.Mutex
	channel    string
	conn       net.Conn
	listener   n54.FrameListener
	receiveOwn bool
	stop       chan struct{}
	wg         sync.WaitGroup
	running    bool
}

// NewBus constructs a Bus that will dial channel (e.g. "localhost:18000")
// on Connect.
func NewBus(channel string) (n54.Bus, error) {
	return &Bus{channel: channel, stop: make(chan struct{})}, nil
}

// SetReceiveOwn makes locally-sent frames loop back to the local listener,
// useful for single-process tests without a broker.
func (b *Bus) SetReceiveOwn(v bool) { b.receiveOwn = v }

func serialize(f n54.Frame) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, f.ID)
	buf.WriteByte(f.DLC)
	buf.Write(f.Data[:])
	body := buf.Bytes()
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func deserialize(body []byte) (n54.Frame, error) {
	if len(body) < 13 {
		return n54.Frame{}, errors.New("short frame")
	}
	var f n54.Frame
	f.ID = binary.BigEndian.Uint32(body[0:4])
	f.DLC = body[4]
	copy(f.Data[:], body[5:13])
	return f, nil
}

func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		close(b.stop)
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Bus) Send(frame n54.Frame) error {
	if b.receiveOwn && b.listener != nil {
		b.listener.Handle(frame)
	}
	if b.conn == nil {
		return errors.New("no active connection, abort send")
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := b.conn.Write(serialize(frame))
	return err
}

func (b *Bus) Subscribe(listener n54.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	if b.running {
		return nil
	}
	b.running = true
	b.wg.Add(1)
	go b.receiveLoop()
	return nil
}

func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		if b.conn == nil {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		_ = b.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		header := make([]byte, 4)
		n, err := b.conn.Read(header)
		if err != nil || n < 4 {
			continue
		}
		length := binary.BigEndian.Uint32(header)
		body := make([]byte, length)
		_ = b.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err = io.ReadFull(b.conn, body)
		if err != nil || n != int(length) {
			continue
		}
		frame, err := deserialize(body)
		if err != nil {
			continue
		}
		if b.listener != nil {
			b.listener.Handle(frame)
		}
	}
}
