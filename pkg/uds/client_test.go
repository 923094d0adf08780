package uds

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/can/virtual"
	"github.com/n54diag/core/pkg/isotp"
)

// startRelay mirrors the helper in pkg/isotp's tests: a tiny in-process
// broker standing in for the teacher's external vcan_server binary.
func startRelay(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns[conn] = struct{}{}
			mu.Unlock()
			go func(c net.Conn) {
				defer func() {
					mu.Lock()
					delete(conns, c)
					mu.Unlock()
					_ = c.Close()
				}()
				for {
					header := make([]byte, 4)
					if _, err := io.ReadFull(c, header); err != nil {
						return
					}
					length := binary.BigEndian.Uint32(header)
					body := make([]byte, length)
					if _, err := io.ReadFull(c, body); err != nil {
						return
					}
					msg := append(header, body...)
					mu.Lock()
					for other := range conns {
						if other == c {
							continue
						}
						_ = other.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
						_, _ = other.Write(msg)
					}
					mu.Unlock()
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func dialClient(t *testing.T, addr string, txID, rxID uint32) *Client {
	t.Helper()
	bus, err := virtual.NewBus(addr)
	require.NoError(t, err)
	require.NoError(t, bus.Connect())
	bm := n54.NewBusManager(bus)
	require.NoError(t, bus.Subscribe(bm))
	tr, err := isotp.New(bm, txID, rxID)
	require.NoError(t, err)
	return NewClient(tr)
}

// fakeECU replies to every request received on its own transport according
// to a caller-supplied responder, simulating the ECU side of the wire.
type fakeECU struct {
	tr *isotp.Transport
}

func (f *fakeECU) serveOnce(t *testing.T, respond func(req []byte) []byte) {
	t.Helper()
	req, err := f.tr.Recv(2 * time.Second)
	require.NoError(t, err)
	resp := respond(req)
	require.NoError(t, f.tr.Send(resp))
}

func TestRequestPositiveResponse(t *testing.T) {
	addr := startRelay(t)
	client := dialClient(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	ecuTr, err := isotp.New(dialBusManager(t, addr), n54.DefaultRxID, n54.DefaultTxID)
	require.NoError(t, err)
	ecu := &fakeECU{tr: ecuTr}

	go ecu.serveOnce(t, func(req []byte) []byte {
		assert.Equal(t, byte(0x10), req[0])
		return []byte{0x50, 0x02}
	})

	resp, err := client.Request(0x10, []byte{0x02}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, resp)
}

func TestRequestResponsePendingThenSuccess(t *testing.T) {
	addr := startRelay(t)
	client := dialClient(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client.SetTimeouts(DefaultP2, DefaultP2Star, 10*time.Millisecond, DefaultMaxResponsePending, DefaultMaxSessionRecoveries)
	ecuTr, err := isotp.New(dialBusManager(t, addr), n54.DefaultRxID, n54.DefaultTxID)
	require.NoError(t, err)

	go func() {
		req, err := ecuTr.Recv(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, byte(0x31), req[0])
		require.NoError(t, ecuTr.Send([]byte{0x7F, 0x31, byte(NRCResponsePending)}))
		require.NoError(t, ecuTr.Send([]byte{0x71, 0x01, 0xFF, 0x01}))
	}()

	resp, err := client.Request(0x31, []byte{0x01, 0xFF, 0x01}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xFF, 0x01}, resp)
}

func TestRequestNegativeResponseNotRecoverable(t *testing.T) {
	addr := startRelay(t)
	client := dialClient(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	ecuTr, err := isotp.New(dialBusManager(t, addr), n54.DefaultRxID, n54.DefaultTxID)
	require.NoError(t, err)

	go func() {
		req, rerr := ecuTr.Recv(2 * time.Second)
		require.NoError(t, rerr)
		assert.Equal(t, byte(0x27), req[0])
		require.NoError(t, ecuTr.Send([]byte{0x7F, 0x27, byte(NRCInvalidKey)}))
	}()

	_, err = client.Request(0x27, []byte{0x02, 0xAB, 0xCD}, time.Second)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindNegativeResponse))
}

func TestRequestTimeoutWithoutRecovererFails(t *testing.T) {
	addr := startRelay(t)
	client := dialClient(t, addr, n54.DefaultTxID, n54.DefaultRxID)

	_, err := client.Request(0x22, []byte{0xF1, 0x90}, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindUdsTimeout))
}

func TestRequestSessionRecoveryOnRecoverableNRC(t *testing.T) {
	addr := startRelay(t)
	client := dialClient(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	ecuTr, err := isotp.New(dialBusManager(t, addr), n54.DefaultRxID, n54.DefaultTxID)
	require.NoError(t, err)

	recovered := false
	client.SetRecoverer(func() error {
		recovered = true
		return nil
	})

	go func() {
		req, rerr := ecuTr.Recv(2 * time.Second)
		require.NoError(t, rerr)
		require.NoError(t, ecuTr.Send([]byte{0x7F, req[0], byte(NRCConditionsNotCorrect)}))

		req2, rerr := ecuTr.Recv(2 * time.Second)
		require.NoError(t, rerr)
		require.NoError(t, ecuTr.Send([]byte{req2[0] + 0x40}))
	}()

	_, err = client.Request(0x22, []byte{0xF1, 0x90}, time.Second)
	require.NoError(t, err)
	assert.True(t, recovered)
}

func dialBusManager(t *testing.T, addr string) *n54.BusManager {
	t.Helper()
	bus, err := virtual.NewBus(addr)
	require.NoError(t, err)
	require.NoError(t, bus.Connect())
	bm := n54.NewBusManager(bus)
	require.NoError(t, bus.Subscribe(bm))
	return bm
}
