package flash

import (
	"bytes"
	"context"
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
	"github.com/n54diag/core/pkg/checksum"
	"github.com/n54diag/core/pkg/config"
	"github.com/n54diag/core/pkg/isotp"
	"github.com/n54diag/core/pkg/memmap"
	"github.com/n54diag/core/pkg/uds"
)

// startRelay is the same in-process TCP broker used by pkg/isotp and
// pkg/uds's tests, standing in for an external vcan_server.
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

func dialTransport(t *testing.T, addr string, txID, rxID uint32) *isotp.Transport {
	t.Helper()
	bus, err := virtual.NewBus(addr)
	require.NoError(t, err)
	require.NoError(t, bus.Connect())
	bm := n54.NewBusManager(bus)
	require.NoError(t, bus.Subscribe(bm))
	tr, err := isotp.New(bm, txID, rxID)
	require.NoError(t, err)
	return tr
}

// tinyVariant is a memmap.Variant small enough to exercise the full write
// pipeline in a test without allocating a realistic multi-hundred-KB image.
func tinyVariant() memmap.Variant {
	return memmap.Variant{
		Name: "TESTECU",
		Regions: []memmap.Region{
			{Name: "Calibration", Start: 0x1000, Size: 64, Writable: true, CRCProtected: true},
		},
		FullImageSize:    0x200000,
		CalibrationSizes: []uint32{64},
	}
}

func tinyImage(t *testing.T, v memmap.Variant) []byte {
	t.Helper()
	image := make([]byte, 64)
	for i := range image {
		image[i] = byte(i + 1)
	}
	checksum.RecalculateAll(image, v)
	ok, mm := checksum.ValidateTrailer(image)
	require.True(t, ok, mm.String())
	return image
}

// serveCalibrationFlash runs the ECU side of a full calibration flash:
// session entry, one seed/key exchange (standard algorithm), an advisory
// precondition routine, request_download, N transfer_data blocks sized to
// chunkSize, transfer_exit, and a checksum routine pass.
func serveCalibrationFlash(t *testing.T, tr *isotp.Transport, imageLen int, chunkSize int) {
	t.Helper()
	recv := func() []byte {
		raw, err := tr.Recv(2 * time.Second)
		require.NoError(t, err)
		return raw
	}
	send := func(frame []byte) { require.NoError(t, tr.Send(frame)) }

	req := recv() // BMW extended session (advisory, accepted here)
	require.Equal(t, uds.SIDDiagnosticSessionControl, req[0])
	require.Equal(t, uds.SessionBmwExtended, req[1])
	send([]byte{req[0] + 0x40, req[1]})

	req = recv() // BMW programming session, tried before the standard one
	require.Equal(t, uds.SIDDiagnosticSessionControl, req[0])
	require.Equal(t, uds.SessionBmwProgramming, req[1])
	send([]byte{req[0] + 0x40, req[1]})

	req = recv() // SecurityAccess request seed
	require.Equal(t, uds.SIDSecurityAccess, req[0])
	send([]byte{req[0] + 0x40, req[1], 0x12, 0x34})

	req = recv() // SecurityAccess send key
	require.Equal(t, uds.SIDSecurityAccess, req[0])
	assert.Equal(t, []byte{0xC7, 0x23}, req[2:4])
	send([]byte{req[0] + 0x40, req[1]})

	req = recv() // RoutineControl: precondition check (advisory)
	require.Equal(t, uds.SIDRoutineControl, req[0])
	send([]byte{req[0] + 0x40, req[1], req[2], req[3]})

	req = recv() // RequestDownload
	require.Equal(t, uds.SIDRequestDownload, req[0])
	send([]byte{req[0] + 0x40, 0x10, byte(chunkSize + 1)}) // lengthFormatSize=1, maxBlock

	remaining := imageLen
	for remaining > 0 {
		n := chunkSize
		if remaining < n {
			n = remaining
		}
		req = recv() // TransferData
		require.Equal(t, uds.SIDTransferData, req[0])
		send([]byte{req[0] + 0x40, req[1]})
		remaining -= n
	}

	req = recv() // RequestTransferExit
	require.Equal(t, uds.SIDRequestTransferExit, req[0])
	send([]byte{req[0] + 0x40})

	req = recv() // RoutineControl: checksum verify
	require.Equal(t, uds.SIDRoutineControl, req[0])
	send([]byte{req[0] + 0x40, req[1], req[2], req[3]})
}

func TestFlashCalibrationHappyPath(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)
	client.SetTimeouts(uds.DefaultP2, uds.DefaultP2Star, 10*time.Millisecond, uds.DefaultMaxResponsePending, uds.DefaultMaxSessionRecoveries)

	ecuTr := dialTransport(t, addr, n54.DefaultRxID, n54.DefaultTxID)

	variant := tinyVariant()
	image := tinyImage(t, variant)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveCalibrationFlash(t, ecuTr, len(image), 31)
	}()

	var messages []string
	op := New(client, variant, config.Default(), nil, func(msg string, pct int) {
		messages = append(messages, msg)
	})

	result, err := op.FlashCalibration(context.Background(), image, false)
	require.NoError(t, err)
	assert.Equal(t, len(image), result.BytesWritten)
	assert.Equal(t, StateDone, op.State())
	assert.NotEmpty(t, messages)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake ECU goroutine did not finish")
	}
}

func TestFlashCalibrationAbortsOnBadTrailer(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)

	variant := tinyVariant()
	image := tinyImage(t, variant)
	image[0] ^= 0xFF // corrupt the payload without fixing the trailer

	op := New(client, variant, config.Default(), nil, nil)
	_, err := op.FlashCalibration(context.Background(), image, false)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindChecksumMismatch))
	assert.Equal(t, StateFailed, op.State())
}

func TestFlashCalibrationRejectsForbiddenRegion(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)

	variant := tinyVariant()
	variant.ForbiddenRegions = [][2]uint32{{variant.Regions[0].Start, variant.Regions[0].End()}}
	image := tinyImage(t, variant)

	op := New(client, variant, config.Default(), nil, nil)
	_, err := op.FlashCalibration(context.Background(), image, false)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindForbiddenRegion))
}

func TestFlashCalibrationRejectsBadSize(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)

	op := New(client, tinyVariant(), config.Default(), nil, nil)
	_, err := op.FlashCalibration(context.Background(), make([]byte, 12), false)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindBinaryValidation))
}

type fixedBattery struct{ volts float64 }

func (f fixedBattery) ReadVoltage() (float64, error) { return f.volts, nil }

func TestFlashCalibrationAbortsOnLowBattery(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)

	variant := tinyVariant()
	image := tinyImage(t, variant)

	op := New(client, variant, config.Default(), fixedBattery{volts: 11.0}, nil)
	_, err := op.FlashCalibration(context.Background(), image, false)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindBatteryTooLow))
}

func TestResetFlashCounterSkippedWhenNotConfirmed(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)

	op := New(client, tinyVariant(), config.Default(), nil, nil)
	require.NoError(t, op.ResetFlashCounter(false))
}

func TestFlashNVRAMRejectsOutOfRegionWrite(t *testing.T) {
	addr := startRelay(t)
	clientTr := dialTransport(t, addr, n54.DefaultTxID, n54.DefaultRxID)
	client := uds.NewClient(clientTr)

	op := New(client, memmap.MSD80, config.Default(), nil, nil)
	var backup bytes.Buffer
	_, err := op.FlashNVRAM(context.Background(), 0x00, []byte{1, 2, 3, 4}, &backup)
	require.Error(t, err)
	assert.True(t, n54.Is(err, n54.KindForbiddenRegion))
}

func TestStateStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "Transferring", StateTransferring.String())
	assert.Equal(t, "Unknown", State(99).String())
}
