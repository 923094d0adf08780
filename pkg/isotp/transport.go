package isotp

import (
	"time"

	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/internal/fifo"
)

// Default timeouts per spec.md §5.
const (
	DefaultNBs = 1000 * time.Millisecond // wait for FlowControl after FF
	DefaultNCr = 1000 * time.Millisecond // wait for each CF during reassembly
)

// Transport implements ISO 15765-2 segmentation/reassembly over an
// n54.BusManager. It is a FrameListener subscribed to rxID; received frames
// are buffered on an internal channel and consumed by Recv.
type Transport struct {
	bm    *n54.BusManager
	txID  uint32
	rxID  uint32
	nBs   time.Duration
	nCr   time.Duration
	rxCh  chan n54.Frame
	cancel func()
}

// New creates a Transport sending on txID and listening on rxID.
func New(bm *n54.BusManager, txID, rxID uint32) (*Transport, error) {
	t := &Transport{
		bm:   bm,
		txID: txID,
		rxID: rxID,
		nBs:  DefaultNBs,
		nCr:  DefaultNCr,
		rxCh: make(chan n54.Frame, 32),
	}
	cancel, err := bm.Subscribe(rxID, t)
	if err != nil {
		return nil, err
	}
	t.cancel = cancel
	return t, nil
}

// SetTimeouts overrides N_Bs/N_Cr (spec.md §5 says all waits are
// overridable).
func (t *Transport) SetTimeouts(nBs, nCr time.Duration) {
	t.nBs = nBs
	t.nCr = nCr
}

// Close unsubscribes from the bus.
func (t *Transport) Close() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Handle implements n54.FrameListener.
func (t *Transport) Handle(frame n54.Frame) {
	select {
	case t.rxCh <- frame:
	default:
		log.Warn("isotp: rx buffer full, dropping frame")
	}
}

func (t *Transport) recvRaw(timeout time.Duration) (n54.Frame, error) {
	select {
	case f := <-t.rxCh:
		return f, nil
	case <-time.After(timeout):
		return n54.Frame{}, n54.NewError(n54.KindIsoTpTimeout, "no frame received", nil)
	}
}

// Send segments payload and transmits it, handling the FlowControl
// handshake for multi-frame payloads (spec.md §4.2).
func (t *Transport) Send(payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return n54.NewError(n54.KindIllegalArgument, "isotp payload must be 1..4095 bytes", nil)
	}
	if len(payload) <= 7 {
		sf, err := singleFrame(payload)
		if err != nil {
			return err
		}
		sf.ID = t.txID
		log.Debugf("[ISOTP][TX] SF %v", sf)
		return t.bm.Send(sf)
	}

	ff, err := firstFrame(len(payload), payload[:6])
	if err != nil {
		return err
	}
	ff.ID = t.txID
	log.Debugf("[ISOTP][TX] FF total=%d %v", len(payload), ff)
	if err := t.bm.Send(ff); err != nil {
		return err
	}
	sent := 6
	seq := byte(1)

	for sent < len(payload) {
		// Wait for FlowControl, honoring an arbitrary number of Wait
		// responses before giving up per N_Bs.
		var blockSize, stMin byte
		for {
			frame, err := t.recvRaw(t.nBs)
			if err != nil {
				return n54.NewError(n54.KindIsoTpTimeout, "timed out waiting for flow control", err)
			}
			status, bs, st, ok := decodeFlowControl(frame.Data)
			if !ok {
				continue
			}
			switch status {
			case ContinueToSend:
				blockSize, stMin = bs, st
			case Wait:
				continue
			case Overflow:
				return n54.NewError(n54.KindIsoTpOverflow, "receiver reported overflow", nil)
			default:
				continue
			}
			break
		}

		blocksSentInWindow := byte(0)
		for sent < len(payload) {
			end := sent + 7
			if end > len(payload) {
				end = len(payload)
			}
			cf := consecutiveFrame(seq, payload[sent:end])
			cf.ID = t.txID
			log.Debugf("[ISOTP][TX] CF seq=%d %v", seq, cf)
			if err := t.bm.Send(cf); err != nil {
				return err
			}
			sent = end
			seq++
			if seq == 16 {
				seq = 0
			}
			blocksSentInWindow++
			if stMinMicros(stMin) > 0 {
				time.Sleep(time.Duration(stMinMicros(stMin)) * time.Microsecond)
			}
			if blockSize != 0 && blocksSentInWindow >= blockSize && sent < len(payload) {
				break // need another FlowControl
			}
		}
	}
	return nil
}

// Recv blocks up to timeout for one full ISO-TP PDU and returns its
// payload. SingleFrame payloads return immediately; FirstFrame payloads
// trigger a FlowControl(ContinueToSend, BS=0, STmin=0) reply and collect
// consecutive frames, resetting N_Cr after each received CF.
func (t *Transport) Recv(timeout time.Duration) ([]byte, error) {
	frame, err := t.recvRaw(timeout)
	if err != nil {
		return nil, err
	}
	pciType := frame.Data[0] >> 4
	switch pciType {
	case pciSingleFrame:
		n := int(frame.Data[0] & 0x0F)
		if n == 0 || n > 7 {
			return nil, n54.NewError(n54.KindBusIoError, "invalid single frame length", nil)
		}
		log.Debugf("[ISOTP][RX] SF %v", frame)
		return append([]byte(nil), frame.Data[1:1+n]...), nil

	case pciFirstFrame:
		total := int(frame.Data[0]&0x0F)<<8 | int(frame.Data[1])
		if total > MaxPayload {
			return nil, n54.NewError(n54.KindIsoTpOverflow, "first frame total length exceeds 4095", nil)
		}
		log.Debugf("[ISOTP][RX] FF total=%d %v", total, frame)
		buf := fifo.New(total)
		buf.Write(frame.Data[2:8], nil)

		fc := flowControlFrame(ContinueToSend, 0, 0)
		fc.ID = t.txID
		if err := t.bm.Send(fc); err != nil {
			return nil, err
		}

		expectedSeq := byte(1)
		for buf.Occupied() < total {
			cfFrame, err := t.recvRaw(t.nCr)
			if err != nil {
				return nil, n54.NewError(n54.KindIsoTpTimeout, "timed out waiting for consecutive frame", err)
			}
			if cfFrame.Data[0]>>4 != pciConsecutiveFrame {
				continue
			}
			seq := cfFrame.Data[0] & 0x0F
			if seq != expectedSeq {
				log.Warnf("[ISOTP][RX] unexpected CF sequence got=%d want=%d", seq, expectedSeq)
			}
			expectedSeq++
			if expectedSeq == 16 {
				expectedSeq = 0
			}
			buf.Write(cfFrame.Data[1:8], nil)
		}
		return buf.ReadAll(), nil

	default:
		return nil, n54.NewError(n54.KindBusIoError, "unexpected PCI type in isotp recv", nil)
	}
}
