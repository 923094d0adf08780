// Package uds implements a UDS (ISO 14229-1) request/response client over
// an ISO-TP transport (component C3): retry on timeout, tolerance for
// responsePending (NRC 0x78), and session recovery for the small set of
// NRCs that mean "session state was lost, not request was wrong."
package uds

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/isotp"
)

// Timing defaults, all overridable via SetTimeouts (spec.md §5).
const (
	DefaultP2                   = 150 * time.Millisecond
	DefaultP2Star               = 2000 * time.Millisecond
	DefaultResponsePendingWait  = 2000 * time.Millisecond
	DefaultMaxResponsePending   = 10
	DefaultMaxSessionRecoveries = 3
	DefaultTesterPresentPeriod  = 2000 * time.Millisecond
)

// Recoverer re-enters the diagnostic session and re-runs Security Access.
// It is supplied by the orchestrator, which alone knows the session and
// unlock sequence for the operation in progress.
type Recoverer func() error

// Client sends UDS requests over a Transport and implements the retry and
// session-recovery policy of spec.md §4.3. A Client is stateless beyond its
// Transport: session bookkeeping belongs to the caller.
type Client struct {
	transport *isotp.Transport

	mu sync.Mutex

	p2                   time.Duration
	p2Star               time.Duration
	responsePendingWait  time.Duration
	maxResponsePending    int
	maxSessionRecoveries  int
	testerPresentPeriod  time.Duration

	recoverer Recoverer

	keepAliveStop    chan struct{}
	keepAliveDone    chan struct{}
	keepAliveRunning bool
}

// NewClient wraps transport with default timing.
func NewClient(transport *isotp.Transport) *Client {
	return &Client{
		transport:            transport,
		p2:                   DefaultP2,
		p2Star:               DefaultP2Star,
		responsePendingWait:  DefaultResponsePendingWait,
		maxResponsePending:   DefaultMaxResponsePending,
		maxSessionRecoveries: DefaultMaxSessionRecoveries,
		testerPresentPeriod:  DefaultTesterPresentPeriod,
	}
}

// SetRecoverer installs the session-recovery callback used when a
// recoverable NRC or a timeout suggests the session was lost.
func (c *Client) SetRecoverer(fn Recoverer) { c.recoverer = fn }

// SetTimeouts overrides the default timing constants.
func (c *Client) SetTimeouts(p2, p2Star, responsePendingWait time.Duration, maxResponsePending, maxSessionRecoveries int) {
	c.p2 = p2
	c.p2Star = p2Star
	c.responsePendingWait = responsePendingWait
	c.maxResponsePending = maxResponsePending
	c.maxSessionRecoveries = maxSessionRecoveries
}

// Request implements spec.md §4.3's full retry/recovery policy for a
// single service call. timeout bounds the wait for the first response
// (use P2 for ordinary services, P2Star for long-running routines).
func (c *Client) Request(service byte, data []byte, timeout time.Duration) ([]byte, error) {
	recoveries := 0
	for {
		resp, nrc, err := c.roundTrip(service, data, timeout)
		if err == nil {
			return resp, nil
		}

		if nrc != 0 && recoverable(nrc) {
			if recoveries >= c.maxSessionRecoveries {
				return nil, n54.NewError(n54.KindSessionLost, "exceeded session recovery attempts", err)
			}
			recoveries++
			log.Warnf("[UDS] recoverable NRC 0x%02X on service 0x%02X, attempting session recovery %d/%d", nrc, service, recoveries, c.maxSessionRecoveries)
			if c.recoverer == nil {
				return nil, n54.NewError(n54.KindSessionLost, "session recovery required but no recoverer installed", err)
			}
			if rerr := c.recoverer(); rerr != nil {
				return nil, n54.NewError(n54.KindSessionLost, "session recovery failed", rerr)
			}
			continue
		}

		if n54.Is(err, n54.KindUdsTimeout) {
			if recoveries >= c.maxSessionRecoveries {
				return nil, n54.NewError(n54.KindSessionLost, "no response after session recovery attempts", err)
			}
			recoveries++
			log.Warnf("[UDS] timeout on service 0x%02X, attempting session recovery %d/%d", service, recoveries, c.maxSessionRecoveries)
			if c.recoverer == nil {
				return nil, err
			}
			if rerr := c.recoverer(); rerr != nil {
				return nil, n54.NewError(n54.KindSessionLost, "session recovery failed", rerr)
			}
			continue
		}

		return nil, err
	}
}

// roundTrip performs one send plus the responsePending-tolerant receive
// loop, with no session recovery and no resend. nrc is non-zero only when
// err wraps a negative response whose NRC was not responsePending.
func (c *Client) roundTrip(service byte, data []byte, timeout time.Duration) (resp []byte, nrc NRC, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := make([]byte, 0, len(data)+1)
	req = append(req, service)
	req = append(req, data...)

	log.Debugf("[UDS][TX] % X", req)
	if sendErr := c.transport.Send(req); sendErr != nil {
		return nil, 0, sendErr
	}

	for attempt := 0; ; attempt++ {
		raw, rerr := c.transport.Recv(timeout)
		if rerr != nil {
			return nil, 0, n54.NewError(n54.KindUdsTimeout, "no response received", rerr)
		}
		log.Debugf("[UDS][RX] % X", raw)

		if len(raw) >= 1 && raw[0] == service+0x40 {
			return raw[1:], 0, nil
		}

		if len(raw) >= 3 && raw[0] == 0x7F && raw[1] == service {
			code := NRC(raw[2])
			if code == NRCResponsePending {
				if attempt >= c.maxResponsePending {
					return nil, 0, n54.NewError(n54.KindUdsTimeout, "exceeded response-pending retries", nil)
				}
				time.Sleep(c.responsePendingWait)
				continue
			}
			return nil, code, n54.NewErrorWithRemediation(n54.KindNegativeResponse,
				"service 0x"+hexByte(service)+" rejected with NRC 0x"+hexByte(byte(code)),
				Describe(code), nil)
		}

		return nil, 0, n54.NewError(n54.KindNegativeResponse, "malformed or unexpected response", nil)
	}
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}

// StartTesterPresent begins a background keep-alive task sending
// TesterPresent (0x3E 0x80, suppressed positive response) at
// testerPresentPeriod until StopTesterPresent is called. It acquires the
// same mutex as Request so a keep-alive frame never interleaves with an
// in-flight multi-frame transfer (spec.md §5).
func (c *Client) StartTesterPresent() {
	c.mu.Lock()
	if c.keepAliveRunning {
		c.mu.Unlock()
		return
	}
	c.keepAliveRunning = true
	c.keepAliveStop = make(chan struct{})
	c.keepAliveDone = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.keepAliveDone)
		ticker := time.NewTicker(c.testerPresentPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-c.keepAliveStop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if sendErr := c.transport.Send([]byte{0x3E, 0x80}); sendErr != nil {
					log.Warnf("[UDS] TesterPresent send failed: %v", sendErr)
				} else {
					log.Debugf("[UDS][TX] TesterPresent")
				}
				c.mu.Unlock()
			}
		}
	}()
}

// StopTesterPresent stops the keep-alive task, if running, and blocks
// until it has exited.
func (c *Client) StopTesterPresent() {
	c.mu.Lock()
	if !c.keepAliveRunning {
		c.mu.Unlock()
		return
	}
	c.keepAliveRunning = false
	close(c.keepAliveStop)
	c.mu.Unlock()
	<-c.keepAliveDone
}
