package flash

import (
	"time"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/uds"
)

// securityAdapter adapts a uds.Client to security.Requester so pkg/security
// stays independent of the UDS wire format (spec.md §4.4 via service
// 0x27).
type securityAdapter struct {
	client  *uds.Client
	timeout time.Duration
}

func (a *securityAdapter) RequestSeed(level byte) (seed []byte, ok bool, err error) {
	resp, rerr := a.client.Request(uds.SIDSecurityAccess, []byte{level}, a.timeout)
	if rerr != nil {
		if n54.Is(rerr, n54.KindNegativeResponse) {
			return nil, false, nil
		}
		return nil, false, rerr
	}
	if len(resp) < 2 {
		return nil, false, n54.NewError(n54.KindSecurityAccessDeny, "seed response too short", nil)
	}
	return resp[1:], true, nil
}

func (a *securityAdapter) SendKey(level byte, key []byte) (ok bool, err error) {
	payload := make([]byte, 0, len(key)+1)
	payload = append(payload, level+1)
	payload = append(payload, key...)
	_, rerr := a.client.Request(uds.SIDSecurityAccess, payload, a.timeout)
	if rerr != nil {
		if n54.Is(rerr, n54.KindNegativeResponse) {
			return false, nil
		}
		return false, rerr
	}
	return true, nil
}
