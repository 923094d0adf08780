package security

import (
	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
)

// Requester is the subset of a UDS client Security Access needs: request a
// seed at a level, then send the computed key at level+1. It is satisfied
// by an adapter around pkg/uds.Client so this package stays independent of
// the UDS wire format.
type Requester interface {
	RequestSeed(level byte) (seed []byte, ok bool, err error)
	SendKey(level byte, key []byte) (ok bool, err error)
}

// DefaultLevels are the security levels tried by Unlock, in order
// (spec.md §4.4): basic diagnostics, enhanced diagnostics, programming.
var DefaultLevels = []byte{0x01, 0x03, 0x11}

// Unlock tries every (level, algorithm) combination in levels x order until
// one succeeds, returning the level and algorithm that worked. It raises
// KindSecurityAccessDeny if every combination fails.
func Unlock(req Requester, levels []byte, order []string) (level byte, algorithm string, err error) {
	for _, lvl := range levels {
		seed, ok, serr := req.RequestSeed(lvl)
		if serr != nil {
			log.Warnf("[SECURITY] seed request failed for level 0x%02X: %v", lvl, serr)
			continue
		}
		if !ok {
			log.Warnf("[SECURITY] ECU refused seed request for level 0x%02X", lvl)
			continue
		}
		log.Infof("[SECURITY] received seed for level 0x%02X: %s", lvl, MaskSecret(seed))

		for _, name := range order {
			alg, known := Get(name)
			if !known {
				continue
			}
			key, kerr := alg(seed)
			if kerr != nil {
				continue
			}
			log.Infof("[SECURITY] trying algorithm %q: key=%s", name, MaskSecret(key))

			accepted, aerr := req.SendKey(lvl, key)
			if aerr != nil {
				log.Warnf("[SECURITY] key send failed for level 0x%02X algorithm %q: %v", lvl, name, aerr)
				continue
			}
			if accepted {
				log.Infof("[SECURITY] unlocked level 0x%02X with algorithm %q", lvl, name)
				return lvl, name, nil
			}
			log.Warnf("[SECURITY] ECU rejected key for level 0x%02X algorithm %q", lvl, name)
		}
	}
	return 0, "", n54.NewError(n54.KindSecurityAccessDeny, "all seed/key combinations failed", nil)
}
