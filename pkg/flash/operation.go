// Package flash orchestrates the read and write pipelines for an N54
// ECU over a pkg/uds.Client (component C6): pre-flight validation,
// session entry, Security Access unlock, block transfer, ECU-side
// checksum verification, and post-actions, all reported through a
// progress callback and recorded to an OperationLog.
package flash

import (
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/checksum"
	"github.com/n54diag/core/pkg/config"
	"github.com/n54diag/core/pkg/memmap"
	"github.com/n54diag/core/pkg/security"
	"github.com/n54diag/core/pkg/uds"
)

// MaxTransferSize is the largest single read_memory/transfer_data chunk
// this ECU family accepts (spec.md §4.6.1).
const MaxTransferSize = 512

// BatteryReader samples the vehicle's battery voltage. Implementations
// typically read it via a UDS data identifier or an external multimeter
// bridge; this package only needs the reading.
type BatteryReader interface {
	ReadVoltage() (volts float64, err error)
}

// ProgressFunc receives a human-readable message and a completion
// percentage (0-100) as an operation advances.
type ProgressFunc func(message string, percent int)

// Operation drives one read or write pipeline against a single ECU. It
// owns the UDS client's recoverer and TesterPresent keep-alive, and
// tracks security-unlock state so a repeated unlock at the same
// preconditions is a no-op (spec.md §8, idempotent unlock).
type Operation struct {
	client   *uds.Client
	variant  memmap.Variant
	cfg      config.Config
	battery  BatteryReader
	progress ProgressFunc
	log      *OperationLog

	state State

	unlocked      bool
	unlockedLevel byte
	unlockedAlgo  string

	security *securityAdapter
}

// New builds an Operation. battery may be nil, in which case the
// battery-voltage gate is skipped (e.g. bench setups with no telemetry).
func New(client *uds.Client, variant memmap.Variant, cfg config.Config, battery BatteryReader, progress ProgressFunc) *Operation {
	if progress == nil {
		progress = func(string, int) {}
	}
	o := &Operation{
		client:   client,
		variant:  variant,
		cfg:      cfg,
		battery:  battery,
		progress: progress,
		log:      &OperationLog{},
		state:    StateIdle,
	}
	o.security = &securityAdapter{client: client, timeout: cfg.P2Star}
	client.SetRecoverer(o.recover)
	return o
}

// Log returns the operation's accumulated log entries.
func (o *Operation) Log() []LogEntry { return o.log.Entries() }

// State returns the operation's current state.
func (o *Operation) State() State { return o.state }

func (o *Operation) transition(s State, percent int, format string, args ...any) {
	o.state = s
	entry := o.log.append(s, format, args...)
	log.Infof("[FLASH] %s: %s", s, entry.Message)
	o.progress(entry.Message, percent)
}

func (o *Operation) fail(cause error) error {
	o.transition(StateFailed, 100, "operation failed: %v", cause)
	o.client.StopTesterPresent()
	return cause
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return n54.NewError(n54.KindCancelled, "operation cancelled", err)
	}
	return nil
}

// enterSession requests DiagnosticSessionControl for the given
// subfunction (spec.md §4.3 service 0x10). Requesting SessionProgramming
// tries the BMW-specific session type (0x85) first, the real ECU's own
// session id for programming, and falls back to the standard 0x02 only
// if the ECU rejects it (spec.md §3 Diagnostic Session State enum).
func (o *Operation) enterSession(subfunction byte) error {
	if subfunction == uds.SessionProgramming {
		if _, err := o.client.Request(uds.SIDDiagnosticSessionControl, []byte{uds.SessionBmwProgramming}, o.cfg.P2); err == nil {
			log.Debug("[FLASH] BMW programming session (0x85) accepted")
			return nil
		} else if !n54.Is(err, n54.KindNegativeResponse) {
			return err
		}
		log.Debug("[FLASH] BMW programming session (0x85) rejected, falling back to standard (0x02)")
	}
	_, err := o.client.Request(uds.SIDDiagnosticSessionControl, []byte{subfunction}, o.cfg.P2)
	return err
}

// enterBmwExtendedSession requests the BMW-specific extended diagnostic
// session (0x87). Some ECUs expect it as a precondition before Security
// Access; it is advisory (logged, non-fatal) since not every variant
// implements it.
func (o *Operation) enterBmwExtendedSession() {
	if _, err := o.client.Request(uds.SIDDiagnosticSessionControl, []byte{uds.SessionBmwExtended}, o.cfg.P2); err != nil {
		log.Debugf("[FLASH] BMW extended session (0x87) not accepted, continuing: %v", err)
	} else {
		log.Debug("[FLASH] BMW extended session (0x87) accepted")
	}
}

// unlock runs the Security Access protocol (spec.md §4.4) unless the
// operation is already unlocked, in which case it is a no-op whatever
// levels are passed (the idempotent-unlock testable property in spec.md
// §8).
func (o *Operation) unlock(levels []byte) error {
	if o.unlocked {
		log.Debugf("[FLASH] already unlocked at level 0x%02X via %q, skipping seed/key exchange", o.unlockedLevel, o.unlockedAlgo)
		return nil
	}
	level, algo, err := security.Unlock(o.security, levels, security.DefaultOrder)
	if err != nil {
		return err
	}
	o.unlocked = true
	o.unlockedLevel = level
	o.unlockedAlgo = algo
	return nil
}

// recover is installed as the UDS client's Recoverer: it re-enters the
// programming session and re-unlocks (spec.md §4.3 session recovery).
// It clears the cached unlock state first since a lost session means the
// ECU no longer considers the prior key valid.
func (o *Operation) recover() error {
	log.Warn("[FLASH] session lost, re-entering programming session and re-unlocking")
	o.unlocked = false
	if err := o.enterSession(uds.SessionProgramming); err != nil {
		return err
	}
	return o.unlock(security.DefaultLevels)
}

// checkBattery enforces the hard cutoff and logs a warning below the
// warn threshold (spec.md §4.6.2 step 4). A nil BatteryReader skips the
// gate entirely.
func (o *Operation) checkBattery() error {
	if o.battery == nil {
		return nil
	}
	volts, err := o.battery.ReadVoltage()
	if err != nil {
		return n54.NewError(n54.KindBatteryTooLow, "failed to read battery voltage", err)
	}
	if volts < o.cfg.BatteryHardCutoffVolts {
		return n54.NewError(n54.KindBatteryTooLow,
			fmt.Sprintf("battery at %.2fV, below %.2fV hard cutoff", volts, o.cfg.BatteryHardCutoffVolts), nil)
	}
	if volts < o.cfg.BatteryWarnVolts {
		log.Warnf("[FLASH] battery at %.2fV, below %.2fV warn threshold", volts, o.cfg.BatteryWarnVolts)
	}
	return nil
}

// runPreconditionRoutine starts the erase/precondition routine. Per
// spec.md §4.6.2 step 6 this is advisory: a negative response is logged
// but does not abort the operation.
func (o *Operation) runPreconditionRoutine() {
	payload := []byte{uds.RoutineStart, byte(o.cfg.RoutineErase >> 8), byte(o.cfg.RoutineErase)}
	if _, err := o.client.Request(uds.SIDRoutineControl, payload, o.cfg.P2Star); err != nil {
		log.Warnf("[FLASH] precondition routine 0x%04X reported failure (advisory, continuing): %v", o.cfg.RoutineErase, err)
	}
}

// requestDownload issues RequestDownload for [addr, addr+size) and
// returns the ECU's maximum block size, capped at MaxTransferSize
// (spec.md §4.6.2 step 7).
func (o *Operation) requestDownload(addr, size uint32) (blockSize int, err error) {
	payload := make([]byte, 0, 10)
	payload = append(payload, 0x00) // dataFormatIdentifier: no compression/encryption
	payload = append(payload, 0x44) // addressAndLengthFormatIdentifier: 4-byte address, 4-byte size
	payload = append(payload, byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
	payload = append(payload, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))

	resp, err := o.client.Request(uds.SIDRequestDownload, payload, o.cfg.P2Star)
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, n54.NewError(n54.KindWriteFailure, "request_download response too short", nil)
	}
	lengthFormatSize := int(resp[0] >> 4)
	if lengthFormatSize == 0 || len(resp) < 1+lengthFormatSize {
		return 0, n54.NewError(n54.KindWriteFailure, "request_download max-block-length field malformed", nil)
	}
	maxBlock := 0
	for _, b := range resp[1 : 1+lengthFormatSize] {
		maxBlock = maxBlock<<8 | int(b)
	}
	if maxBlock <= 0 || maxBlock > MaxTransferSize {
		maxBlock = MaxTransferSize
	}
	return maxBlock, nil
}

// transferChunk sends one TransferData block with the given sequence
// counter (spec.md §4.6.2 step 9).
func (o *Operation) transferChunk(seq byte, chunk []byte) error {
	payload := make([]byte, 0, len(chunk)+1)
	payload = append(payload, seq)
	payload = append(payload, chunk...)
	_, err := o.client.Request(uds.SIDTransferData, payload, o.cfg.P2)
	return err
}

// requestTransferExit closes the active download (spec.md §4.6.2 step 10).
func (o *Operation) requestTransferExit() error {
	_, err := o.client.Request(uds.SIDRequestTransferExit, nil, o.cfg.P2)
	return err
}

// verifyChecksumRoutine starts the ECU-side checksum routine for zone
// and returns ChecksumMismatch on any negative response, per spec.md
// §4.6.2 step 11's "never silently continue" rule.
func (o *Operation) verifyChecksumRoutine(zone byte) error {
	payload := []byte{uds.RoutineStart, byte(o.cfg.RoutineChecksum >> 8), byte(o.cfg.RoutineChecksum), zone}
	_, err := o.client.Request(uds.SIDRoutineControl, payload, o.cfg.P2Star)
	if err != nil {
		return n54.NewError(n54.KindChecksumMismatch, "ECU-side checksum routine failed, do not power cycle the ECU", err)
	}
	return nil
}

// readMemoryChunk issues ReadMemoryByAddress for one chunk (spec.md
// §4.6.1).
func (o *Operation) readMemoryChunk(addr uint32, size int) ([]byte, error) {
	payload := []byte{
		0x44, // addressAndLengthFormatIdentifier: 4-byte address, 4-byte size
		byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
		byte(size >> 24), byte(size >> 16), byte(size >> 8), byte(size),
	}
	return o.client.Request(uds.SIDReadMemoryByAddress, payload, o.cfg.P2)
}

// writeMemoryChunk issues WriteMemoryByAddress for one chunk, used by
// the NVRAM pipeline's small direct writes (spec.md §4.6.3).
func (o *Operation) writeMemoryChunk(addr uint32, data []byte) error {
	payload := []byte{0x44, byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr),
		byte(len(data) >> 24), byte(len(data) >> 16), byte(len(data) >> 8), byte(len(data))}
	payload = append(payload, data...)
	_, err := o.client.Request(uds.SIDWriteMemoryByAddress, payload, o.cfg.P2)
	return err
}

// backupRegion reads size bytes from addr in MaxTransferSize chunks and
// writes them to sink, used for the NVRAM pipeline's mandatory pre-write
// backup (spec.md §4.6.3).
func (o *Operation) backupRegion(addr, size uint32, sink io.Writer) error {
	remaining := size
	cursor := addr
	for remaining > 0 {
		n := uint32(MaxTransferSize)
		if remaining < n {
			n = remaining
		}
		data, err := o.readMemoryChunk(cursor, int(n))
		if err != nil {
			return err
		}
		if _, werr := sink.Write(data); werr != nil {
			return n54.NewError(n54.KindWriteFailure, "backup sink write failed", werr)
		}
		cursor += n
		remaining -= n
	}
	return nil
}

// softReset issues ECUReset(soft) after a completed write pipeline
// (spec.md §4.6.4's final reset).
func (o *Operation) softReset() error {
	_, err := o.client.Request(uds.SIDECUReset, []byte{uds.ResetSoft}, o.cfg.P2Star)
	return err
}

