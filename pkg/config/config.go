// Package config loads the tunables a flash session needs beyond the
// per-ECU memory map: CAN bus defaults, UDS/ISO-TP timing, routine IDs,
// and operational flags. Values come from an INI file layered over
// built-in defaults (component ambient to C3/C6), the same way
// pkg/memmap layers region overrides.
package config

import (
	"time"

	"gopkg.in/ini.v1"

	n54 "github.com/n54diag/core"
)

// Config holds every tunable a session or flash operation reads.
type Config struct {
	// CAN bus
	Interface string // e.g. "can0", "vcan0", a loopback address for virtual
	TxID      uint32
	RxID      uint32

	// UDS/ISO-TP timing (spec.md §5)
	P2                   time.Duration
	P2Star               time.Duration
	NBs                  time.Duration
	NCr                  time.Duration
	TesterPresentPeriod  time.Duration
	ResponsePendingWait   time.Duration
	MaxResponsePending    int
	MaxSessionRecoveries  int

	// Flash pipeline (spec.md §9)
	RoutineErase    uint16
	RoutineChecksum uint16
	BatteryHardCutoffVolts float64
	BatteryWarnVolts       float64
	ResetFlashCounter      bool

	// ECU variant name, looked up in pkg/memmap's registry.
	Variant string
}

// Default returns the built-in defaults (spec.md §5, §9).
func Default() Config {
	return Config{
		Interface: "can0",
		TxID:      n54.DefaultTxID,
		RxID:      n54.DefaultRxID,

		P2:                   150 * time.Millisecond,
		P2Star:               2000 * time.Millisecond,
		NBs:                  1000 * time.Millisecond,
		NCr:                  1000 * time.Millisecond,
		TesterPresentPeriod:  2000 * time.Millisecond,
		ResponsePendingWait:  2000 * time.Millisecond,
		MaxResponsePending:   10,
		MaxSessionRecoveries: 3,

		RoutineErase:           0xFF00,
		RoutineChecksum:        0xFF01,
		BatteryHardCutoffVolts: 12.0,
		BatteryWarnVolts:       12.5,
		ResetFlashCounter:      false,

		Variant: "MSD80",
	}
}

// Load reads path over Default(), returning the defaults untouched if
// path is empty. Unknown keys are ignored; missing keys keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return cfg, n54.NewError(n54.KindIllegalArgument, "failed to load config file "+path, err)
	}

	can := f.Section("can")
	cfg.Interface = can.Key("interface").MustString(cfg.Interface)
	cfg.TxID = uint32(can.Key("tx_id").MustUint64(uint64(cfg.TxID)))
	cfg.RxID = uint32(can.Key("rx_id").MustUint64(uint64(cfg.RxID)))

	timing := f.Section("timing")
	cfg.P2 = durationFromMs(timing, "p2_ms", cfg.P2)
	cfg.P2Star = durationFromMs(timing, "p2_star_ms", cfg.P2Star)
	cfg.NBs = durationFromMs(timing, "n_bs_ms", cfg.NBs)
	cfg.NCr = durationFromMs(timing, "n_cr_ms", cfg.NCr)
	cfg.TesterPresentPeriod = durationFromMs(timing, "tester_present_ms", cfg.TesterPresentPeriod)
	cfg.ResponsePendingWait = durationFromMs(timing, "response_pending_wait_ms", cfg.ResponsePendingWait)
	cfg.MaxResponsePending = timing.Key("max_response_pending").MustInt(cfg.MaxResponsePending)
	cfg.MaxSessionRecoveries = timing.Key("max_session_recoveries").MustInt(cfg.MaxSessionRecoveries)

	flash := f.Section("flash")
	cfg.RoutineErase = uint16(flash.Key("routine_erase").MustUint(uint(cfg.RoutineErase)))
	cfg.RoutineChecksum = uint16(flash.Key("routine_checksum").MustUint(uint(cfg.RoutineChecksum)))
	cfg.BatteryHardCutoffVolts = flash.Key("battery_hard_cutoff_volts").MustFloat64(cfg.BatteryHardCutoffVolts)
	cfg.BatteryWarnVolts = flash.Key("battery_warn_volts").MustFloat64(cfg.BatteryWarnVolts)
	cfg.ResetFlashCounter = flash.Key("reset_flash_counter").MustBool(cfg.ResetFlashCounter)
	cfg.Variant = flash.Key("variant").MustString(cfg.Variant)

	return cfg, nil
}

func durationFromMs(s *ini.Section, key string, fallback time.Duration) time.Duration {
	ms := s.Key(key).MustInt64(fallback.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}
