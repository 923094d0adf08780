package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	n54 "github.com/n54diag/core"
	"github.com/n54diag/core/pkg/can/socketcan"
	"github.com/n54diag/core/pkg/config"
	"github.com/n54diag/core/pkg/dtc"
	"github.com/n54diag/core/pkg/flash"
	"github.com/n54diag/core/pkg/isotp"
	"github.com/n54diag/core/pkg/memmap"
	"github.com/n54diag/core/pkg/session"
	"github.com/n54diag/core/pkg/uds"
)

const (
	opRead       = "read-calibration"
	opFlashCal   = "flash-calibration"
	opFlashNVRAM = "flash-nvram"
	opFlashFull  = "flash-full"
	opReadDTCs   = "read-dtcs"
)

func main() {
	log.SetLevel(log.InfoLevel)

	canInterface := flag.String("i", "can0", "socketcan interface e.g. can0, vcan0")
	variantName := flag.String("variant", "MSD80", "ECU variant (MSD80, MSD81)")
	configPath := flag.String("config", "", "ini config file path (optional)")
	operation := flag.String("op", opRead, "operation: read-calibration, flash-calibration, flash-nvram, flash-full, read-dtcs")
	inFile := flag.String("in", "", "input image path (flash operations)")
	outFile := flag.String("out", "", "output path (read operations, NVRAM backup)")
	nvramAddr := flag.Uint64("addr", 0, "device address for flash-nvram")
	resetCounter := flag.Bool("reset-counter", false, "reset the flash counter after a successful write")
	overridePath := flag.String("overrides", "", "memory map override file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("loading config: %v", err)
	}
	if *variantName != "" {
		cfg.Variant = *variantName
	}

	if *overridePath != "" {
		if err := memmap.LoadOverrides(*overridePath); err != nil {
			fatal("loading memory map overrides: %v", err)
		}
	}
	variant, ok := memmap.Get(cfg.Variant)
	if !ok {
		fatal("unknown ECU variant %q", cfg.Variant)
	}

	err = session.WithManager(nil, func(mgr *session.Manager) error {
		bus, err := socketcan.NewBus(*canInterface)
		if err != nil {
			return fmt.Errorf("opening %s: %w", *canInterface, err)
		}
		mgr.Register("bus", bus)
		if err := bus.Connect(); err != nil {
			return fmt.Errorf("connecting to %s: %w", *canInterface, err)
		}

		bm := n54.NewBusManager(bus)
		if err := bus.Subscribe(bm); err != nil {
			return fmt.Errorf("subscribing bus manager: %w", err)
		}

		transport, err := isotp.New(bm, cfg.TxID, cfg.RxID)
		if err != nil {
			return fmt.Errorf("building ISO-TP transport: %w", err)
		}
		mgr.Register("transport", transport)

		client := uds.NewClient(transport)
		client.SetTimeouts(cfg.P2, cfg.P2Star, cfg.ResponsePendingWait, cfg.MaxResponsePending, cfg.MaxSessionRecoveries)

		op := flash.New(client, variant, cfg, nil, progressLogger)

		return runOperation(context.Background(), op, client, *operation, *inFile, *outFile, uint32(*nvramAddr), *resetCounter)
	})
	if err != nil {
		fatal("%v", err)
	}
}

func runOperation(ctx context.Context, op *flash.Operation, client *uds.Client, operation, inFile, outFile string, nvramAddr uint32, resetCounter bool) error {
	switch operation {
	case opRead:
		if outFile == "" {
			return fmt.Errorf("-out is required for %s", opRead)
		}
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("creating %s: %w", outFile, err)
		}
		defer f.Close()
		return op.ReadCalibration(ctx, f)

	case opFlashCal:
		image, err := os.ReadFile(inFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", inFile, err)
		}
		result, err := op.FlashCalibration(ctx, image, resetCounter)
		if err != nil {
			return err
		}
		log.Infof("[MAIN] calibration flash complete: %d bytes, counter reset=%v", result.BytesWritten, result.CounterReset)
		return nil

	case opFlashNVRAM:
		data, err := os.ReadFile(inFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", inFile, err)
		}
		var backup io.Writer = io.Discard
		if outFile != "" {
			f, err := os.Create(outFile)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outFile, err)
			}
			defer f.Close()
			backup = f
		}
		result, err := op.FlashNVRAM(ctx, nvramAddr, data, backup)
		if err != nil {
			return err
		}
		log.Infof("[MAIN] NVRAM write complete: %d bytes at 0x%X", result.BytesWritten, nvramAddr)
		return nil

	case opFlashFull:
		image, err := os.ReadFile(inFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", inFile, err)
		}
		results, err := op.FlashFullBinary(ctx, image, resetCounter)
		if err != nil {
			return err
		}
		for _, r := range results {
			log.Infof("[MAIN] segment %s: %d bytes written", r.Name, r.Result.BytesWritten)
		}
		return nil

	case opReadDTCs:
		resp, err := client.Request(uds.SIDReadDTCInformation, []byte{uds.ReportDTCByStatusMask, 0xFF}, 2*time.Second)
		if err != nil {
			return err
		}
		if len(resp) < 1 {
			return fmt.Errorf("short ReadDTCInformation response")
		}
		// client.Request already strips the echoed SID; resp starts with
		// the subfunction echo, so skip it ourselves and parse without a
		// header (Parse's header check expects the SID byte at offset 0).
		codes := dtc.Parse(resp[1:], 0)
		for _, c := range codes {
			fmt.Printf("%s  %s  status=0x%02X\n", c.Code, c.Description, c.Status)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation %q", operation)
	}
}

func progressLogger(message string, percent int) {
	log.Infof("[FLASH] %3d%% %s", percent, message)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
