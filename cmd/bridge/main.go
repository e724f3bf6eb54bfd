// Command bridge runs the GP-bridge/AP-bridge firmware simulation: it
// boots a CPort bus, applies the M-PHY fixups, and serves Greybus
// requests until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/projectara/greybus-bridgefw/internal/attr"
	"github.com/projectara/greybus-bridgefw/internal/boardcfg"
	"github.com/projectara/greybus-bridgefw/internal/cport"
	"github.com/projectara/greybus-bridgefw/internal/engine"
	"github.com/projectara/greybus-bridgefw/internal/gbproto"
	"github.com/projectara/greybus-bridgefw/internal/logging"
	"github.com/projectara/greybus-bridgefw/internal/manifest"
	"github.com/projectara/greybus-bridgefw/internal/mailbox"
	"github.com/projectara/greybus-bridgefw/internal/metrics"
	"github.com/projectara/greybus-bridgefw/internal/regs"
	"github.com/projectara/greybus-bridgefw/internal/tape"
	"github.com/projectara/greybus-bridgefw/internal/transport"
)

func main() {
	var (
		apBridge = flag.Bool("ap", false, "run as the 44-cport AP-bridge instead of a 32-cport GP-bridge")
		verbose  = flag.Bool("v", false, "verbose logging")
		tapePath = flag.String("tape", "", "record received frames to this path")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	kind := cport.KindGPBridge
	board := boardcfg.DefaultGPBridgeParams()
	if *apBridge {
		kind = cport.KindAPBridge
		board = boardcfg.DefaultAPBridgeParams()
	}

	var regBackend regs.Registers = regs.NewSim()
	met := metrics.New()
	observer := metrics.NewObserver(met)

	rec := tape.NewRecorder()
	if *tapePath != "" {
		fw, err := tape.NewFileWriter(*tapePath)
		if err != nil {
			logger.Errorf("could not open tape: %v", err)
			os.Exit(1)
		}
		rec.Register(fw)
		defer rec.Close()
	}

	t := transport.New(transport.Config{Kind: kind, Regs: regBackend, Logger: logger.WithComponent("transport"), Observer: observer, Tape: rec})
	t.Start()
	defer t.Stop()

	attrBus := attr.New(regBackend)
	if err := t.ApplyMphyFixups(attrBus, board.MphyRegister1, board.MphyRegister2); err != nil {
		logger.Errorf("m-phy fixup failed: %v", err)
		os.Exit(1)
	}
	t.ProgramTransferMode()

	eng := engine.New(t, observer)

	m := &manifest.Manifest{Major: 0, Minor: 1}
	controlTable := gbproto.NewControlTable(gbproto.ManifestSourceFromBundle(m))
	eng.RegisterHandlers(0, controlTable)
	if err := t.RegisterDriver(0, controlTable); err != nil {
		logger.Errorf("could not register control driver: %v", err)
		os.Exit(1)
	}

	bridgeHandshake := mailbox.NewBridge(attrBus, t, regBackend, observer)
	irqCtx, stopIRQ := context.WithCancel(context.Background())
	go bridgeHandshake.PollInterrupts(irqCtx, mailbox.InterruptPollInterval)
	defer stopIRQ()

	// One RX worker per CPort hands queued slow-path frames to the engine.
	for _, cp := range t.CPorts.CPorts {
		if cp != nil {
			go func(id uint16, wake <-chan struct{}) {
				for range wake {
					for frame, ok := t.PopRXFrame(id); ok; frame, ok = t.PopRXFrame(id) {
						_ = eng.HandleFrame(id, frame)
					}
				}
			}(cp.ID, cp.RXSem.C())
		}
	}

	logger.Infof("bridge running, kind=%v", kind)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}
