// Command svc runs the Switch-Supervisor Controller bring-up sequence
// against a simulated switch and prints state transitions.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/projectara/greybus-bridgefw/internal/boardcfg"
	"github.com/projectara/greybus-bridgefw/internal/logging"
	"github.com/projectara/greybus-bridgefw/internal/manifest"
	"github.com/projectara/greybus-bridgefw/internal/regs"
	"github.com/projectara/greybus-bridgefw/internal/svc"
)

// loggingSwitch implements svc.Switch by logging every NCP command; a
// real board swaps this for one that writes switch registers.
type loggingSwitch struct {
	logger *logging.Logger
}

func (s *loggingSwitch) SetDeviceID(port, deviceID uint8) error {
	s.logger.Infof("set_device_id port=%d device_id=%d", port, deviceID)
	return nil
}

func (s *loggingSwitch) ProgramRoute(peerDev, peerPort, localDev, localPort uint8) error {
	s.logger.Infof("program_route peer=%d/%d local=%d/%d", peerDev, peerPort, localDev, localPort)
	return nil
}

func (s *loggingSwitch) CreateConnection(cc svc.ConnectionCreate) error {
	s.logger.Infof("switch_connection_create %+v", cc)
	return nil
}

func (s *loggingSwitch) EnableIRQ() error {
	s.logger.Info("switch irq enabled")
	return nil
}

func (s *loggingSwitch) EnablePortIRQ(port uint8) error {
	s.logger.Infof("port irq enabled port=%d", port)
	return nil
}

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	board := boardcfg.DefaultAPBridgeParams()
	board.Interfaces = boardcfg.DefaultInterfacePowerOn()
	board.RoutingTable = boardcfg.DefaultRoutingTable()

	sw := &loggingSwitch{logger: logger.WithComponent("switch")}
	controller := svc.New(svc.Board{
		Interfaces:        board.Interfaces,
		RoutingTable:      board.RoutingTable,
		InterfacesOnDelay: board.InterfacesOnDelay,
	}, sw, regs.NewSim())

	controller.Start(&manifest.Manifest{})
	for s := controller.State(); s != svc.StateIRQOn && s != svc.StateStopped; s = controller.State() {
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("svc bring-up finished, state=%v\n", controller.State())
	os.Exit(0)
}
