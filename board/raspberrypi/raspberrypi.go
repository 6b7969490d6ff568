// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package raspberrypi wires the host stack to a Raspberry Pi 2/3
// (BCM2836/BCM2837, Cortex-A7/A53 with the GIC-400 interrupt controller
// tamago's arm/gic package drives) by composing the struct literals the
// DWC2 controller and environment shim need, the same board-wiring shape
// soc/nxp/imx6ul's own board packages use to compose their GIC/USB field
// literals.
package raspberrypi

import (
	"fmt"

	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/arm/gic"

	"github.com/usbarmory/uspi/soc/bcm2835/dwc2"
	"github.com/usbarmory/uspi/uspi"
)

// Peripheral base addresses for the BCM2836/BCM2837 SoC (Raspberry Pi
// 2/3), selected at Init.
const (
	PeripheralBaseBCM2836 = 0x3f000000
	usbOffset             = 0x980000
	gicDistOffset         = 0x00b000
	gicCPUOffset          = 0x00c000

	usbIRQ = 9 // DWC2 "usb" shared peripheral interrupt, BCM2836 IRQ table
)

// Config selects the board variant to initialize for.
type Config struct {
	PeripheralBase uint32
}

// Default targets the Raspberry Pi 2 Model B's peripheral base.
var Default = Config{PeripheralBase: PeripheralBaseBCM2836}

// Init brings up the DWC2 host controller and runs the stack's initial
// enumeration pass, returning a ready uspi.Host.
func Init(cfg Config) (*uspi.Host, error) {
	if cfg.PeripheralBase == 0 {
		cfg = Default
	}

	cpu := &arm.CPU{}
	cpu.Init()

	controller := &gic.GIC{
		Base: cfg.PeripheralBase, // distributor/CPU interface offsets applied internally by gic.Init
	}
	controller.Init(false, false)

	c, err := dwc2.New(dwc2.Config{
		Base: cfg.PeripheralBase + usbOffset,
		IRQ:  usbIRQ,
		CPU:  cpu,
		GIC:  controller,
		// the VideoCore firmware powers the USB/Ethernet companion chip's
		// power domain on Pi2/3 before ARM boot on most firmware builds,
		// so PowerDomain 0 here is informational; boards whose firmware
		// leaves it off should set the device ID the mailbox's
		// SET_POWER_STATE tag expects.
		PowerDomain: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("raspberrypi: %w", err)
	}

	host, err := uspi.New(c)
	if err != nil {
		return nil, fmt.Errorf("raspberrypi: %w", err)
	}

	return host, nil
}
