// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import (
	"fmt"
	"sync"

	"github.com/usbarmory/uspi/usb"
)

// Sony's VID, and the PS3 Dualshock 3/Sixaxis PID, which needs two
// vendor-specific control transfers before it starts streaming HID input
// reports: a SET_REPORT(Feature, 0xf4) that switches the pad out of its
// default HID-idle mode, followed by a SET_REPORT(Output, 0x01) that both
// completes that switch and lights the player-number LED.
const (
	sonyVID       = 0x054c
	ps3GamepadPID = 0x0268
)

// ps3EnableReport is the fixed 4-byte payload the Sixaxis/Dualshock 3
// expects on SET_REPORT(Feature, 0xf4).
var ps3EnableReport = []byte{0x42, 0x0c, 0x00, 0x00}

// ps3LEDReportTemplate is the 48-byte Output report template that both confirms
// the enable sequence and drives the four player-number LEDs; byte 9's low
// nibble (shifted left one) selects which LED lights, mirroring the
// original driver's fixed rumble/LED command block.
var ps3LEDReportTemplate = []byte{
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0x27, 0x10, 0x00, 0x32,
	0xff, 0x27, 0x10, 0x00, 0x32,
	0xff, 0x27, 0x10, 0x00, 0x32,
	0xff, 0x27, 0x10, 0x00, 0x32,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00,
}

// ps3LEDForIndex maps a 0-based controller instance index to its
// single-LED bit pattern (LED1..LED4); a fifth or later pad leaves all
// LEDs off rather than wrapping.
var ps3LEDForIndex = []uint8{0x01, 0x02, 0x04, 0x08}

// Axis reports one decoded analog axis slot: its raw logical-range value
// (sign-extended per the descriptor's logical minimum) and the range it
// was declared with, so callers can rescale however they need without the
// driver baking in a lossy normalization.
type Axis struct {
	Value      int32
	LogicalMin int32
	LogicalMax int32
}

// GamepadReport is one decoded input report, the Go shape of the report
// descriptor's GamePad usage collection: up to 16 axes, up to 6 hat
// switches, a button bitmap and how many of its bits are meaningful, and
// the report's total byte size.
type GamepadReport struct {
	Axes       []Axis
	Hats       []uint8
	Buttons    uint32
	NumButtons int
	ReportSize int
}

// GamepadHandler receives each decoded report.
type GamepadHandler func(GamepadReport)

// gamepadInstances counts successfully bound Gamepad drivers, giving each
// one a stable 0-based index for the PS3 quirk's player-number LED.
var (
	gamepadInstancesMu sync.Mutex
	gamepadInstances   int
)

// Gamepad drives a HID gamepad/joystick interface by walking its report
// descriptor once at bind time to learn the field layout, then extracting
// those fields from every subsequent interrupt report — the report-driven
// decode the boot-protocol keyboard/mouse drivers deliberately avoid.
type Gamepad struct {
	dev    *usb.Device
	ep     *usb.Endpoint
	layout *reportLayout

	handler GamepadHandler
}

// New binds a gamepad driver to iface, fetching its HID report descriptor
// (a class-specific descriptor nested inside the interface's descriptor
// set, recovered via usb.FindClassDescriptor since ParseConfiguration
// skips class-specific descriptors).
func New(dev *usb.Device, iface *usb.Interface, configBuf []byte, ifaceIndex int) (*Gamepad, error) {
	ep, err := interruptInEndpoint(dev, iface)
	if err != nil {
		return nil, err
	}

	hidDesc, ok := usb.FindClassDescriptor(configBuf, ifaceIndex, usb.DescriptorTypeHID)
	if !ok || len(hidDesc) < 9 {
		return nil, fmt.Errorf("hid: gamepad interface has no HID descriptor")
	}

	reportDescLen := int(hidDesc[7]) | int(hidDesc[8])<<8

	reportDesc := make([]byte, reportDescLen)
	if _, err := dev.GetDescriptor(usb.DescriptorTypeHIDReport, 0, 0, reportDesc); err != nil {
		return nil, fmt.Errorf("hid: get report descriptor: %w", err)
	}

	layout, err := walkReportDescriptor(reportDesc)
	if err != nil {
		return nil, err
	}

	g := &Gamepad{dev: dev, ep: ep, layout: layout}

	if dev.Descriptor != nil && dev.Descriptor.VendorID == sonyVID && dev.Descriptor.ProductID == ps3GamepadPID {
		gamepadInstancesMu.Lock()
		index := gamepadInstances
		gamepadInstances++
		gamepadInstancesMu.Unlock()

		if err := g.enablePS3Reporting(index); err != nil {
			return nil, err
		}
	}

	reportBytes := layout.sizeBytes
	if reportBytes == 0 {
		reportBytes = 8
	}

	pollInterrupt(dev, ep, reportBytes, int(iface.Endpoints[0].Interval), g.onReport)

	return g, nil
}

// enablePS3Reporting issues the Sixaxis/Dualshock 3 enable sequence: a
// SET_REPORT(Feature, 0xf4) with the fixed 4-byte enable payload, followed
// by a SET_REPORT(Output, 0x01) carrying the 48-byte LED/rumble block with
// deviceIndex's player LED lit.
func (g *Gamepad) enablePS3Reporting(deviceIndex int) error {
	if err := g.setReport(usb.RequestTypeClass, reportTypeFeature, 0xf4, ps3EnableReport); err != nil {
		return fmt.Errorf("hid: PS3 gamepad enable: %w", err)
	}

	led := uint8(0)
	if deviceIndex >= 0 && deviceIndex < len(ps3LEDForIndex) {
		led = ps3LEDForIndex[deviceIndex]
	}

	buf := append([]byte(nil), ps3LEDReportTemplate...)
	buf[9] |= led << 1

	if err := g.setReport(usb.RequestTypeClass, reportTypeOutput, 0x01, buf); err != nil {
		return fmt.Errorf("hid: PS3 gamepad LED: %w", err)
	}

	return nil
}

func (g *Gamepad) setReport(requestType uint8, reportType uint8, reportID uint8, buf []byte) error {
	done := make(chan error, 1)

	urb := &usb.URB{
		Endpoint: g.dev.ControlEndpoint(),
		Setup: &usb.SetupPacket{
			RequestType: usb.RequestDirectionOut | requestType | usb.RequestRecipientInterface,
			Request:     RequestSetReport,
			Value:       uint16(reportType)<<8 | uint16(reportID),
			Index:       0,
			Length:      uint16(len(buf)),
		},
		Buffer:   buf,
		Complete: func(err error) { done <- err },
	}

	if err := g.dev.Controller.Submit(urb); err != nil {
		return err
	}

	return <-done
}

// RegisterHandler installs the decoded-report callback.
func (g *Gamepad) RegisterHandler(fn GamepadHandler) { g.handler = fn }

// Name implements usb.Function.
func (g *Gamepad) Name() string { return "gamepad" }

func (g *Gamepad) onReport(report []byte) {
	if g.handler == nil {
		return
	}

	if g.layout.hasReportID {
		if len(report) == 0 || report[0] != g.layout.reportID {
			return
		}
	}

	out := GamepadReport{ReportSize: g.layout.sizeBytes}

	for _, a := range g.layout.axes {
		raw := extractBits(report, a.bitOffset, a.bitSize)

		var v int32
		if a.signed {
			v = signExtend(raw, a.bitSize)
		} else {
			v = int32(raw)
		}

		out.Axes = append(out.Axes, Axis{Value: v, LogicalMin: a.logicalMin, LogicalMax: a.logicalMax})
	}

	for _, h := range g.layout.hats {
		out.Hats = append(out.Hats, uint8(extractBits(report, h.bitOffset, h.bitSize)))
	}

	if g.layout.buttons.present {
		out.Buttons = extractBits(report, g.layout.buttons.bitOffset, g.layout.buttons.count)
		out.NumButtons = g.layout.buttons.count
	}

	g.handler(out)
}

func init() {
	usb.RegisterInterfaceClass(usb.ClassHID, func(dev *usb.Device, iface *usb.Interface) (usb.Function, bool) {
		if iface.Descriptor.InterfaceSubClass == usb.HIDSubClassBoot {
			return nil, false // boot-protocol devices are claimed by keyboard.go/mouse.go
		}

		// the gamepad factory needs the raw configuration buffer to reach
		// class-specific descriptors; it is re-fetched here rather than
		// threaded through the registry, a small cost paid once per
		// composite device at enumeration time.
		raw := make([]byte, 9)
		if _, err := dev.GetDescriptor(usb.DescriptorTypeConfiguration, 0, 0, raw); err != nil {
			return nil, false
		}

		cfgHdr, err := parseConfigHeaderForLength(raw)
		if err != nil {
			return nil, false
		}

		full := make([]byte, cfgHdr)
		if _, err := dev.GetDescriptor(usb.DescriptorTypeConfiguration, 0, 0, full); err != nil {
			return nil, false
		}

		ifaceIndex := indexOfInterface(dev, iface)

		g, err := New(dev, iface, full, ifaceIndex)
		if err != nil {
			return nil, false
		}

		return g, true
	})
}

func parseConfigHeaderForLength(b []byte) (int, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("hid: short configuration header")
	}
	return int(b[2]) | int(b[3])<<8, nil
}

func indexOfInterface(dev *usb.Device, iface *usb.Interface) int {
	if dev.Configuration == nil {
		return 0
	}
	for i := range dev.Configuration.Interfaces {
		if &dev.Configuration.Interfaces[i] == iface {
			return i
		}
	}
	return 0
}
