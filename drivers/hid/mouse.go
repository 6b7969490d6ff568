// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "github.com/usbarmory/uspi/usb"

// Mouse button bitmask, byte 0 of a boot-protocol mouse report.
const (
	ButtonLeft = 1 << iota
	ButtonRight
	ButtonMiddle
)

// RawStatusHandler receives every report exactly as read: the button
// bitmask and signed X/Y deltas.
type RawStatusHandler func(buttons uint8, dx, dy int8)

// CookedStatusHandler receives edge-triggered button down/up events,
// tracked across reports by diffing the previous button mask against the
// current one. This supplements the distilled spec: the original
// usbmouse.c tracks the same edges the keyboard driver already exposes
// through its cooked handler, and the distillation only kept that
// distinction for the keyboard.
type CookedStatusHandler func(button uint8, down bool)

// Mouse drives a boot-protocol mouse interface.
type Mouse struct {
	dev *usb.Device
	ep  *usb.Endpoint

	rawHandler    RawStatusHandler
	cookedHandler CookedStatusHandler

	prevButtons uint8
}

// New binds a boot-protocol mouse driver to iface.
func New(dev *usb.Device, iface *usb.Interface) (*Mouse, error) {
	ep, err := interruptInEndpoint(dev, iface)
	if err != nil {
		return nil, err
	}

	if err := setBootProtocol(dev, iface.Descriptor.InterfaceNumber); err != nil {
		return nil, err
	}

	m := &Mouse{dev: dev, ep: ep}

	pollInterrupt(dev, ep, 4, int(iface.Endpoints[0].Interval), m.onReport)

	return m, nil
}

func init() {
	usb.RegisterInterfaceClass(usb.ClassHID, func(dev *usb.Device, iface *usb.Interface) (usb.Function, bool) {
		if iface.Descriptor.InterfaceSubClass != usb.HIDSubClassBoot || iface.Descriptor.InterfaceProtocol != usb.HIDProtocolMouse {
			return nil, false
		}

		m, err := New(dev, iface)
		if err != nil {
			return nil, false
		}

		return m, true
	})
}

// Name implements usb.Function.
func (m *Mouse) Name() string { return "mouse" }

// RegisterRawStatusHandler installs the raw per-report callback.
func (m *Mouse) RegisterRawStatusHandler(fn RawStatusHandler) { m.rawHandler = fn }

// RegisterCookedStatusHandler installs the edge-triggered button down/up
// callback.
func (m *Mouse) RegisterCookedStatusHandler(fn CookedStatusHandler) { m.cookedHandler = fn }

func (m *Mouse) onReport(report []byte) {
	if len(report) < 3 {
		return
	}

	buttons := report[0]
	dx := int8(report[1])
	dy := int8(report[2])

	if m.rawHandler != nil {
		m.rawHandler(buttons, dx, dy)
	}

	if m.cookedHandler != nil {
		changed := buttons ^ m.prevButtons

		for _, b := range []uint8{ButtonLeft, ButtonRight, ButtonMiddle} {
			if changed&b != 0 {
				m.cookedHandler(b, buttons&b != 0)
			}
		}
	}

	m.prevButtons = buttons
}
