// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "github.com/usbarmory/uspi/usb"

// Modifier bitmask, byte 0 of a boot-protocol keyboard report.
const (
	ModLeftCtrl = 1 << iota
	ModLeftShift
	ModLeftAlt
	ModLeftGUI
	ModRightCtrl
	ModRightShift
	ModRightAlt
	ModRightGUI
)

// Standard HID usage IDs (keyboard page) needed for the Ctrl-Alt-Del
// detection supplemented from the original library's sample shutdown
// handler.
const (
	KeyDelete = 0x4c
)

// RawKeyHandler receives every report as read from the device: the
// modifier byte and up to 6 simultaneously pressed key codes (the reserved
// byte between them is dropped).
type RawKeyHandler func(modifiers uint8, keys [6]uint8)

// CookedKeyHandler receives edge-triggered key down/up events, tracked
// across reports by diffing the previous report's key set against the
// current one, matching the original library's "cooked" keyboard status
// handler.
type CookedKeyHandler func(key uint8, down bool)

// Keyboard drives a boot-protocol keyboard interface.
type Keyboard struct {
	dev *usb.Device
	ep  *usb.Endpoint

	rawHandler    RawKeyHandler
	cookedHandler CookedKeyHandler
	ctrlAltDel    func()

	prevKeys [6]uint8
}

// New binds a boot-protocol keyboard driver to iface.
func New(dev *usb.Device, iface *usb.Interface) (*Keyboard, error) {
	ep, err := interruptInEndpoint(dev, iface)
	if err != nil {
		return nil, err
	}

	if err := setBootProtocol(dev, iface.Descriptor.InterfaceNumber); err != nil {
		return nil, err
	}

	k := &Keyboard{dev: dev, ep: ep}

	pollInterrupt(dev, ep, 8, int(iface.Endpoints[0].Interval), k.onReport)

	return k, nil
}

func init() {
	usb.RegisterInterfaceClass(usb.ClassHID, func(dev *usb.Device, iface *usb.Interface) (usb.Function, bool) {
		if iface.Descriptor.InterfaceSubClass != usb.HIDSubClassBoot || iface.Descriptor.InterfaceProtocol != usb.HIDProtocolKeyboard {
			return nil, false
		}

		k, err := New(dev, iface)
		if err != nil {
			return nil, false
		}

		return k, true
	})
}

// Name implements usb.Function.
func (k *Keyboard) Name() string { return "keyboard" }

// RegisterRawHandler installs the raw per-report callback.
func (k *Keyboard) RegisterRawHandler(fn RawKeyHandler) { k.rawHandler = fn }

// RegisterCookedHandler installs the edge-triggered key down/up callback.
func (k *Keyboard) RegisterCookedHandler(fn CookedKeyHandler) { k.cookedHandler = fn }

// RegisterCtrlAltDelHandler installs a callback invoked whenever a report
// shows both Ctrl and Alt modifiers held with the Delete key pressed, the
// three-finger-salute convenience the original sample programs use to
// trigger a clean shutdown.
func (k *Keyboard) RegisterCtrlAltDelHandler(fn func()) { k.ctrlAltDel = fn }

func (k *Keyboard) onReport(report []byte) {
	if len(report) < 8 {
		return
	}

	modifiers := report[0]
	var keys [6]uint8
	copy(keys[:], report[2:8])

	if k.rawHandler != nil {
		k.rawHandler(modifiers, keys)
	}

	if k.cookedHandler != nil {
		k.diffCooked(keys)
	}

	if k.ctrlAltDel != nil && hasKey(keys, KeyDelete) &&
		modifiers&(ModLeftCtrl|ModRightCtrl) != 0 &&
		modifiers&(ModLeftAlt|ModRightAlt) != 0 {
		k.ctrlAltDel()
	}

	k.prevKeys = keys
}

func hasKey(keys [6]uint8, key uint8) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (k *Keyboard) diffCooked(keys [6]uint8) {
	for _, prev := range k.prevKeys {
		if prev == 0 {
			continue
		}
		if !hasKey(keys, prev) {
			k.cookedHandler(prev, false)
		}
	}

	for _, cur := range keys {
		if cur == 0 {
			continue
		}
		if !hasKey(k.prevKeys, cur) {
			k.cookedHandler(cur, true)
		}
	}
}
