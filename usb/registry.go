// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "sync"

// Function is a bound class/function driver instance attached to one
// interface of an enumerated device.
type Function interface {
	// Name returns a short human-readable identifier for logging, e.g.
	// "keyboard" or "msd".
	Name() string
}

// FactoryFunc attempts to bind a function driver to iface on dev, returning
// (nil, false) if this factory does not recognize the interface.
type FactoryFunc func(dev *Device, iface *Interface) (Function, bool)

// registry implements the VID/PID -> device-class -> interface-class
// fallback chain described for device binding: a small number of factories
// registered by exact VID/PID take priority (quirky devices that lie about
// their class), then device-class factories, then interface-class
// factories, mirroring the original library's TUSBFunction chain-of-
// responsibility construction.
type registry struct {
	mu            sync.Mutex
	byVIDPID      map[uint32]FactoryFunc
	byDeviceClass map[uint8]FactoryFunc
	byIfaceClass  map[uint8][]FactoryFunc
}

var global = &registry{
	byVIDPID:      map[uint32]FactoryFunc{},
	byDeviceClass: map[uint8]FactoryFunc{},
	byIfaceClass:  map[uint8][]FactoryFunc{},
}

func vidPidKey(vid, pid uint16) uint32 { return uint32(vid)<<16 | uint32(pid) }

// RegisterVIDPID registers a factory for an exact vendor/product ID pair,
// taking priority over any class-based match.
func RegisterVIDPID(vid, pid uint16, f FactoryFunc) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.byVIDPID[vidPidKey(vid, pid)] = f
}

// RegisterDeviceClass registers a factory keyed by the device descriptor's
// bDeviceClass, for devices that declare their class at the device level
// (e.g. hubs).
func RegisterDeviceClass(class uint8, f FactoryFunc) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.byDeviceClass[class] = f
}

// RegisterInterfaceClass registers a factory keyed by an interface's
// bInterfaceClass, the common case for composite devices (HID, mass
// storage, audio/MIDI). Several factories may share a class (keyboard,
// mouse, and gamepad all register under ClassHID): each is tried in
// registration order and is expected to reject the interface by returning
// (nil, false) when its own subclass/protocol check fails, so that
// unrelated factories under the same class byte can still claim it.
func RegisterInterfaceClass(class uint8, f FactoryFunc) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.byIfaceClass[class] = append(global.byIfaceClass[class], f)
}

// Bind walks the fallback chain for one interface of dev and returns the
// first matching function driver, or (nil, false) if nothing claims it.
func Bind(dev *Device, iface *Interface) (Function, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if dev.Descriptor != nil {
		if f, ok := global.byVIDPID[vidPidKey(dev.Descriptor.VendorID, dev.Descriptor.ProductID)]; ok {
			if fn, ok := f(dev, iface); ok {
				return fn, true
			}
		}

		if f, ok := global.byDeviceClass[dev.Descriptor.DeviceClass]; ok {
			if fn, ok := f(dev, iface); ok {
				return fn, true
			}
		}
	}

	for _, f := range global.byIfaceClass[iface.Descriptor.InterfaceClass] {
		if fn, ok := f(dev, iface); ok {
			return fn, true
		}
	}

	return nil, false
}

// BindAll walks every interface of dev's active configuration through Bind,
// returning every function driver that claimed one.
func BindAll(dev *Device) []Function {
	if dev.Configuration == nil {
		return nil
	}

	var fns []Function

	for i := range dev.Configuration.Interfaces {
		if fn, ok := Bind(dev, &dev.Configuration.Interfaces[i]); ok {
			fns = append(fns, fn)
		}
	}

	return fns
}
