// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

// Speed identifies the negotiated link speed, which determines split
// transaction requirements when a device sits behind a high-speed hub.
type Speed int

const (
	SpeedLow Speed = iota
	SpeedFull
	SpeedHigh
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	default:
		return "high"
	}
}

// Endpoint binds a parsed EndpointDescriptor to the owning Device and tracks
// the per-endpoint state a host controller needs across transactions: the
// data toggle bit and, for low/full-speed devices reached through a
// high-speed hub, the split-transaction hub address/port.
type Endpoint struct {
	Device     *Device
	Descriptor EndpointDescriptor

	toggle bool

	// HubAddress and HubPort name the parent hub and its port. NewDevice
	// sets them on endpoint 0 of every device that has a parent hub,
	// whatever the device and hub speeds; they stay zero for devices on
	// the root hub. Only a low/full-speed device behind a high-speed hub
	// needs its transactions split (SSPLIT/CSPLIT) through that hub port.
	HubAddress uint8
	HubPort    uint8
}

// Toggle returns the current data toggle bit and flips it, so consecutive
// calls alternate DATA0/DATA1 exactly as the wire protocol requires.
func (e *Endpoint) Toggle() bool {
	t := e.toggle
	e.toggle = !e.toggle
	return t
}

// ResetToggle clears the data toggle, required after SetConfiguration,
// SetInterface, or a ClearFeature(ENDPOINT_HALT).
func (e *Endpoint) ResetToggle() { e.toggle = false }

// NeedsSplit reports whether transactions to this endpoint must use
// split-transaction framing.
func (e *Endpoint) NeedsSplit() bool {
	return e.Device.Speed != SpeedHigh && e.Device.hubSpeed == SpeedHigh
}
