// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"fmt"
	"time"
)

// Controller is the subset of the host controller driver the device and
// function-driver layers depend on. It is implemented by the DWC2 host
// controller driver; keeping the dependency as an interface here (rather
// than importing the controller package directly) avoids a cycle between
// usb and the SoC-specific controller package, mirroring how the original
// library's device layer only ever calls through its abstract host
// controller interface rather than the concrete DWC2 class.
type Controller interface {
	// Submit schedules urb for asynchronous execution. urb.Complete is
	// invoked on completion or failure.
	Submit(urb *URB) error
}

// ControlTimeout bounds how long a synchronous control transfer blocks
// before failing, protecting enumeration from a device that never
// responds.
const ControlTimeout = 3 * time.Second

// Device represents one addressed device on the bus: its control endpoint,
// negotiated speed and address, and (once parsed) its descriptors and
// active configuration.
type Device struct {
	Controller Controller

	Address uint8
	Speed   Speed

	// Parent/Port locate the device in the topology; Parent is nil for
	// devices directly on the root hub.
	Parent *Device
	Port   uint8

	// hubSpeed is the speed of the nearest upstream hub, used to decide
	// whether endpoints need split-transaction framing.
	hubSpeed Speed

	ep0 *Endpoint

	Descriptor    *DeviceDescriptor
	Configuration *Configuration

	langID uint16
}

// NewDevice constructs a Device for a just-reset port, with its control
// endpoint's max packet size set to the USB 2.0 default of 8 bytes until
// the real value is learned from the first 8 bytes of the device
// descriptor, exactly as enumeration is required to do (§9.2.6.3).
func NewDevice(ctrl Controller, speed Speed, parent *Device, port uint8, hubSpeed Speed) *Device {
	d := &Device{
		Controller: ctrl,
		Speed:      speed,
		Parent:     parent,
		Port:       port,
		hubSpeed:   hubSpeed,
	}

	d.ep0 = &Endpoint{
		Device: d,
		Descriptor: EndpointDescriptor{
			EndpointAddress: 0,
			Attributes:      EndpointTypeControl,
			MaxPacketSize:   8,
		},
	}

	if parent != nil {
		d.ep0.HubAddress = parent.Address
		d.ep0.HubPort = port
	}

	return d
}

// ControlEndpoint returns the device's endpoint 0.
func (d *Device) ControlEndpoint() *Endpoint { return d.ep0 }

// controlMessage runs one synchronous control transfer, blocking the
// calling goroutine until the controller's completion callback fires or
// ControlTimeout elapses.
func (d *Device) controlMessage(requestType, request uint8, value, index uint16, buf []byte) (int, error) {
	done := make(chan error, 1)

	urb := &URB{
		Endpoint: d.ep0,
		Setup: &SetupPacket{
			RequestType: requestType,
			Request:     request,
			Value:       value,
			Index:       index,
			Length:      uint16(len(buf)),
		},
		Buffer: buf,
		Complete: func(err error) {
			done <- err
		},
	}

	if err := d.Controller.Submit(urb); err != nil {
		return 0, err
	}

	select {
	case err := <-done:
		if err != nil {
			return 0, err
		}
		return urb.BytesTransferred, nil
	case <-time.After(ControlTimeout):
		return 0, fmt.Errorf("usb: control transfer to device %d timed out", d.Address)
	}
}

// GetDescriptor issues a standard GET_DESCRIPTOR request.
func (d *Device) GetDescriptor(descType uint8, index uint8, langID uint16, buf []byte) (int, error) {
	value := uint16(descType)<<8 | uint16(index)
	return d.controlMessage(RequestDirectionIn|RequestTypeStandard|RequestRecipientDevice, RequestGetDescriptor, value, langID, buf)
}

// FetchDeviceDescriptor retrieves and parses the full 18-byte device
// descriptor, caching it on the Device.
func (d *Device) FetchDeviceDescriptor() (*DeviceDescriptor, error) {
	buf := make([]byte, deviceDescriptorLength)

	if _, err := d.GetDescriptor(DescriptorTypeDevice, 0, 0, buf); err != nil {
		return nil, fmt.Errorf("usb: get device descriptor: %w", err)
	}

	desc, err := parseDeviceDescriptor(buf)
	if err != nil {
		return nil, err
	}

	d.Descriptor = desc
	d.ep0.Descriptor.MaxPacketSize = uint16(desc.MaxPacketSize0)

	return desc, nil
}

// FetchConfiguration retrieves configuration index and parses it, caching
// it as the Device's active Configuration. It first fetches the 9-byte
// header to learn TotalLength, then re-fetches the full descriptor set, the
// same two-stage read every USB host stack performs.
func (d *Device) FetchConfiguration(index uint8) (*Configuration, error) {
	hdr := make([]byte, configurationDescriptorLength)

	if _, err := d.GetDescriptor(DescriptorTypeConfiguration, index, 0, hdr); err != nil {
		return nil, fmt.Errorf("usb: get configuration descriptor header: %w", err)
	}

	cfgHdr, err := parseConfigurationDescriptor(hdr)
	if err != nil {
		return nil, err
	}

	full := make([]byte, cfgHdr.TotalLength)

	if _, err := d.GetDescriptor(DescriptorTypeConfiguration, index, 0, full); err != nil {
		return nil, fmt.Errorf("usb: get full configuration descriptor: %w", err)
	}

	cfg, err := ParseConfiguration(full)
	if err != nil {
		return nil, err
	}

	d.Configuration = cfg

	return cfg, nil
}

// SetAddress assigns the device a bus address, required before any request
// other than GetDescriptor(device, index 0) or SetAddress itself.
func (d *Device) SetAddress(address uint8) error {
	if _, err := d.controlMessage(RequestDirectionOut|RequestTypeStandard|RequestRecipientDevice, RequestSetAddress, uint16(address), 0, nil); err != nil {
		return fmt.Errorf("usb: set address %d: %w", address, err)
	}

	d.Address = address
	return nil
}

// SetConfiguration activates configurationValue. It resets no data toggle
// itself: the Endpoint instances function drivers create after binding
// start at DATA0.
func (d *Device) SetConfiguration(configurationValue uint8) error {
	if _, err := d.controlMessage(RequestDirectionOut|RequestTypeStandard|RequestRecipientDevice, RequestSetConfiguration, uint16(configurationValue), 0, nil); err != nil {
		return fmt.Errorf("usb: set configuration %d: %w", configurationValue, err)
	}

	if d.Configuration != nil {
		for i := range d.Configuration.Interfaces {
			// endpoint toggle state is owned by the bound function driver's
			// *Endpoint instances, not these descriptor-only copies; this
			// loop exists so future interface-level bookkeeping has a
			// natural home.
			_ = d.Configuration.Interfaces[i]
		}
	}

	return nil
}

// ClearFeature clears ENDPOINT_HALT (or another standard feature) on the
// given recipient.
func (d *Device) ClearFeature(recipient uint8, feature, index uint16) error {
	_, err := d.controlMessage(RequestDirectionOut|RequestTypeStandard|recipient, RequestClearFeature, feature, index, nil)
	return err
}

// ClearHalt clears a stalled endpoint's halt condition and resets its data
// toggle, the standard stall-recovery sequence class drivers run after an
// ErrStall.
func (d *Device) ClearHalt(ep *Endpoint) error {
	if err := d.ClearFeature(RequestRecipientEndpoint, 0, uint16(ep.Descriptor.EndpointAddress)); err != nil {
		return fmt.Errorf("usb: clear halt on endpoint %#02x: %w", ep.Descriptor.EndpointAddress, err)
	}

	ep.ResetToggle()
	return nil
}

// GetString is implemented in string.go.
