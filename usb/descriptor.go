// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"encoding/binary"
	"fmt"
)

// Descriptor type codes (USB 2.0 §9.4).
const (
	DescriptorTypeDevice                  = 0x01
	DescriptorTypeConfiguration           = 0x02
	DescriptorTypeString                  = 0x03
	DescriptorTypeInterface               = 0x04
	DescriptorTypeEndpoint                = 0x05
	DescriptorTypeDeviceQualifier         = 0x06
	DescriptorTypeHID                     = 0x21
	DescriptorTypeHIDReport               = 0x22
	DescriptorTypeHub                     = 0x29
	DescriptorTypeInterfaceAssociation    = 0x0b
)

// DeviceDescriptor is the fixed 18-byte top level device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USB               uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceRelease     uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

const deviceDescriptorLength = 18

func parseDeviceDescriptor(b []byte) (*DeviceDescriptor, error) {
	if len(b) < deviceDescriptorLength {
		return nil, fmt.Errorf("usb: short device descriptor, got %d bytes", len(b))
	}

	d := &DeviceDescriptor{
		Length:            b[0],
		DescriptorType:    b[1],
		USB:               binary.LittleEndian.Uint16(b[2:4]),
		DeviceClass:       b[4],
		DeviceSubClass:    b[5],
		DeviceProtocol:    b[6],
		MaxPacketSize0:    b[7],
		VendorID:          binary.LittleEndian.Uint16(b[8:10]),
		ProductID:         binary.LittleEndian.Uint16(b[10:12]),
		DeviceRelease:     binary.LittleEndian.Uint16(b[12:14]),
		Manufacturer:      b[14],
		Product:           b[15],
		SerialNumber:      b[16],
		NumConfigurations: b[17],
	}

	if d.DescriptorType != DescriptorTypeDevice {
		return nil, fmt.Errorf("usb: unexpected descriptor type %#02x for device descriptor", d.DescriptorType)
	}

	return d, nil
}

// ConfigurationDescriptor is the fixed 9-byte header preceding the variable
// length interface/endpoint descriptor chain returned for a full
// configuration fetch.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8
}

const configurationDescriptorLength = 9

func parseConfigurationDescriptor(b []byte) (*ConfigurationDescriptor, error) {
	if len(b) < configurationDescriptorLength {
		return nil, fmt.Errorf("usb: short configuration descriptor, got %d bytes", len(b))
	}

	c := &ConfigurationDescriptor{
		Length:             b[0],
		DescriptorType:     b[1],
		TotalLength:        binary.LittleEndian.Uint16(b[2:4]),
		NumInterfaces:      b[4],
		ConfigurationValue: b[5],
		Configuration:      b[6],
		Attributes:         b[7],
		MaxPower:           b[8],
	}

	if c.DescriptorType != DescriptorTypeConfiguration {
		return nil, fmt.Errorf("usb: unexpected descriptor type %#02x for configuration descriptor", c.DescriptorType)
	}

	return c, nil
}

// InterfaceDescriptor describes one alternate setting of one interface
// within a configuration.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8
}

const interfaceDescriptorLength = 9

func parseInterfaceDescriptor(b []byte) (*InterfaceDescriptor, error) {
	if len(b) < interfaceDescriptorLength {
		return nil, fmt.Errorf("usb: short interface descriptor, got %d bytes", len(b))
	}

	i := &InterfaceDescriptor{
		Length:            b[0],
		DescriptorType:    b[1],
		InterfaceNumber:   b[2],
		AlternateSetting:  b[3],
		NumEndpoints:      b[4],
		InterfaceClass:    b[5],
		InterfaceSubClass: b[6],
		InterfaceProtocol: b[7],
		Interface:         b[8],
	}

	if i.DescriptorType != DescriptorTypeInterface {
		return nil, fmt.Errorf("usb: unexpected descriptor type %#02x for interface descriptor", i.DescriptorType)
	}

	return i, nil
}

// Endpoint direction and transfer type bitmasks (USB 2.0 §9.6.6).
const (
	EndpointDirectionIn  = 0x80
	EndpointAddressMask  = 0x0f
	EndpointTypeMask     = 0x03
	EndpointTypeControl  = 0
	EndpointTypeIso      = 1
	EndpointTypeBulk     = 2
	EndpointTypeInterrupt = 3
)

// EndpointDescriptor describes one endpoint of an interface.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

const endpointDescriptorLength = 7

func parseEndpointDescriptor(b []byte) (*EndpointDescriptor, error) {
	if len(b) < endpointDescriptorLength {
		return nil, fmt.Errorf("usb: short endpoint descriptor, got %d bytes", len(b))
	}

	e := &EndpointDescriptor{
		Length:          b[0],
		DescriptorType:  b[1],
		EndpointAddress: b[2],
		Attributes:      b[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(b[4:6]),
		Interval:        b[6],
	}

	if e.DescriptorType != DescriptorTypeEndpoint {
		return nil, fmt.Errorf("usb: unexpected descriptor type %#02x for endpoint descriptor", e.DescriptorType)
	}

	return e, nil
}

// Number returns the endpoint's numeric address, stripped of its direction
// bit.
func (e *EndpointDescriptor) Number() uint8 { return e.EndpointAddress & EndpointAddressMask }

// IsIn reports whether the endpoint is device-to-host.
func (e *EndpointDescriptor) IsIn() bool { return e.EndpointAddress&EndpointDirectionIn != 0 }

// Type returns one of the EndpointType* transfer type constants.
func (e *EndpointDescriptor) Type() uint8 { return e.Attributes & EndpointTypeMask }

// cursor walks a raw configuration descriptor buffer one header at a time,
// the same incremental-parse shape the gousb descriptor reader and the
// original uspi library both use: read a length+type header, dispatch on
// type, advance by length.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor { return &cursor{buf: buf} }

// next returns the descriptor type and raw bytes of the next descriptor in
// the stream, or ok=false when exhausted.
func (c *cursor) next() (descType uint8, raw []byte, ok bool) {
	if c.pos+2 > len(c.buf) {
		return 0, nil, false
	}

	length := int(c.buf[c.pos])
	descType = c.buf[c.pos+1]

	if length < 2 || c.pos+length > len(c.buf) {
		return 0, nil, false
	}

	raw = c.buf[c.pos : c.pos+length]
	c.pos += length

	return descType, raw, true
}

// skipTo advances the cursor past any descriptors that are not of the given
// type, returning the first matching one it finds.
func (c *cursor) skipTo(descType uint8) ([]byte, bool) {
	for {
		t, raw, ok := c.next()
		if !ok {
			return nil, false
		}
		if t == descType {
			return raw, true
		}
	}
}
