// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "testing"

func TestParseDeviceDescriptor(t *testing.T) {
	buf := []byte{
		18, DescriptorTypeDevice,
		0x00, 0x02, // bcdUSB 2.00
		0, 0, 0,
		64,         // bMaxPacketSize0
		0x4c, 0x05, // idVendor
		0x68, 0x02, // idProduct
		0x00, 0x01,
		1, 2, 3,
		1, // bNumConfigurations
	}

	d, err := parseDeviceDescriptor(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.VendorID != 0x054c || d.ProductID != 0x0268 {
		t.Fatalf("got VID/PID %#04x/%#04x, want 0x054c/0x0268", d.VendorID, d.ProductID)
	}

	if d.MaxPacketSize0 != 64 {
		t.Fatalf("got MaxPacketSize0 %d, want 64", d.MaxPacketSize0)
	}
}

func TestParseDeviceDescriptorShort(t *testing.T) {
	if _, err := parseDeviceDescriptor(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestParseDeviceDescriptorWrongType(t *testing.T) {
	buf := make([]byte, deviceDescriptorLength)
	buf[0] = 18
	buf[1] = DescriptorTypeConfiguration

	if _, err := parseDeviceDescriptor(buf); err == nil {
		t.Fatal("expected error for wrong descriptor type")
	}
}

func TestEndpointDescriptorHelpers(t *testing.T) {
	ep := &EndpointDescriptor{EndpointAddress: 0x81, Attributes: EndpointTypeBulk}

	if !ep.IsIn() {
		t.Fatal("expected IsIn true for 0x81")
	}

	if ep.Number() != 1 {
		t.Fatalf("got endpoint number %d, want 1", ep.Number())
	}

	if ep.Type() != EndpointTypeBulk {
		t.Fatalf("got type %d, want bulk", ep.Type())
	}
}

func TestCursorSkipTo(t *testing.T) {
	// config header (9) + interface (9) + endpoint (7)
	buf := []byte{
		9, DescriptorTypeConfiguration, 25, 0, 1, 1, 0, 0x80, 0,
		9, DescriptorTypeInterface, 0, 0, 1, 0xff, 0, 0, 0,
		7, DescriptorTypeEndpoint, 0x81, 2, 64, 0, 1,
	}

	c := newCursor(buf)

	raw, ok := c.skipTo(DescriptorTypeInterface)
	if !ok {
		t.Fatal("expected to find interface descriptor")
	}

	iface, err := parseInterfaceDescriptor(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if iface.NumEndpoints != 1 {
		t.Fatalf("got NumEndpoints %d, want 1", iface.NumEndpoints)
	}
}
