// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ethernet

import (
	"encoding/binary"
	"testing"

	"github.com/usbarmory/uspi/usb"
)

// fakeController completes every submitted URB inline, letting Send/Receive
// be exercised without a real DWC2 controller.
type fakeController struct {
	onSubmit func(urb *usb.URB)
}

func (f *fakeController) Submit(urb *usb.URB) error {
	if f.onSubmit != nil {
		f.onSubmit(urb)
	}
	if urb.Complete != nil {
		urb.Complete(nil)
	}
	return nil
}

func TestSendPrependsTXHeader(t *testing.T) {
	var captured []byte

	ctrl := &fakeController{onSubmit: func(urb *usb.URB) {
		captured = append([]byte(nil), urb.Buffer...)
		urb.BytesTransferred = len(urb.Buffer)
	}}

	d := &Device{dev: &usb.Device{Controller: ctrl}, out: &usb.Endpoint{}}

	frame := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := d.Send(frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(captured) != 8+len(frame) {
		t.Fatalf("got length %d, want %d", len(captured), 8+len(frame))
	}

	cmdA := binary.LittleEndian.Uint32(captured[0:4])
	if cmdA&txCmdAFirstSeg == 0 || cmdA&txCmdALastSeg == 0 {
		t.Fatalf("got command A %#08x, missing first/last segment bits", cmdA)
	}
	if cmdA&0xfff != uint32(len(frame)) {
		t.Fatalf("got frame length %d in command A, want %d", cmdA&0xfff, len(frame))
	}

	for i, b := range frame {
		if captured[8+i] != b {
			t.Fatalf("payload byte %d: got %#02x, want %#02x", i, captured[8+i], b)
		}
	}
}

func TestReceiveStripsStatusHeader(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03}

	buf := make([]byte, 4+len(frame))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(frame))<<16)
	copy(buf[4:], frame)

	ctrl := &fakeController{onSubmit: func(urb *usb.URB) {
		copy(urb.Buffer, buf)
		urb.BytesTransferred = len(buf)
	}}

	d := &Device{dev: &usb.Device{Controller: ctrl}, in: &usb.Endpoint{}}

	got, err := d.Receive(make([]byte, len(buf)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != len(frame) {
		t.Fatalf("got length %d, want %d", len(got), len(frame))
	}
	for i, b := range frame {
		if got[i] != b {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, got[i], b)
		}
	}
}

func TestReceiveReturnsErrorBit(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], rxStsError)

	ctrl := &fakeController{onSubmit: func(urb *usb.URB) {
		copy(urb.Buffer, buf)
		urb.BytesTransferred = len(buf)
	}}

	d := &Device{dev: &usb.Device{Controller: ctrl}, in: &usb.Endpoint{}}

	if _, err := d.Receive(make([]byte, 4)); err == nil {
		t.Fatal("expected error for RX status error bit")
	}
}

func TestSetMACAddressRoundTrip(t *testing.T) {
	var written = map[uint16]uint32{}

	ctrl := &fakeController{onSubmit: func(urb *usb.URB) {
		if urb.Setup == nil || urb.Setup.Request != vendorRequestWriteReg {
			return
		}
		written[urb.Setup.Index] = binary.LittleEndian.Uint32(urb.Buffer)
	}}

	d := &Device{dev: &usb.Device{Controller: ctrl}}

	mac := [6]byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}
	if err := d.SetMACAddress(mac); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.MACAddress != mac {
		t.Fatalf("got %v, want %v", d.MACAddress, mac)
	}

	wantL := uint32(mac[0]) | uint32(mac[1])<<8 | uint32(mac[2])<<16 | uint32(mac[3])<<24
	wantH := uint32(mac[4]) | uint32(mac[5])<<8

	if written[regADDRL] != wantL {
		t.Fatalf("got ADDRL %#08x, want %#08x", written[regADDRL], wantL)
	}
	if written[regADDRH] != wantH {
		t.Fatalf("got ADDRH %#08x, want %#08x", written[regADDRH], wantH)
	}
}
