// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package midi

import (
	"testing"

	"github.com/usbarmory/uspi/usb"
)

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

func TestDecodeNoteOn(t *testing.T) {
	d := &Device{}

	var got Event
	d.RegisterHandler(func(e Event) { got = e })

	// cable 0, Note On channel 0, key 0x40, velocity 0x7f
	d.decode([]byte{0x09, 0x90, 0x40, 0x7f})

	if got.Status != 0x90 || got.Data1 != 0x40 || got.Data2 != 0x7f {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeProgramChangeOmitsData2(t *testing.T) {
	d := &Device{}

	var got Event
	d.RegisterHandler(func(e Event) { got = e })

	d.decode([]byte{0x0c, 0xc0, 0x05, 0x33})

	if got.Status != 0xc0 || got.Data1 != 0x05 || got.Data2 != 0 {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeSysExPacketsProduceNoEvent(t *testing.T) {
	d := &Device{}

	fired := false
	d.RegisterHandler(func(e Event) { fired = true })

	d.decode([]byte{0x04, 0xf0, 0x01, 0x02})

	if fired {
		t.Fatal("did not expect a channel voice event from a SysEx packet")
	}
}

func TestSendBuildsSingleEventPacket(t *testing.T) {
	var captured []byte

	ctrl := &fakeController{onSubmit: func(urb *usb.URB) {
		captured = append([]byte(nil), urb.Buffer...)
	}}

	d := &Device{dev: &usb.Device{Controller: ctrl}, out: &usb.Endpoint{}}

	if err := d.Send(0x90, 0x40, 0x7f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{0x09, 0x90, 0x40, 0x7f}
	if len(captured) != len(want) {
		t.Fatalf("got %v, want %v", captured, want)
	}
	for i := range want {
		if captured[i] != want[i] {
			t.Fatalf("byte %d: got %#02x, want %#02x", i, captured[i], want[i])
		}
	}
}

func TestSendWithoutOutEndpointFails(t *testing.T) {
	d := &Device{dev: &usb.Device{}}

	if err := d.Send(0x90, 0x40, 0x7f); err == nil {
		t.Fatal("expected error for a device with no bulk OUT endpoint")
	}
}
