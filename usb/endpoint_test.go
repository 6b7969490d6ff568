// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "testing"

func TestEndpointToggleAlternates(t *testing.T) {
	ep := &Endpoint{}

	if ep.Toggle() != false {
		t.Fatal("expected first toggle to return DATA0 (false)")
	}

	if ep.Toggle() != true {
		t.Fatal("expected second toggle to return DATA1 (true)")
	}

	if ep.Toggle() != false {
		t.Fatal("expected third toggle to return DATA0 (false) again")
	}
}

func TestEndpointResetToggle(t *testing.T) {
	ep := &Endpoint{}

	ep.Toggle()
	ep.ResetToggle()

	if ep.Toggle() != false {
		t.Fatal("expected toggle to restart at DATA0 after reset")
	}
}

func TestEndpointNeedsSplit(t *testing.T) {
	dev := &Device{Speed: SpeedLow, hubSpeed: SpeedHigh}
	ep := &Endpoint{Device: dev}

	if !ep.NeedsSplit() {
		t.Fatal("expected low-speed endpoint behind a high-speed hub to need split transactions")
	}

	dev.hubSpeed = SpeedFull
	if ep.NeedsSplit() {
		t.Fatal("did not expect split transactions behind a full-speed hub")
	}

	dev.Speed = SpeedHigh
	dev.hubSpeed = SpeedHigh
	if ep.NeedsSplit() {
		t.Fatal("did not expect a high-speed endpoint to need split transactions")
	}
}
