// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uspi

import (
	"testing"

	"github.com/usbarmory/uspi/usb"
)

func TestEnumerateHubRejectsExcessiveDepth(t *testing.T) {
	h := &Host{nextAddr: 1}
	hub := usb.NewRootHub(1, usb.SpeedHigh, nil)

	if err := h.enumerateHub(hub, maxHubDepth+1); err == nil {
		t.Fatal("expected error for hub nesting beyond maxHubDepth")
	}
}

func TestPortConnectedRootHubAlwaysConnected(t *testing.T) {
	h := &Host{}
	hub := usb.NewRootHub(1, usb.SpeedHigh, nil)

	connected, speed, err := h.portConnected(hub, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !connected {
		t.Fatal("expected the root hub port to report connected")
	}
	if speed != usb.SpeedHigh {
		t.Fatalf("got speed %v, want %v", speed, usb.SpeedHigh)
	}
}

func TestReadyFalseBeforeEnumeration(t *testing.T) {
	h := &Host{}

	if h.Ready() {
		t.Fatal("expected Ready to be false before enumeration completes")
	}
}

func TestFunctionsEmptyInitially(t *testing.T) {
	h := &Host{}

	if fns := h.Functions(); len(fns) != 0 {
		t.Fatalf("got %d functions, want 0", len(fns))
	}
}

func TestEnumerateHubSkipsPortsThatFailToConnect(t *testing.T) {
	h := &Host{nextAddr: 1}

	attached := false
	hub := usb.NewRootHub(1, usb.SpeedHigh, func(port uint8, speed usb.Speed) (*usb.Device, error) {
		attached = true
		return nil, nil
	})

	// The root hub's ResetPort always fails (no controller-specific
	// status source wired here), so no port should ever reach onAttach.
	if err := h.enumerateHub(hub, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if attached {
		t.Fatal("did not expect onAttach to be called without a successful reset")
	}
}
