// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "testing"

func TestKeyboardCookedHandlerEdges(t *testing.T) {
	k := &Keyboard{}

	var events []string
	k.RegisterCookedHandler(func(key uint8, down bool) {
		if down {
			events = append(events, "down")
		} else {
			events = append(events, "up")
		}
	})

	// press 'a' (0x04)
	k.onReport([]byte{0, 0, 0x04, 0, 0, 0, 0, 0})
	// release 'a', press 'b' (0x05)
	k.onReport([]byte{0, 0, 0x05, 0, 0, 0, 0, 0})

	want := []string{"down", "up", "down"}
	if len(events) != len(want) {
		t.Fatalf("got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %q, want %q", i, events[i], want[i])
		}
	}
}

func TestKeyboardCtrlAltDel(t *testing.T) {
	k := &Keyboard{}

	triggered := false
	k.RegisterCtrlAltDelHandler(func() { triggered = true })

	// Ctrl+Alt held, Delete pressed
	k.onReport([]byte{ModLeftCtrl | ModLeftAlt, 0, KeyDelete, 0, 0, 0, 0, 0})

	if !triggered {
		t.Fatal("expected Ctrl-Alt-Delete handler to fire")
	}
}

func TestKeyboardCtrlAltDelNotTriggeredWithoutAllThree(t *testing.T) {
	k := &Keyboard{}

	triggered := false
	k.RegisterCtrlAltDelHandler(func() { triggered = true })

	k.onReport([]byte{ModLeftCtrl, 0, KeyDelete, 0, 0, 0, 0, 0})

	if triggered {
		t.Fatal("did not expect handler to fire without Alt held")
	}
}
