// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "testing"

func TestMouseCookedStatusHandlerEdges(t *testing.T) {
	m := &Mouse{}

	var events []string
	m.RegisterCookedStatusHandler(func(button uint8, down bool) {
		if down {
			events = append(events, "down")
		} else {
			events = append(events, "up")
		}
	})

	m.onReport([]byte{ButtonLeft, 5, 0})
	m.onReport([]byte{0, 0, 5})

	want := []string{"down", "up"}
	if len(events) != len(want) {
		t.Fatalf("got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %q, want %q", i, events[i], want[i])
		}
	}
}

func TestMouseRawStatusHandler(t *testing.T) {
	m := &Mouse{}

	var gotButtons uint8
	var gotDX, gotDY int8

	m.RegisterRawStatusHandler(func(buttons uint8, dx, dy int8) {
		gotButtons, gotDX, gotDY = buttons, dx, dy
	})

	m.onReport([]byte{ButtonRight, 10, 0xf6}) // dy = -10

	if gotButtons != ButtonRight || gotDX != 10 || gotDY != -10 {
		t.Fatalf("got buttons=%d dx=%d dy=%d", gotButtons, gotDX, gotDY)
	}
}
