// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"testing"
	"time"
	"unsafe"
)

// target is a package-level uint32 used as a stand-in register: on
// GOARCH=arm its address fits uint32 and behaves exactly like an MMIO
// register for these word-aligned load/store primitives, letting the
// helpers below be tested without real hardware.
var target uint32

func addr() uint32 { return uint32(uintptr(unsafe.Pointer(&target))) }

func TestReadWrite(t *testing.T) {
	target = 0
	Write(addr(), 0xdeadbeef)

	if got := Read(addr()); got != 0xdeadbeef {
		t.Fatalf("got %#08x, want %#08x", got, 0xdeadbeef)
	}
}

func TestSetClear(t *testing.T) {
	target = 0

	Set(addr(), 3)
	if Read(addr())&(1<<3) == 0 {
		t.Fatal("expected bit 3 to be set")
	}

	Clear(addr(), 3)
	if Read(addr())&(1<<3) != 0 {
		t.Fatal("expected bit 3 to be clear")
	}
}

func TestGetSetN(t *testing.T) {
	target = 0

	SetN(addr(), 4, 0b111, 0b101)

	if got := Get(addr(), 4, 0b111); got != 0b101 {
		t.Fatalf("got field %#03b, want %#03b", got, 0b101)
	}

	ClearN(addr(), 4, 0b111)
	if got := Get(addr(), 4, 0b111); got != 0 {
		t.Fatalf("got field %#03b after clear, want 0", got)
	}
}

func TestWaitForTimesOut(t *testing.T) {
	target = 0

	if WaitFor(20*time.Millisecond, addr(), 0, 0b1, 1) {
		t.Fatal("expected WaitFor to time out waiting for a bit that never sets")
	}
}

func TestWaitForSucceedsWhenConditionAlreadyMet(t *testing.T) {
	target = 1

	if !WaitFor(20*time.Millisecond, addr(), 0, 0b1, 1) {
		t.Fatal("expected WaitFor to return immediately when condition already holds")
	}
}
