// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "testing"

func TestUTF16LEToASCII(t *testing.T) {
	// "Pi" in UTF-16LE
	in := []byte{'P', 0x00, 'i', 0x00}

	got := utf16LEToASCII(in)
	if got != "Pi" {
		t.Fatalf("got %q, want %q", got, "Pi")
	}
}

func TestUTF16LEToASCIINonASCII(t *testing.T) {
	// a non-Latin code unit (high byte non-zero) becomes '?'
	in := []byte{0x20, 0x20} // U+2020
	got := utf16LEToASCII(in)

	if got != "?" {
		t.Fatalf("got %q, want %q", got, "?")
	}
}
