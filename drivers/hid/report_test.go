// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "testing"

// buildGamepadDescriptor builds the report descriptor from the spec's
// gamepad decode scenario: Usage=GamePad, 6 axes of 8-bit signed
// (min=-127,max=127), a 4-bit unsigned hat padded out to a full byte, and
// 12 one-bit buttons.
func buildGamepadDescriptor() []byte {
	return []byte{
		0x05, 0x01, // Usage Page (Generic Desktop)
		0x09, 0x05, // Usage (GamePad) -> enters GamePad state

		0x09, 0x30, // Usage (X) -> enters GamePadAxis state
		0x15, 0x81, // Logical Minimum -127
		0x25, 0x7f, // Logical Maximum 127
		0x75, 0x08, // Report Size 8
		0x95, 0x06, // Report Count 6
		0x81, 0x02, // Input (Data,Var,Abs) -> 6 signed 8-bit axes

		0x09, 0x39, // Usage (Hat Switch) -> enters GamePadHat state
		0x15, 0x00, // Logical Minimum 0
		0x25, 0x07, // Logical Maximum 7
		0x75, 0x04, // Report Size 4
		0x95, 0x01, // Report Count 1
		0x81, 0x02, // Input (Data,Var,Abs) -> 1 unsigned 4-bit hat

		0x81, 0x01, // Input (Constant) -> 4-bit pad, byte-aligns the buttons

		0x05, 0x09, // Usage Page (Button) -> enters GamePadButton state
		0x15, 0x00, // Logical Minimum 0
		0x25, 0x01, // Logical Maximum 1
		0x75, 0x01, // Report Size 1
		0x95, 0x0c, // Report Count 12
		0x81, 0x02, // Input (Data,Var,Abs) -> 12 buttons
	}
}

func TestWalkReportDescriptorGamepadScenario(t *testing.T) {
	layout, err := walkReportDescriptor(buildGamepadDescriptor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(layout.axes) != 6 {
		t.Fatalf("got %d axes, want 6", len(layout.axes))
	}
	if len(layout.hats) != 1 {
		t.Fatalf("got %d hats, want 1", len(layout.hats))
	}
	if !layout.buttons.present || layout.buttons.count != 12 {
		t.Fatalf("got buttons %+v, want count 12", layout.buttons)
	}
	if layout.sizeBytes != 9 {
		t.Fatalf("got report size %d, want 9", layout.sizeBytes)
	}

	for i, a := range layout.axes {
		if !a.signed {
			t.Fatalf("axis %d: expected signed extraction (logical min -127)", i)
		}
	}
}

func TestGamepadDecodeSpecScenario(t *testing.T) {
	layout, err := walkReportDescriptor(buildGamepadDescriptor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g := &Gamepad{layout: layout}

	var got GamepadReport
	g.RegisterHandler(func(r GamepadReport) { got = r })

	report := []byte{0x7f, 0x80, 0x00, 0x00, 0x00, 0x00, 0x03, 0xab, 0x0c}
	g.onReport(report)

	wantAxes := []int32{127, -128, 0, 0, 0, 0}
	if len(got.Axes) != len(wantAxes) {
		t.Fatalf("got %d axes, want %d", len(got.Axes), len(wantAxes))
	}
	for i, want := range wantAxes {
		if got.Axes[i].Value != want {
			t.Fatalf("axis %d: got %d, want %d", i, got.Axes[i].Value, want)
		}
	}

	if len(got.Hats) != 1 || got.Hats[0] != 3 {
		t.Fatalf("got hats %v, want [3]", got.Hats)
	}

	if got.Buttons != 0x0cab {
		t.Fatalf("got buttons %#04x, want %#04x", got.Buttons, 0x0cab)
	}

	if got.NumButtons != 12 {
		t.Fatalf("got %d buttons, want 12", got.NumButtons)
	}

	if got.ReportSize != 9 {
		t.Fatalf("got report size %d, want 9", got.ReportSize)
	}
}

func TestGamepadDecodeDropsMismatchedReportID(t *testing.T) {
	layout := &reportLayout{hasReportID: true, reportID: 1, sizeBytes: 2}
	g := &Gamepad{layout: layout}

	fired := false
	g.RegisterHandler(func(r GamepadReport) { fired = true })

	g.onReport([]byte{2, 0})

	if fired {
		t.Fatal("did not expect a decoded report for a mismatched report ID")
	}
}

func TestExtractBits(t *testing.T) {
	report := []byte{0b10110000, 0b00000001}

	if got := extractBits(report, 0, 8); got != 0b10110000 {
		t.Fatalf("got %#08b, want %#08b", got, 0b10110000)
	}

	if got := extractBits(report, 8, 1); got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestSignExtend(t *testing.T) {
	if got := signExtend(0x7f, 8); got != 127 {
		t.Fatalf("got %d, want 127", got)
	}
	if got := signExtend(0x80, 8); got != -128 {
		t.Fatalf("got %d, want -128", got)
	}
	if got := signExtend(0x03, 4); got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}
