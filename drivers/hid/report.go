// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hid

import "fmt"

// HID report descriptor item tags (HID 1.11 §6.2.2), encoded as the item
// header byte with its low 2 size bits masked off.
const (
	tagUsagePage     = 0x04
	tagUsage         = 0x08
	tagCollection    = 0xa0
	tagEndCollection = 0xc0
	tagReportSize    = 0x74
	tagReportCount   = 0x94
	tagLogicalMin    = 0x14
	tagLogicalMax    = 0x24
	tagReportID      = 0x84
	tagInput         = 0x80
)

// Generic Desktop (usagePageGenericDesktop) usage IDs this FSM recognizes.
const (
	usageJoystick = 0x04
	usageGamePad  = 0x05
	usageX        = 0x30
	usageY        = 0x31
	usageZ        = 0x32
	usageRx       = 0x33
	usageRy       = 0x34
	usageRz       = 0x35
	usageSlider   = 0x36
	usageHat      = 0x39
)

// usagePageGenericDesktop/usagePageButton are the two usage pages the FSM
// gates its field-type transitions on.
const (
	usagePageGenericDesktop = 0x01
	usagePageButton         = 0x09
)

// maxAxes/maxHats cap the decoded layout, mirroring GamePadState's fixed
// 16-axis/6-hat arrays.
const (
	maxAxes = 16
	maxHats = 6
)

// fsmState tracks where the walk is relative to having entered a GamePad
// usage collection, gating which kind of field the next INPUT item
// produces.
type fsmState int

const (
	stateNone fsmState = iota
	stateGamePad
	stateGamePadButton
	stateGamePadAxis
	stateGamePadHat
)

// axisField describes one decoded analog axis slot: its position in the
// report, its bit width, its logical range, and whether it is sign-extended
// (logicalMin < 0) or read as a plain unsigned magnitude.
type axisField struct {
	bitOffset  int
	bitSize    int
	signed     bool
	logicalMin int32
	logicalMax int32
}

// hatField describes one decoded hat-switch slot.
type hatField struct {
	bitOffset int
	bitSize   int
}

// reportLayout is the parsed shape of one HID report: where every
// GamePad-usage axis/hat/button field sits, plus the REPORT_ID this layout
// is scoped to (if the descriptor declares one) and the report's total byte
// size.
type reportLayout struct {
	hasReportID bool
	reportID    uint8

	axes    []axisField
	hats    []hatField
	buttons struct {
		bitOffset int
		count     int
		present   bool
	}

	sizeBytes int
}

// walkReportDescriptor runs the FSM over a raw HID report descriptor:
// short items carry a 1-byte header (tag<<4 | type<<2 | size) followed by
// 0/1/2/4 data bytes. A Usage(Joystick|GamePad) item on the Generic
// Desktop page enters the GamePad state; while in that state, a
// USAGE_PAGE(Button) item enters GamePadButton and a Usage(X|Y|Z|Rx|Ry|
// Rz|Slider) or Usage(HatSwitch) item enters GamePadAxis/GamePadHat. Each
// INPUT(Data,Var) item (attribute bits `&0x3 == 0x02`) consumes
// ReportCount fields of ReportSize bits from the current bit offset,
// decoded according to whichever field-type state is active, and returns
// to the plain GamePad state; every INPUT item advances the bit offset
// regardless of state, since padding/unrelated fields still occupy report
// space. The first REPORT_ID item seen reserves the report's first byte
// as an ID prefix (bit offset starts at 8) and records the ID that
// Gamepad.onReport later validates incoming reports against.
func walkReportDescriptor(desc []byte) (*reportLayout, error) {
	layout := &reportLayout{}

	var usagePage uint32
	var usage uint32
	var reportSize, reportCount int
	var logicalMin, logicalMax int32
	var bitOffset int
	state := stateNone
	seenReportID := false

	i := 0
	for i < len(desc) {
		header := desc[i]
		size := int(header & 0x03)
		if size == 3 {
			size = 4
		}
		tag := header & 0xfc

		i++
		if i+size > len(desc) {
			return nil, fmt.Errorf("hid: truncated report descriptor item at byte %d", i)
		}

		data := desc[i : i+size]
		i += size

		val := littleEndianSigned(data)
		uval := littleEndianUnsigned(data)

		switch tag {
		case tagUsagePage:
			usagePage = uval
			if state == stateGamePad && usagePage == usagePageButton {
				state = stateGamePadButton
			}
		case tagUsage:
			usage = uval
			if usagePage == usagePageGenericDesktop {
				switch {
				case usage == usageJoystick || usage == usageGamePad:
					state = stateGamePad
				case state == stateGamePad && isAxisUsage(usage):
					state = stateGamePadAxis
				case state == stateGamePad && usage == usageHat:
					state = stateGamePadHat
				}
			}
		case tagReportSize:
			reportSize = int(uval)
		case tagReportCount:
			reportCount = int(uval)
		case tagLogicalMin:
			logicalMin = val
		case tagLogicalMax:
			logicalMax = val
		case tagReportID:
			if !seenReportID {
				layout.reportID = uint8(uval)
				layout.hasReportID = true
				seenReportID = true
				bitOffset = 8
			}
		case tagInput:
			if uval&0x3 == 0x02 {
				switch state {
				case stateGamePadButton:
					if !layout.buttons.present {
						layout.buttons.bitOffset = bitOffset
						layout.buttons.count = reportCount
						layout.buttons.present = true
					}
					state = stateGamePad
				case stateGamePadAxis:
					for n := 0; n < reportCount && len(layout.axes) < maxAxes; n++ {
						layout.axes = append(layout.axes, axisField{
							bitOffset:  bitOffset + n*reportSize,
							bitSize:    reportSize,
							signed:     logicalMin < 0,
							logicalMin: logicalMin,
							logicalMax: logicalMax,
						})
					}
					state = stateGamePad
				case stateGamePadHat:
					for n := 0; n < reportCount && len(layout.hats) < maxHats; n++ {
						layout.hats = append(layout.hats, hatField{
							bitOffset: bitOffset + n*reportSize,
							bitSize:   reportSize,
						})
					}
					state = stateGamePad
				}
			}

			bitOffset += reportCount * reportSize
		case tagCollection, tagEndCollection:
			// collection nesting doesn't affect this flat FSM: the state
			// transitions are gated entirely on Usage/UsagePage items.
		}
	}

	layout.sizeBytes = (bitOffset + 7) / 8

	return layout, nil
}

func isAxisUsage(usage uint32) bool {
	switch usage {
	case usageX, usageY, usageZ, usageRx, usageRy, usageRz, usageSlider:
		return true
	default:
		return false
	}
}

func littleEndianUnsigned(b []byte) uint32 {
	var v uint32
	for i, x := range b {
		v |= uint32(x) << uint(8*i)
	}
	return v
}

func littleEndianSigned(b []byte) int32 {
	v := littleEndianUnsigned(b)
	switch len(b) {
	case 1:
		return int32(int8(v))
	case 2:
		return int32(int16(v))
	default:
		return int32(v)
	}
}

// extractBits reads a bitSize-wide, bitOffset-positioned unsigned field out
// of a report buffer, the per-byte shifting boot/report drivers both need
// for anything wider or less aligned than a whole byte.
func extractBits(report []byte, bitOffset, bitSize int) uint32 {
	var val uint32

	for i := 0; i < bitSize; i++ {
		bit := bitOffset + i
		byteIdx := bit / 8
		bitIdx := uint(bit % 8)

		if byteIdx >= len(report) {
			break
		}

		if report[byteIdx]&(1<<bitIdx) != 0 {
			val |= 1 << uint(i)
		}
	}

	return val
}

// signExtend widens a bitSize-wide two's-complement value read via
// extractBits to a full int32.
func signExtend(raw uint32, bitSize int) int32 {
	if bitSize >= 32 {
		return int32(raw)
	}
	signBit := uint32(1) << uint(bitSize-1)
	if raw&signBit != 0 {
		return int32(raw | (^uint32(0) << uint(bitSize)))
	}
	return int32(raw)
}
