// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

// Standard device/interface class codes this stack recognizes (USB-IF
// assigned class codes).
const (
	ClassHub           = 0x09
	ClassHID           = 0x03
	ClassMassStorage   = 0x08
	ClassAudio         = 0x01 // USB-MIDI is an audio-class (AUDIO_CONTROL/MIDISTREAMING) subordinate
	ClassVendorSpecific = 0xff
)

// Mass storage subclass/protocol this stack supports (SCSI transparent
// command set over bulk-only transport).
const (
	MassStorageSubClassSCSI     = 0x06
	MassStorageProtocolBulkOnly = 0x50
)

// HID subclass/protocol codes for the boot-protocol devices this stack
// drives without parsing their report descriptor.
const (
	HIDSubClassBoot       = 0x01
	HIDProtocolKeyboard   = 0x01
	HIDProtocolMouse      = 0x02
)

// Audio-class subclass codes; MIDIStreaming carries USB-MIDI event packets.
const (
	AudioSubClassControl       = 0x01
	AudioSubClassMIDIStreaming = 0x03
)
