// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package midi implements the USB-MIDI Class-Compliant streaming
// interface (USB Device Class Definition for MIDI Devices 1.0): 4-byte
// event packets (one Code Index Number/cable byte plus up to three MIDI
// data bytes) carried over a bulk endpoint pair.
package midi

import (
	"fmt"

	"github.com/usbarmory/uspi/usb"
)

// Code Index Number values (USB-MIDI 1.0 Table 4-1) this driver classifies
// packets by to know how many of the three data bytes are meaningful.
const (
	cinMiscFunction     = 0x0
	cinCableEvent       = 0x1
	cinSysExStart       = 0x4
	cinSysExEnd1        = 0x5
	cinSysExEnd2        = 0x6
	cinSysExEnd3        = 0x7
	cinNoteOff          = 0x8
	cinNoteOn           = 0x9
	cinPolyKeyPressure  = 0xa
	cinControlChange    = 0xb
	cinProgramChange    = 0xc
	cinChannelPressure  = 0xd
	cinPitchBendChange  = 0xe
	cinSingleByte       = 0xf
)

// Event is one decoded MIDI channel voice message: its status byte (which
// encodes the message type and channel) and up to two data bytes.
type Event struct {
	Cable  uint8
	Status uint8
	Data1  uint8
	Data2  uint8
}

// EventHandler receives every decoded event.
type EventHandler func(Event)

// Device drives one USB-MIDI streaming interface.
type Device struct {
	dev *usb.Device
	in  *usb.Endpoint
	out *usb.Endpoint

	handler EventHandler
}

// New binds a MIDI driver to iface, locating its bulk endpoint pair.
// Registered against the Audio class's MIDIStreaming subclass.
func New(dev *usb.Device, iface *usb.Interface) (*Device, error) {
	if iface.Descriptor.InterfaceSubClass != usb.AudioSubClassMIDIStreaming {
		return nil, fmt.Errorf("midi: unsupported subclass %#02x", iface.Descriptor.InterfaceSubClass)
	}

	d := &Device{dev: dev}

	for i := range iface.Endpoints {
		ep := &usb.Endpoint{Device: dev, Descriptor: iface.Endpoints[i]}
		if ep.Descriptor.Type() != usb.EndpointTypeBulk {
			continue
		}
		if ep.Descriptor.IsIn() {
			d.in = ep
		} else {
			d.out = ep
		}
	}

	if d.in == nil {
		return nil, fmt.Errorf("midi: interface has no bulk IN endpoint")
	}

	d.pollIn()

	return d, nil
}

func init() {
	usb.RegisterInterfaceClass(usb.ClassAudio, func(dev *usb.Device, iface *usb.Interface) (usb.Function, bool) {
		d, err := New(dev, iface)
		if err != nil {
			return nil, false
		}
		return d, true
	})
}

// Name implements usb.Function.
func (d *Device) Name() string { return "midi" }

// RegisterHandler installs the decoded-event callback.
func (d *Device) RegisterHandler(fn EventHandler) { d.handler = fn }

// packetSize is the bulk transfer chunk this driver reads; USB-MIDI
// packets are always 4 bytes but devices batch several per transfer, so a
// generous multiple is read and decoded in a loop.
const packetSize = 64

func (d *Device) pollIn() {
	var poll func()

	poll = func() {
		buf := make([]byte, packetSize)
		urb := &usb.URB{Endpoint: d.in, Buffer: buf}

		urb.Complete = func(err error) {
			if err == nil {
				d.decode(buf[:urb.BytesTransferred])
			}
			poll()
		}

		if err := d.dev.Controller.Submit(urb); err != nil {
			return
		}
	}

	poll()
}

func (d *Device) decode(buf []byte) {
	for i := 0; i+4 <= len(buf); i += 4 {
		packet := buf[i : i+4]
		cin := packet[0] & 0x0f
		cable := packet[0] >> 4

		switch cin {
		case cinNoteOff, cinNoteOn, cinPolyKeyPressure, cinControlChange, cinPitchBendChange:
			d.emit(Event{Cable: cable, Status: packet[1], Data1: packet[2], Data2: packet[3]})
		case cinProgramChange, cinChannelPressure:
			d.emit(Event{Cable: cable, Status: packet[1], Data1: packet[2]})
		case cinSingleByte:
			d.emit(Event{Cable: cable, Status: packet[1]})
		default:
			// system exclusive and cable/misc-function packets carry no
			// channel voice message this decoder surfaces.
		}
	}
}

func (d *Device) emit(e Event) {
	if d.handler != nil {
		d.handler(e)
	}
}

// Send transmits a 3-byte channel voice message as a single 4-byte
// USB-MIDI event packet on cable 0.
func (d *Device) Send(status, data1, data2 uint8) error {
	if d.out == nil {
		return fmt.Errorf("midi: device has no bulk OUT endpoint")
	}

	cin := status >> 4

	buf := []byte{cin, status, data1, data2}

	done := make(chan error, 1)
	urb := &usb.URB{Endpoint: d.out, Buffer: buf, Complete: func(err error) { done <- err }}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return err
	}

	return <-done
}
