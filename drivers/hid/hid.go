// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hid implements three Human Interface Device function drivers:
// boot-protocol keyboard, boot-protocol mouse, and a report-descriptor-
// driven gamepad decoder. Boot protocol devices are polled on their
// interrupt IN endpoint and decode a fixed 8-byte (keyboard) or 3/4-byte
// (mouse) report with no descriptor parsing; the gamepad walks its HID
// report descriptor with a small bitfield-extraction FSM.
package hid

import (
	"fmt"
	"time"

	"github.com/usbarmory/uspi/internal/irq"
	"github.com/usbarmory/uspi/timer"
	"github.com/usbarmory/uspi/usb"
)

// pollIntervalDuration converts an endpoint's bInterval (in milliseconds,
// full/high-speed interrupt endpoints) into a timer.After duration.
func pollIntervalDuration(interval int) time.Duration {
	if interval <= 0 {
		interval = 10
	}
	return time.Duration(interval) * time.Millisecond
}

// HID class-specific requests (HID 1.11 §7.2).
const (
	RequestGetReport = 0x01
	RequestSetReport = 0x09
	RequestGetIdle   = 0x02
	RequestSetIdle   = 0x0a
	RequestGetProtocol = 0x03
	RequestSetProtocol = 0x0b
)

// Boot protocol selector for SET_PROTOCOL.
const (
	ProtocolBoot   = 0
	ProtocolReport = 1
)

// Report type selector, the high byte of GET_REPORT/SET_REPORT's wValue
// (HID 1.11 §7.2.1).
const (
	reportTypeInput   = 1
	reportTypeOutput  = 2
	reportTypeFeature = 3
)

// pollInterrupt starts a periodic poll of ep using the kernel timer
// service, invoking fn with each report read; it is the shared polling
// loop every driver in this package schedules its interrupt endpoint
// through, so a stalled or errored device doesn't wedge the others.
func pollInterrupt(dev *usb.Device, ep *usb.Endpoint, reportSize int, interval int, fn func(report []byte)) {
	var poll func()

	timer.Start()

	poll = func() {
		buf := make([]byte, reportSize)

		urb := &usb.URB{
			Endpoint: ep,
			Buffer:   buf,
			Complete: func(err error) {
				if err == nil {
					fn(buf)
				} else if _, ok := err.(*usb.ErrStall); ok {
					irq.EnterCritical()
					dev.ClearHalt(ep)
					irq.LeaveCritical()
				}

				timer.After(pollIntervalDuration(interval), poll)
			},
		}

		if err := dev.Controller.Submit(urb); err != nil {
			timer.After(pollIntervalDuration(interval), poll)
		}
	}

	poll()
}

func setBootProtocol(dev *usb.Device, ifaceNum uint8) error {
	done := make(chan error, 1)

	urb := &usb.URB{
		Endpoint: dev.ControlEndpoint(),
		Setup: &usb.SetupPacket{
			RequestType: usb.RequestDirectionOut | usb.RequestTypeClass | usb.RequestRecipientInterface,
			Request:     RequestSetProtocol,
			Value:       ProtocolBoot,
			Index:       uint16(ifaceNum),
		},
		Complete: func(err error) { done <- err },
	}

	if err := dev.Controller.Submit(urb); err != nil {
		return err
	}

	if err := <-done; err != nil {
		return fmt.Errorf("hid: set boot protocol: %w", err)
	}

	return nil
}

func interruptInEndpoint(dev *usb.Device, iface *usb.Interface) (*usb.Endpoint, error) {
	for i := range iface.Endpoints {
		e := iface.Endpoints[i]
		if e.Type() == usb.EndpointTypeInterrupt && e.IsIn() {
			return &usb.Endpoint{Device: dev, Descriptor: e}, nil
		}
	}

	return nil, fmt.Errorf("hid: interface has no interrupt IN endpoint")
}
