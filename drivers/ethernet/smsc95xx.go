// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ethernet drives the SMSC LAN95xx family USB-to-Ethernet bridge
// (as used on the Raspberry Pi Model B/B+/2), which exposes no standard
// CDC-ECM interface: vendor register access rides over control transfers,
// PHY access rides over a subset of those vendor registers (MII_ACCESS/
// MII_DATA), and frames carry an 8-byte TX command header and a 4-byte RX
// status header instead of going on the wire raw. The MII/PHY busy-poll
// access pattern is modeled on the native ENET MAC driver's
// ReadPHYRegister/WritePHYRegister shape, adapted from direct MMIO to
// vendor control transfers.
package ethernet

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/usbarmory/uspi/usb"
)

// Vendor-specific request used for every register access (SMSC95xx
// datasheet §3.6).
const (
	vendorRequestWriteReg = 0xa0
	vendorRequestReadReg  = 0xa1
)

// Vendor register offsets.
const (
	regID_REV     = 0x00
	regMAC_CR     = 0x100
	regADDRL      = 0x104
	regADDRH      = 0x108
	regMII_ADDR   = 0x114
	regMII_DATA   = 0x118
	regFLOW       = 0x11c
	regHW_CFG     = 0x14
	regRX_CFG     = 0xc
	regINT_STS    = 0x18
)

// MAC_CR bits.
const (
	macCrRXEN = 1 << 2
	macCrTXEN = 1 << 3
)

// MII_ADDR bits.
const (
	miiBusy  = 1 << 0
	miiWrite = 1 << 1
)

// PHY registers (IEEE 802.3 clause 22).
const (
	phyBasicControl = 0x00
	phyBasicStatus  = 0x01
)

// TX command word A/B bit layout (SMSC95xx datasheet §3.2).
const (
	txCmdAFirstSeg = 1 << 13
	txCmdALastSeg  = 1 << 12
)

// RX status word error bits (SMSC95xx datasheet §3.3).
const rxStsError = 1 << 15

// Device drives one SMSC95xx function, which presents as a single bulk IN
// + bulk OUT pair with no separate control interface (vendor requests
// target the device's own control endpoint 0).
type Device struct {
	dev *usb.Device
	in  *usb.Endpoint
	out *usb.Endpoint

	MACAddress [6]byte
}

// New binds an Ethernet driver to iface. Registered by VID/PID since the
// SMSC95xx declares itself vendor-specific at the device level and carries
// no distinguishing interface class.
func New(dev *usb.Device, iface *usb.Interface) (*Device, error) {
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

	if d.in == nil || d.out == nil {
		return nil, fmt.Errorf("ethernet: interface is missing a bulk endpoint pair")
	}

	if err := d.init(); err != nil {
		return nil, err
	}

	return d, nil
}

// knownVIDPID lists the USB Ethernet Ecosystem VID/PIDs the SMSC95xx family
// ships under (Raspberry Pi Foundation's board uses the SMSC LAN9514's
// composite hub+Ethernet VID/PID).
var knownVIDPID = [][2]uint16{
	{0x0424, 0xec00}, // SMSC9512/9514 Ethernet function
	{0x0424, 0x9514},
}

func init() {
	for _, vp := range knownVIDPID {
		vid, pid := vp[0], vp[1]
		usb.RegisterVIDPID(vid, pid, func(dev *usb.Device, iface *usb.Interface) (usb.Function, bool) {
			d, err := New(dev, iface)
			if err != nil {
				return nil, false
			}
			return d, true
		})
	}
}

// Name implements usb.Function.
func (d *Device) Name() string { return "smsc95xx" }

func (d *Device) readReg(offset uint16) (uint32, error) {
	buf := make([]byte, 4)

	if err := d.controlIn(vendorRequestReadReg, 0, offset, buf); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf), nil
}

func (d *Device) writeReg(offset uint16, val uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, val)
	return d.controlOut(vendorRequestWriteReg, 0, offset, buf)
}

func (d *Device) controlIn(request uint8, value, index uint16, buf []byte) error {
	done := make(chan error, 1)
	urb := &usb.URB{
		Endpoint: d.dev.ControlEndpoint(),
		Setup: &usb.SetupPacket{
			RequestType: usb.RequestDirectionIn | usb.RequestTypeVendor | usb.RequestRecipientDevice,
			Request:     request,
			Value:       value,
			Index:       index,
			Length:      uint16(len(buf)),
		},
		Buffer:   buf,
		Complete: func(err error) { done <- err },
	}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return err
	}

	return <-done
}

func (d *Device) controlOut(request uint8, value, index uint16, buf []byte) error {
	done := make(chan error, 1)
	urb := &usb.URB{
		Endpoint: d.dev.ControlEndpoint(),
		Setup: &usb.SetupPacket{
			RequestType: usb.RequestDirectionOut | usb.RequestTypeVendor | usb.RequestRecipientDevice,
			Request:     request,
			Value:       value,
			Index:       index,
			Length:      uint16(len(buf)),
		},
		Buffer:   buf,
		Complete: func(err error) { done <- err },
	}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return err
	}

	return <-done
}

// readPHYRegister polls MII_ADDR's busy bit exactly as the native ENET
// MAC driver's mii.go does, the only difference being that each poll
// iteration is itself a vendor control transfer rather than a single MMIO
// load.
func (d *Device) readPHYRegister(phyReg uint8) (uint16, error) {
	if err := d.waitMIINotBusy(); err != nil {
		return 0, err
	}

	if err := d.writeReg(regMII_ADDR, uint32(phyReg)<<6|miiBusy); err != nil {
		return 0, err
	}

	if err := d.waitMIINotBusy(); err != nil {
		return 0, err
	}

	val, err := d.readReg(regMII_DATA)
	if err != nil {
		return 0, err
	}

	return uint16(val), nil
}

func (d *Device) writePHYRegister(phyReg uint8, val uint16) error {
	if err := d.waitMIINotBusy(); err != nil {
		return err
	}

	if err := d.writeReg(regMII_DATA, uint32(val)); err != nil {
		return err
	}

	if err := d.writeReg(regMII_ADDR, uint32(phyReg)<<6|miiBusy|miiWrite); err != nil {
		return err
	}

	return d.waitMIINotBusy()
}

func (d *Device) waitMIINotBusy() error {
	deadline := time.Now().Add(100 * time.Millisecond)

	for time.Now().Before(deadline) {
		v, err := d.readReg(regMII_ADDR)
		if err != nil {
			return err
		}
		if v&miiBusy == 0 {
			return nil
		}
	}

	return fmt.Errorf("ethernet: MII busy timeout")
}

func (d *Device) init() error {
	idrev, err := d.readReg(regID_REV)
	if err != nil {
		return fmt.Errorf("ethernet: read ID_REV: %w", err)
	}
	_ = idrev

	addrl, err := d.readReg(regADDRL)
	if err != nil {
		return err
	}
	addrh, err := d.readReg(regADDRH)
	if err != nil {
		return err
	}

	d.MACAddress[0] = byte(addrl)
	d.MACAddress[1] = byte(addrl >> 8)
	d.MACAddress[2] = byte(addrl >> 16)
	d.MACAddress[3] = byte(addrl >> 24)
	d.MACAddress[4] = byte(addrh)
	d.MACAddress[5] = byte(addrh >> 8)

	// reset and enable the PHY's auto-negotiation, then bring up MAC
	// TX/RX, mirroring the native driver's Init() clock/PHY/enable
	// ordering.
	if err := d.writePHYRegister(phyBasicControl, 1<<15); err != nil { // soft reset
		return fmt.Errorf("ethernet: PHY reset: %w", err)
	}

	usDelaySettle()

	if err := d.writePHYRegister(phyBasicControl, 1<<12|1<<9); err != nil { // auto-negotiation enable + restart
		return fmt.Errorf("ethernet: PHY autonegotiation: %w", err)
	}

	macCR, err := d.readReg(regMAC_CR)
	if err != nil {
		return err
	}

	return d.writeReg(regMAC_CR, macCR|macCrRXEN|macCrTXEN)
}

func usDelaySettle() { time.Sleep(10 * time.Millisecond) }

// SetMACAddress programs the device's hardware address registers, used
// when the board identity (rather than the device's own factory default)
// should be advertised, e.g. from usbenv.GetMACAddress's VideoCore MAC.
func (d *Device) SetMACAddress(mac [6]byte) error {
	addrl := uint32(mac[0]) | uint32(mac[1])<<8 | uint32(mac[2])<<16 | uint32(mac[3])<<24
	addrh := uint32(mac[4]) | uint32(mac[5])<<8

	if err := d.writeReg(regADDRL, addrl); err != nil {
		return err
	}
	if err := d.writeReg(regADDRH, addrh); err != nil {
		return err
	}

	d.MACAddress = mac
	return nil
}

// Send transmits one Ethernet frame, prepending the 8-byte TX command
// header the SMSC95xx requires (two command words, no CRC/padding
// requested).
func (d *Device) Send(frame []byte) error {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(frame))|txCmdAFirstSeg|txCmdALastSeg)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(frame)))

	buf := append(header, frame...)

	done := make(chan error, 1)
	urb := &usb.URB{Endpoint: d.out, Buffer: buf, Complete: func(err error) { done <- err }}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return fmt.Errorf("ethernet: send: %w", err)
	}

	return <-done
}

// Receive reads one Ethernet frame from the bulk IN endpoint into a
// caller-provided buffer sized for the largest expected packet plus the
// 4-byte RX status header, returning the frame payload with that header
// and any padding stripped.
func (d *Device) Receive(buf []byte) ([]byte, error) {
	done := make(chan error, 1)
	urb := &usb.URB{Endpoint: d.in, Buffer: buf, Complete: func(err error) { done <- err }}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return nil, fmt.Errorf("ethernet: receive: %w", err)
	}

	if err := <-done; err != nil {
		return nil, err
	}

	if urb.BytesTransferred < 4 {
		return nil, fmt.Errorf("ethernet: short RX packet, %d bytes", urb.BytesTransferred)
	}

	status := binary.LittleEndian.Uint32(buf[0:4])
	if status&rxStsError != 0 {
		return nil, fmt.Errorf("ethernet: RX status error, %#08x", status)
	}

	frameLen := (status >> 16) & 0x3fff

	return buf[4 : 4+frameLen], nil
}
