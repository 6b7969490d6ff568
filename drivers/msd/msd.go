// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package msd implements the USB Mass Storage Class Bulk-Only Transport
// (BOT, USB MSC BOT 1.0) carrying the SCSI transparent command set, enough
// to read and write fixed-size blocks on a single LUN disk: READ(10) and
// WRITE(10), with bus-reset based recovery when the device reports a
// command failure.
package msd

import (
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/uspi/usb"
)

const (
	cbwSignature = 0x43425355
	cswSignature = 0x53425355

	cbwLength = 31
	cswLength = 13
)

// Direction bits for CBW.Flags.
const (
	DirectionOut = 0x00
	DirectionIn  = 0x80
)

// SCSI command opcodes used by this driver.
const (
	scsiInquiry        = 0x12
	scsiTestUnitReady  = 0x00
	scsiReadCapacity10 = 0x25
	scsiRead10         = 0x28
	scsiWrite10        = 0x2a
	scsiRequestSense   = 0x03
)

// SCSI READ(10)/WRITE(10) CDB byte 1's FUA (Force Unit Access) bit,
// forcing the device to bypass its write cache.
const scsiFUA = 0x08

// scsiPeripheralDeviceTypeMask/scsiPeripheralDirectAccess decode INQUIRY
// response byte 0 (SPC-4 §6.6.2): the low 5 bits carry the peripheral
// device type, 0x00 for a direct-access block device, the only kind this
// driver binds to.
const (
	scsiPeripheralDeviceTypeMask = 0x1f
	scsiPeripheralDirectAccess   = 0x00
)

// bulkOnlyMassStorageReset is the class-specific request (BOT 1.0 §3.1)
// that aborts whatever command is in progress and prepares the device to
// accept a fresh CBW.
const bulkOnlyMassStorageReset = 0xff

// maxRetries bounds the number of CBW/data/CSW rounds ReadBlocks/
// WriteBlocks attempt before giving up; a failed round runs bus-reset
// recovery before the next attempt.
const maxRetries = 4

// BlockSize is the fixed logical block size this driver assumes, the
// overwhelming common case for USB mass storage and the only size the
// original library supports.
const BlockSize = 512

// Device drives one mass-storage function (one bulk IN, one bulk OUT
// endpoint) of an enumerated usb.Device.
type Device struct {
	dev *usb.Device
	in  *usb.Endpoint
	out *usb.Endpoint
	tag uint32

	Blocks uint32

	offset int64
}

// New binds a mass storage driver to iface, locating its two bulk
// endpoints and validating the binding with a SCSI INQUIRY: a device that
// answers the bulk-only handshake but isn't a direct-access block device
// (a CD-ROM drive, for instance) is rejected here rather than failing
// obscurely on the first READ/WRITE. It is registered against
// usb.ClassMassStorage via usb.RegisterInterfaceClass during package
// init.
func New(dev *usb.Device, iface *usb.Interface) (*Device, error) {
	if iface.Descriptor.InterfaceSubClass != usb.MassStorageSubClassSCSI ||
		iface.Descriptor.InterfaceProtocol != usb.MassStorageProtocolBulkOnly {
		return nil, fmt.Errorf("msd: unsupported subclass/protocol %#02x/%#02x", iface.Descriptor.InterfaceSubClass, iface.Descriptor.InterfaceProtocol)
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

	if d.in == nil || d.out == nil {
		return nil, fmt.Errorf("msd: interface is missing a bulk endpoint pair")
	}

	if err := d.inquire(); err != nil {
		return nil, err
	}

	if err := d.readCapacity(); err != nil {
		return nil, err
	}

	return d, nil
}

func init() {
	usb.RegisterInterfaceClass(usb.ClassMassStorage, func(dev *usb.Device, iface *usb.Interface) (usb.Function, bool) {
		d, err := New(dev, iface)
		if err != nil {
			return nil, false
		}
		return d, true
	})
}

// Name implements usb.Function.
func (d *Device) Name() string { return "msd" }

// cbw is the 31-byte Command Block Wrapper (BOT 1.0 §5.1).
type cbw struct {
	Tag        uint32
	DataLength uint32
	Flags      uint8
	LUN        uint8
	CBLength   uint8
	CB         [16]byte
}

func (c *cbw) bytes() []byte {
	b := make([]byte, cbwLength)
	binary.LittleEndian.PutUint32(b[0:4], cbwSignature)
	binary.LittleEndian.PutUint32(b[4:8], c.Tag)
	binary.LittleEndian.PutUint32(b[8:12], c.DataLength)
	b[12] = c.Flags
	b[13] = c.LUN
	b[14] = c.CBLength
	copy(b[15:], c.CB[:c.CBLength])
	return b
}

// csw is the 13-byte Command Status Wrapper (BOT 1.0 §5.2).
type csw struct {
	Tag         uint32
	DataResidue uint32
	Status      uint8
}

func parseCSW(b []byte) (*csw, error) {
	if len(b) != cswLength {
		return nil, fmt.Errorf("msd: short CSW, got %d bytes", len(b))
	}

	sig := binary.LittleEndian.Uint32(b[0:4])
	if sig != cswSignature {
		return nil, fmt.Errorf("msd: bad CSW signature %#08x", sig)
	}

	return &csw{
		Tag:         binary.LittleEndian.Uint32(b[4:8]),
		DataResidue: binary.LittleEndian.Uint32(b[8:12]),
		Status:      b[12],
	}, nil
}

// transaction runs one full BOT transaction: CBW out, optional data stage
// in the given direction, CSW in. A mismatch of signature, tag, status, or
// residue fails the attempt. On a non-zero CSW status it issues REQUEST
// SENSE and folds the sense key/additional sense code into the returned
// error, giving ReadBlocks/WriteBlocks's retry-after-reset loop something
// to log on every round rather than a bare status byte.
func (d *Device) transaction(cb []byte, data []byte, dir uint8) error {
	d.tag++
	tag := d.tag

	w := &cbw{
		Tag:        tag,
		DataLength: uint32(len(data)),
		Flags:      dir,
		CBLength:   uint8(len(cb)),
	}
	copy(w.CB[:], cb)

	if err := d.transferOut(d.out, w.bytes()); err != nil {
		return fmt.Errorf("msd: send CBW: %w", err)
	}

	if len(data) > 0 {
		var err error
		if dir == DirectionIn {
			err = d.transferIn(d.in, data)
		} else {
			err = d.transferOut(d.out, data)
		}
		if err != nil {
			return fmt.Errorf("msd: data stage: %w", err)
		}
	}

	statusBuf := make([]byte, cswLength)
	if err := d.transferIn(d.in, statusBuf); err != nil {
		return fmt.Errorf("msd: receive CSW: %w", err)
	}

	status, err := parseCSW(statusBuf)
	if err != nil {
		return err
	}

	if status.Tag != tag {
		return fmt.Errorf("msd: CSW tag mismatch, want %d got %d", tag, status.Tag)
	}

	if status.Status != 0 {
		sense, senseErr := d.requestSense()
		if senseErr != nil {
			return fmt.Errorf("msd: command failed, CSW status %d (request sense failed: %v)", status.Status, senseErr)
		}
		return fmt.Errorf("msd: command failed, CSW status %d, sense key %#02x asc %#02x", status.Status, sense[2]&0x0f, sense[12])
	}

	if status.DataResidue != 0 {
		return fmt.Errorf("msd: CSW data residue %d", status.DataResidue)
	}

	return nil
}

func (d *Device) transferIn(ep *usb.Endpoint, buf []byte) error {
	done := make(chan error, 1)
	urb := &usb.URB{Endpoint: ep, Buffer: buf, Complete: func(err error) { done <- err }}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return err
	}

	return <-done
}

func (d *Device) transferOut(ep *usb.Endpoint, buf []byte) error {
	return d.transferIn(ep, buf)
}

// requestSense issues SCSI REQUEST SENSE and returns the raw 18-byte
// fixed-format sense data.
func (d *Device) requestSense() ([]byte, error) {
	buf := make([]byte, 18)
	cb := make([]byte, 6)
	cb[0] = scsiRequestSense
	cb[4] = uint8(len(buf))

	if err := d.transaction(cb, buf, DirectionIn); err != nil {
		return nil, err
	}

	return buf, nil
}

// inquire issues SCSI INQUIRY and rejects binding to anything other than
// a direct-access block device.
func (d *Device) inquire() error {
	buf := make([]byte, 36)
	cb := make([]byte, 6)
	cb[0] = scsiInquiry
	cb[4] = uint8(len(buf))

	if err := d.transaction(cb, buf, DirectionIn); err != nil {
		return fmt.Errorf("msd: inquiry: %w", err)
	}

	if pdt := buf[0] & scsiPeripheralDeviceTypeMask; pdt != scsiPeripheralDirectAccess {
		return fmt.Errorf("msd: unsupported peripheral device type %#02x", pdt)
	}

	return nil
}

func (d *Device) readCapacity() error {
	buf := make([]byte, 8)
	cb := make([]byte, 10)
	cb[0] = scsiReadCapacity10

	if err := d.transaction(cb, buf, DirectionIn); err != nil {
		return fmt.Errorf("msd: read capacity: %w", err)
	}

	lastLBA := binary.BigEndian.Uint32(buf[0:4])
	d.Blocks = lastLBA + 1

	return nil
}

// Seek sets the byte offset that Read/Write apply ReadBlocks/WriteBlocks
// against; offset must be a multiple of BlockSize and addressable with a
// 32-bit LBA, or it is rejected without issuing any CBW.
func (d *Device) Seek(offset int64) error {
	if offset < 0 || offset%BlockSize != 0 {
		return fmt.Errorf("msd: offset %d is not a multiple of %d", offset, BlockSize)
	}

	if offset/BlockSize > int64(^uint32(0)) {
		return fmt.Errorf("msd: offset %d exceeds 32-bit LBA range", offset)
	}

	d.offset = offset

	return nil
}

// Read reads len(buf) bytes starting at the current Seek position into
// buf. A length that isn't a BlockSize multiple is rejected without
// issuing any CBW. On success the position advances by len(buf).
func (d *Device) Read(buf []byte) (int, error) {
	if len(buf)%BlockSize != 0 {
		return -1, fmt.Errorf("msd: length %d is not a multiple of %d", len(buf), BlockSize)
	}

	lba := uint32(d.offset / BlockSize)
	count := uint16(len(buf) / BlockSize)

	if err := d.ReadBlocks(lba, count, buf); err != nil {
		return -1, err
	}

	d.offset += int64(len(buf))

	return len(buf), nil
}

// Write writes len(buf) bytes starting at the current Seek position from
// buf. A length that isn't a BlockSize multiple is rejected without
// issuing any CBW. On success the position advances by len(buf).
func (d *Device) Write(buf []byte) (int, error) {
	if len(buf)%BlockSize != 0 {
		return -1, fmt.Errorf("msd: length %d is not a multiple of %d", len(buf), BlockSize)
	}

	lba := uint32(d.offset / BlockSize)
	count := uint16(len(buf) / BlockSize)

	if err := d.WriteBlocks(lba, count, buf); err != nil {
		return -1, err
	}

	d.offset += int64(len(buf))

	return len(buf), nil
}

// ReadBlocks reads count BlockSize blocks starting at lba into buf, which
// must be exactly count*BlockSize bytes. Up to maxRetries rounds run,
// each preceded (after the first) by bus-reset recovery.
func (d *Device) ReadBlocks(lba uint32, count uint16, buf []byte) error {
	if len(buf) != int(count)*BlockSize {
		return fmt.Errorf("msd: buffer size %d does not match %d blocks", len(buf), count)
	}

	cb := make([]byte, 10)
	cb[0] = scsiRead10
	binary.BigEndian.PutUint32(cb[2:6], lba)
	binary.BigEndian.PutUint16(cb[7:9], count)

	return d.withRetry(func() error {
		return d.transaction(cb, buf, DirectionIn)
	})
}

// WriteBlocks writes count BlockSize blocks starting at lba from buf, with
// the FUA bit set so the device bypasses its write cache. Up to
// maxRetries rounds run, each preceded (after the first) by bus-reset
// recovery.
func (d *Device) WriteBlocks(lba uint32, count uint16, buf []byte) error {
	if len(buf) != int(count)*BlockSize {
		return fmt.Errorf("msd: buffer size %d does not match %d blocks", len(buf), count)
	}

	cb := make([]byte, 10)
	cb[0] = scsiWrite10
	cb[1] = scsiFUA
	binary.BigEndian.PutUint32(cb[2:6], lba)
	binary.BigEndian.PutUint16(cb[7:9], count)

	return d.withRetry(func() error {
		return d.transaction(cb, buf, DirectionOut)
	})
}

// withRetry runs attempt up to maxRetries times, running bus-reset
// recovery between a failed attempt and the next so the device is back in
// a state that accepts a fresh CBW (BOT 1.0 §5.3.4).
func (d *Device) withRetry(attempt func() error) error {
	var err error

	for i := 0; i < maxRetries; i++ {
		if err = attempt(); err == nil {
			return nil
		}

		if i == maxRetries-1 {
			break
		}

		if resetErr := d.reset(); resetErr != nil {
			return fmt.Errorf("%w (reset recovery also failed: %v)", err, resetErr)
		}
	}

	return fmt.Errorf("msd: giving up after %d attempts: %w", maxRetries, err)
}

// reset runs the Bulk-Only Mass Storage Reset class request followed by
// CLEAR_FEATURE(ENDPOINT_HALT) and a data-toggle reset on both bulk
// endpoints, the recovery sequence BOT 1.0 §5.3.4 requires before a device
// that has failed a command will accept a new CBW.
func (d *Device) reset() error {
	done := make(chan error, 1)

	urb := &usb.URB{
		Endpoint: d.dev.ControlEndpoint(),
		Setup: &usb.SetupPacket{
			RequestType: usb.RequestDirectionOut | usb.RequestTypeClass | usb.RequestRecipientInterface,
			Request:     bulkOnlyMassStorageReset,
		},
		Complete: func(err error) { done <- err },
	}

	if err := d.dev.Controller.Submit(urb); err != nil {
		return fmt.Errorf("msd: bulk-only reset: %w", err)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("msd: bulk-only reset: %w", err)
	}

	if err := d.dev.ClearHalt(d.out); err != nil {
		return fmt.Errorf("msd: clear halt on bulk out: %w", err)
	}

	if err := d.dev.ClearHalt(d.in); err != nil {
		return fmt.Errorf("msd: clear halt on bulk in: %w", err)
	}

	return nil
}
