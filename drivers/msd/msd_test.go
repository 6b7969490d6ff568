// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package msd

import (
	"encoding/binary"
	"testing"

	"github.com/usbarmory/uspi/usb"
)

// scriptedController plays back a fixed sequence of BOT transactions: a
// CBW write (captured for inspection), an optional data stage (filled
// from dataIn for reads), and a CSW read stamped with the status the test
// queued up. Bulk-Only Mass Storage Reset and CLEAR_FEATURE control
// requests are counted/no-op'd rather than scripted, since every test
// that exercises them only cares that they ran.
type scriptedController struct {
	dataIn    [][]byte
	dataInIdx int

	cswStatus []uint8
	cswIdx    int

	lastTag uint32
	lastCBW []byte

	resets int
}

func (f *scriptedController) Submit(urb *usb.URB) error {
	buf := urb.Buffer

	switch {
	case urb.Setup != nil && urb.Setup.Request == bulkOnlyMassStorageReset:
		f.resets++
	case urb.Setup != nil:
		// CLEAR_FEATURE(ENDPOINT_HALT): succeed silently.
	case len(buf) == cbwLength:
		f.lastTag = binary.LittleEndian.Uint32(buf[4:8])
		f.lastCBW = append([]byte(nil), buf...)
	case len(buf) == cswLength:
		binary.LittleEndian.PutUint32(buf[0:4], cswSignature)
		binary.LittleEndian.PutUint32(buf[4:8], f.lastTag)
		status := uint8(0)
		if f.cswIdx < len(f.cswStatus) {
			status = f.cswStatus[f.cswIdx]
		}
		f.cswIdx++
		buf[12] = status
	default:
		if f.dataInIdx < len(f.dataIn) {
			copy(buf, f.dataIn[f.dataInIdx])
		}
		f.dataInIdx++
	}

	if urb.Complete != nil {
		urb.Complete(nil)
	}

	return nil
}

func newTestDevice(ctrl *scriptedController) *Device {
	dev := &usb.Device{Controller: ctrl}
	return &Device{
		dev: dev,
		in:  &usb.Endpoint{Device: dev},
		out: &usb.Endpoint{Device: dev},
	}
}

func inquiryResponse(peripheralDeviceType uint8) []byte {
	b := make([]byte, 36)
	b[0] = peripheralDeviceType
	return b
}

func capacityResponse(lastLBA uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], lastLBA)
	return b
}

func TestCBWBytesLayout(t *testing.T) {
	c := &cbw{
		Tag:        42,
		DataLength: 512,
		Flags:      DirectionIn,
		LUN:        0,
		CBLength:   10,
	}
	c.CB[0] = scsiRead10

	b := c.bytes()

	if len(b) != cbwLength {
		t.Fatalf("got length %d, want %d", len(b), cbwLength)
	}

	if sig := binary.LittleEndian.Uint32(b[0:4]); sig != cbwSignature {
		t.Fatalf("got signature %#08x, want %#08x", sig, cbwSignature)
	}

	if tag := binary.LittleEndian.Uint32(b[4:8]); tag != 42 {
		t.Fatalf("got tag %d, want 42", tag)
	}

	if length := binary.LittleEndian.Uint32(b[8:12]); length != 512 {
		t.Fatalf("got data length %d, want 512", length)
	}

	if b[12] != DirectionIn {
		t.Fatalf("got flags %#02x, want %#02x", b[12], DirectionIn)
	}

	if b[14] != 10 || b[15] != scsiRead10 {
		t.Fatalf("got CBLength/CB[0] = %d/%#02x, want 10/%#02x", b[14], b[15], scsiRead10)
	}
}

func TestParseCSWSuccess(t *testing.T) {
	b := make([]byte, cswLength)
	binary.LittleEndian.PutUint32(b[0:4], cswSignature)
	binary.LittleEndian.PutUint32(b[4:8], 42)
	binary.LittleEndian.PutUint32(b[8:12], 0)
	b[12] = 0

	s, err := parseCSW(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Tag != 42 || s.Status != 0 {
		t.Fatalf("got %+v", s)
	}
}

func TestParseCSWBadSignature(t *testing.T) {
	b := make([]byte, cswLength)
	binary.LittleEndian.PutUint32(b[0:4], 0)

	if _, err := parseCSW(b); err == nil {
		t.Fatal("expected error for bad CSW signature")
	}
}

func TestParseCSWShort(t *testing.T) {
	if _, err := parseCSW(make([]byte, 5)); err == nil {
		t.Fatal("expected error for short CSW")
	}
}

func TestReadBlocksRejectsMismatchedBufferSize(t *testing.T) {
	d := &Device{}

	if err := d.ReadBlocks(0, 2, make([]byte, BlockSize)); err == nil {
		t.Fatal("expected error when buffer size does not match block count")
	}
}

func TestNewBindsDirectAccessDevice(t *testing.T) {
	ctrl := &scriptedController{
		dataIn:    [][]byte{inquiryResponse(scsiPeripheralDirectAccess), capacityResponse(199)},
		cswStatus: []uint8{0, 0},
	}

	dev := &usb.Device{Controller: ctrl}
	iface := &usb.Interface{
		Descriptor: usb.InterfaceDescriptor{
			InterfaceSubClass: usb.MassStorageSubClassSCSI,
			InterfaceProtocol: usb.MassStorageProtocolBulkOnly,
		},
		Endpoints: []usb.EndpointDescriptor{
			{EndpointAddress: 0x81, Attributes: usb.EndpointTypeBulk},
			{EndpointAddress: 0x02, Attributes: usb.EndpointTypeBulk},
		},
	}

	d, err := New(dev, iface)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.Blocks != 200 {
		t.Fatalf("got %d blocks, want 200", d.Blocks)
	}
}

func TestNewRejectsNonDirectAccessDevice(t *testing.T) {
	ctrl := &scriptedController{
		dataIn:    [][]byte{inquiryResponse(0x05)}, // CD-ROM peripheral device type
		cswStatus: []uint8{0},
	}

	dev := &usb.Device{Controller: ctrl}
	iface := &usb.Interface{
		Descriptor: usb.InterfaceDescriptor{
			InterfaceSubClass: usb.MassStorageSubClassSCSI,
			InterfaceProtocol: usb.MassStorageProtocolBulkOnly,
		},
		Endpoints: []usb.EndpointDescriptor{
			{EndpointAddress: 0x81, Attributes: usb.EndpointTypeBulk},
			{EndpointAddress: 0x02, Attributes: usb.EndpointTypeBulk},
		},
	}

	if _, err := New(dev, iface); err == nil {
		t.Fatal("expected binding to be rejected for a non-direct-access peripheral device type")
	}
}

func TestSeekRejectsUnalignedOffset(t *testing.T) {
	d := &Device{}

	if err := d.Seek(100); err == nil {
		t.Fatal("expected error for an offset that isn't a multiple of BlockSize")
	}

	if err := d.Seek(BlockSize); err != nil {
		t.Fatalf("unexpected error for an aligned offset: %v", err)
	}
}

func TestReadRejectsUnalignedLength(t *testing.T) {
	d := &Device{}

	if _, err := d.Read(make([]byte, 100)); err == nil {
		t.Fatal("expected error for a length that isn't a multiple of BlockSize")
	}
}

func TestWriteRejectsUnalignedLength(t *testing.T) {
	d := &Device{}

	if _, err := d.Write(make([]byte, 100)); err == nil {
		t.Fatal("expected error for a length that isn't a multiple of BlockSize")
	}
}

func TestWriteBlocksSetsFUA(t *testing.T) {
	ctrl := &scriptedController{cswStatus: []uint8{0}}
	d := newTestDevice(ctrl)

	if err := d.WriteBlocks(0, 1, make([]byte, BlockSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ctrl.lastCBW[15+1] != scsiFUA {
		t.Fatalf("got CDB byte 1 %#02x, want FUA bit %#02x", ctrl.lastCBW[15+1], scsiFUA)
	}
}

func TestReadBlocksRetriesAfterResetRecovery(t *testing.T) {
	ctrl := &scriptedController{
		dataIn:    [][]byte{make([]byte, BlockSize), make([]byte, BlockSize)},
		cswStatus: []uint8{1, 0, 0}, // first attempt fails, its REQUEST SENSE passes, second attempt succeeds
	}
	d := newTestDevice(ctrl)

	if err := d.ReadBlocks(0, 1, make([]byte, BlockSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ctrl.resets != 1 {
		t.Fatalf("got %d resets, want 1", ctrl.resets)
	}
}

func TestReadBlocksGivesUpAfterMaxRetries(t *testing.T) {
	// every attempt fails and is followed by a passing REQUEST SENSE, so
	// each attempt consumes two data stages and two CSWs.
	dataIn := make([][]byte, 2*maxRetries)
	cswStatus := make([]uint8, 2*maxRetries)
	for i := range dataIn {
		dataIn[i] = make([]byte, BlockSize)
		if i%2 == 0 {
			cswStatus[i] = 1
		}
	}

	ctrl := &scriptedController{dataIn: dataIn, cswStatus: cswStatus}
	d := newTestDevice(ctrl)

	if err := d.ReadBlocks(0, 1, make([]byte, BlockSize)); err == nil {
		t.Fatal("expected error after exhausting all retries")
	}

	if ctrl.resets != maxRetries-1 {
		t.Fatalf("got %d resets, want %d", ctrl.resets, maxRetries-1)
	}
}
