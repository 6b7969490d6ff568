// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbenv realizes the host stack's environment API: the small set
// of board/runtime services (buffer allocation, delay, timer, interrupt
// connect, critical section, logging, power and identity) the stack treats
// as external collaborators rather than implementing itself. Its backing is
// the tamago runtime's bcm2835 SoC package, reached over the VideoCore
// property-tag mailbox for MAC address and board model queries exactly as
// soc/bcm2835/videocore.go does for firmware revision and memory split
// queries.
package usbenv

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/bcm2835"

	"github.com/usbarmory/uspi/internal/irq"
)

// vcSetPowerState is the VideoCore property-tag mailbox command that powers
// a device's power domain on or off (firmware property interface, tag
// 0x00028001); bcm2835 exposes the board-query tags its own videocore.go
// needs (model, MAC, memory split) but not this one, so the request is
// built directly against the package's exported MailboxMessage/MailboxTag
// primitives and its VC_CH_PROPERTYTAGS_A_TO_VC channel, the same pattern
// soc/bcm2835/framebuffer uses for its own tags.
const vcSetPowerState = 0x00028001

// Request/response state bits for vcSetPowerState: bit 0 is the requested
// (or, in the response, actual) power state, bit 1 requests the firmware
// wait for the power domain to stabilize before replying.
const (
	vcPowerStateOn   = 1 << 0
	vcPowerStateWait = 1 << 1
)

// Severity mirrors the original library's LogWrite severity levels.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNotice
	SeverityDebug
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNotice:
		return "notice"
	default:
		return "debug"
	}
}

// Sink receives formatted log lines. Board wiring or a test may replace
// it; the default writes to the console via print.
var Sink func(line string) = func(line string) { print(line) }

// Log formats and dispatches a log line tagged with its originating
// component and severity, mirroring the environment's LogWrite(source,
// severity, format, ...) hook.
func Log(source string, severity Severity, format string, args ...interface{}) {
	Sink(fmt.Sprintf("%s: %s: %s\n", source, severity, fmt.Sprintf(format, args...)))
}

// MsDelay blocks the calling goroutine for the given number of milliseconds.
func MsDelay(ms uint) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// UsDelay blocks the calling goroutine for the given number of
// microseconds.
func UsDelay(us uint) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

// Malloc reserves a DMA-coherent buffer of len(buf) bytes aligned to align
// bytes, copies buf into it, and returns its bus address for handoff to the
// controller. To reserve an empty buffer, pass a zeroed slice of the
// wanted length.
func Malloc(buf []byte, align int) (addr uint32) {
	return dma.Alloc(buf, align)
}

// Read copies len(buf) bytes out of the DMA buffer at addr starting at
// offset, used to recover an IN transfer's payload once the controller
// signals completion.
func Read(addr uint32, offset int, buf []byte) {
	dma.Read(addr, offset, buf)
}

// Write copies data into the DMA buffer at addr starting at offset, used to
// stage an OUT transfer's payload before submitting it to the controller.
func Write(addr uint32, data []byte, offset int) {
	dma.Write(addr, offset, data)
}

// Free releases a buffer previously returned by Malloc.
func Free(addr uint32) {
	dma.Free(addr)
}

// EnterCritical and LeaveCritical bracket code that must not be preempted by
// the connected interrupt handlers.
func EnterCritical() { irq.EnterCritical() }
func LeaveCritical() { irq.LeaveCritical() }

// ConnectInterrupt attaches fn as the handler for the given interrupt ID,
// returning a function that detaches it.
func ConnectInterrupt(id int, fn func()) (disconnect func()) {
	return irq.Connect(id, false, fn)
}

// GetMACAddress returns the board's factory-assigned Ethernet MAC address,
// queried over the property-tag mailbox.
func GetMACAddress() []byte {
	return bcm2835.MACAddress()
}

// boardModelSingleUSBPort lists the raw VideoCore GET_BOARD_MODEL codes
// (firmware property interface, tag 0x00010001) for single-USB-port
// boards with no built-in Ethernet or root hub fan-out: Model A, Model
// A+, Zero, and Zero W, in the firmware's own numbering. bcm2835 doesn't
// name these (BoardModel returns the bare uint32), so the comparison is
// against the documented raw codes rather than package constants.
var boardModelSingleUSBPort = map[uint32]bool{
	0: true, // Model A
	2: true, // Model A+
	5: true, // Zero
	9: true, // Zero W
}

// IsModelA reports whether the running board is a single-USB-port Model A
// variant, decoded from the VideoCore board model code.
func IsModelA() bool {
	return boardModelSingleUSBPort[bcm2835.BoardModel()]
}

// SetPowerStateOn requests that the VideoCore firmware power on the given
// device ID (e.g. the USB controller power domain) and waits for
// acknowledgement.
func SetPowerStateOn(deviceID uint32) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], deviceID)
	binary.LittleEndian.PutUint32(buf[4:], vcPowerStateOn|vcPowerStateWait)

	msg := &bcm2835.MailboxMessage{
		Tags: []bcm2835.MailboxTag{
			{
				ID:     vcSetPowerState,
				Buffer: buf,
			},
		},
	}

	bcm2835.Mailbox.Call(bcm2835.VC_CH_PROPERTYTAGS_A_TO_VC, msg)

	tag := msg.Tag(vcSetPowerState)
	if tag == nil || len(tag.Buffer) < 8 {
		return fmt.Errorf("usbenv: set power state: no response for device %d", deviceID)
	}

	if binary.LittleEndian.Uint32(tag.Buffer[4:8])&vcPowerStateOn == 0 {
		return fmt.Errorf("usbenv: device %d did not power on", deviceID)
	}

	return nil
}
