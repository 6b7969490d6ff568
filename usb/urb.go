// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "fmt"

// Request direction/type/recipient bits for bmRequestType (USB 2.0 §9.3).
const (
	RequestDirectionOut = 0x00
	RequestDirectionIn  = 0x80

	RequestTypeStandard = 0x00 << 5
	RequestTypeClass    = 0x01 << 5
	RequestTypeVendor   = 0x02 << 5

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02
)

// Standard request codes (USB 2.0 §9.4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0a
	RequestSetInterface     = 0x0b
)

// SetupPacket is the 8-byte control transfer setup stage, laid out exactly
// as it goes on the wire.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Bytes packs the setup packet into its 8-byte wire representation.
func (s SetupPacket) Bytes() []byte {
	return []byte{
		s.RequestType,
		s.Request,
		byte(s.Value), byte(s.Value >> 8),
		byte(s.Index), byte(s.Index >> 8),
		byte(s.Length), byte(s.Length >> 8),
	}
}

// URB (USB Request Block) is the unit of work the host controller driver
// schedules: one control, bulk or interrupt transaction against a specific
// endpoint, with its buffer, completion status and callback.
type URB struct {
	Endpoint *Endpoint
	Setup    *SetupPacket // non-nil only for control transfers
	Buffer   []byte

	// BytesTransferred is filled in on completion.
	BytesTransferred int

	// Complete is invoked exactly once, from the goroutine the controller
	// runs the transfer on, with the final error (nil on success).
	Complete func(err error)

	// splitRetries is not read or written by the controller driver, which
	// counts CSPLIT retries in a local variable.
	splitRetries int
}

// MaxSplitRetries bounds how many CSPLIT retries a low/full-speed
// transaction behind a high-speed hub gets before the URB fails with a
// transaction error, preventing a stalled downstream device from wedging
// the channel scheduler forever.
const MaxSplitRetries = 3

// Fail completes the URB with err, used by the scheduler on channel errors,
// stalls, or the split-retry budget running out.
func (u *URB) Fail(err error) {
	if u.Complete != nil {
		u.Complete(err)
	}
}

// Succeed completes the URB successfully having transferred n bytes.
func (u *URB) Succeed(n int) {
	u.BytesTransferred = n
	if u.Complete != nil {
		u.Complete(nil)
	}
}

// ErrStall reports a STALL handshake on the endpoint, which the device
// layer surfaces so callers can decide whether to clear the halt feature
// and retry.
type ErrStall struct {
	Endpoint *Endpoint
}

func (e *ErrStall) Error() string {
	return fmt.Sprintf("usb: endpoint %d stalled", e.Endpoint.Descriptor.Number())
}

// ErrTransaction reports a low-level transaction failure (CRC, timeout,
// bit-stuff, babble) surfaced by the controller after exhausting its own
// retry budget.
type ErrTransaction struct {
	Endpoint *Endpoint
	Reason   string
}

func (e *ErrTransaction) Error() string {
	return fmt.Sprintf("usb: endpoint %d transaction error: %s", e.Endpoint.Descriptor.Number(), e.Reason)
}
