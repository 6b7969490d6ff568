// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dwc2 drives the Synopsys DesignWare Hi-Speed USB 2.0 On-The-Go
// controller (DWC_otg) integrated on the BCM2835/2836/2837 SoC family as
// the USB host controller, in host mode only. Its register layout and
// channel state machine follow the MMIO access idiom the tamago runtime
// uses for its own SoC peripheral drivers (cached register addresses
// resolved once at Init, reg.SetN/reg.Wait for field updates and
// busy-polls), generalized from a device-mode endpoint state machine to a
// host-mode channel state machine.
package dwc2

import (
	"fmt"
	"sync"
	"time"

	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/arm/gic"

	"github.com/usbarmory/uspi/internal/irq"
	"github.com/usbarmory/uspi/internal/reg"
	"github.com/usbarmory/uspi/internal/usbenv"
	"github.com/usbarmory/uspi/usb"
)

// Register offsets from Base, core global registers (DWC_otg §5.1).
const (
	gotgctl   = 0x000
	gahbcfg   = 0x008
	gusbcfg   = 0x00c
	grstctl   = 0x010
	gintsts   = 0x014
	gintmsk   = 0x018
	grxstsp   = 0x020
	grxfsiz   = 0x024
	gnptxfsiz = 0x028
	hptxfsiz  = 0x100
	hcfg      = 0x400
	hfir      = 0x404
	hfnum     = 0x408
	hptxsts   = 0x410
	haint     = 0x414
	haintmsk  = 0x418
	hprt       = 0x440
	hcCharBase = 0x500 // + 0x20*n
	hcIntBase  = 0x508 // + 0x20*n
	hcIntMskBase = 0x50c
	hcTsizBase   = 0x510
	hcDmaBase    = 0x514
)

// Reset control bits (GRSTCTL).
const (
	grstctlCSftRst = 0
	grstctlAHBIdle = 31
)

// Host port control/status bits (HPRT).
const (
	hprtConnDet    = 1
	hprtEnaChng    = 3
	hprtRst        = 8
	hprtPwr        = 12
	hprtSpd        = 17 // 2 bits
)

// Channel enable/characteristics bits (HCCHARn).
const (
	hcCharEpDir  = 15
	hcCharEpType = 18 // 2 bits
	hcCharMPS    = 0  // 11 bits
	hcCharChEna  = 31
	hcCharChDis  = 30
)

// Channel transfer-size bits (HCTSIZn).
const (
	hcTsizXferSize = 0  // 19 bits
	hcTsizPktCnt   = 19 // 10 bits
	hcTsizPid      = 29 // 2 bits
)

// NumChannels is the number of hardware transfer channels the BCM2835's
// DWC2 instantiation provides.
const NumChannels = 8

// Config configures one Controller instance, mirroring the struct-literal
// board wiring pattern tamago SoC drivers use (e.g. imx6ul's GIC/USB
// field literals) rather than flags or environment variables.
type Config struct {
	Base        uint32
	IRQ         int
	CPU         *arm.CPU
	GIC         *gic.GIC
	PowerDomain uint32
}

// Controller is a DWC2 host controller instance, implementing
// usb.Controller.
type Controller struct {
	base uint32
	irqN int

	mu       sync.Mutex
	channels [NumChannels]*channel
	free     chan int

	disconnect func()

	rootHub *usb.Hub
}

type channel struct {
	n       int
	urb     *usb.URB
	done    chan struct{}
	err     error
	split   bool
	splitDo bool // true once SSPLIT has been sent, waiting for CSPLIT

	dmaAddr uint32
	dmaLen  int
	userBuf []byte
	in      bool
}

// New allocates and initializes a Controller from cfg. It resets the core,
// configures host mode and powers the root port (the RX/TX FIFOs are not
// flushed explicitly),
// mirroring bus.go's Init() sequencing (clock gate -> PHY -> reset ->
// enable) generalized from device to host mode.
func New(cfg Config) (*Controller, error) {
	if cfg.Base == 0 {
		panic("dwc2: invalid controller instance, Base is required")
	}

	irq.CPU = cfg.CPU
	irq.GIC = cfg.GIC

	c := &Controller{base: cfg.Base, irqN: cfg.IRQ}
	c.free = make(chan int, NumChannels)

	for n := 0; n < NumChannels; n++ {
		c.channels[n] = &channel{n: n}
		c.free <- n
	}

	if cfg.PowerDomain != 0 {
		if err := usbenv.SetPowerStateOn(cfg.PowerDomain); err != nil {
			return nil, fmt.Errorf("dwc2: %w", err)
		}
	}

	if err := c.coreReset(); err != nil {
		return nil, err
	}

	c.configureHostMode()

	c.disconnect = irq.Connect(cfg.IRQ, false, c.handleInterrupt)

	if err := c.powerOnRootPort(); err != nil {
		return nil, err
	}

	c.rootHub = usb.NewRootHub(1, c.rootPortSpeed(), c.attachRootDevice)

	return c, nil
}

// Close disconnects the IRQ handler, releasing the controller.
func (c *Controller) Close() {
	if c.disconnect != nil {
		c.disconnect()
	}
}

// RootHub returns the controller's single root port hub.
func (c *Controller) RootHub() *usb.Hub { return c.rootHub }

func (c *Controller) addr(off uint32) uint32 { return c.base + off }

func (c *Controller) coreReset() error {
	if !reg.WaitFor(100*time.Millisecond, c.addr(grstctl), grstctlAHBIdle, 0b1, 1) {
		return fmt.Errorf("dwc2: AHB master idle timeout during reset")
	}

	reg.Set(c.addr(grstctl), grstctlCSftRst)

	if !reg.WaitFor(100*time.Millisecond, c.addr(grstctl), grstctlCSftRst, 0b1, 0) {
		return fmt.Errorf("dwc2: core soft reset timeout")
	}

	usbenv.MsDelay(20)

	return nil
}

func (c *Controller) configureHostMode() {
	// Host Configuration Register: 30MHz/60MHz PHY clock, no FS/LS
	// support bit since the BCM2835 PHY is UTMI+ high-speed.
	reg.Write(c.addr(hcfg), 0)

	// unmask host port and channel interrupt groups.
	reg.Or(c.addr(gintmsk), 1<<24 /* port */ |1<<25 /* host channel */)
	reg.Or(c.addr(gahbcfg), 1<<0) // global interrupt enable
}

func (c *Controller) powerOnRootPort() error {
	reg.Set(c.addr(hprt), hprtPwr)
	usbenv.MsDelay(10)
	return nil
}

func (c *Controller) rootPortSpeed() usb.Speed {
	switch reg.Get(c.addr(hprt), hprtSpd, 0b11) {
	case 2:
		return usb.SpeedLow
	case 1:
		return usb.SpeedFull
	default:
		return usb.SpeedHigh
	}
}

// attachRootDevice resets the root port and constructs a Device at address
// 0 for it, the callback usb.Hub.AttachDevice calls before address
// assignment.
func (c *Controller) attachRootDevice(port uint8, speed usb.Speed) (*usb.Device, error) {
	reg.Set(c.addr(hprt), hprtRst)
	usbenv.MsDelay(50)
	reg.Clear(c.addr(hprt), hprtRst)
	usbenv.MsDelay(20)

	return usb.NewDevice(c, c.rootPortSpeed(), nil, port, usb.SpeedHigh), nil
}

// Submit implements usb.Controller by acquiring a free channel and driving
// it through setup/data/status stages (control) or a single data stage
// (bulk/interrupt), completing the URB asynchronously from the channel's
// interrupt-driven state machine.
func (c *Controller) Submit(u *usb.URB) error {
	n, ok := c.acquireChannel()
	if !ok {
		return fmt.Errorf("dwc2: no free channel for endpoint %d", u.Endpoint.Descriptor.Number())
	}

	ch := c.channels[n]
	ch.urb = u
	ch.done = make(chan struct{})
	ch.split = u.Endpoint.NeedsSplit()

	go c.runTransfer(ch)

	return nil
}

func (c *Controller) acquireChannel() (int, bool) {
	select {
	case n := <-c.free:
		return n, true
	default:
		return 0, false
	}
}

func (c *Controller) releaseChannel(n int) {
	c.channels[n].urb = nil
	c.free <- n
}

// runTransfer drives one channel through its transaction stages. It is the
// software half of the state machine the hardware's HCINTn completion
// interrupt advances; see handleInterrupt for the other half.
func (c *Controller) runTransfer(ch *channel) {
	defer c.releaseChannel(ch.n)

	u := ch.urb

	if u.Setup != nil {
		if err := c.controlTransfer(ch); err != nil {
			u.Fail(err)
			return
		}
		u.Succeed(len(u.Buffer))
		return
	}

	n, err := c.dataTransfer(ch, u.Endpoint, u.Buffer)
	if err != nil {
		u.Fail(err)
		return
	}

	u.Succeed(n)
}

// controlTransfer runs the three stages of a control transfer: setup (OUT,
// DATA0), optional data stage in the direction implied by the setup
// packet's wLength/direction bit, and a status stage in the opposite
// direction with a zero-length packet, per USB 2.0 §8.5.3.
func (c *Controller) controlTransfer(ch *channel) error {
	u := ch.urb

	if err := c.transact(ch, u.Endpoint, u.Setup.Bytes(), false, true); err != nil {
		return fmt.Errorf("dwc2: setup stage: %w", err)
	}

	in := u.Setup.RequestType&usb.RequestDirectionIn != 0

	if len(u.Buffer) > 0 {
		if _, err := c.transactData(ch, u.Endpoint, u.Buffer, in); err != nil {
			return fmt.Errorf("dwc2: data stage: %w", err)
		}
	}

	// status stage: zero-length packet, direction opposite the one the
	// setup packet's direction bit selects (so IN for an OUT request with
	// no data stage).
	if err := c.transact(ch, u.Endpoint, nil, !in, false); err != nil {
		return fmt.Errorf("dwc2: status stage: %w", err)
	}

	return nil
}

func (c *Controller) dataTransfer(ch *channel, ep *usb.Endpoint, buf []byte) (int, error) {
	in := ep.Descriptor.IsIn()
	return c.transactData(ch, ep, buf, in)
}

func (c *Controller) transactData(ch *channel, ep *usb.Endpoint, buf []byte, in bool) (int, error) {
	if err := c.transact(ch, ep, buf, in, false); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// transact programs one channel for a single logical transaction (which on
// a low/full-speed endpoint behind a high-speed hub is itself split into an
// SSPLIT immediately followed by one or more CSPLIT polls) and blocks until
// the hardware signals completion via handleInterrupt.
func (c *Controller) transact(ch *channel, ep *usb.Endpoint, buf []byte, in bool, isSetup bool) error {
	if ep.NeedsSplit() {
		return c.splitTransact(ch, ep, buf, in, isSetup)
	}

	c.programChannel(ch, ep, buf, in, isSetup, false)

	select {
	case <-ch.done:
		return ch.err
	case <-time.After(5 * time.Second):
		c.abortChannel(ch)
		return &usb.ErrTransaction{Endpoint: ep, Reason: "hardware did not complete transaction"}
	}
}

// splitTransact runs the SSPLIT/CSPLIT handshake required for a
// low/full-speed transaction relayed through a high-speed hub (DWC_otg
// §5.3.3, USB 2.0 §11.20): an SSPLIT primes the hub's transaction
// translator, then CSPLIT is retried until the TT reports the real
// transaction's completion, up to usb.MaxSplitRetries times.
func (c *Controller) splitTransact(ch *channel, ep *usb.Endpoint, buf []byte, in bool, isSetup bool) error {
	c.programChannel(ch, ep, buf, in, isSetup, true)

	for retries := 0; retries < usb.MaxSplitRetries; retries++ {
		select {
		case <-ch.done:
			if ch.err == nil {
				return nil
			}
			if _, ok := ch.err.(*splitNYET); !ok {
				return ch.err
			}
			// NYET: the TT hasn't finished the real transaction yet,
			// retry CSPLIT.
			ch.done = make(chan struct{})
			c.programCSplit(ch, ep, in)
		case <-time.After(1 * time.Second):
			c.abortChannel(ch)
			return &usb.ErrTransaction{Endpoint: ep, Reason: "split transaction timeout"}
		}
	}

	return &usb.ErrTransaction{Endpoint: ep, Reason: "exceeded split retry budget"}
}

// splitNYET marks a CSPLIT response of "not yet", distinguishing it from a
// hard transaction error so splitTransact knows to retry rather than fail.
type splitNYET struct{}

func (*splitNYET) Error() string { return "csplit: not yet" }

func (c *Controller) programChannel(ch *channel, ep *usb.Endpoint, buf []byte, in, isSetup, split bool) {
	var addr uint32
	if in {
		addr = usbenv.Malloc(make([]byte, len(buf)), 4)
	} else {
		addr = usbenv.Malloc(buf, 4)
	}
	ch.dmaAddr = addr
	ch.dmaLen = len(buf)
	ch.userBuf = buf
	ch.in = in

	base := c.addr(hcCharBase + uint32(ch.n)*0x20)

	var dir uint32
	if in {
		dir = 1
	}

	epType := uint32(ep.Descriptor.Type())

	reg.Write(base, uint32(ep.Descriptor.MaxPacketSize)|
		uint32(ep.Descriptor.Number())<<11|
		dir<<hcCharEpDir|
		epType<<hcCharEpType|
		uint32(ep.Device.Address)<<22)

	tsiz := c.addr(hcTsizBase + uint32(ch.n)*0x20)
	pid := pidFor(ep, isSetup)
	pktCnt := (len(buf) + int(ep.Descriptor.MaxPacketSize) - 1) / maxInt(int(ep.Descriptor.MaxPacketSize), 1)
	if pktCnt == 0 {
		pktCnt = 1
	}

	reg.Write(tsiz, uint32(len(buf))|uint32(pktCnt)<<hcTsizPktCnt|pid<<hcTsizPid)
	reg.Write(c.addr(hcDmaBase+uint32(ch.n)*0x20), addr)

	if split {
		ch.split = true
		ch.splitDo = false
	}

	reg.Set(base, hcCharChEna)
}

func (c *Controller) programCSplit(ch *channel, ep *usb.Endpoint, in bool) {
	ch.splitDo = true
	base := c.addr(hcCharBase + uint32(ch.n)*0x20)
	reg.Set(base, hcCharChEna)
}

func (c *Controller) abortChannel(ch *channel) {
	base := c.addr(hcCharBase + uint32(ch.n)*0x20)
	reg.Set(base, hcCharChDis)
}

// pidFor returns the DATA PID value (DATA0/DATA1/SETUP) a channel's
// transfer-size register expects, alternating on the endpoint's toggle for
// non-setup stages as USB 2.0 §8.6 requires.
func pidFor(ep *usb.Endpoint, isSetup bool) uint32 {
	if isSetup {
		return 0b11 // MDATA/SETUP encoding
	}
	if ep.Toggle() {
		return 0b10 // DATA1
	}
	return 0b00 // DATA0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// handleInterrupt is invoked on its own goroutine by internal/irq.Connect
// for every occurrence of the controller's shared IRQ line. It identifies
// which channels finished via HAINT, reads each finished channel's HCINTn
// to classify success/NAK/stall/error/NYET, and wakes the matching
// transact()/splitTransact() goroutine, mirroring the tamago device
// controller's event *sync.Cond completion rendezvous generalized to
// per-channel done channels.
func (c *Controller) handleInterrupt() {
	active := reg.Read(c.addr(haint))

	for n := 0; n < NumChannels; n++ {
		if active&(1<<uint(n)) == 0 {
			continue
		}

		ch := c.channels[n]
		if ch.urb == nil {
			continue
		}

		intsts := reg.Read(c.addr(hcIntBase + uint32(n)*0x20))
		reg.Write(c.addr(hcIntBase+uint32(n)*0x20), intsts) // write-1-to-clear

		ch.err = classifyChannelInterrupt(intsts)

		if ch.err == nil && ch.in && ch.dmaLen > 0 {
			usbenv.Read(ch.dmaAddr, 0, ch.userBuf)
		}

		usbenv.Free(ch.dmaAddr)

		close(ch.done)
	}

	reg.Write(c.addr(haint), active)
}

// Host channel interrupt bits (HCINTn, DWC_otg §5.4.9).
const (
	hcIntXferCompl = 1 << 0
	hcIntHalted    = 1 << 1
	hcIntStall     = 1 << 3
	hcIntNak       = 1 << 4
	hcIntAck       = 1 << 5
	hcIntNyet      = 1 << 6
	hcIntXactErr   = 1 << 7
	hcIntBblErr    = 1 << 8
	hcIntFrmOvrun  = 1 << 9
	hcIntDataTglErr = 1 << 10
)

func classifyChannelInterrupt(intsts uint32) error {
	switch {
	case intsts&hcIntStall != 0:
		return &usb.ErrStall{}
	case intsts&hcIntNyet != 0:
		return &splitNYET{}
	case intsts&(hcIntXactErr|hcIntBblErr|hcIntFrmOvrun|hcIntDataTglErr) != 0:
		return fmt.Errorf("dwc2: channel error, HCINT=%#x", intsts)
	case intsts&hcIntXferCompl != 0:
		return nil
	case intsts&hcIntNak != 0:
		return fmt.Errorf("dwc2: channel NAK, HCINT=%#x", intsts)
	default:
		return nil
	}
}
