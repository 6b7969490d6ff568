// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uspi is the top-level host-application API (§6 of the design):
// the small surface a bare-metal application links against to bring up
// the USB host stack, wait for enumeration, and reach the bound class
// driver instances. It owns the enumeration pipeline that walks the root
// hub (and any external hubs found beneath it), assigning addresses and
// binding function drivers through usb.Bind.
package uspi

import (
	"fmt"
	"sync"

	"github.com/usbarmory/uspi/usb"
)

// Host is the running instance of the stack: one controller, its root
// hub, and the set of bound function drivers discovered so far.
type Host struct {
	controller usb.Controller
	rootHub    *usb.Hub

	mu        sync.Mutex
	nextAddr  uint8
	ready     bool
	functions []usb.Function
	devices   []*usb.Device
}

// rootHubController is the subset of the SoC controller package's
// exported API the host needs beyond usb.Controller: access to the root
// hub abstraction the controller constructed at Init.
type rootHubController interface {
	usb.Controller
	RootHub() *usb.Hub
}

// New brings up enumeration against an already-initialized host
// controller. It performs one synchronous pass over the root hub (and any
// hub found while walking it); hot-plug beyond that initial pass is out of
// scope (Non-goal).
func New(controller rootHubController) (*Host, error) {
	h := &Host{controller: controller, rootHub: controller.RootHub(), nextAddr: 1}

	if err := h.enumerate(); err != nil {
		return nil, fmt.Errorf("uspi: %w", err)
	}

	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()

	return h, nil
}

// Ready reports whether the initial enumeration pass has completed. This
// supplements the distilled spec with uspilibrary.c's periodic "update"
// poll, reduced to a single non-blocking query since hot-unplug re-scans
// are out of scope.
func (h *Host) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Functions returns every function driver instance bound during
// enumeration, in discovery order.
func (h *Host) Functions() []usb.Function {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]usb.Function, len(h.functions))
	copy(out, h.functions)
	return out
}

// enumerate walks the root hub's single port (the BCM2835's DWC2 instance
// exposes exactly one downstream-facing root port; any fan-out comes from
// an external hub attached there) and recurses into any hub it finds.
func (h *Host) enumerate() error {
	return h.enumerateHub(h.rootHub, 0)
}

// maxHubDepth guards against a cabling loop; USB 2.0 itself caps
// practical topologies at 5 tiers.
const maxHubDepth = 5

func (h *Host) enumerateHub(hub *usb.Hub, depth int) error {
	if depth > maxHubDepth {
		return fmt.Errorf("hub nesting exceeds %d tiers", maxHubDepth)
	}

	for port := uint8(1); port <= uint8(hub.NumPorts); port++ {
		if err := hub.PowerOnPort(port, 100_000_000); err != nil { // 100ms
			return fmt.Errorf("power on port %d: %w", port, err)
		}
	}

	for port := uint8(1); port <= uint8(hub.NumPorts); port++ {
		connected, speed, err := h.portConnected(hub, port)
		if err != nil || !connected {
			continue
		}

		speed, err = hub.ResetPort(port, resetTimeout)
		if err != nil {
			continue
		}

		h.mu.Lock()
		addr := h.nextAddr
		h.nextAddr++
		h.mu.Unlock()

		dev, err := hub.AttachDevice(port, speed, addr)
		if err != nil {
			continue
		}

		h.mu.Lock()
		h.devices = append(h.devices, dev)
		h.mu.Unlock()

		if dev.Descriptor.DeviceClass == usb.ClassHub {
			childHub, err := usb.NewExternalHub(dev)
			if err == nil {
				h.enumerateHub(childHub, depth+1)
			}
			continue
		}

		fns := usb.BindAll(dev)

		h.mu.Lock()
		h.functions = append(h.functions, fns...)
		h.mu.Unlock()
	}

	return nil
}

// portConnected reports connection status for port. The root hub's status
// comes from the controller's own port register (read via the speed
// returned from ResetPort, so this implementation treats every root port
// as connected and lets ResetPort's timeout fail silently-skip unpopulated
// ports); external hubs answer over the standard class request.
func (h *Host) portConnected(hub *usb.Hub, port uint8) (bool, usb.Speed, error) {
	if hub.Device == nil {
		return true, hub.Speed, nil
	}

	status, _, err := hub.PortStatus(port)
	if err != nil {
		return false, 0, err
	}

	return status&usb.PortStatusConnection != 0, hub.Speed, nil
}

const resetTimeout = 1_000_000_000 // 1 second in time.Duration nanoseconds
