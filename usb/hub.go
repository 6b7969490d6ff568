// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"fmt"
	"time"
)

// Hub class-specific requests (USB 2.0 §11.24.2).
const (
	HubRequestGetStatus     = RequestGetStatus
	HubRequestClearFeature  = RequestClearFeature
	HubRequestSetFeature    = RequestSetFeature
	HubRequestGetDescriptor = RequestGetDescriptor
)

// Hub and port feature selectors (USB 2.0 Table 11-17).
const (
	FeaturePortConnection  = 0
	FeaturePortEnable      = 1
	FeaturePortSuspend     = 2
	FeaturePortOverCurrent = 3
	FeaturePortReset       = 4
	FeaturePortPower       = 8
	FeaturePortLowSpeed    = 9
	FeaturePortHighSpeed   = 10
	FeatureCPortConnection = 16
	FeatureCPortReset      = 20
)

// Port status bits (USB 2.0 Table 11-21), wPortStatus half of
// GET_STATUS(PORT).
const (
	PortStatusConnection = 1 << 0
	PortStatusEnable     = 1 << 1
	PortStatusSuspend    = 1 << 2
	PortStatusOverCurrent = 1 << 3
	PortStatusReset      = 1 << 4
	PortStatusPower      = 1 << 8
	PortStatusLowSpeed   = 1 << 9
	PortStatusHighSpeed  = 1 << 10
)

// Hub represents either the root hub exposed directly by the host
// controller or a standard external hub enumerated like any other device.
// Both are driven through the same port power/reset/status state machine,
// mirroring how the original library treats the root hub as a
// degenerate TUSBStandardHub with a fixed port count supplied by the
// controller rather than read from a hub descriptor.
type Hub struct {
	Device   *Device // nil for the root hub
	NumPorts int
	Speed    Speed

	onAttach func(port uint8, speed Speed) (*Device, error)
}

// NewRootHub constructs the root hub abstraction. onAttach is called once
// a port's device has been reset and is ready for address assignment; it is
// supplied by the host controller driver, which alone knows how to talk to
// a device at address 0 on a given root port.
func NewRootHub(numPorts int, speed Speed, onAttach func(port uint8, speed Speed) (*Device, error)) *Hub {
	return &Hub{NumPorts: numPorts, Speed: speed, onAttach: onAttach}
}

// NewExternalHub constructs a Hub driver bound to an already-addressed and
// configured hub device, reading its hub descriptor to learn the port
// count. The descriptor's power-on delay is not kept; callers pass the
// delay to PowerOnPort themselves.
func NewExternalHub(dev *Device) (*Hub, error) {
	buf := make([]byte, 9)

	if _, err := dev.controlMessage(RequestDirectionIn|RequestTypeClass|RequestRecipientDevice, HubRequestGetDescriptor, uint16(DescriptorTypeHub)<<8, 0, buf); err != nil {
		return nil, fmt.Errorf("usb: get hub descriptor: %w", err)
	}

	return &Hub{Device: dev, NumPorts: int(buf[2]), Speed: dev.Speed}, nil
}

func (h *Hub) classRequest(dir uint8, request uint8, value, index uint16) ([]byte, error) {
	buf := make([]byte, 4)

	var n int
	var err error

	if dir == RequestDirectionIn {
		n, err = h.Device.controlMessage(RequestDirectionIn|RequestTypeClass|RequestRecipientEndpoint, request, value, index, buf)
	} else {
		n, err = h.Device.controlMessage(RequestDirectionOut|RequestTypeClass|RequestRecipientEndpoint, request, value, index, nil)
	}

	return buf[:n], err
}

// PowerOnPort enables VBUS on the given 1-based port and waits
// powerOnDelay before returning, as USB 2.0 §11.11's bPwrOn2PwrGood
// requires. The root hub's controller is assumed to already source VBUS
// and treats this as a no-op.
func (h *Hub) PowerOnPort(port uint8, powerOnDelay time.Duration) error {
	if h.Device == nil {
		time.Sleep(powerOnDelay)
		return nil
	}

	if _, err := h.classRequest(RequestDirectionOut, HubRequestSetFeature, FeaturePortPower, uint16(port)); err != nil {
		return fmt.Errorf("usb: power on port %d: %w", port, err)
	}

	time.Sleep(powerOnDelay)
	return nil
}

// PortStatus reads the port's current status and change bits. For the root
// hub this must be supplied by the controller driver via onAttach's
// polling instead; external hubs answer it over their status-change
// interrupt endpoint and this class request.
func (h *Hub) PortStatus(port uint8) (status uint16, change uint16, err error) {
	if h.Device == nil {
		return 0, 0, fmt.Errorf("usb: root hub port status is controller-specific")
	}

	buf, err := h.classRequest(RequestDirectionIn, HubRequestGetStatus, 0, uint16(port))
	if err != nil {
		return 0, 0, fmt.Errorf("usb: get port %d status: %w", port, err)
	}

	status = uint16(buf[0]) | uint16(buf[1])<<8
	change = uint16(buf[2]) | uint16(buf[3])<<8

	return status, change, nil
}

// ResetPort issues PORT_RESET and polls for the reset-complete change bit,
// returning the negotiated speed once the port settles.
func (h *Hub) ResetPort(port uint8, timeout time.Duration) (Speed, error) {
	if h.Device != nil {
		if _, err := h.classRequest(RequestDirectionOut, HubRequestSetFeature, FeaturePortReset, uint16(port)); err != nil {
			return 0, fmt.Errorf("usb: reset port %d: %w", port, err)
		}
	}

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		status, change, err := h.PortStatus(port)
		if err != nil {
			return 0, err
		}

		if change&PortStatusReset != 0 || status&PortStatusReset == 0 {
			if _, err := h.classRequest(RequestDirectionOut, HubRequestClearFeature, FeatureCPortReset, uint16(port)); err != nil {
				return 0, fmt.Errorf("usb: clear port %d reset change: %w", port, err)
			}

			switch {
			case status&PortStatusLowSpeed != 0:
				return SpeedLow, nil
			case status&PortStatusHighSpeed != 0:
				return SpeedHigh, nil
			default:
				return SpeedFull, nil
			}
		}

		time.Sleep(10 * time.Millisecond)
	}

	return 0, fmt.Errorf("usb: port %d did not complete reset within %s", port, timeout)
}

// AttachDevice runs the port 0-address enumeration handshake
// (GetDescriptor(8 bytes) -> SetAddress -> full descriptor fetch) for a
// device that has just been reset on port, delegating the address-0
// transaction itself to the controller-supplied onAttach hook since only
// the host controller can target address 0 safely (only one such device
// may exist on the bus at a time).
func (h *Hub) AttachDevice(port uint8, speed Speed, nextAddress uint8) (*Device, error) {
	if h.onAttach == nil {
		return nil, fmt.Errorf("usb: hub has no attach hook wired")
	}

	dev, err := h.onAttach(port, speed)
	if err != nil {
		return nil, fmt.Errorf("usb: attach device on port %d: %w", port, err)
	}

	hdr := make([]byte, 8)

	if _, err := dev.GetDescriptor(DescriptorTypeDevice, 0, 0, hdr); err != nil {
		return nil, fmt.Errorf("usb: get device descriptor header: %w", err)
	}

	dev.ep0.Descriptor.MaxPacketSize = uint16(hdr[7])

	if err := dev.SetAddress(nextAddress); err != nil {
		return nil, err
	}

	// a short settle delay after SetAddress, matching USB 2.0 §9.2.6.3's
	// 2ms recovery interval before the device is guaranteed to respond at
	// its new address.
	time.Sleep(2 * time.Millisecond)

	if _, err := dev.FetchDeviceDescriptor(); err != nil {
		return nil, fmt.Errorf("usb: re-fetch device descriptor after address assignment: %w", err)
	}

	if _, err := dev.FetchConfiguration(0); err != nil {
		return nil, err
	}

	if err := dev.SetConfiguration(dev.Configuration.Descriptor.ConfigurationValue); err != nil {
		return nil, err
	}

	return dev, nil
}
