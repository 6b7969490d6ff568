// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "fmt"

// Interface groups one interface descriptor with its endpoint descriptors,
// the unit function drivers bind against.
type Interface struct {
	Descriptor InterfaceDescriptor
	Endpoints  []EndpointDescriptor
}

// Configuration is the fully parsed tree for one device configuration: its
// header plus every interface (including alternate settings) and endpoint
// nested beneath it, reassembled from the flat TotalLength buffer returned
// by a GetDescriptor(Configuration) request.
type Configuration struct {
	Descriptor ConfigurationDescriptor
	Interfaces []Interface
}

// ParseConfiguration walks a raw configuration descriptor buffer (as
// returned in full by the device, TotalLength bytes starting with the
// configuration header) into a Configuration tree. It never allocates more
// than one pass over buf and tolerates descriptor types it doesn't
// recognize (HID, interface association, class-specific) by skipping them,
// exactly as the original library's configuration walk does.
func ParseConfiguration(buf []byte) (*Configuration, error) {
	c := newCursor(buf)

	raw, ok := c.skipTo(DescriptorTypeConfiguration)
	if !ok {
		return nil, fmt.Errorf("usb: no configuration descriptor in buffer")
	}

	cfg, err := parseConfigurationDescriptor(raw)
	if err != nil {
		return nil, err
	}

	config := &Configuration{Descriptor: *cfg}

	var current *Interface
	numPrimary := 0

	for {
		descType, raw, ok := c.next()
		if !ok {
			break
		}

		switch descType {
		case DescriptorTypeInterface:
			iface, err := parseInterfaceDescriptor(raw)
			if err != nil {
				return nil, err
			}

			config.Interfaces = append(config.Interfaces, Interface{Descriptor: *iface})
			current = &config.Interfaces[len(config.Interfaces)-1]

			if iface.AlternateSetting == 0 {
				numPrimary++
			}

		case DescriptorTypeEndpoint:
			if current == nil {
				return nil, fmt.Errorf("usb: endpoint descriptor outside of any interface")
			}

			ep, err := parseEndpointDescriptor(raw)
			if err != nil {
				return nil, err
			}

			current.Endpoints = append(current.Endpoints, *ep)

		default:
			// class-specific (HID, IAD, ...) descriptors are skipped here;
			// function drivers that need them re-walk the raw buffer
			// themselves via FindClassDescriptor.
		}
	}

	if numPrimary != int(cfg.NumInterfaces) {
		return nil, fmt.Errorf("usb: configuration declares %d interfaces, found %d", cfg.NumInterfaces, numPrimary)
	}

	return config, nil
}

// FindClassDescriptor returns the raw bytes of the first descriptor of
// descType found between the interface descriptor at ifaceIndex and the
// next interface or endpoint boundary, used by function drivers to recover
// class-specific descriptors (e.g. HID) that ParseConfiguration skips.
func FindClassDescriptor(buf []byte, ifaceIndex int, descType uint8) ([]byte, bool) {
	c := newCursor(buf)
	seen := -1

	for {
		t, raw, ok := c.next()
		if !ok {
			return nil, false
		}

		if t == DescriptorTypeInterface {
			seen++
			continue
		}

		if seen != ifaceIndex {
			continue
		}

		if t == DescriptorTypeEndpoint {
			return nil, false
		}

		if t == descType {
			return raw, true
		}
	}
}
