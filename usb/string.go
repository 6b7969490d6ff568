// https://github.com/usbarmory/uspi
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "fmt"

// GetString retrieves and decodes string descriptor index in the given
// language (or the device's cached default language, learned from string
// index 0, if langID is zero). This supplements the distilled spec with
// usbstring.c's string retrieval. Nothing in the stack calls it during
// enumeration or binding; it is available to applications.
func (d *Device) GetString(index uint8, langID uint16) (string, error) {
	if index == 0 {
		return "", nil
	}

	if langID == 0 {
		if d.langID == 0 {
			if err := d.fetchLangID(); err != nil {
				return "", err
			}
		}
		langID = d.langID
	}

	hdr := make([]byte, 2)
	if _, err := d.GetDescriptor(DescriptorTypeString, index, langID, hdr); err != nil {
		return "", fmt.Errorf("usb: get string descriptor %d header: %w", index, err)
	}

	length := int(hdr[0])
	if length < 2 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := d.GetDescriptor(DescriptorTypeString, index, langID, buf); err != nil {
		return "", fmt.Errorf("usb: get string descriptor %d: %w", index, err)
	}

	return utf16LEToASCII(buf[2:]), nil
}

func (d *Device) fetchLangID() error {
	hdr := make([]byte, 4)

	if _, err := d.GetDescriptor(DescriptorTypeString, 0, 0, hdr); err != nil {
		return fmt.Errorf("usb: get supported languages: %w", err)
	}

	d.langID = uint16(hdr[2]) | uint16(hdr[3])<<8

	return nil
}

// utf16LEToASCII converts a UTF-16LE string descriptor payload to ASCII,
// dropping the high byte of each code unit, mirroring usbstring.c's
// simplified (non-Unicode-aware) conversion.
func utf16LEToASCII(b []byte) string {
	out := make([]byte, 0, len(b)/2)

	for i := 0; i+1 < len(b); i += 2 {
		if b[i+1] == 0 {
			out = append(out, b[i])
		} else {
			out = append(out, '?')
		}
	}

	return string(out)
}
