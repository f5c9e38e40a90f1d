package device

import "strings"

// Source names as SANE backends advertise them.
const (
	SourceFlatbed   = "Flatbed"
	SourceADF       = "ADF"
	SourceADFDuplex = "ADF Duplex"
)

// Device is one entry from a device listing. The id is an opaque
// backend-qualified string (e.g. "epjitsu:libusb:001:004") and is the
// only stable identity.
type Device struct {
	ID     string `json:"id"`
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model,omitempty"`
}

// Options holds the probed capabilities of a single device. Backend
// vocabularies vary freely, so every field is optional; a nil slice
// means "unknown", not "none".
type Options struct {
	Sources     []string `json:"sources,omitempty"`
	ColorModes  []string `json:"color_modes,omitempty"`
	Resolutions []int    `json:"resolutions,omitempty"`
	ADF         bool     `json:"adf"`
	Duplex      bool     `json:"duplex"`
}

// HasSource reports whether the device advertises the named source,
// compared case-insensitively.
func (o Options) HasSource(name string) bool {
	for _, s := range o.Sources {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// HasResolution reports whether dpi appears in the advertised list.
func (o Options) HasResolution(dpi int) bool {
	for _, r := range o.Resolutions {
		if r == dpi {
			return true
		}
	}
	return false
}

// Backend returns the SANE backend prefix of a device id ("epjitsu" for
// "epjitsu:libusb:001:004").
func Backend(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i]
	}
	return id
}
