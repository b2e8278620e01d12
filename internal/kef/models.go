package kef

import "slices"

// Model describes a supported speaker model and the sources it can select.
type Model struct {
	ID      string
	Name    string
	Sources []string
}

// Supports reports whether source is selectable on this model.
func (m Model) Supports(source string) bool {
	return slices.Contains(m.Sources, source)
}

// Models is the catalogue of supported speakers keyed by config model id.
var Models = map[string]Model{
	"LS50W2": {
		ID:      "LS50W2",
		Name:    "KEF LS50 Wireless II",
		Sources: []string{"wifi", "bluetooth", "tv", "optical", "coaxial", "analog"},
	},
	"LSX2": {
		ID:      "LSX2",
		Name:    "KEF LSX II",
		Sources: []string{"wifi", "bluetooth", "tv", "optical", "analog", "usb"},
	},
	"LS60": {
		ID:      "LS60",
		Name:    "KEF LS60",
		Sources: []string{"wifi", "bluetooth", "tv", "optical", "coaxial", "analog"},
	},
}

// SourceNames maps source tags to display names.
var SourceNames = map[string]string{
	"wifi":      "WiFi",
	"bluetooth": "Bluetooth",
	"tv":        "TV",
	"optical":   "Optical",
	"coaxial":   "Coaxial",
	"analog":    "Analog",
	"usb":       "USB",
}

// LookupModel returns the catalogue entry for id.
func LookupModel(id string) (Model, bool) {
	model, ok := Models[id]
	return model, ok
}

// SourceName returns the display name for a source tag, falling back to the
// tag itself.
func SourceName(source string) string {
	if name, ok := SourceNames[source]; ok {
		return name
	}
	return source
}
