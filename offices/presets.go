// Package offices holds the built-in office definitions.
package offices

import (
	_ "embed"

	"github.com/warp/office-ledger/factory"
	"github.com/warp/office-ledger/ledger"
)

const (
	HomeService = ledger.OfficeID("home-service")
	Farwaniya1  = ledger.OfficeID("farwaniya1")
	Farwaniya2  = ledger.OfficeID("farwaniya2")
	Fursatkum   = ledger.OfficeID("fursatkum")
)

//go:embed presets.yaml
var presetsYAML []byte

// PresetsYAML returns the raw preset document, useful as a starting point
// for a custom OFFICES_FILE.
func PresetsYAML() []byte {
	return append([]byte(nil), presetsYAML...)
}

// Defaults returns fresh copies of the four built-in offices.
func Defaults() []*ledger.Office {
	out, err := factory.ParseOffices(presetsYAML)
	if err != nil {
		panic("offices: invalid built-in presets: " + err.Error())
	}
	return out
}

// Load returns the offices defined in path, or the presets when path is empty.
func Load(path string) ([]*ledger.Office, error) {
	if path == "" {
		return Defaults(), nil
	}
	return factory.LoadOffices(path)
}
