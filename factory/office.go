/*
Package factory provides YAML to Go office conversion.

PURPOSE:
  Converts YAML office definitions into ledger.Office values. Adding a
  new back-office module (a branch, a holding company) is a config change,
  not a code change: the ledger engine is shared and only the office
  definition differs.

YAML SCHEMA:
  offices:
    - id: fursatkum
      name: Fursatkum Holding
      currency: KWD
      reference_prefix: F
      ledgers: [cash, bank]
      default_ledger: cash
      bank_ledgers: [bank]
      routing:
        income: cash       # optional, fixes the ledger of a kind
      require_sufficient_funds: true
      require_reason: true
      allow_deposits: false
      payroll: true

KEY FEATURES:
  - Strict decoding: unknown keys are rejected
  - Sets defaults (currency, single-ledger default)
  - Validates every office through ledger.Office.Validate
  - Rejects duplicate office ids

USAGE:
  offices, err := factory.LoadOffices("offices.yaml")
  svc, err := ledger.NewService(store, offices)

SEE ALSO:
  - offices: built-in presets written in this schema
  - ledger/office.go: Office type definition
*/
package factory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warp/office-ledger/ledger"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// FileYAML is the top-level document.
type FileYAML struct {
	Offices []OfficeYAML `yaml:"offices"`
}

// OfficeYAML is the YAML representation of an office.
type OfficeYAML struct {
	ID                     string            `yaml:"id"`
	Name                   string            `yaml:"name"`
	Currency               string            `yaml:"currency,omitempty"`
	ReferencePrefix        string            `yaml:"reference_prefix,omitempty"`
	Ledgers                []string          `yaml:"ledgers"`
	DefaultLedger          string            `yaml:"default_ledger,omitempty"`
	BankLedgers            []string          `yaml:"bank_ledgers,omitempty"`
	Routing                map[string]string `yaml:"routing,omitempty"`
	RequireSufficientFunds bool              `yaml:"require_sufficient_funds,omitempty"`
	RequireReason          bool              `yaml:"require_reason,omitempty"`
	AllowDeposits          bool              `yaml:"allow_deposits,omitempty"`
	Payroll                bool              `yaml:"payroll,omitempty"`
}

// =============================================================================
// OFFICE FACTORY
// =============================================================================

// ParseOffices decodes a YAML document into validated offices.
func ParseOffices(data []byte) ([]*ledger.Office, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc FileYAML
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse offices YAML: %w", err)
	}
	if len(doc.Offices) == 0 {
		return nil, errors.New("offices YAML defines no offices")
	}

	seen := make(map[string]bool, len(doc.Offices))
	out := make([]*ledger.Office, 0, len(doc.Offices))
	for _, oy := range doc.Offices {
		if seen[oy.ID] {
			return nil, fmt.Errorf("duplicate office %q", oy.ID)
		}
		seen[oy.ID] = true

		o, err := FromYAML(oy)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// LoadOffices reads and parses a YAML office file.
func LoadOffices(path string) ([]*ledger.Office, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading offices file: %w", err)
	}
	return ParseOffices(data)
}

// FromYAML converts one OfficeYAML to a validated ledger.Office.
func FromYAML(oy OfficeYAML) (*ledger.Office, error) {
	o := &ledger.Office{
		ID:                     ledger.OfficeID(oy.ID),
		Name:                   oy.Name,
		Currency:               oy.Currency,
		ReferencePrefix:        oy.ReferencePrefix,
		DefaultLedger:          ledger.LedgerID(oy.DefaultLedger),
		RequireSufficientFunds: oy.RequireSufficientFunds,
		RequireReason:          oy.RequireReason,
		AllowDeposits:          oy.AllowDeposits,
		Payroll:                oy.Payroll,
	}
	if o.Currency == "" {
		o.Currency = ledger.DefaultCurrency
	}
	if o.Name == "" {
		o.Name = oy.ID
	}
	for _, l := range oy.Ledgers {
		o.Ledgers = append(o.Ledgers, ledger.LedgerID(l))
	}
	for _, l := range oy.BankLedgers {
		o.BankLedgers = append(o.BankLedgers, ledger.LedgerID(l))
	}
	if o.DefaultLedger == "" && len(o.Ledgers) == 1 {
		o.DefaultLedger = o.Ledgers[0]
	}
	if len(oy.Routing) > 0 {
		o.KindRouting = make(map[ledger.InvoiceKind]ledger.LedgerID, len(oy.Routing))
		for kind, l := range oy.Routing {
			o.KindRouting[ledger.InvoiceKind(kind)] = ledger.LedgerID(l)
		}
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}
