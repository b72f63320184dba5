package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE - User-facing income or spending claim
// =============================================================================

type InvoiceStatus string

const (
	StatusActive  InvoiceStatus = "active"
	StatusDeleted InvoiceStatus = "deleted"
)

// Document is an opaque reference to an attachment held by the document
// store. The engine never reads file contents.
type Document struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// EditEntry records one changed field.
type EditEntry struct {
	Field    string    `json:"field"`
	OldValue string    `json:"old_value"`
	NewValue string    `json:"new_value"`
	Reason   string    `json:"reason,omitempty"`
	EditedAt time.Time `json:"edited_at"`
	EditedBy string    `json:"edited_by"`
}

// Invoice is persisted alongside its originating transaction. Kind, Ledger
// and ReferenceNumber never change after creation.
type Invoice struct {
	ID              InvoiceID
	Office          OfficeID
	ReferenceNumber string
	Kind            InvoiceKind
	Ledger          LedgerID
	Name            string
	Value           decimal.Decimal
	Date            time.Time
	Details         string
	BankReference   string
	Document        *Document

	Status      InvoiceStatus
	IsEdited    bool
	EditHistory []EditEntry

	DeletedAt    *time.Time
	DeletedBy    string
	DeleteReason string

	TransactionID TransactionID
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SignedValue is the invoice's current contribution as if freshly posted.
func (inv *Invoice) SignedValue() decimal.Decimal {
	return inv.Kind.Signed(inv.Value)
}

// Clone returns a deep copy safe to mutate.
func (inv *Invoice) Clone() *Invoice {
	c := *inv
	c.EditHistory = append([]EditEntry(nil), inv.EditHistory...)
	if inv.Document != nil {
		d := *inv.Document
		c.Document = &d
	}
	if inv.DeletedAt != nil {
		t := *inv.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// NewInvoice is the input of PostInvoice.
type NewInvoice struct {
	Office        OfficeID
	Kind          InvoiceKind
	Ledger        LedgerID // optional when the office routes the kind
	Name          string
	Value         decimal.Decimal
	Date          time.Time
	Details       string
	BankReference string
	Document      *Document
}

// InvoicePatch lists editable fields. Nil means unchanged.
type InvoicePatch struct {
	Name          *string
	Value         *decimal.Decimal
	Date          *time.Time
	Details       *string
	BankReference *string
	Document      *Document
	Reason        string
}

// =============================================================================
// QUERIES
// =============================================================================

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Pagination is 1-based.
type Pagination struct {
	Page  int
	Limit int
}

// Normalize clamps page to >= 1 and limit to [1, MaxPageSize].
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

func (p Pagination) Offset() int { return (p.Page - 1) * p.Limit }

// Pages returns the page count for total items, at least 1.
func (p Pagination) Pages(total int) int {
	if total <= 0 {
		return 1
	}
	return (total + p.Limit - 1) / p.Limit
}

// StatusAll disables the status filter in InvoiceFilter.
const StatusAll InvoiceStatus = "all"

type InvoiceFilter struct {
	Office OfficeID
	Kind   InvoiceKind
	Ledger LedgerID
	Status InvoiceStatus // empty means active
	Search string
	From   *time.Time
	To     *time.Time
	Pagination
}

// Matches applies the filter to a single invoice. Stores without a query
// language use it directly.
func (f InvoiceFilter) Matches(inv *Invoice) bool {
	if f.Office != "" && inv.Office != f.Office {
		return false
	}
	if f.Kind != "" && inv.Kind != f.Kind {
		return false
	}
	if f.Ledger != "" && inv.Ledger != f.Ledger {
		return false
	}
	status := f.Status
	if status == "" {
		status = StatusActive
	}
	if status != StatusAll && inv.Status != status {
		return false
	}
	if f.From != nil && inv.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && inv.Date.After(*f.To) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		hay := strings.ToLower(inv.ReferenceNumber + "\x00" + inv.Name + "\x00" + inv.Details + "\x00" + inv.BankReference)
		if !strings.Contains(hay, q) {
			return false
		}
	}
	return true
}

type InvoicePage struct {
	Items []Invoice
	Page  int
	Limit int
	Total int
	Pages int
}

type TransactionFilter struct {
	Office    OfficeID
	Ledger    LedgerID
	Kind      TransactionKind
	InvoiceID InvoiceID
	From      *time.Time
	To        *time.Time
	Pagination
}

func (f TransactionFilter) Matches(tx *Transaction) bool {
	if f.Office != "" && tx.Office != f.Office {
		return false
	}
	if f.Ledger != "" && tx.Ledger != f.Ledger {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.InvoiceID != "" && tx.InvoiceID != f.InvoiceID {
		return false
	}
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	return true
}

type TransactionPage struct {
	Items []Transaction
	Page  int
	Limit int
	Total int
	Pages int
}
