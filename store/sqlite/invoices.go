package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/office-ledger/ledger"
)

// =============================================================================
// INVOICE STORE
// =============================================================================

const invoiceColumns = `id, office, reference_number, kind, ledger, name, value, date, details,
	bank_reference, document_json, status, is_edited, edit_history_json, deleted_at, deleted_by,
	delete_reason, transaction_id, created_by, created_at, updated_at`

func (s queries) InsertInvoice(ctx context.Context, inv ledger.Invoice) error {
	args, err := invoiceArgs(inv)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%s: %w", inv.ReferenceNumber, ledger.ErrDuplicateReference)
		}
		return mapBusy(fmt.Errorf("failed to insert invoice: %w", err))
	}
	return nil
}

// UpdateInvoice rewrites the mutable columns. Kind, ledger and reference
// number are never updated.
func (s queries) UpdateInvoice(ctx context.Context, inv ledger.Invoice) error {
	document, err := marshalNullable(inv.Document, inv.Document == nil)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	history, err := marshalNullable(inv.EditHistory, len(inv.EditHistory) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode edit history: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE invoices SET
			name = ?, value = ?, date = ?, details = ?, bank_reference = ?,
			document_json = ?, status = ?, is_edited = ?, edit_history_json = ?,
			deleted_at = ?, deleted_by = ?, delete_reason = ?, updated_at = ?
		WHERE id = ?
	`,
		inv.Name, inv.Value, formatTime(inv.Date), inv.Details, inv.BankReference,
		document, inv.Status, inv.IsEdited, history,
		formatTimePtr(inv.DeletedAt), nullString(inv.DeletedBy), nullString(inv.DeleteReason),
		formatTime(inv.UpdatedAt), inv.ID,
	)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to update invoice: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ledger.NotFoundError{Resource: "invoice", ID: string(inv.ID)}
	}
	return nil
}

func (s queries) GetInvoice(ctx context.Context, id ledger.InvoiceID) (*ledger.Invoice, error) {
	items, err := s.queryInvoices(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s queries) AllInvoices(ctx context.Context, office ledger.OfficeID) ([]ledger.Invoice, error) {
	return s.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE office = ? ORDER BY created_at ASC, id ASC",
		office)
}

func (s queries) ListInvoices(ctx context.Context, f ledger.InvoiceFilter) (ledger.InvoicePage, error) {
	var where []string
	var args []any
	add := func(cond string, a ...any) {
		where = append(where, cond)
		args = append(args, a...)
	}
	if f.Office != "" {
		add("office = ?", f.Office)
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.Ledger != "" {
		add("ledger = ?", f.Ledger)
	}
	switch f.Status {
	case ledger.StatusAll:
	case "":
		add("status = ?", ledger.StatusActive)
	default:
		add("status = ?", f.Status)
	}
	if f.From != nil {
		add("date >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("date <= ?", formatTime(*f.To))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		add(`(lower(reference_number) LIKE ? ESCAPE '\' OR lower(coalesce(name, '')) LIKE ? ESCAPE '\'
			OR lower(coalesce(details, '')) LIKE ? ESCAPE '\' OR lower(coalesce(bank_reference, '')) LIKE ? ESCAPE '\')`,
			like, like, like, like)
	}
	clause := whereClause(where)

	p := f.Pagination.Normalize()
	page := ledger.InvoicePage{Page: p.Page, Limit: p.Limit}
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices"+clause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("failed to count invoices: %w", err)
	}
	page.Pages = p.Pages(page.Total)

	items, err := s.queryInvoices(ctx,
		"SELECT "+invoiceColumns+" FROM invoices"+clause+" ORDER BY date DESC, created_at DESC LIMIT ? OFFSET ?",
		append(args, p.Limit, p.Offset())...)
	if err != nil {
		return page, err
	}
	page.Items = items
	if page.Items == nil {
		page.Items = []ledger.Invoice{}
	}
	return page, nil
}

func (s queries) queryInvoices(ctx context.Context, query string, args ...any) ([]ledger.Invoice, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvoice(rows *sql.Rows) (ledger.Invoice, error) {
	var inv ledger.Invoice
	var name, details, bankRef, document, history, deletedAt, deletedBy, deleteReason sql.NullString
	var date, createdAt, updatedAt string
	err := rows.Scan(
		&inv.ID, &inv.Office, &inv.ReferenceNumber, &inv.Kind, &inv.Ledger, &name, &inv.Value, &date, &details,
		&bankRef, &document, &inv.Status, &inv.IsEdited, &history, &deletedAt, &deletedBy,
		&deleteReason, &inv.TransactionID, &inv.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.Name = name.String
	inv.Details = details.String
	inv.BankReference = bankRef.String
	inv.Date = parseTime(date)
	inv.DeletedAt = parseTimePtr(deletedAt)
	inv.DeletedBy = deletedBy.String
	inv.DeleteReason = deleteReason.String
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	if document.Valid && document.String != "" {
		inv.Document = &ledger.Document{}
		if err := json.Unmarshal([]byte(document.String), inv.Document); err != nil {
			return inv, fmt.Errorf("failed to decode document of %s: %w", inv.ID, err)
		}
	}
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &inv.EditHistory); err != nil {
			return inv, fmt.Errorf("failed to decode edit history of %s: %w", inv.ID, err)
		}
	}
	return inv, nil
}

func invoiceArgs(inv ledger.Invoice) ([]any, error) {
	document, err := marshalNullable(inv.Document, inv.Document == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	history, err := marshalNullable(inv.EditHistory, len(inv.EditHistory) == 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode edit history: %w", err)
	}
	if inv.TransactionID == "" {
		return nil, errors.New("invoice has no originating transaction")
	}
	return []any{
		inv.ID, inv.Office, inv.ReferenceNumber, inv.Kind, inv.Ledger, inv.Name, inv.Value,
		formatTime(inv.Date), inv.Details, inv.BankReference, document, inv.Status, inv.IsEdited,
		history, formatTimePtr(inv.DeletedAt), nullString(inv.DeletedBy), nullString(inv.DeleteReason),
		inv.TransactionID, inv.CreatedBy, formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
