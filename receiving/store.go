package receiving

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dockside/warehouse/backend/warehouse"
)

// Store persists receipts in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed receiving store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const receiptColumns = `id, dock, status, opened_by, opened_at, closed_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var r Receipt
	err := row.Scan(&r.ID, &r.Dock, &r.Status, &r.OpenedBy, &r.OpenedAt, &r.ClosedAt)
	return r, err
}

func (s *Store) Open(ctx context.Context, dock, openedBy string) (Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRow(ctx,
		`INSERT INTO receipts (dock, status, opened_by) VALUES ($1, $2, $3) RETURNING `+receiptColumns,
		dock, ReceiptOpen, openedBy,
	))
	if err != nil {
		return Receipt{}, fmt.Errorf("receiving: open receipt: %w", err)
	}
	return receipt, nil
}

// Scan records a package on an open receipt and updates the package status
// and pallet in the same transaction.
func (s *Store) Scan(ctx context.Context, receiptID int64, in ScanInput, scannedBy string) (Item, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Item{}, fmt.Errorf("receiving: begin scan: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM receipts WHERE id = $1 FOR UPDATE`, receiptID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrReceiptNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("receiving: lock receipt: %w", err)
	}
	if status != ReceiptOpen {
		return Item{}, ErrReceiptClosed
	}

	item := Item{ReceiptID: receiptID, TrackingNumber: in.TrackingNumber, Condition: in.Condition, ScannedBy: scannedBy}
	err = tx.QueryRow(ctx,
		`UPDATE packages
         SET status = $2,
             pallet_id = COALESCE($3, pallet_id),
             received_at = COALESCE(received_at, NOW())
         WHERE tracking_number = $1
         RETURNING id, pallet_id`,
		in.TrackingNumber, in.packageStatus(), in.PalletID,
	).Scan(&item.PackageID, &item.PalletID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, warehouse.ErrPackageNotFound
	}
	if err != nil {
		return Item{}, translate(err, "update package")
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO receipt_items (receipt_id, package_id, pallet_id, condition, scanned_by)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, scanned_at`,
		receiptID, item.PackageID, item.PalletID, item.Condition, scannedBy,
	).Scan(&item.ID, &item.ScannedAt)
	if err != nil {
		return Item{}, translate(err, "insert item")
	}

	if err := tx.Commit(ctx); err != nil {
		return Item{}, fmt.Errorf("receiving: commit scan: %w", err)
	}
	return item, nil
}

// Close closes an open receipt. Closing twice is ErrReceiptClosed.
func (s *Store) Close(ctx context.Context, receiptID int64) (Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRow(ctx,
		`UPDATE receipts SET status = $2, closed_at = NOW()
         WHERE id = $1 AND status = $3
         RETURNING `+receiptColumns,
		receiptID, ReceiptClosed, ReceiptOpen,
	))
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, fmt.Errorf("receiving: close receipt: %w", err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE id = $1)`, receiptID).Scan(&exists); err != nil {
		return Receipt{}, fmt.Errorf("receiving: close receipt: %w", err)
	}
	if !exists {
		return Receipt{}, ErrReceiptNotFound
	}
	return Receipt{}, ErrReceiptClosed
}

// Receipt loads a receipt with its scanned items.
func (s *Store) Receipt(ctx context.Context, receiptID int64) (Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, receiptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrReceiptNotFound
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("receiving: load receipt: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT i.id, i.receipt_id, i.package_id, p.tracking_number, i.pallet_id, i.condition, i.scanned_by, i.scanned_at
         FROM receipt_items i
         JOIN packages p ON p.id = i.package_id
         WHERE i.receipt_id = $1
         ORDER BY i.scanned_at, i.id`,
		receiptID,
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("receiving: receipt items: %w", err)
	}
	defer rows.Close()

	receipt.Items = []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ReceiptID, &it.PackageID, &it.TrackingNumber, &it.PalletID, &it.Condition, &it.ScannedBy, &it.ScannedAt); err != nil {
			return Receipt{}, fmt.Errorf("receiving: scan item: %w", err)
		}
		receipt.Items = append(receipt.Items, it)
	}
	return receipt, rows.Err()
}

// List returns receipts newest first, optionally limited to one status.
func (s *Store) List(ctx context.Context, status string) ([]Receipt, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+receiptColumns+` FROM receipts
         WHERE ($1 = '' OR status = $1)
         ORDER BY opened_at DESC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("receiving: list receipts: %w", err)
	}
	defer rows.Close()

	receipts := []Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("receiving: scan receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

func translate(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyScanned
		case "23503":
			return warehouse.ErrPalletNotFound
		}
	}
	return fmt.Errorf("receiving: %s: %w", op, err)
}
