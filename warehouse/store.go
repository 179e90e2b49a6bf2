package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	defaultPackageLimit   = 200
)

// Store persists pallets and packages in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed warehouse store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const (
	palletColumns  = `id, code, COALESCE(location, ''), status, created_at`
	packageColumns = `id, tracking_number, COALESCE(carrier, ''), COALESCE(recipient, ''), weight_grams, status, pallet_id, received_at, created_at`
)

func scanPallet(row pgx.Row) (Pallet, error) {
	var p Pallet
	err := row.Scan(&p.ID, &p.Code, &p.Location, &p.Status, &p.CreatedAt)
	return p, err
}

// scanPackage reads a row selected with packageColumns.
func scanPackage(row pgx.Row) (Package, error) {
	var p Package
	err := row.Scan(&p.ID, &p.TrackingNumber, &p.Carrier, &p.Recipient, &p.WeightGrams, &p.Status, &p.PalletID, &p.ReceivedAt, &p.CreatedAt)
	return p, err
}

func (s *Store) ListPallets(ctx context.Context) ([]Pallet, error) {
	rows, err := s.db.Query(ctx, `SELECT `+palletColumns+` FROM pallets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("warehouse: list pallets: %w", err)
	}
	defer rows.Close()

	pallets := []Pallet{}
	for rows.Next() {
		p, err := scanPallet(rows)
		if err != nil {
			return nil, fmt.Errorf("warehouse: scan pallet: %w", err)
		}
		pallets = append(pallets, p)
	}
	return pallets, rows.Err()
}

func (s *Store) CreatePallet(ctx context.Context, in PalletInput) (Pallet, error) {
	p, err := scanPallet(s.db.QueryRow(ctx,
		`INSERT INTO pallets (code, location, status) VALUES ($1, NULLIF($2, ''), $3)
         RETURNING `+palletColumns,
		in.Code, in.Location, PalletOpen,
	))
	if err != nil {
		return Pallet{}, translate(err, "create pallet")
	}
	return p, nil
}

// Pallet loads a pallet and its packages.
func (s *Store) Pallet(ctx context.Context, id int64) (PalletDetail, error) {
	p, err := scanPallet(s.db.QueryRow(ctx, `SELECT `+palletColumns+` FROM pallets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PalletDetail{}, ErrPalletNotFound
	}
	if err != nil {
		return PalletDetail{}, fmt.Errorf("warehouse: load pallet: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT `+packageColumns+` FROM packages WHERE pallet_id = $1 ORDER BY tracking_number`, id)
	if err != nil {
		return PalletDetail{}, fmt.Errorf("warehouse: pallet packages: %w", err)
	}
	defer rows.Close()

	detail := PalletDetail{Pallet: p, Packages: []Package{}}
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return PalletDetail{}, fmt.Errorf("warehouse: scan package: %w", err)
		}
		detail.Packages = append(detail.Packages, pkg)
	}
	return detail, rows.Err()
}

func (s *Store) ListPackages(ctx context.Context, filter PackageFilter) ([]Package, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPackageLimit
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+packageColumns+` FROM packages
         WHERE ($1 = '' OR status = $1)
           AND ($2::timestamptz IS NULL OR created_at >= $2)
         ORDER BY created_at DESC
         LIMIT $3`,
		filter.Status, filter.Since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("warehouse: list packages: %w", err)
	}
	defer rows.Close()

	packages := []Package{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("warehouse: scan package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

func (s *Store) CreatePackage(ctx context.Context, in PackageInput) (Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx,
		`INSERT INTO packages (tracking_number, carrier, recipient, weight_grams, status, pallet_id)
         VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)
         RETURNING `+packageColumns,
		in.TrackingNumber, in.Carrier, in.Recipient, in.WeightGrams, StatusExpected, in.PalletID,
	))
	if err != nil {
		return Package{}, translate(err, "create package")
	}
	return p, nil
}

func (s *Store) PackageByTracking(ctx context.Context, trackingNumber string) (Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx,
		`SELECT `+packageColumns+` FROM packages WHERE tracking_number = $1`,
		NormalizeTracking(trackingNumber),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Package{}, ErrPackageNotFound
	}
	if err != nil {
		return Package{}, fmt.Errorf("warehouse: package by tracking: %w", err)
	}
	return p, nil
}

// translate maps constraint violations onto the package sentinels.
func translate(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrDuplicate
		case pgForeignKeyViolation:
			return ErrPalletNotFound
		}
	}
	return fmt.Errorf("warehouse: %s: %w", op, err)
}
