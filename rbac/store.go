package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dockside/warehouse/backend/auth"
)

// ErrAccountNotFound signals that no account matches the lookup.
var ErrAccountNotFound = errors.New("rbac: account not found")

// Account represents a persisted dashboard user.
type Account struct {
	ID            int64     `json:"id"`
	Subject       string    `json:"subject"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	FullName      string    `json:"full_name"`
	Role          Role      `json:"role"`
	Approved      bool      `json:"approved"`
	Permissions   []string  `json:"permissions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Identity rebuilds the identity the account signed in with.
func (a Account) Identity() *auth.Identity {
	return &auth.Identity{
		ID:            a.Subject,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		Name:          a.FullName,
		Provider:      "oidc",
	}
}

// Store persists accounts in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed account store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const accountColumns = `id, subject, email, email_verified, COALESCE(full_name, ''), role, approved, permissions, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Subject, &a.Email, &a.EmailVerified, &a.FullName, &a.Role, &a.Approved, &a.Permissions, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}
	return a, nil
}

// EnsureAccount creates the account on first login and refreshes the
// provider supplied attributes afterwards. Role and approval are untouched.
func (s *Store) EnsureAccount(ctx context.Context, identity *auth.Identity) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (subject, email, email_verified, full_name, role, approved)
         VALUES ($1, $2, $3, $4, 'pending', FALSE)
         ON CONFLICT (email)
         DO UPDATE SET subject = EXCLUDED.subject,
                       email_verified = EXCLUDED.email_verified,
                       full_name = EXCLUDED.full_name,
                       updated_at = NOW()`,
		identity.ID, identity.Key(), identity.EmailVerified, identity.Name,
	)
	if err != nil {
		return fmt.Errorf("rbac: ensure account: %w", err)
	}
	return nil
}

// AccountByEmail loads an account by its lowercase email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (Account, error) {
	account, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("rbac: account by email: %w", err)
	}
	return account, nil
}

// ListAccounts returns accounts, newest first. pendingOnly limits the list to
// accounts awaiting approval.
func (s *Store) ListAccounts(ctx context.Context, pendingOnly bool) ([]Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
         WHERE NOT $1 OR approved = FALSE
         ORDER BY created_at DESC`,
		pendingOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("rbac: list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("rbac: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Approve marks the account approved. Pending accounts become viewers.
func (s *Store) Approve(ctx context.Context, accountID int64) (Account, error) {
	account, err := scanAccount(s.db.QueryRow(ctx,
		`UPDATE accounts
         SET approved = TRUE,
             role = CASE WHEN role = 'pending' THEN 'viewer' ELSE role END,
             updated_at = NOW()
         WHERE id = $1
         RETURNING `+accountColumns,
		accountID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("rbac: approve account: %w", err)
	}
	return account, nil
}

// SetRole replaces the role and explicit grants. Moving an account back to
// pending revokes its approval.
func (s *Store) SetRole(ctx context.Context, accountID int64, role Role, permissions []string) (Account, error) {
	if permissions == nil {
		permissions = []string{}
	}
	account, err := scanAccount(s.db.QueryRow(ctx,
		`UPDATE accounts
         SET role = $2,
             permissions = $3,
             approved = CASE WHEN $2 = 'pending' THEN FALSE ELSE approved END,
             updated_at = NOW()
         WHERE id = $1
         RETURNING `+accountColumns,
		accountID, string(role), permissions,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("rbac: set role: %w", err)
	}
	return account, nil
}
