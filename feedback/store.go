package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists submissions in PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed feedback store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const submissionColumns = `id, kind, subject, message, COALESCE(page, ''), COALESCE(severity, ''), status, submitted_by, created_at, COALESCE(resolved_by, ''), resolved_at`

func scanSubmission(row pgx.Row) (Submission, error) {
	var s Submission
	err := row.Scan(&s.ID, &s.Kind, &s.Subject, &s.Message, &s.Page, &s.Severity, &s.Status, &s.SubmittedBy, &s.CreatedAt, &s.ResolvedBy, &s.ResolvedAt)
	return s, err
}

func (s *Store) Create(ctx context.Context, sub Submission) (Submission, error) {
	created, err := scanSubmission(s.db.QueryRow(ctx,
		`INSERT INTO feedback (id, kind, subject, message, page, severity, status, submitted_by, created_at)
         VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)
         RETURNING `+submissionColumns,
		sub.ID, sub.Kind, sub.Subject, sub.Message, sub.Page, sub.Severity, sub.Status, sub.SubmittedBy, sub.CreatedAt,
	))
	if err != nil {
		return Submission{}, fmt.Errorf("feedback: create: %w", err)
	}
	return created, nil
}

// List returns submissions newest first. An empty kind lists every kind.
func (s *Store) List(ctx context.Context, kind string) ([]Submission, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+submissionColumns+` FROM feedback
         WHERE ($1 = '' OR kind = $1)
         ORDER BY created_at DESC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	defer rows.Close()

	out := []Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("feedback: scan: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetStatus resolves or reopens a submission.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status, by string) (Submission, error) {
	sub, err := scanSubmission(s.db.QueryRow(ctx,
		`UPDATE feedback
         SET status = $2,
             resolved_by = CASE WHEN $2 = 'resolved' THEN $3 ELSE NULL END,
             resolved_at = CASE WHEN $2 = 'resolved' THEN NOW() ELSE NULL END
         WHERE id = $1
         RETURNING `+submissionColumns,
		id, status, by,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("feedback: set status: %w", err)
	}
	return sub, nil
}
