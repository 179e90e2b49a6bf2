package feedback

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dockside/warehouse/backend/httpx"
)

var ErrNotFound = errors.New("feedback: submission not found")

// Kinds of submission.
const (
	KindFeedback = "feedback"
	KindIssue    = "issue"
)

// Submission statuses.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
)

var severities = map[string]bool{"low": true, "medium": true, "high": true}

const (
	maxSubject = 120
	maxMessage = 4000
)

// Input is the raw submission as posted by the dashboard.
type Input struct {
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	Page     string `json:"page"`
	Severity string `json:"severity"`
}

type Submission struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	Subject     string     `json:"subject"`
	Message     string     `json:"message"`
	Page        string     `json:"page,omitempty"`
	Severity    string     `json:"severity,omitempty"`
	Status      string     `json:"status"`
	SubmittedBy string     `json:"submitted_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Validate turns input into a submission. It never fails early: every
// problem is reported. The submission is only meaningful when no field
// errors are returned. ID, submitter and timestamps are left for the caller.
func Validate(in Input) (Submission, []httpx.FieldError) {
	sub := Submission{
		Kind:     strings.ToLower(strings.TrimSpace(in.Kind)),
		Subject:  strings.TrimSpace(in.Subject),
		Message:  strings.TrimSpace(in.Message),
		Page:     strings.TrimSpace(in.Page),
		Severity: strings.ToLower(strings.TrimSpace(in.Severity)),
		Status:   StatusOpen,
	}
	if sub.Kind == "" {
		sub.Kind = KindFeedback
	}

	var fields []httpx.FieldError
	add := func(field, message string) {
		fields = append(fields, httpx.FieldError{Field: field, Message: message})
	}

	if sub.Kind != KindFeedback && sub.Kind != KindIssue {
		add("kind", "must be feedback or issue")
	}

	switch n := utf8.RuneCountInString(sub.Subject); {
	case n == 0:
		add("subject", "is required")
	case n > maxSubject:
		add("subject", "must be at most 120 characters")
	}

	switch n := utf8.RuneCountInString(sub.Message); {
	case n == 0:
		add("message", "is required")
	case n > maxMessage:
		add("message", "must be at most 4000 characters")
	}

	if sub.Page != "" && (!strings.HasPrefix(sub.Page, "/") || strings.HasPrefix(sub.Page, "//")) {
		add("page", "must be a dashboard path")
	}

	switch {
	case sub.Kind == KindIssue && sub.Severity == "":
		add("severity", "is required for issues")
	case sub.Severity != "" && !severities[sub.Severity]:
		add("severity", "must be low, medium or high")
	}

	return sub, fields
}
