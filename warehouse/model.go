package warehouse

import (
	"errors"
	"strings"
	"time"

	"github.com/dockside/warehouse/backend/httpx"
)

var (
	ErrPalletNotFound  = errors.New("warehouse: pallet not found")
	ErrPackageNotFound = errors.New("warehouse: package not found")
	ErrDuplicate       = errors.New("warehouse: already exists")
)

// Package statuses.
const (
	StatusExpected = "expected"
	StatusReceived = "received"
	StatusDamaged  = "damaged"
	StatusShipped  = "shipped"
)

// Pallet statuses.
const (
	PalletOpen    = "open"
	PalletSealed  = "sealed"
	PalletShipped = "shipped"
)

var packageStatuses = map[string]bool{
	StatusExpected: true,
	StatusReceived: true,
	StatusDamaged:  true,
	StatusShipped:  true,
}

// ValidPackageStatus reports whether s is a known package status.
func ValidPackageStatus(s string) bool {
	return packageStatuses[s]
}

type Pallet struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Location  string    `json:"location,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// PalletDetail is a pallet together with the packages loaded on it.
type PalletDetail struct {
	Pallet
	Packages []Package `json:"packages"`
}

type Package struct {
	ID             int64      `json:"id"`
	TrackingNumber string     `json:"tracking_number"`
	Carrier        string     `json:"carrier,omitempty"`
	Recipient      string     `json:"recipient,omitempty"`
	WeightGrams    int        `json:"weight_grams,omitempty"`
	Status         string     `json:"status"`
	PalletID       *int64     `json:"pallet_id,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// PackageFilter narrows package listings. Zero values match everything.
type PackageFilter struct {
	Status string
	Since  *time.Time
	Limit  int
}

type PalletInput struct {
	Code     string `json:"code"`
	Location string `json:"location"`
}

// Validate normalizes the input and reports every invalid field.
func (in *PalletInput) Validate() []httpx.FieldError {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Location = strings.TrimSpace(in.Location)

	var fields []httpx.FieldError
	if in.Code == "" {
		fields = append(fields, httpx.FieldError{Field: "code", Message: "is required"})
	} else if len(in.Code) > 32 {
		fields = append(fields, httpx.FieldError{Field: "code", Message: "must be at most 32 characters"})
	}
	return fields
}

type PackageInput struct {
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
	Recipient      string `json:"recipient"`
	WeightGrams    int    `json:"weight_grams"`
	PalletID       *int64 `json:"pallet_id"`
}

// Validate normalizes the input and reports every invalid field.
func (in *PackageInput) Validate() []httpx.FieldError {
	in.TrackingNumber = NormalizeTracking(in.TrackingNumber)
	in.Carrier = strings.TrimSpace(in.Carrier)
	in.Recipient = strings.TrimSpace(in.Recipient)

	var fields []httpx.FieldError
	if in.TrackingNumber == "" {
		fields = append(fields, httpx.FieldError{Field: "tracking_number", Message: "is required"})
	} else if len(in.TrackingNumber) > 64 {
		fields = append(fields, httpx.FieldError{Field: "tracking_number", Message: "must be at most 64 characters"})
	}
	if in.WeightGrams < 0 {
		fields = append(fields, httpx.FieldError{Field: "weight_grams", Message: "must not be negative"})
	}
	if in.PalletID != nil && *in.PalletID <= 0 {
		fields = append(fields, httpx.FieldError{Field: "pallet_id", Message: "must be a positive id"})
	}
	return fields
}

// NormalizeTracking canonicalizes a scanned or typed tracking number.
func NormalizeTracking(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}
