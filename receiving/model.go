package receiving

import (
	"errors"
	"strings"
	"time"

	"github.com/dockside/warehouse/backend/httpx"
	"github.com/dockside/warehouse/backend/warehouse"
)

var (
	ErrReceiptNotFound = errors.New("receiving: receipt not found")
	ErrReceiptClosed   = errors.New("receiving: receipt is closed")
	ErrAlreadyScanned  = errors.New("receiving: package already scanned on this receipt")
)

// Receipt statuses.
const (
	ReceiptOpen   = "open"
	ReceiptClosed = "closed"
)

// Scan conditions.
const (
	ConditionGood    = "good"
	ConditionDamaged = "damaged"
)

type Receipt struct {
	ID       int64      `json:"id"`
	Dock     string     `json:"dock"`
	Status   string     `json:"status"`
	OpenedBy string     `json:"opened_by"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Items    []Item     `json:"items,omitempty"`
}

type Item struct {
	ID             int64     `json:"id"`
	ReceiptID      int64     `json:"receipt_id"`
	PackageID      int64     `json:"package_id"`
	TrackingNumber string    `json:"tracking_number"`
	PalletID       *int64    `json:"pallet_id,omitempty"`
	Condition      string    `json:"condition"`
	ScannedBy      string    `json:"scanned_by"`
	ScannedAt      time.Time `json:"scanned_at"`
}

type OpenInput struct {
	Dock string `json:"dock"`
}

// Validate normalizes the input and reports every invalid field.
func (in *OpenInput) Validate() []httpx.FieldError {
	in.Dock = strings.TrimSpace(in.Dock)
	if in.Dock == "" {
		return []httpx.FieldError{{Field: "dock", Message: "is required"}}
	}
	return nil
}

type ScanInput struct {
	TrackingNumber string `json:"tracking_number"`
	PalletID       *int64 `json:"pallet_id"`
	Condition      string `json:"condition"`
}

// Validate normalizes the input and reports every invalid field. A blank
// condition means good.
func (in *ScanInput) Validate() []httpx.FieldError {
	in.TrackingNumber = warehouse.NormalizeTracking(in.TrackingNumber)
	in.Condition = strings.ToLower(strings.TrimSpace(in.Condition))
	if in.Condition == "" {
		in.Condition = ConditionGood
	}

	var fields []httpx.FieldError
	if in.TrackingNumber == "" {
		fields = append(fields, httpx.FieldError{Field: "tracking_number", Message: "is required"})
	}
	if in.PalletID != nil && *in.PalletID <= 0 {
		fields = append(fields, httpx.FieldError{Field: "pallet_id", Message: "must be a positive id"})
	}
	if in.Condition != ConditionGood && in.Condition != ConditionDamaged {
		fields = append(fields, httpx.FieldError{Field: "condition", Message: "must be good or damaged"})
	}
	return fields
}

// packageStatus is the package status a scan results in.
func (in ScanInput) packageStatus() string {
	if in.Condition == ConditionDamaged {
		return warehouse.StatusDamaged
	}
	return warehouse.StatusReceived
}
