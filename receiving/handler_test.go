package receiving

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/rbac"
	"github.com/dockside/warehouse/backend/warehouse"
)

// memoryRepo mirrors the store semantics in memory.
type memoryRepo struct {
	receipts map[int64]*Receipt
	packages map[string]int64
	scans    map[int64]map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		receipts: map[int64]*Receipt{},
		packages: map[string]int64{"1Z999": 10, "1Z777": 11},
		scans:    map[int64]map[int64]bool{},
	}
}

func (m *memoryRepo) Open(_ context.Context, dock, openedBy string) (Receipt, error) {
	r := &Receipt{ID: int64(len(m.receipts) + 1), Dock: dock, Status: ReceiptOpen, OpenedBy: openedBy, OpenedAt: time.Now()}
	m.receipts[r.ID] = r
	m.scans[r.ID] = map[int64]bool{}
	return *r, nil
}

func (m *memoryRepo) Scan(_ context.Context, receiptID int64, in ScanInput, scannedBy string) (Item, error) {
	r, ok := m.receipts[receiptID]
	if !ok {
		return Item{}, ErrReceiptNotFound
	}
	if r.Status != ReceiptOpen {
		return Item{}, ErrReceiptClosed
	}
	pkgID, ok := m.packages[in.TrackingNumber]
	if !ok {
		return Item{}, warehouse.ErrPackageNotFound
	}
	if m.scans[receiptID][pkgID] {
		return Item{}, ErrAlreadyScanned
	}
	m.scans[receiptID][pkgID] = true
	item := Item{ID: int64(len(r.Items) + 1), ReceiptID: receiptID, PackageID: pkgID, TrackingNumber: in.TrackingNumber, PalletID: in.PalletID, Condition: in.Condition, ScannedBy: scannedBy}
	r.Items = append(r.Items, item)
	return item, nil
}

func (m *memoryRepo) Close(_ context.Context, receiptID int64) (Receipt, error) {
	r, ok := m.receipts[receiptID]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	if r.Status == ReceiptClosed {
		return Receipt{}, ErrReceiptClosed
	}
	now := time.Now()
	r.Status = ReceiptClosed
	r.ClosedAt = &now
	return *r, nil
}

func (m *memoryRepo) Receipt(_ context.Context, receiptID int64) (Receipt, error) {
	r, ok := m.receipts[receiptID]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	return *r, nil
}

func (m *memoryRepo) List(_ context.Context, status string) ([]Receipt, error) {
	out := []Receipt{}
	for _, r := range m.receipts {
		if status == "" || r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

type roleDeriver struct{ role rbac.Role }

func (d roleDeriver) Derive(context.Context, *auth.Identity) (*rbac.RoleRecord, error) {
	return &rbac.RoleRecord{Role: d.role, Approved: true, Permissions: rbac.DefaultPermissions[d.role]}, nil
}

type client struct {
	t      *testing.T
	routes http.Handler
}

func newClient(t *testing.T, repo Repository, role rbac.Role) client {
	return client{t: t, routes: NewHandler(repo, nil).Routes(rbac.NewEnforcer(roleDeriver{role: role}, nil))}
}

func (c client) do(method, target, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{ID: "sub-2", Email: "Dock.Lead@dockside.example"}))
	rec := httptest.NewRecorder()
	c.routes.ServeHTTP(rec, req)
	return rec
}

func TestReceivingWorkflow(t *testing.T) {
	repo := newMemoryRepo()
	c := newClient(t, repo, rbac.RoleOperator)

	rec := c.do(http.MethodPost, "/receipts", `{"dock":" Dock 4 "}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var receipt Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "Dock 4", receipt.Dock)
	assert.Equal(t, "dock.lead@dockside.example", receipt.OpenedBy)

	rec = c.do(http.MethodPost, "/receipts/1/items", `{"tracking_number":"1z 999","condition":"Damaged"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var item Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "1Z999", item.TrackingNumber)
	assert.Equal(t, ConditionDamaged, item.Condition)

	rec = c.do(http.MethodPost, "/receipts/1/items", `{"tracking_number":"1Z999"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_SCANNED")

	rec = c.do(http.MethodPost, "/receipts/1/items", `{"tracking_number":"UNKNOWN"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/receipts/1/close", "").Code)

	rec = c.do(http.MethodPost, "/receipts/1/items", `{"tracking_number":"1Z777"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "RECEIPT_CLOSED")

	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/receipts/1/close", "").Code)

	rec = c.do(http.MethodGet, "/receipts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, ReceiptClosed, receipt.Status)
	assert.Len(t, receipt.Items, 1)
}

func TestScanValidationReportsEveryField(t *testing.T) {
	repo := newMemoryRepo()
	c := newClient(t, repo, rbac.RoleOperator)
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/receipts", `{"dock":"D1"}`).Code)

	rec := c.do(http.MethodPost, "/receipts/1/items", `{"tracking_number":" ","pallet_id":0,"condition":"wet"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	var names []string
	for _, f := range body.Fields {
		names = append(names, f.Field)
	}
	assert.Equal(t, []string{"tracking_number", "pallet_id", "condition"}, names)
}

func TestReceivingRequiresCapability(t *testing.T) {
	c := newClient(t, newMemoryRepo(), rbac.RoleViewer)
	rec := c.do(http.MethodGet, "/receipts", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceivingMissingReceipt(t *testing.T) {
	c := newClient(t, newMemoryRepo(), rbac.RoleManager)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/receipts/5", "").Code)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/receipts/5/close", "").Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/receipts/x", "").Code)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/receipts?status=lost", "").Code)
}
