package warehouse

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
)

type fakeRepo struct {
	pallets  map[int64]Pallet
	packages map[string]Package
	filter   PackageFilter
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		pallets: map[int64]Pallet{1: {ID: 1, Code: "PAL-001", Status: PalletOpen}},
		packages: map[string]Package{
			"1Z999": {ID: 10, TrackingNumber: "1Z999", Status: StatusExpected},
		},
	}
}

func (f *fakeRepo) ListPallets(context.Context) ([]Pallet, error) {
	out := []Pallet{}
	for _, p := range f.pallets {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) CreatePallet(_ context.Context, in PalletInput) (Pallet, error) {
	for _, p := range f.pallets {
		if p.Code == in.Code {
			return Pallet{}, ErrDuplicate
		}
	}
	p := Pallet{ID: int64(len(f.pallets) + 1), Code: in.Code, Location: in.Location, Status: PalletOpen}
	f.pallets[p.ID] = p
	return p, nil
}

func (f *fakeRepo) Pallet(_ context.Context, id int64) (PalletDetail, error) {
	p, ok := f.pallets[id]
	if !ok {
		return PalletDetail{}, ErrPalletNotFound
	}
	return PalletDetail{Pallet: p, Packages: []Package{}}, nil
}

func (f *fakeRepo) ListPackages(_ context.Context, filter PackageFilter) ([]Package, error) {
	f.filter = filter
	return []Package{}, nil
}

func (f *fakeRepo) CreatePackage(_ context.Context, in PackageInput) (Package, error) {
	p := Package{ID: 11, TrackingNumber: in.TrackingNumber, Status: StatusExpected, PalletID: in.PalletID}
	f.packages[p.TrackingNumber] = p
	return p, nil
}

func (f *fakeRepo) PackageByTracking(_ context.Context, tracking string) (Package, error) {
	p, ok := f.packages[tracking]
	if !ok {
		return Package{}, ErrPackageNotFound
	}
	return p, nil
}

type roleDeriver struct{ role rbac.Role }

func (d roleDeriver) Derive(context.Context, *auth.Identity) (*rbac.RoleRecord, error) {
	return &rbac.RoleRecord{Role: d.role, Approved: true, Permissions: rbac.DefaultPermissions[d.role]}, nil
}

func serve(t *testing.T, repo Repository, role rbac.Role, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	routes := NewHandler(repo, nil).Routes(rbac.NewEnforcer(roleDeriver{role: role}, nil))
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{ID: "sub-1", Email: "ops@dockside.example"}))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	return rec
}

func TestCreatePalletNormalizesCode(t *testing.T) {
	repo := newFakeRepo()
	rec := serve(t, repo, rbac.RoleManager, http.MethodPost, "/pallets", `{"code":" pal-002 ","location":"Dock 3"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got Pallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "PAL-002", got.Code)
	assert.Equal(t, "Dock 3", got.Location)
}

func TestCreatePalletConflictsAndValidation(t *testing.T) {
	repo := newFakeRepo()

	rec := serve(t, repo, rbac.RoleManager, http.MethodPost, "/pallets", `{"code":"PAL-001"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, repo, rbac.RoleManager, http.MethodPost, "/pallets", `{"code":"  "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"code"`)

	rec = serve(t, repo, rbac.RoleManager, http.MethodPost, "/pallets", `{"code":"PAL-9","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperatorCannotCreatePallets(t *testing.T) {
	rec := serve(t, newFakeRepo(), rbac.RoleOperator, http.MethodPost, "/pallets", `{"code":"PAL-3"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "PERMISSION_DENIED")

	rec = serve(t, newFakeRepo(), rbac.RoleOperator, http.MethodGet, "/pallets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPallet(t *testing.T) {
	repo := newFakeRepo()
	assert.Equal(t, http.StatusOK, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/pallets/1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/pallets/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/pallets/abc", "").Code)
}

func TestListPackagesFilters(t *testing.T) {
	repo := newFakeRepo()
	rec := serve(t, repo, rbac.RoleViewer, http.MethodGet, "/packages?status=received&since=2026-03-01&limit=50", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusReceived, repo.filter.Status)
	require.NotNil(t, repo.filter.Since)
	assert.True(t, repo.filter.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 50, repo.filter.Limit)

	assert.Equal(t, http.StatusBadRequest, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/packages?status=lost", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/packages?since=soon", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/packages?limit=0", "").Code)
}

func TestPackageLookupNormalizesTracking(t *testing.T) {
	repo := newFakeRepo()
	rec := serve(t, repo, rbac.RoleViewer, http.MethodGet, "/packages/1z999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tracking_number":"1Z999"`)

	assert.Equal(t, http.StatusNotFound, serve(t, repo, rbac.RoleViewer, http.MethodGet, "/packages/NOPE", "").Code)
}

func TestPackageInputValidation(t *testing.T) {
	negative := int64(-4)
	in := PackageInput{TrackingNumber: " ", WeightGrams: -1, PalletID: &negative}
	fields := in.Validate()

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.Equal(t, []string{"tracking_number", "weight_grams", "pallet_id"}, names)

	in = PackageInput{TrackingNumber: "1z 999 aa"}
	assert.Empty(t, in.Validate())
	assert.Equal(t, "1Z999AA", in.TrackingNumber)
}
