package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/matching"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

type fakeRepo struct {
	customers []*models.Customer

	createdCustomer *models.Customer
	nextCustomerID  uint64

	findOut *models.Package
	findErr error

	inserted   *models.Package
	insertErr  error
	nextPkgID  uint64

	updatedID  uint64
	updatedUpd pgshipping.PackageExternalUpdate
	updateErr  error

	audit []*models.SyncAuditEntry
}

func (f *fakeRepo) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	return f.customers, nil
}
func (f *fakeRepo) CreateCustomer(ctx context.Context, c *models.Customer) (uint64, error) {
	f.createdCustomer = c
	if f.nextCustomerID == 0 {
		f.nextCustomerID = 100
	}
	c.ID = f.nextCustomerID
	return f.nextCustomerID, nil
}
func (f *fakeRepo) FindPackageByKeys(ctx context.Context, referenceNumber, externalShipmentID string) (*models.Package, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.findOut == nil {
		return nil, errs.ErrNotFound
	}
	return f.findOut, nil
}
func (f *fakeRepo) InsertPackage(ctx context.Context, p *models.Package) (uint64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = p
	if f.nextPkgID == 0 {
		f.nextPkgID = 1
	}
	p.ID = f.nextPkgID
	return f.nextPkgID, nil
}
func (f *fakeRepo) UpdatePackageFromShipment(ctx context.Context, id uint64, upd pgshipping.PackageExternalUpdate) error {
	f.updatedID = id
	f.updatedUpd = upd
	return f.updateErr
}
func (f *fakeRepo) AppendAudit(ctx context.Context, e *models.SyncAuditEntry) error {
	f.audit = append(f.audit, e)
	return nil
}

func newEngine(r *fakeRepo) *Engine {
	return New(r, matching.New(matching.DefaultConfig()), nil, "", nil, nil)
}

func shipment() models.ShipmentRecord {
	return models.ShipmentRecord{
		ShipmentID:      "MAG-100",
		ReferenceNumber: "REF-100",
		TrackingNumber:  "1Z999",
		Description:     "electronics",
		WeightKg:        2.4,
		Status:          "received",
		Consignee:       models.Consignee{Name: "Marcus Johnson", Address: "10 Main St, Springfield"},
	}
}

func TestEngine_Reconcile_createsPackageAndGuest(t *testing.T) {
	r := &fakeRepo{nextPkgID: 42}
	e := newEngine(r)

	res, err := e.Reconcile(context.Background(), "magaya-eu", shipment(), nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res.Outcome)
	require.Equal(t, uint64(42), res.PackageID)
	require.True(t, res.CustomerCreated)

	require.NotNil(t, r.inserted)
	require.Equal(t, "REF-100", r.inserted.TrackingNumber)
	require.Equal(t, "MAG-100", *r.inserted.ExternalShipmentID)
	require.Equal(t, models.SyncStatusSynced, r.inserted.SyncStatus)

	require.Equal(t, models.CustomerTypeGuest, r.createdCustomer.Type)

	require.Len(t, r.audit, 1)
	require.Equal(t, models.AuditOutcomeSuccess, r.audit[0].Outcome)
	require.Equal(t, models.SyncTypeSupplier, r.audit[0].SyncType)
}

func TestEngine_Reconcile_matchesExistingCustomer(t *testing.T) {
	// "Marcus Jonson" vs "Marcus Johnson": расстояние 1 на 14 символах.
	r := &fakeRepo{customers: []*models.Customer{
		{ID: 7, FullName: "Marcus Jonson", Address: "somewhere else"},
	}}
	e := newEngine(r)

	res, err := e.Reconcile(context.Background(), "magaya-eu", shipment(), nil)
	require.NoError(t, err)
	require.False(t, res.CustomerCreated)
	require.Equal(t, uint64(7), res.CustomerID)
	require.Nil(t, r.createdCustomer)
}

func TestEngine_Reconcile_updatesExisting(t *testing.T) {
	r := &fakeRepo{
		customers: []*models.Customer{{ID: 7, FullName: "Marcus Johnson", Address: "10 Main St, Springfield"}},
		findOut:   &models.Package{ID: 5, TrackingNumber: "REF-100"},
	}
	e := newEngine(r)

	res, err := e.Reconcile(context.Background(), "magaya-eu", shipment(), nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, res.Outcome)
	require.Equal(t, uint64(5), res.PackageID)
	require.Equal(t, uint64(5), r.updatedID)
	require.Equal(t, "electronics", r.updatedUpd.Description)
	require.Nil(t, r.inserted)
}

func TestEngine_Reconcile_idempotentRerun(t *testing.T) {
	// Повторная сверка того же shipment id не плодит второй пакет.
	r := &fakeRepo{nextPkgID: 42}
	e := newEngine(r)

	res1, err := e.Reconcile(context.Background(), "magaya-eu", shipment(), nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, res1.Outcome)

	r.findOut = r.inserted
	res2, err := e.Reconcile(context.Background(), "magaya-eu", shipment(), nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, res2.Outcome)
	require.Equal(t, res1.PackageID, res2.PackageID)
}

func TestEngine_Reconcile_noKeys(t *testing.T) {
	r := &fakeRepo{}
	e := newEngine(r)

	rec := shipment()
	rec.ShipmentID = ""
	rec.ReferenceNumber = ""

	res, err := e.Reconcile(context.Background(), "magaya-eu", rec, nil)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Len(t, r.audit, 1)
	require.Equal(t, models.AuditOutcomeFailed, r.audit[0].Outcome)
}

func TestEngine_Reconcile_updateFailureAudited(t *testing.T) {
	r := &fakeRepo{
		findOut:   &models.Package{ID: 5},
		updateErr: errors.New("db down"),
	}
	e := newEngine(r)

	sessionID := uuid.New()
	res, err := e.Reconcile(context.Background(), "magaya-eu", shipment(), &sessionID)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)

	require.Len(t, r.audit, 1)
	require.Equal(t, models.AuditOutcomeFailed, r.audit[0].Outcome)
	require.Equal(t, sessionID, *r.audit[0].SessionID)
	require.Contains(t, *r.audit[0].ErrorMessage, "db down")
}
