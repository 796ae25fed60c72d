package syncjob

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/matching"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/reconcile"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

// --- fakes ---

type fakeSupplier struct {
	shipments []models.ShipmentRecord
	err       error

	single models.ShipmentRecord

	block chan struct{} // если не nil, FetchShipments ждёт закрытия
}

func (f *fakeSupplier) FetchShipments(ctx context.Context) ([]models.ShipmentRecord, error) {
	if f.block != nil {
		<-f.block
	}
	return f.shipments, f.err
}
func (f *fakeSupplier) FetchShipment(ctx context.Context, shipmentID string) (models.ShipmentRecord, error) {
	return f.single, f.err
}

type fakeCarrier struct {
	res supplier.TrackingResult
	err error
}

func (f *fakeCarrier) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (supplier.TrackingResult, error) {
	return f.res, f.err
}

// fakeSessions собирает весь жизненный цикл; done закрывается на Finalize,
// чтобы тест мог дождаться фоновой джобы.
type fakeSessions struct {
	mu sync.Mutex

	created     []string
	total       int32
	deltas      []pgshipping.SessionDelta
	finalStatus string
	finalDetail *string

	cancelAfter int // после скольких дельт отдавать cancel_requested

	done chan struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{done: make(chan struct{}), cancelAfter: -1}
}

func (f *fakeSessions) Create(ctx context.Context, supplierName string) (*models.SyncSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, supplierName)
	return &models.SyncSession{ID: uuid.New(), SupplierName: supplierName, Status: models.SessionStatusRunning}, nil
}
func (f *fakeSessions) Get(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cancelled := f.cancelAfter >= 0 && len(f.deltas) >= f.cancelAfter
	return &models.SyncSession{ID: id, Status: models.SessionStatusRunning, CancelRequested: cancelled}, nil
}
func (f *fakeSessions) SetTotal(ctx context.Context, id uuid.UUID, total int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total = total
	return nil
}
func (f *fakeSessions) AddProgress(ctx context.Context, id uuid.UUID, d pgshipping.SessionDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, d)
	return nil
}
func (f *fakeSessions) Finalize(ctx context.Context, id uuid.UUID, status string, failureDetail *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalStatus = status
	f.finalDetail = failureDetail
	close(f.done)
	return nil
}
func (f *fakeSessions) RequestCancel(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeSessions) sum() pgshipping.SessionDelta {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s pgshipping.SessionDelta
	for _, d := range f.deltas {
		s.Processed += d.Processed
		s.CreatedPackages += d.CreatedPackages
		s.UpdatedPackages += d.UpdatedPackages
		s.CreatedCustomers += d.CreatedCustomers
		s.Errors += d.Errors
	}
	return s
}

// storeFake покрывает и reconcile.Repository, и reconcile.TrackingRepository,
// и syncjob.Repository — in-memory, без конкуренции за настоящую БД.
type storeFake struct {
	mu sync.Mutex

	packages map[uint64]*models.Package
	nextID   uint64

	eventsByPkg map[uint64][]*models.TrackingEvent
	audit       []*models.SyncAuditEntry
}

func newStoreFake() *storeFake {
	return &storeFake{packages: map[uint64]*models.Package{}, eventsByPkg: map[uint64][]*models.TrackingEvent{}, nextID: 1}
}

func (s *storeFake) ListCustomers(ctx context.Context) ([]*models.Customer, error) { return nil, nil }
func (s *storeFake) CreateCustomer(ctx context.Context, c *models.Customer) (uint64, error) {
	c.ID = 100
	return 100, nil
}
func (s *storeFake) FindPackageByKeys(ctx context.Context, referenceNumber, externalShipmentID string) (*models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packages {
		if referenceNumber != "" && p.TrackingNumber == referenceNumber {
			return p, nil
		}
		if externalShipmentID != "" && p.ExternalShipmentID != nil && *p.ExternalShipmentID == externalShipmentID {
			return p, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (s *storeFake) InsertPackage(ctx context.Context, p *models.Package) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID
	s.nextID++
	s.packages[p.ID] = p
	return p.ID, nil
}
func (s *storeFake) UpdatePackageFromShipment(ctx context.Context, id uint64, upd pgshipping.PackageExternalUpdate) error {
	return nil
}
func (s *storeFake) GetPackage(ctx context.Context, id uint64) (*models.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return p, nil
}
func (s *storeFake) UpdatePackageSyncFields(ctx context.Context, id uint64, upd pgshipping.SyncFieldsUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[id]
	if !ok {
		return errs.ErrNotFound
	}
	p.CarrierStatus = upd.CarrierStatus
	p.SyncStatus = models.SyncStatusSynced
	return nil
}
func (s *storeFake) InsertTrackingEvents(ctx context.Context, packageID uint64, events []*models.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventsByPkg[packageID] = append(s.eventsByPkg[packageID], events...)
	return nil
}
func (s *storeFake) MarkPackageSyncError(ctx context.Context, id uint64, errMsg string) error {
	return nil
}
func (s *storeFake) RecordTrackingFailure(ctx context.Context, id uint64, errMsg string, checkedAt, nextCheckAt time.Time) error {
	return nil
}
func (s *storeFake) AppendAudit(ctx context.Context, e *models.SyncAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func newRunner(store *storeFake, sup supplier.Client, car supplier.TrackingClient, sess Sessions) *Runner {
	engine := reconcile.New(store, matching.New(matching.DefaultConfig()), nil, "", nil, nil)
	applier := reconcile.NewTrackingApplier(store, nil, nil)
	suppliers := map[string]supplier.Client{}
	if sup != nil {
		suppliers["magaya-eu"] = sup
	}
	return New(store, suppliers, car, engine, applier, sess, time.Second, nil, nil)
}

func rec(shipmentID, ref, name string) models.ShipmentRecord {
	return models.ShipmentRecord{
		ShipmentID:      shipmentID,
		ReferenceNumber: ref,
		Consignee:       models.Consignee{Name: name, Address: "1 Main St"},
	}
}

// --- tests ---

func TestRunner_Start_unknownSupplier(t *testing.T) {
	r := newRunner(newStoreFake(), nil, nil, newFakeSessions())
	_, err := r.Start(context.Background(), "nope")
	require.Error(t, err)
}

func TestRunner_Start_happyPath(t *testing.T) {
	store := newStoreFake()
	fs := newFakeSessions()
	sup := &fakeSupplier{shipments: []models.ShipmentRecord{
		rec("MAG-1", "REF-1", "Alice Cooper"),
		rec("MAG-2", "REF-2", "Bob Dylan"),
	}}
	r := newRunner(store, sup, nil, fs)

	id, err := r.Start(context.Background(), "magaya-eu")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	select {
	case <-fs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}

	require.Equal(t, models.SessionStatusCompleted, fs.finalStatus)
	require.Equal(t, int32(2), fs.total)

	sum := fs.sum()
	require.Equal(t, int32(2), sum.Processed)
	require.Equal(t, int32(2), sum.CreatedPackages)
	require.Equal(t, sum.CreatedPackages+sum.UpdatedPackages+sum.Errors, sum.Processed)
}

func TestRunner_Start_busySupplier(t *testing.T) {
	block := make(chan struct{})
	sup := &fakeSupplier{block: block}
	fs := newFakeSessions()
	r := newRunner(newStoreFake(), sup, nil, fs)

	_, err := r.Start(context.Background(), "magaya-eu")
	require.NoError(t, err)

	_, err = r.Start(context.Background(), "magaya-eu")
	require.Error(t, err)

	close(block)
	<-fs.done
}

func TestRunner_errorIsolation(t *testing.T) {
	store := newStoreFake()
	fs := newFakeSessions()
	bad := models.ShipmentRecord{Consignee: models.Consignee{Name: "X"}} // нет ключей
	sup := &fakeSupplier{shipments: []models.ShipmentRecord{
		rec("MAG-1", "REF-1", "Alice Cooper"),
		bad,
		rec("MAG-3", "REF-3", "Carol King"),
	}}
	r := newRunner(store, sup, nil, fs)

	_, err := r.Start(context.Background(), "magaya-eu")
	require.NoError(t, err)
	<-fs.done

	require.Equal(t, models.SessionStatusCompleted, fs.finalStatus)
	sum := fs.sum()
	require.Equal(t, int32(3), sum.Processed)
	require.Equal(t, int32(2), sum.CreatedPackages)
	require.Equal(t, int32(1), sum.Errors)
}

func TestRunner_fetchFailure(t *testing.T) {
	fs := newFakeSessions()
	sup := &fakeSupplier{err: errors.New("gateway down")}
	r := newRunner(newStoreFake(), sup, nil, fs)

	_, err := r.Start(context.Background(), "magaya-eu")
	require.NoError(t, err)
	<-fs.done

	require.Equal(t, models.SessionStatusFailed, fs.finalStatus)
	require.Contains(t, *fs.finalDetail, "gateway down")
	require.Empty(t, fs.deltas)
}

func TestRunner_cancelBetweenShipments(t *testing.T) {
	fs := newFakeSessions()
	fs.cancelAfter = 1 // после первой отгрузки
	sup := &fakeSupplier{shipments: []models.ShipmentRecord{
		rec("MAG-1", "REF-1", "Alice Cooper"),
		rec("MAG-2", "REF-2", "Bob Dylan"),
		rec("MAG-3", "REF-3", "Carol King"),
	}}
	r := newRunner(newStoreFake(), sup, nil, fs)

	_, err := r.Start(context.Background(), "magaya-eu")
	require.NoError(t, err)
	<-fs.done

	require.Equal(t, models.SessionStatusCompleted, fs.finalStatus)
	require.NotNil(t, fs.finalDetail)
	require.Contains(t, *fs.finalDetail, "cancelled")
	require.Equal(t, int32(1), fs.sum().Processed)
}

func TestRunner_SyncPackage(t *testing.T) {
	store := newStoreFake()
	sid := "MAG-9"
	store.packages[1] = &models.Package{
		ID: 1, TrackingNumber: "REF-9", SupplierName: "magaya-eu", ExternalShipmentID: &sid,
	}
	store.nextID = 2

	sup := &fakeSupplier{single: rec("MAG-9", "REF-9", "Alice Cooper")}
	r := newRunner(store, sup, nil, newFakeSessions())

	res, err := r.SyncPackage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUpdated, res.Outcome)
	require.Equal(t, uint64(1), res.PackageID)
}

func TestRunner_SyncPackage_noExternalID(t *testing.T) {
	store := newStoreFake()
	store.packages[1] = &models.Package{ID: 1, TrackingNumber: "REF-9"}
	r := newRunner(store, &fakeSupplier{}, nil, newFakeSessions())

	_, err := r.SyncPackage(context.Background(), 1)
	require.Error(t, err)
}

func TestRunner_SyncTracking(t *testing.T) {
	store := newStoreFake()
	store.packages[1] = &models.Package{ID: 1, TrackingNumber: "REF-9", CarrierCode: "UPS"}

	now := time.Now().UTC()
	car := &fakeCarrier{res: supplier.TrackingResult{
		Status:    models.CarrierStatusInTransit,
		StatusRaw: "Departed",
		StatusAt:  &now,
		Events: []*models.TrackingEvent{
			{EventType: "DEPARTED", Description: "Departed facility", EventTime: now},
		},
	}}
	r := newRunner(store, nil, car, newFakeSessions())

	require.NoError(t, r.SyncTracking(context.Background(), 1))
	require.Equal(t, models.CarrierStatusInTransit, store.packages[1].CarrierStatus)
	require.Len(t, store.eventsByPkg[1], 1)
}
