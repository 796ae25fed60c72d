package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/ShipSync/config"
	"github.com/BearBump/ShipSync/internal/api/syncapi"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/reconcile"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

type fakeJobs struct{}

func (fakeJobs) Start(ctx context.Context, supplierName string) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (fakeJobs) SyncPackage(ctx context.Context, packageID uint64) (reconcile.Result, error) {
	return reconcile.Result{}, nil
}
func (fakeJobs) SyncTracking(ctx context.Context, packageID uint64) error { return nil }

type fakeSessions struct{}

func (fakeSessions) Get(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	return &models.SyncSession{ID: id, Status: models.SessionStatusRunning}, nil
}
func (fakeSessions) RequestCancel(ctx context.Context, id uuid.UUID) error { return nil }

type fakeStore struct{}

func (fakeStore) GetPackage(ctx context.Context, id uint64) (*models.Package, error) {
	return &models.Package{ID: id}, nil
}
func (fakeStore) ListPackageEvents(ctx context.Context, packageID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	return []*models.TrackingEvent{}, nil
}
func (fakeStore) ListAuditByPackage(ctx context.Context, packageID uint64, limit int) ([]*models.SyncAuditEntry, error) {
	return []*models.SyncAuditEntry{}, nil
}

type fakeTrackingRepo struct{}

func (fakeTrackingRepo) UpdatePackageSyncFields(ctx context.Context, id uint64, upd pgshipping.SyncFieldsUpdate) error {
	return nil
}
func (fakeTrackingRepo) InsertTrackingEvents(ctx context.Context, packageID uint64, events []*models.TrackingEvent) error {
	return nil
}
func (fakeTrackingRepo) MarkPackageSyncError(ctx context.Context, id uint64, errMsg string) error {
	return nil
}
func (fakeTrackingRepo) RecordTrackingFailure(ctx context.Context, id uint64, errMsg string, checkedAt, nextCheckAt time.Time) error {
	return nil
}
func (fakeTrackingRepo) AppendAudit(ctx context.Context, e *models.SyncAuditEntry) error { return nil }

type fakeConsumer struct{}

func (fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunSyncAPI_ServesAndStops(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	api := syncapi.New(fakeJobs{}, fakeSessions{}, fakeStore{})
	applier := reconcile.NewTrackingApplier(fakeTrackingRepo{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := syncAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- runSyncAPI(ctx, opts, api, applier, fakeConsumer{}) }()

	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Post("http://"+addr+"/v1/sync/suppliers/magaya-eu/bulk", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	}
}

func TestRunSyncAPI_RequiresSwagger(t *testing.T) {
	api := syncapi.New(fakeJobs{}, fakeSessions{}, fakeStore{})
	applier := reconcile.NewTrackingApplier(fakeTrackingRepo{}, nil, nil)

	err := runSyncAPI(context.Background(), syncAPIOpts{httpAddr: "127.0.0.1:0"}, api, applier, fakeConsumer{})
	require.Error(t, err)
}

func TestSupplierClients_FakeWithoutEndpoint(t *testing.T) {
	cfg := &config.Config{ShipSync: config.ShipSyncConfig{Suppliers: []config.SupplierConfig{
		{Name: "magaya-eu"},
		{Name: "magaya-us", Endpoint: "http://localhost:9000/soap"},
		{Name: ""},
	}}}

	clients := supplierClients(cfg)
	require.Len(t, clients, 2)
	require.Contains(t, clients, "magaya-eu")
	require.Contains(t, clients, "magaya-us")
}

func TestCarrierClient_FakeFallback(t *testing.T) {
	require.NotNil(t, carrierClient(&config.Config{}))
}
