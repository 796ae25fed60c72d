package syncjob

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/metrics"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/services/reconcile"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

var (
	ErrUnknownSupplier = errors.New("unknown supplier")
	ErrBusy            = errors.New("sync already running for supplier")
)

type Repository interface {
	GetPackage(ctx context.Context, id uint64) (*models.Package, error)
}

type Sessions interface {
	Create(ctx context.Context, supplierName string) (*models.SyncSession, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SyncSession, error)
	SetTotal(ctx context.Context, id uuid.UUID, total int32) error
	AddProgress(ctx context.Context, id uuid.UUID, d pgshipping.SessionDelta) error
	Finalize(ctx context.Context, id uuid.UUID, status string, failureDetail *string) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
}

// Runner запускает bulk-сверку: fire-and-forget джоба на поставщика.
// Джобы по одному поставщику сериализованы (mutex на имя), по разным —
// параллельны. Ошибка одной отгрузки не роняет остальные.
type Runner struct {
	repo      Repository
	suppliers map[string]supplier.Client
	carrier   supplier.TrackingClient
	engine    *reconcile.Engine
	applier   *reconcile.TrackingApplier
	sessions  Sessions

	shipmentTimeout time.Duration

	metrics *metrics.Metrics
	log     *slog.Logger

	mu   sync.Mutex
	busy map[string]bool

	jobsStarted   atomic.Int64
	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64
	lastErrorMu   sync.Mutex
	lastError     string
}

func New(
	repo Repository,
	suppliers map[string]supplier.Client,
	carrier supplier.TrackingClient,
	engine *reconcile.Engine,
	applier *reconcile.TrackingApplier,
	sessions Sessions,
	shipmentTimeout time.Duration,
	m *metrics.Metrics,
	log *slog.Logger,
) *Runner {
	if shipmentTimeout <= 0 {
		shipmentTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		repo:            repo,
		suppliers:       suppliers,
		carrier:         carrier,
		engine:          engine,
		applier:         applier,
		sessions:        sessions,
		shipmentTimeout: shipmentTimeout,
		metrics:         m,
		log:             log,
		busy:            make(map[string]bool),
	}
}

// Start создаёт сессию и запускает джобу в фоне. Возвращает сразу; прогресс —
// через GET сессии. Для поставщика с уже идущей джобой — отказ.
func (r *Runner) Start(ctx context.Context, supplierName string) (uuid.UUID, error) {
	client, ok := r.suppliers[supplierName]
	if !ok {
		return uuid.Nil, errors.Wrapf(ErrUnknownSupplier, "%q", supplierName)
	}

	r.mu.Lock()
	if r.busy[supplierName] {
		r.mu.Unlock()
		return uuid.Nil, errors.Wrapf(ErrBusy, "%q", supplierName)
	}
	r.busy[supplierName] = true
	r.mu.Unlock()

	sess, err := r.sessions.Create(ctx, supplierName)
	if err != nil {
		r.release(supplierName)
		return uuid.Nil, err
	}

	r.jobsStarted.Add(1)
	// Джоба живёт дольше HTTP-запроса, который её породил.
	jobCtx := context.WithoutCancel(ctx)
	go r.runJob(jobCtx, client, supplierName, sess.ID)

	return sess.ID, nil
}

func (r *Runner) release(supplierName string) {
	r.mu.Lock()
	delete(r.busy, supplierName)
	r.mu.Unlock()
}

func (r *Runner) runJob(ctx context.Context, client supplier.Client, supplierName string, sessionID uuid.UUID) {
	defer r.release(supplierName)
	if r.metrics != nil {
		r.metrics.JobsInFlight.Inc()
		defer r.metrics.JobsInFlight.Dec()
	}

	log := r.log.With("supplier", supplierName, "session_id", sessionID.String())
	log.Info("bulk sync started")

	shipments, err := client.FetchShipments(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.SupplierFetchesTotal.WithLabelValues("error").Inc()
		}
		log.Error("fetch shipments failed", "err", err)
		r.finishJob(ctx, sessionID, models.SessionStatusFailed, strPtr(err.Error()))
		r.jobsFailed.Add(1)
		r.setLastError(err)
		return
	}
	if r.metrics != nil {
		r.metrics.SupplierFetchesTotal.WithLabelValues("ok").Inc()
	}

	if err := r.sessions.SetTotal(ctx, sessionID, int32(len(shipments))); err != nil {
		log.Error("set session total failed", "err", err)
	}

	var cancelled bool
	for i, rec := range shipments {
		if r.cancelRequested(ctx, sessionID) {
			log.Info("bulk sync cancelled", "processed", i, "total", len(shipments))
			cancelled = true
			break
		}

		r.processShipment(ctx, supplierName, rec, sessionID, log)
	}

	var detail *string
	if cancelled {
		detail = strPtr("cancelled by operator")
	}
	r.finishJob(ctx, sessionID, models.SessionStatusCompleted, detail)
	r.jobsCompleted.Add(1)
	log.Info("bulk sync finished", "total", len(shipments), "cancelled", cancelled)
}

// processShipment изолирует ошибку одной отгрузки: счётчики сессии двигаются
// всегда, инвариант processed == created+updated+errors держится на дельтах.
func (r *Runner) processShipment(ctx context.Context, supplierName string, rec models.ShipmentRecord, sessionID uuid.UUID, log *slog.Logger) {
	shipCtx, cancel := context.WithTimeout(ctx, r.shipmentTimeout)
	defer cancel()

	res, err := r.engine.Reconcile(shipCtx, supplierName, rec, &sessionID)

	d := pgshipping.SessionDelta{Processed: 1}
	switch res.Outcome {
	case reconcile.OutcomeCreated:
		d.CreatedPackages = 1
	case reconcile.OutcomeUpdated:
		d.UpdatedPackages = 1
	default:
		d.Errors = 1
	}
	if res.CustomerCreated {
		d.CreatedCustomers = 1
	}
	if err != nil {
		r.setLastError(err)
		log.Warn("shipment reconcile failed",
			"shipment_id", rec.ShipmentID, "reference", rec.ReferenceNumber, "err", err)
	}

	if err := r.sessions.AddProgress(ctx, sessionID, d); err != nil {
		log.Error("add session progress failed", "err", err)
	}
}

func (r *Runner) cancelRequested(ctx context.Context, sessionID uuid.UUID) bool {
	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	return sess.CancelRequested
}

func (r *Runner) finishJob(ctx context.Context, sessionID uuid.UUID, status string, detail *string) {
	if err := r.sessions.Finalize(ctx, sessionID, status, detail); err != nil {
		r.log.Error("finalize session failed", "session_id", sessionID.String(), "err", err)
		return
	}
	if r.metrics != nil {
		r.metrics.SessionsTotal.WithLabelValues(status).Inc()
	}
}

// SyncPackage — синхронная пересверка одного пакета по его внешнему shipment id.
func (r *Runner) SyncPackage(ctx context.Context, packageID uint64) (reconcile.Result, error) {
	pkg, err := r.repo.GetPackage(ctx, packageID)
	if err != nil {
		return reconcile.Result{}, err
	}
	if pkg.ExternalShipmentID == nil || *pkg.ExternalShipmentID == "" {
		return reconcile.Result{}, errors.New("package has no external shipment id")
	}
	client, ok := r.suppliers[pkg.SupplierName]
	if !ok {
		return reconcile.Result{}, errors.Wrapf(ErrUnknownSupplier, "%q", pkg.SupplierName)
	}

	rec, err := client.FetchShipment(ctx, *pkg.ExternalShipmentID)
	if err != nil {
		return reconcile.Result{}, err
	}
	return r.engine.Reconcile(ctx, pkg.SupplierName, rec, nil)
}

// SyncTracking — синхронный поход к перевозчику за статусом одного пакета,
// минуя кафку: результат применяется той же двухшаговой записью.
func (r *Runner) SyncTracking(ctx context.Context, packageID uint64) error {
	pkg, err := r.repo.GetPackage(ctx, packageID)
	if err != nil {
		return err
	}

	trackingNumber := pkg.TrackingNumber
	if pkg.ExternalTrackingNumber != nil && *pkg.ExternalTrackingNumber != "" {
		trackingNumber = *pkg.ExternalTrackingNumber
	}

	now := time.Now().UTC()
	res, err := r.carrier.GetTracking(ctx, pkg.CarrierCode, trackingNumber)
	if err != nil {
		if r.metrics != nil {
			r.metrics.CarrierFetchesTotal.WithLabelValues("error").Inc()
		}
		return err
	}
	if r.metrics != nil {
		r.metrics.CarrierFetchesTotal.WithLabelValues("ok").Inc()
	}

	msg := trackingFetchedFromResult(packageID, now, res)
	return r.applier.ApplyKafkaUpdate(ctx, msg)
}

func (r *Runner) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

type Stats struct {
	JobsStarted   int64  `json:"jobsStarted"`
	JobsCompleted int64  `json:"jobsCompleted"`
	JobsFailed    int64  `json:"jobsFailed"`
	LastError     string `json:"lastError,omitempty"`
}

func (r *Runner) Stats() Stats {
	st := Stats{
		JobsStarted:   r.jobsStarted.Load(),
		JobsCompleted: r.jobsCompleted.Load(),
		JobsFailed:    r.jobsFailed.Load(),
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func strPtr(s string) *string { return &s }
