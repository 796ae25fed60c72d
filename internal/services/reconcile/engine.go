package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/matching"
	"github.com/BearBump/ShipSync/internal/metrics"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeFailed  = "failed"
)

type Repository interface {
	ListCustomers(ctx context.Context) ([]*models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) (uint64, error)
	FindPackageByKeys(ctx context.Context, referenceNumber, externalShipmentID string) (*models.Package, error)
	InsertPackage(ctx context.Context, p *models.Package) (uint64, error)
	UpdatePackageFromShipment(ctx context.Context, id uint64, upd pgshipping.PackageExternalUpdate) error
	AppendAudit(ctx context.Context, e *models.SyncAuditEntry) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Result — исход сверки одной отгрузки.
type Result struct {
	Outcome         string
	PackageID       uint64
	CustomerID      uint64
	CustomerCreated bool
}

// Engine сверяет внешние отгрузки с локальными пакетами. Идемпотентность —
// на двух ключах (reference number / shipment id), см. FindPackageByKeys.
type Engine struct {
	repo    Repository
	matcher *matching.Matcher

	producer Producer // может быть nil
	topic    string

	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(repo Repository, matcher *matching.Matcher, producer Producer, topic string, m *metrics.Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{repo: repo, matcher: matcher, producer: producer, topic: topic, metrics: m, log: log}
}

// Reconcile обрабатывает одну отгрузку: новый пакет или перезапись внешних
// полей существующего. Любой исход (включая провал) фиксируется в аудите.
func (e *Engine) Reconcile(ctx context.Context, supplierName string, rec models.ShipmentRecord, sessionID *uuid.UUID) (Result, error) {
	res, err := e.reconcile(ctx, supplierName, rec, sessionID)
	if err != nil {
		res.Outcome = OutcomeFailed
		e.appendAudit(ctx, &models.SyncAuditEntry{
			PackageID:    nilIfZero(res.PackageID),
			SessionID:    sessionID,
			SyncType:     models.SyncTypeSupplier,
			Outcome:      models.AuditOutcomeFailed,
			ErrorMessage: strPtr(err.Error()),
			Detail:       strPtr(fmt.Sprintf("shipment_id=%s reference=%s", rec.ShipmentID, rec.ReferenceNumber)),
		})
	}
	if e.metrics != nil {
		e.metrics.ShipmentsReconciled.WithLabelValues(res.Outcome).Inc()
	}
	return res, err
}

func (e *Engine) reconcile(ctx context.Context, supplierName string, rec models.ShipmentRecord, sessionID *uuid.UUID) (Result, error) {
	var res Result

	if rec.ShipmentID == "" && rec.ReferenceNumber == "" {
		return res, errors.New("shipment has neither shipment id nor reference number")
	}

	customerID, created, matchDetail, err := e.resolveCustomer(ctx, rec.Consignee)
	if err != nil {
		return res, err
	}
	res.CustomerID = customerID
	res.CustomerCreated = created

	now := time.Now().UTC()

	pkg, err := e.repo.FindPackageByKeys(ctx, rec.ReferenceNumber, rec.ShipmentID)
	switch {
	case err == nil:
		upd := pgshipping.PackageExternalUpdate{
			ExternalTrackingNumber:  nilIfEmpty(rec.TrackingNumber),
			ExternalShipmentID:      nilIfEmpty(rec.ShipmentID),
			ExternalReferenceNumber: rec.ReferenceNumber,
			Description:             rec.Description,
			WeightKg:                rec.WeightKg,
			Dimensions:              rec.Dimensions,
			DeclaredValue:           rec.DeclaredValue,
			WarehouseLocation:       rec.WarehouseLocation,
			ConsolidationStatus:     rec.Status,
			SyncedAt:                now,
		}
		if err := e.repo.UpdatePackageFromShipment(ctx, pkg.ID, upd); err != nil {
			res.PackageID = pkg.ID
			return res, err
		}
		res.Outcome = OutcomeUpdated
		res.PackageID = pkg.ID

	case errors.Is(err, errs.ErrNotFound):
		trackingNumber := rec.ReferenceNumber
		if trackingNumber == "" {
			trackingNumber = rec.ShipmentID
		}
		syncedAt := now
		p := &models.Package{
			TrackingNumber:          trackingNumber,
			ExternalTrackingNumber:  nilIfEmpty(rec.TrackingNumber),
			CustomerID:              customerID,
			SupplierName:            supplierName,
			Description:             rec.Description,
			WeightKg:                rec.WeightKg,
			Dimensions:              rec.Dimensions,
			DeclaredValue:           rec.DeclaredValue,
			ExternalShipmentID:      nilIfEmpty(rec.ShipmentID),
			ExternalReferenceNumber: rec.ReferenceNumber,
			WarehouseLocation:       rec.WarehouseLocation,
			ConsolidationStatus:     rec.Status,
			SyncStatus:              models.SyncStatusSynced,
			LastSyncAt:              &syncedAt,
		}
		id, err := e.repo.InsertPackage(ctx, p)
		if err != nil {
			return res, err
		}
		res.Outcome = OutcomeCreated
		res.PackageID = id

	default:
		return res, err
	}

	snapshot, _ := json.Marshal(rec)
	e.appendAudit(ctx, &models.SyncAuditEntry{
		PackageID:        &res.PackageID,
		SessionID:        sessionID,
		SyncType:         models.SyncTypeSupplier,
		Outcome:          models.AuditOutcomeSuccess,
		ResponseSnapshot: strPtr(string(snapshot)),
		Detail:           strPtr(fmt.Sprintf("%s; %s", res.Outcome, matchDetail)),
	})

	e.publishSynced(ctx, res, supplierName, rec, sessionID, now)
	return res, nil
}

// resolveCustomer ищет клиента по похожести имени/адреса получателя; когда
// никто не прошёл пороги — создаёт гостевую запись.
func (e *Engine) resolveCustomer(ctx context.Context, c models.Consignee) (uint64, bool, string, error) {
	if c.Name == "" {
		return 0, false, "", errors.New("consignee name is empty")
	}

	candidates, err := e.repo.ListCustomers(ctx)
	if err != nil {
		return 0, false, "", err
	}

	if m, ok := e.matcher.Best(c.Name, c.Address, candidates); ok {
		detail := fmt.Sprintf("matched customer=%d name=%.2f addr=%.2f qualified=%d runner_up=%.2f",
			m.Customer.ID, m.NameScore, m.AddressScore, m.Qualified, m.RunnerUpScore)
		return m.Customer.ID, false, detail, nil
	}

	id, err := e.repo.CreateCustomer(ctx, &models.Customer{
		FullName: c.Name,
		Address:  c.Address,
		Email:    c.Email,
		Phone:    c.Phone,
		Type:     models.CustomerTypeGuest,
	})
	if err != nil {
		return 0, false, "", errors.Wrap(err, "create guest customer")
	}
	if e.metrics != nil {
		e.metrics.CustomersCreated.Inc()
	}
	return id, true, fmt.Sprintf("created guest customer=%d", id), nil
}

func (e *Engine) publishSynced(ctx context.Context, res Result, supplierName string, rec models.ShipmentRecord, sessionID *uuid.UUID, syncedAt time.Time) {
	if e.producer == nil || e.topic == "" {
		return
	}
	msg := messages.PackageSynced{
		PackageID:      res.PackageID,
		TrackingNumber: rec.ReferenceNumber,
		SupplierName:   supplierName,
		Outcome:        res.Outcome,
		SyncedAt:       syncedAt,
	}
	if sessionID != nil {
		msg.SessionID = sessionID.String()
	}
	b, _ := json.Marshal(msg)
	if err := e.producer.Publish(ctx, e.topic, []byte(fmt.Sprintf("%d", res.PackageID)), b); err != nil {
		// Нотификация — best effort, сверку не валим.
		e.log.Warn("publish package.synced failed", "package_id", res.PackageID, "err", err)
	}
}

// Аудит — best effort: провал записи журнала не должен перечёркивать уже
// выполненную сверку.
func (e *Engine) appendAudit(ctx context.Context, entry *models.SyncAuditEntry) {
	if err := e.repo.AppendAudit(ctx, entry); err != nil {
		e.log.Error("append audit failed", "err", err)
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZero(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}

func strPtr(s string) *string { return &s }
