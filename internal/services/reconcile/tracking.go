package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/metrics"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

type TrackingRepository interface {
	UpdatePackageSyncFields(ctx context.Context, id uint64, upd pgshipping.SyncFieldsUpdate) error
	InsertTrackingEvents(ctx context.Context, packageID uint64, events []*models.TrackingEvent) error
	MarkPackageSyncError(ctx context.Context, id uint64, errMsg string) error
	RecordTrackingFailure(ctx context.Context, id uint64, errMsg string, checkedAt, nextCheckAt time.Time) error
	AppendAudit(ctx context.Context, e *models.SyncAuditEntry) error
}

// TrackingApplier применяет результат похода к перевозчику в два шага:
// сначала пакет, потом события. Если события не легли — компенсирующая
// запись возвращает пакет в sync_status=error; если и она не прошла, наружу
// уходит InconsistentStateError.
type TrackingApplier struct {
	repo    TrackingRepository
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewTrackingApplier(repo TrackingRepository, m *metrics.Metrics, log *slog.Logger) *TrackingApplier {
	if log == nil {
		log = slog.Default()
	}
	return &TrackingApplier{repo: repo, metrics: m, log: log}
}

func (a *TrackingApplier) ApplyKafkaUpdate(ctx context.Context, msg messages.TrackingFetched) error {
	if msg.PackageID == 0 {
		return errors.New("package_id is required")
	}
	if msg.CheckedAt.IsZero() {
		msg.CheckedAt = time.Now().UTC()
	}
	if msg.NextCheckAt.IsZero() {
		// fallback: воркер не прислал next_check_at — проверим через час
		msg.NextCheckAt = msg.CheckedAt.Add(60 * time.Minute)
	}

	if msg.Error != nil {
		if err := a.repo.RecordTrackingFailure(ctx, msg.PackageID, *msg.Error, msg.CheckedAt, msg.NextCheckAt); err != nil {
			return err
		}
		a.audit(ctx, msg.PackageID, models.AuditOutcomeFailed, msg.Error, nil)
		return nil
	}

	err := a.repo.UpdatePackageSyncFields(ctx, msg.PackageID, pgshipping.SyncFieldsUpdate{
		CheckedAt:        msg.CheckedAt,
		CarrierStatus:    msg.Status,
		CarrierStatusRaw: msg.StatusRaw,
		CarrierStatusAt:  msg.StatusAt,
		NextCheckAt:      msg.NextCheckAt,
	})
	if err != nil {
		if a.metrics != nil {
			a.metrics.TrackingUpdatesApplied.WithLabelValues("error").Inc()
		}
		a.audit(ctx, msg.PackageID, models.AuditOutcomeFailed, strPtr(err.Error()), nil)
		return err
	}

	events := make([]*models.TrackingEvent, 0, len(msg.Events))
	for _, e := range msg.Events {
		var payload *string
		if len(e.Payload) > 0 {
			s := string(e.Payload)
			payload = &s
		}
		events = append(events, &models.TrackingEvent{
			Carrier:     e.Carrier,
			EventType:   e.EventType,
			Description: e.Description,
			Location:    e.Location,
			EventTime:   e.EventTime,
			PayloadJSON: payload,
		})
	}

	if err := a.repo.InsertTrackingEvents(ctx, msg.PackageID, events); err != nil {
		return a.compensate(ctx, msg.PackageID, err)
	}

	if a.metrics != nil {
		a.metrics.TrackingUpdatesApplied.WithLabelValues("ok").Inc()
	}
	detail := fmt.Sprintf("status=%s events=%d", msg.Status, len(events))
	a.audit(ctx, msg.PackageID, models.AuditOutcomeSuccess, nil, &detail)
	return nil
}

func (a *TrackingApplier) compensate(ctx context.Context, packageID uint64, primary error) error {
	if a.metrics != nil {
		a.metrics.TrackingUpdatesApplied.WithLabelValues("error").Inc()
		a.metrics.CompensationsTotal.Inc()
	}

	if cErr := a.repo.MarkPackageSyncError(ctx, packageID, primary.Error()); cErr != nil {
		if a.metrics != nil {
			a.metrics.InconsistentStatesTotal.Inc()
		}
		ie := &errs.InconsistentStateError{PackageID: packageID, Primary: primary, Compensation: cErr}
		a.log.Error("package left inconsistent after failed compensation",
			"package_id", packageID, "primary", primary, "compensation", cErr)
		a.audit(ctx, packageID, models.AuditOutcomeFailed, strPtr(ie.Error()), strPtr("inconsistent state"))
		return ie
	}

	a.audit(ctx, packageID, models.AuditOutcomeFailed, strPtr(primary.Error()), strPtr("compensated"))
	return errors.Wrap(primary, "insert tracking events")
}

func (a *TrackingApplier) audit(ctx context.Context, packageID uint64, outcome string, errMsg, detail *string) {
	entry := &models.SyncAuditEntry{
		PackageID:    &packageID,
		SyncType:     models.SyncTypeTracking,
		Outcome:      outcome,
		ErrorMessage: errMsg,
		Detail:       detail,
	}
	if err := a.repo.AppendAudit(ctx, entry); err != nil {
		a.log.Error("append audit failed", "package_id", packageID, "err", err)
	}
}
