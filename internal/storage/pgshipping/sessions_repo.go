package pgshipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/models"
)

func (s *Storage) CreateSession(ctx context.Context, sess *models.SyncSession) error {
	now := time.Now().UTC()
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.Status == "" {
		sess.Status = models.SessionStatusRunning
	}
	sess.StartedAt = now

	_, err := s.db.Exec(ctx, `
INSERT INTO sync_sessions (id, supplier_name, status, total_shipments, started_at)
VALUES ($1,$2,$3,$4,$5)
`, sess.ID, sess.SupplierName, sess.Status, sess.TotalShipments, now)
	return errors.Wrap(err, "insert session")
}

func (s *Storage) GetSession(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	var sess models.SyncSession
	err := s.db.QueryRow(ctx, `
SELECT
  id, supplier_name, status,
  total_shipments, processed_shipments,
  created_packages, updated_packages, created_customers, error_count,
  cancel_requested, started_at, completed_at, failure_detail
FROM sync_sessions
WHERE id = $1
`, id).Scan(
		&sess.ID, &sess.SupplierName, &sess.Status,
		&sess.TotalShipments, &sess.ProcessedShipments,
		&sess.CreatedPackages, &sess.UpdatedPackages, &sess.CreatedCustomers, &sess.ErrorCount,
		&sess.CancelRequested, &sess.StartedAt, &sess.CompletedAt, &sess.FailureDetail,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select session")
	}
	return &sess, nil
}

func (s *Storage) SetSessionTotal(ctx context.Context, id uuid.UUID, total int32) error {
	_, err := s.db.Exec(ctx, `UPDATE sync_sessions SET total_shipments = $2 WHERE id = $1`, id, total)
	return errors.Wrap(err, "set session total")
}

// SessionDelta — приращения счётчиков за одну отгрузку. Инкременты атомарные
// (один UPDATE), поэтому конкурентные отгрузки не теряют друг друга.
type SessionDelta struct {
	Processed        int32
	CreatedPackages  int32
	UpdatedPackages  int32
	CreatedCustomers int32
	Errors           int32
}

func (s *Storage) AddSessionProgress(ctx context.Context, id uuid.UUID, d SessionDelta) error {
	_, err := s.db.Exec(ctx, `
UPDATE sync_sessions
SET
  processed_shipments = processed_shipments + $2,
  created_packages = created_packages + $3,
  updated_packages = updated_packages + $4,
  created_customers = created_customers + $5,
  error_count = error_count + $6
WHERE id = $1
`, id, d.Processed, d.CreatedPackages, d.UpdatedPackages, d.CreatedCustomers, d.Errors)
	return errors.Wrap(err, "add session progress")
}

// FinalizeSession переводит сессию в терминальный статус. Уже терминальная
// сессия не меняется (no-op); несуществующая — ErrNotFound.
func (s *Storage) FinalizeSession(ctx context.Context, id uuid.UUID, status string, failureDetail *string) error {
	ct, err := s.db.Exec(ctx, `
UPDATE sync_sessions
SET status = $2, failure_detail = $3, completed_at = now()
WHERE id = $1 AND status = $4
`, id, status, failureDetail, models.SessionStatusRunning)
	if err != nil {
		return errors.Wrap(err, "finalize session")
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) RequestSessionCancel(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
UPDATE sync_sessions SET cancel_requested = TRUE
WHERE id = $1 AND status = $2
`, id, models.SessionStatusRunning)
	if err != nil {
		return errors.Wrap(err, "request session cancel")
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
