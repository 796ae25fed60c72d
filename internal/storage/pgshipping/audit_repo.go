package pgshipping

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/models"
)

// Журнал аудита append-only: этот слой никогда не обновляет и не удаляет
// записи.
func (s *Storage) AppendAudit(ctx context.Context, e *models.SyncAuditEntry) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO sync_audit_entries (
  package_id, session_id, sync_type, outcome,
  response_snapshot, error_message, detail, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, e.PackageID, e.SessionID, e.SyncType, e.Outcome,
		e.ResponseSnapshot, e.ErrorMessage, e.Detail, time.Now().UTC())
	return errors.Wrap(err, "insert audit entry")
}

func (s *Storage) ListAuditByPackage(ctx context.Context, packageID uint64, limit int) ([]*models.SyncAuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT id, package_id, session_id, sync_type, outcome, response_snapshot, error_message, detail, created_at
FROM sync_audit_entries
WHERE package_id = $1
ORDER BY created_at DESC
LIMIT $2
`, packageID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select audit entries")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *Storage) ListAuditBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.SyncAuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	rows, err := s.db.Query(ctx, `
SELECT id, package_id, session_id, sync_type, outcome, response_snapshot, error_message, detail, created_at
FROM sync_audit_entries
WHERE session_id = $1
ORDER BY created_at ASC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select session audit entries")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows pgx.Rows) ([]*models.SyncAuditEntry, error) {
	var out []*models.SyncAuditEntry
	for rows.Next() {
		var e models.SyncAuditEntry
		if err := rows.Scan(
			&e.ID, &e.PackageID, &e.SessionID, &e.SyncType, &e.Outcome,
			&e.ResponseSnapshot, &e.ErrorMessage, &e.Detail, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan audit entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
