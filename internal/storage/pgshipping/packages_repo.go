package pgshipping

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/errs"
	"github.com/BearBump/ShipSync/internal/models"
)

const packageColumns = `
  id, tracking_number, external_tracking_number, customer_id,
  supplier_name, carrier_code, description, weight_kg, dimensions, declared_value,
  external_shipment_id, external_reference_number,
  warehouse_location, consolidation_status,
  carrier_status, carrier_status_raw, carrier_status_at,
  sync_status, last_sync_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

func scanPackage(row pgx.Row) (*models.Package, error) {
	var p models.Package
	if err := row.Scan(
		&p.ID, &p.TrackingNumber, &p.ExternalTrackingNumber, &p.CustomerID,
		&p.SupplierName, &p.CarrierCode, &p.Description, &p.WeightKg, &p.Dimensions, &p.DeclaredValue,
		&p.ExternalShipmentID, &p.ExternalReferenceNumber,
		&p.WarehouseLocation, &p.ConsolidationStatus,
		&p.CarrierStatus, &p.CarrierStatusRaw, &p.CarrierStatusAt,
		&p.SyncStatus, &p.LastSyncAt, &p.NextCheckAt, &p.CheckFailCount, &p.LastError,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) GetPackage(ctx context.Context, id uint64) (*models.Package, error) {
	row := s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id)
	p, err := scanPackage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

// FindPackageByKeys ищет пакет по любому из двух ключей идемпотентности:
// локальному tracking_number (= reference number отгрузки) или внешнему
// shipment id. Совпадение по любому из них считается тем же пакетом —
// сознательная терпимость к перенумерации на стороне перевозчика.
func (s *Storage) FindPackageByKeys(ctx context.Context, referenceNumber, externalShipmentID string) (*models.Package, error) {
	if referenceNumber == "" && externalShipmentID == "" {
		return nil, errs.ErrNotFound
	}

	row := s.db.QueryRow(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE ($1 <> '' AND tracking_number = $1)
   OR ($2 <> '' AND external_shipment_id = $2)
ORDER BY id
LIMIT 1
`, referenceNumber, externalShipmentID)
	p, err := scanPackage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package by keys")
	}
	return p, nil
}

func (s *Storage) InsertPackage(ctx context.Context, p *models.Package) (uint64, error) {
	now := time.Now().UTC()
	if p.SyncStatus == "" {
		p.SyncStatus = models.SyncStatusPending
	}
	if p.CarrierStatus == "" {
		p.CarrierStatus = models.CarrierStatusUnknown
	}
	if p.NextCheckAt.IsZero() {
		p.NextCheckAt = now
	}

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO packages (
  tracking_number, external_tracking_number, customer_id,
  supplier_name, carrier_code, description, weight_kg, dimensions, declared_value,
  external_shipment_id, external_reference_number,
  warehouse_location, consolidation_status,
  carrier_status, sync_status, last_sync_at, next_check_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
RETURNING id
`, p.TrackingNumber, p.ExternalTrackingNumber, p.CustomerID,
		p.SupplierName, p.CarrierCode, p.Description, p.WeightKg, p.Dimensions, p.DeclaredValue,
		p.ExternalShipmentID, p.ExternalReferenceNumber,
		p.WarehouseLocation, p.ConsolidationStatus,
		p.CarrierStatus, p.SyncStatus, p.LastSyncAt, p.NextCheckAt, now).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert package")
	}
	p.ID = id
	return id, nil
}

// PackageExternalUpdate — поля, которые свежие внешние данные всегда
// перезаписывают (last-write-wins от авторитетного источника).
type PackageExternalUpdate struct {
	ExternalTrackingNumber  *string
	ExternalShipmentID      *string
	ExternalReferenceNumber string
	Description             string
	WeightKg                float64
	Dimensions              string
	DeclaredValue           float64
	WarehouseLocation       string
	ConsolidationStatus     string
	SyncedAt                time.Time
}

func (s *Storage) UpdatePackageFromShipment(ctx context.Context, id uint64, upd PackageExternalUpdate) error {
	ct, err := s.db.Exec(ctx, `
UPDATE packages
SET
  external_tracking_number = COALESCE($2, external_tracking_number),
  external_shipment_id = COALESCE($3, external_shipment_id),
  external_reference_number = $4,
  description = $5,
  weight_kg = $6,
  dimensions = $7,
  declared_value = $8,
  warehouse_location = $9,
  consolidation_status = $10,
  sync_status = $11,
  last_sync_at = $12,
  updated_at = now()
WHERE id = $1
`, id, upd.ExternalTrackingNumber, upd.ExternalShipmentID, upd.ExternalReferenceNumber,
		upd.Description, upd.WeightKg, upd.Dimensions, upd.DeclaredValue,
		upd.WarehouseLocation, upd.ConsolidationStatus,
		models.SyncStatusSynced, upd.SyncedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update package from shipment")
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SyncFieldsUpdate — первичный шаг применения трекинга (§ двухшаговой
// записи): статус перевозчика + отметка успешной синхронизации.
type SyncFieldsUpdate struct {
	CheckedAt        time.Time
	CarrierStatus    string
	CarrierStatusRaw string
	CarrierStatusAt  *time.Time
	NextCheckAt      time.Time
}

func (s *Storage) UpdatePackageSyncFields(ctx context.Context, id uint64, upd SyncFieldsUpdate) error {
	ct, err := s.db.Exec(ctx, `
UPDATE packages
SET
  carrier_status = $3,
  carrier_status_raw = $4,
  carrier_status_at = $5,
  sync_status = $6,
  last_sync_at = $2,
  next_check_at = $7,
  check_fail_count = 0,
  last_error = NULL,
  updated_at = now()
WHERE id = $1
`, id, upd.CheckedAt.UTC(), upd.CarrierStatus, upd.CarrierStatusRaw, upd.CarrierStatusAt,
		models.SyncStatusSynced, upd.NextCheckAt.UTC())
	if err != nil {
		return errors.Wrap(err, "update package sync fields")
	}
	// Ноль строк — пакет исчез из-под нас; это жёсткая ошибка.
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// MarkPackageSyncError — компенсирующая запись: события не легли, пакет не
// должен остаться помеченным synced. Остальные поля не откатываем — они
// отражают реальное внешнее состояние.
func (s *Storage) MarkPackageSyncError(ctx context.Context, id uint64, errMsg string) error {
	ct, err := s.db.Exec(ctx, `
UPDATE packages
SET sync_status = $2, last_error = $3, updated_at = now()
WHERE id = $1
`, id, models.SyncStatusError, errMsg)
	if err != nil {
		return errors.Wrap(err, "mark package sync error")
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RecordTrackingFailure фиксирует неудачный поход к перевозчику: бэкофф и
// счётчик, sync_status не трогаем.
func (s *Storage) RecordTrackingFailure(ctx context.Context, id uint64, errMsg string, checkedAt, nextCheckAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE packages
SET
  check_fail_count = check_fail_count + 1,
  last_error = $2,
  last_sync_at = $3,
  next_check_at = $4,
  updated_at = now()
WHERE id = $1
`, id, errMsg, checkedAt.UTC(), nextCheckAt.UTC())
	return errors.Wrap(err, "record tracking failure")
}

// ClaimDuePackages выбирает пачку пакетов, готовых к проверке трекинга, и
// "бронирует" их, чтобы они не попадали в повторную выборку, пока воркер их
// обрабатывает. Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE next_check_at <= $1
  AND carrier_status <> $2
ORDER BY next_check_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.CarrierStatusDelivered, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due packages")
	}
	defer rows.Close()

	var picked []*models.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due package")
		}
		picked = append(picked, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, p := range picked {
		_, err := tx.Exec(ctx, `UPDATE packages SET next_check_at = $2, updated_at = now() WHERE id = $1`, p.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease package")
		}
		p.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
