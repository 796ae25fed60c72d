package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SessionStatusRunning   = "running"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailed  = "failed"
)

// Типы попыток синхронизации в журнале аудита.
const (
	SyncTypeSupplier = "supplier_reconcile"
	SyncTypeTracking = "tracking_update"
)

// SyncSession — прогресс одного bulk-импорта. Терминальные статусы
// (completed/failed) не меняются.
type SyncSession struct {
	ID                uuid.UUID
	SupplierName      string
	Status            string
	TotalShipments    int32
	ProcessedShipments int32
	CreatedPackages   int32
	UpdatedPackages   int32
	CreatedCustomers  int32
	ErrorCount        int32
	CancelRequested   bool
	StartedAt         time.Time
	CompletedAt       *time.Time
	FailureDetail     *string
}

// SyncAuditEntry — append-only запись об исходе одной попытки сверки.
type SyncAuditEntry struct {
	ID               uint64
	PackageID        *uint64
	SessionID        *uuid.UUID
	SyncType         string
	Outcome          string
	ResponseSnapshot *string
	ErrorMessage     *string
	Detail           *string
	CreatedAt        time.Time
}
