package models

import "time"

// Нормализованные статусы перевозчика (можно расширять).
const (
	CarrierStatusUnknown   = "UNKNOWN"
	CarrierStatusInTransit = "IN_TRANSIT"
	CarrierStatusDelivered = "DELIVERED"
)

// Статусы синхронизации пакета с внешним источником.
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
	SyncStatusError   = "error"
)

const (
	CustomerTypeRegistered = "registered"
	CustomerTypeGuest      = "guest"
)

type Customer struct {
	ID        uint64
	FullName  string
	Address   string
	Email     string
	Phone     string
	Type      string
	CreatedAt time.Time
}

type Package struct {
	ID                     uint64
	TrackingNumber         string
	ExternalTrackingNumber *string
	CustomerID             uint64
	SupplierName           string
	CarrierCode            string
	Description            string
	WeightKg               float64
	Dimensions             string
	DeclaredValue          float64

	// Carrier-assigned shipment id; natural idempotency key when present.
	ExternalShipmentID      *string
	ExternalReferenceNumber string

	WarehouseLocation   string
	ConsolidationStatus string

	CarrierStatus    string
	CarrierStatusRaw string
	CarrierStatusAt  *time.Time

	SyncStatus     string
	LastSyncAt     *time.Time
	NextCheckAt    time.Time
	CheckFailCount int32
	LastError      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type TrackingEvent struct {
	ID          uint64
	PackageID   uint64
	Carrier     string
	EventType   string
	Description string
	Location    *string
	EventTime   time.Time
	PayloadJSON *string
	CreatedAt   time.Time
}
