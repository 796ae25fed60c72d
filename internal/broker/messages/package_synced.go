package messages

import "time"

// PackageSynced публикуется после успешной сверки пакета с данными
// поставщика. Потребители — нотификации и аналитика.
type PackageSynced struct {
	PackageID      uint64    `json:"package_id"`
	TrackingNumber string    `json:"tracking_number"`
	SupplierName   string    `json:"supplier_name"`
	Outcome        string    `json:"outcome"` // created | updated
	SessionID      string    `json:"session_id,omitempty"`
	SyncedAt       time.Time `json:"synced_at"`
}
