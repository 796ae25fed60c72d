package messages

import (
	"encoding/json"
	"time"
)

// TrackingFetched — результат похода воркера к перевозчику. Применяется
// консюмером sync-api через двухшаговую запись (пакет, затем события).
type TrackingFetched struct {
	PackageID uint64    `json:"package_id"`
	CheckedAt time.Time `json:"checked_at"`

	Status    string     `json:"status,omitempty"`
	StatusRaw string     `json:"status_raw,omitempty"`
	StatusAt  *time.Time `json:"status_at,omitempty"`

	NextCheckAt time.Time `json:"next_check_at"`

	Events []TrackingEvent `json:"events,omitempty"`

	Error *string `json:"error,omitempty"`
}

type TrackingEvent struct {
	Carrier     string          `json:"carrier,omitempty"`
	EventType   string          `json:"event_type"`
	Description string          `json:"description,omitempty"`
	Location    *string         `json:"location,omitempty"`
	EventTime   time.Time       `json:"event_time"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}
