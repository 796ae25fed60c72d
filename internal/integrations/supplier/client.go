package supplier

import (
	"context"
	"time"

	"github.com/BearBump/ShipSync/internal/models"
)

// Credentials для внешнего шлюза поставщика; передаются явно, не из глобалов.
type Credentials struct {
	NetworkID string
	Username  string
	Password  string
}

// Client отдаёт carrier-agnostic записи отгрузок. Каждый вызов — один
// свежий проход по источнику; последовательность не перезапускается.
type Client interface {
	FetchShipments(ctx context.Context) ([]models.ShipmentRecord, error)
	FetchShipment(ctx context.Context, shipmentID string) (models.ShipmentRecord, error)
}

type TrackingResult struct {
	Status    string
	StatusRaw string
	StatusAt  *time.Time
	Events    []*models.TrackingEvent
}

// TrackingClient — трекинг перевозчика (протокол B, REST+XML).
type TrackingClient interface {
	GetTracking(ctx context.Context, carrierCode, trackingNumber string) (TrackingResult, error)
}
