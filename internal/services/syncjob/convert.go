package syncjob

import (
	"encoding/json"
	"time"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
)

// Синхронный путь собирает то же сообщение, что и воркер: применение
// трекинга одинаково независимо от того, пришёл результат через кафку или
// напрямую. NextCheckAt не заполняем — applier подставит дефолт.
func trackingFetchedFromResult(packageID uint64, checkedAt time.Time, res supplier.TrackingResult) messages.TrackingFetched {
	msg := messages.TrackingFetched{
		PackageID: packageID,
		CheckedAt: checkedAt,
		Status:    res.Status,
		StatusRaw: res.StatusRaw,
		StatusAt:  res.StatusAt,
	}
	for _, e := range res.Events {
		var payload json.RawMessage
		if e.PayloadJSON != nil && *e.PayloadJSON != "" {
			payload = json.RawMessage(*e.PayloadJSON)
		}
		msg.Events = append(msg.Events, messages.TrackingEvent{
			Carrier:     e.Carrier,
			EventType:   e.EventType,
			Description: e.Description,
			Location:    e.Location,
			EventTime:   e.EventTime,
			Payload:     payload,
		})
	}
	return msg
}
