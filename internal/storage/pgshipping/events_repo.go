package pgshipping

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/models"
)

// InsertTrackingEvents пишет события по одному стейтменту на строку.
// Пустая пачка — не ошибка. Дубликаты гасятся уникальным индексом.
func (s *Storage) InsertTrackingEvents(ctx context.Context, packageID uint64, events []*models.TrackingEvent) error {
	for _, e := range events {
		var payload any
		if e.PayloadJSON != nil && *e.PayloadJSON != "" {
			var m any
			if json.Unmarshal([]byte(*e.PayloadJSON), &m) == nil {
				payload = m
			}
		}

		loc := ""
		if e.Location != nil {
			loc = *e.Location
		}

		_, err := s.db.Exec(ctx, `
INSERT INTO tracking_events (
  package_id, carrier, event_type, description, location, event_time, payload, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (package_id, event_type, event_time, location, description) DO NOTHING
`, packageID, e.Carrier, e.EventType, e.Description, loc, e.EventTime.UTC(), payload)
		if err != nil {
			return errors.Wrap(err, "insert tracking event")
		}
	}
	return nil
}

func (s *Storage) ListPackageEvents(ctx context.Context, packageID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, package_id, carrier, event_type, description, location, event_time, payload, created_at
FROM tracking_events
WHERE package_id = $1
ORDER BY event_time DESC
LIMIT $2 OFFSET $3
`, packageID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		var location string
		var payload any
		if err := rows.Scan(
			&e.ID, &e.PackageID, &e.Carrier, &e.EventType, &e.Description,
			&location, &e.EventTime, &payload, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}

		if location != "" {
			e.Location = &location
		}
		if payload != nil {
			b, _ := json.Marshal(payload)
			s := string(b)
			e.PayloadJSON = &s
		}

		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
