package pgshipping

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS customers (
  id BIGSERIAL PRIMARY KEY,
  full_name TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  external_tracking_number TEXT NULL,
  customer_id BIGINT NOT NULL REFERENCES customers(id),
  supplier_name TEXT NOT NULL DEFAULT '',
  carrier_code TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  weight_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
  dimensions TEXT NOT NULL DEFAULT '',
  declared_value DOUBLE PRECISION NOT NULL DEFAULT 0,
  external_shipment_id TEXT NULL,
  external_reference_number TEXT NOT NULL DEFAULT '',
  warehouse_location TEXT NOT NULL DEFAULT '',
  consolidation_status TEXT NOT NULL DEFAULT '',
  carrier_status TEXT NOT NULL DEFAULT 'UNKNOWN',
  carrier_status_raw TEXT NOT NULL DEFAULT '',
  carrier_status_at TIMESTAMPTZ NULL,
  sync_status TEXT NOT NULL DEFAULT 'pending',
  last_sync_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_number)
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_packages_external_shipment_id ON packages(external_shipment_id) WHERE external_shipment_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_packages_next_check_at ON packages(next_check_at)`,
		`
CREATE TABLE IF NOT EXISTS tracking_events (
  id BIGSERIAL PRIMARY KEY,
  package_id BIGINT NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
  carrier TEXT NOT NULL DEFAULT '',
  event_type TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  payload JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_package_id_event_time ON tracking_events(package_id, event_time DESC)`,
		// Enforce de-duplication of events for a package.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON tracking_events(package_id, event_type, event_time, location, description)`,
		`
CREATE TABLE IF NOT EXISTS sync_sessions (
  id UUID PRIMARY KEY,
  supplier_name TEXT NOT NULL,
  status TEXT NOT NULL,
  total_shipments INT NOT NULL DEFAULT 0,
  processed_shipments INT NOT NULL DEFAULT 0,
  created_packages INT NOT NULL DEFAULT 0,
  updated_packages INT NOT NULL DEFAULT 0,
  created_customers INT NOT NULL DEFAULT 0,
  error_count INT NOT NULL DEFAULT 0,
  cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
  started_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL,
  failure_detail TEXT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS sync_audit_entries (
  id BIGSERIAL PRIMARY KEY,
  package_id BIGINT NULL,
  session_id UUID NULL,
  sync_type TEXT NOT NULL,
  outcome TEXT NOT NULL,
  response_snapshot TEXT NULL,
  error_message TEXT NULL,
  detail TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_audit_package_id ON sync_audit_entries(package_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_audit_session_id ON sync_audit_entries(session_id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
