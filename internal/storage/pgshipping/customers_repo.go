package pgshipping

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/models"
)

// ListCustomers отдаёт всех клиентов для скоринга похожести. Объём клиентской
// базы здесь — тысячи строк, полный проход допустим.
func (s *Storage) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, full_name, address, email, phone, type, created_at
FROM customers
ORDER BY id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select customers")
	}
	defer rows.Close()

	var out []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.FullName, &c.Address, &c.Email, &c.Phone, &c.Type, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan customer")
		}
		out = append(out, &c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CreateCustomer(ctx context.Context, c *models.Customer) (uint64, error) {
	now := time.Now().UTC()
	if c.Type == "" {
		c.Type = models.CustomerTypeGuest
	}

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO customers (full_name, address, email, phone, type, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, c.FullName, c.Address, c.Email, c.Phone, c.Type, now).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert customer")
	}
	c.ID = id
	c.CreatedAt = now
	return id, nil
}
