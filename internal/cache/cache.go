package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш: недоступность кэша не должна ломать чтение
// из БД.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
