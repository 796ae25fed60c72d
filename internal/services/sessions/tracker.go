package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/cache"
	"github.com/BearBump/ShipSync/internal/models"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

type Repository interface {
	CreateSession(ctx context.Context, sess *models.SyncSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.SyncSession, error)
	SetSessionTotal(ctx context.Context, id uuid.UUID, total int32) error
	AddSessionProgress(ctx context.Context, id uuid.UUID, d pgshipping.SessionDelta) error
	FinalizeSession(ctx context.Context, id uuid.UUID, status string, failureDetail *string) error
	RequestSessionCancel(ctx context.Context, id uuid.UUID) error
}

// Tracker ведёт жизненный цикл сессий синхронизации. Кэш — best effort:
// читаем через кэш, любая мутация его инвалидирует.
type Tracker struct {
	repo Repository
	cache cache.BytesCache
	ttl  time.Duration
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Tracker {
	return &Tracker{repo: repo, cache: c, ttl: ttl}
}

func (t *Tracker) Create(ctx context.Context, supplierName string) (*models.SyncSession, error) {
	if supplierName == "" {
		return nil, errors.New("supplierName is required")
	}
	sess := &models.SyncSession{
		ID:           uuid.New(),
		SupplierName: supplierName,
		Status:       models.SessionStatusRunning,
	}
	if err := t.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*models.SyncSession, error) {
	if t.cache != nil && t.ttl > 0 {
		if b, ok, err := t.cache.Get(ctx, sessionKey(id)); err == nil && ok {
			var sess models.SyncSession
			if json.Unmarshal(b, &sess) == nil {
				return &sess, nil
			}
		}
	}

	sess, err := t.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.cache != nil && t.ttl > 0 {
		b, _ := json.Marshal(sess)
		_ = t.cache.Set(ctx, sessionKey(id), b, t.ttl)
	}
	return sess, nil
}

func (t *Tracker) SetTotal(ctx context.Context, id uuid.UUID, total int32) error {
	if err := t.repo.SetSessionTotal(ctx, id, total); err != nil {
		return err
	}
	t.invalidate(ctx, id)
	return nil
}

func (t *Tracker) AddProgress(ctx context.Context, id uuid.UUID, d pgshipping.SessionDelta) error {
	if err := t.repo.AddSessionProgress(ctx, id, d); err != nil {
		return err
	}
	t.invalidate(ctx, id)
	return nil
}

// Finalize переводит сессию в терминальный статус. Повторный вызов по уже
// терминальной сессии — no-op (гарантия repo), счётчики не трогаем.
func (t *Tracker) Finalize(ctx context.Context, id uuid.UUID, status string, failureDetail *string) error {
	if status != models.SessionStatusCompleted && status != models.SessionStatusFailed {
		return errors.Errorf("not a terminal status: %q", status)
	}
	if err := t.repo.FinalizeSession(ctx, id, status, failureDetail); err != nil {
		return err
	}
	t.invalidate(ctx, id)
	return nil
}

func (t *Tracker) RequestCancel(ctx context.Context, id uuid.UUID) error {
	if err := t.repo.RequestSessionCancel(ctx, id); err != nil {
		return err
	}
	t.invalidate(ctx, id)
	return nil
}

func (t *Tracker) invalidate(ctx context.Context, id uuid.UUID) {
	if t.cache != nil {
		_ = t.cache.Delete(ctx, sessionKey(id))
	}
}

func sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("syncsession:%s", id)
}
