package refresher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/broker/messages"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/metrics"
	"github.com/BearBump/ShipSync/internal/models"
)

type Repository interface {
	ClaimDuePackages(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Package, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Refresher циклически выбирает пакеты с подошедшим next_check_at, ходит к
// перевозчику и публикует результат в кафку. Применяет результат консюмер
// на стороне API, не воркер.
type Refresher struct {
	repo    Repository
	carrier supplier.TrackingClient
	producer Producer
	rl      RateLimiter

	topic string

	planner *Planner
	metrics *metrics.Metrics

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, carrier supplier.TrackingClient, producer Producer, rl RateLimiter, topic string) *Refresher {
	return &Refresher{
		repo: repo, carrier: carrier, producer: producer, rl: rl, topic: topic,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (r *Refresher) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Refresher {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if lease > 0 {
		r.lease = lease
	}
	if rlPerMin > 0 {
		r.rateLimitPerMinute = rlPerMin
	}
	return r
}

func (r *Refresher) WithPlanner(cfg PlannerConfig) *Refresher {
	r.planner = NewPlanner(cfg, nil)
	return r
}

func (r *Refresher) WithMetrics(m *metrics.Metrics) *Refresher {
	r.metrics = m
	return r
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (r *Refresher) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Refresher) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalClaimed:   r.totalClaimed.Load(),
		TotalProcessed: r.totalProcessed.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Refresher) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Refresher) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	items, err := r.repo.ClaimDuePackages(ctx, now, r.batchSize, r.lease)
	if err != nil {
		slog.Error("claim due packages", "error", err.Error())
		r.setLastError(err)
		return
	}
	r.totalClaimed.Add(int64(len(items)))
	if r.metrics != nil {
		r.metrics.RefresherClaimedTotal.Add(float64(len(items)))
	}

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, pkg := range items {
		sem <- struct{}{}
		wg.Add(1)
		pkgCopy := pkg
		r.inFlight.Add(1)
		go func() {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := r.processOne(ctx, pkgCopy); err != nil {
				r.totalErrors.Add(1)
				r.setLastError(err)
				slog.Error("refresh package", "package_id", pkgCopy.ID, "error", err.Error())
			}
			r.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (r *Refresher) processOne(ctx context.Context, pkg *models.Package) error {
	now := time.Now().UTC()

	if r.rl != nil && r.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:carrier:%s:%s", pkg.CarrierCode, now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Лимит в минуту выбран: притормозим, источник не резиновый.
			slog.Warn("rate limit exceeded", "carrier", pkg.CarrierCode, "count", n)
			if r.metrics != nil {
				r.metrics.CarrierFetchesTotal.WithLabelValues("rate_limited").Inc()
			}
			time.Sleep(500 * time.Millisecond)
		}
	}

	trackingNumber := pkg.TrackingNumber
	if pkg.ExternalTrackingNumber != nil && *pkg.ExternalTrackingNumber != "" {
		trackingNumber = *pkg.ExternalTrackingNumber
	}

	res, err := r.carrier.GetTracking(ctx, pkg.CarrierCode, trackingNumber)
	msg := messages.TrackingFetched{
		PackageID: pkg.ID,
		CheckedAt: now,
	}

	if err != nil {
		if r.metrics != nil {
			r.metrics.CarrierFetchesTotal.WithLabelValues("error").Inc()
		}
		e := err.Error()
		msg.Error = &e
		nextFail := pkg.CheckFailCount + 1
		msg.NextCheckAt = now.Add(r.planner.BackoffDelay(nextFail))
	} else {
		if r.metrics != nil {
			r.metrics.CarrierFetchesTotal.WithLabelValues("ok").Inc()
		}
		msg.Status = res.Status
		msg.StatusRaw = res.StatusRaw
		msg.StatusAt = res.StatusAt
		msg.NextCheckAt = now.Add(r.planner.NextCheckDelay(res.Status))
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
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	key := []byte(fmt.Sprintf("%d", pkg.ID))
	// Kafka может быть не готова сразу после старта docker compose.
	// Небольшой retry вместо потери результата.
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := r.producer.Publish(ctx, r.topic, key, b); err == nil {
			pubErr = nil
			break
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	return pubErr
}

func (r *Refresher) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
