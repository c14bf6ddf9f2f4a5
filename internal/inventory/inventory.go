// Package inventory implements the item catalog, the check-out/check-in
// transition engine and the read-side reports built over them.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/cache"
	"github.com/geethx/workshop/internal/imaging"
	"github.com/geethx/workshop/internal/lock"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/observability"
	"github.com/geethx/workshop/internal/store"
)

const (
	DefaultLockTimeout   = 5 * time.Second
	DefaultStatsCacheTTL = 2 * time.Second
)

type Config struct {
	// LockTimeout bounds the wait for an item's lock. Zero means
	// DefaultLockTimeout.
	LockTimeout   time.Duration
	StatsCacheTTL time.Duration
	Imaging       imaging.Options
}

// Service serializes writes per item through a lock.Locker and runs every
// status change in a single database transaction together with its ledger
// entry.
type Service struct {
	db      *sql.DB
	locker  lock.Locker
	metrics *observability.Metrics
	stats   *cache.Cache
	tracer  trace.Tracer
	cfg     Config

	// statsGen counts invalidations so a dashboard computed before a write
	// is not cached after it.
	statsMu  sync.Mutex
	statsGen uint64
}

// New returns a Service. metrics may be nil.
func New(db *sql.DB, locker lock.Locker, metrics *observability.Metrics, cfg Config) *Service {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = DefaultStatsCacheTTL
	}
	return &Service{
		db:      db,
		locker:  locker,
		metrics: metrics,
		stats:   cache.New(cfg.StatsCacheTTL),
		tracer:  otel.Tracer("github.com/geethx/workshop/internal/inventory"),
		cfg:     cfg,
	}
}

// withItemLock runs fn while holding the lock for code.
func (s *Service) withItemLock(ctx context.Context, code string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	start := time.Now()
	release, err := s.locker.Lock(lockCtx, lock.ItemKey(code))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.metrics.ObserveLockWait("canceled", time.Since(start))
			return apperr.Wrap(apperr.KindCanceled, ctx.Err(), "%s was not processed", code)
		case errors.Is(err, context.DeadlineExceeded):
			s.metrics.ObserveLockWait("timeout", time.Since(start))
			return apperr.Wrap(apperr.KindBusy, err, "%s is busy, try again", code)
		default:
			s.metrics.ObserveLockWait("error", time.Since(start))
			return apperr.Wrap(apperr.KindBusy, err, "could not lock %s", code)
		}
	}
	defer release()
	s.metrics.ObserveLockWait("acquired", time.Since(start))

	return fn()
}

// inTx runs fn in a write transaction and commits it when fn succeeds.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := s.metrics.ObserveDB(op, tx.Commit); err != nil {
		return dbErr(err, "commit")
	}
	return nil
}

func dbErr(err error, what string) error {
	if store.IsBusy(err) {
		return apperr.Wrap(apperr.KindBusy, err, "database is busy, try again")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindCanceled, err, "%s interrupted", what)
	}
	return err
}

func (s *Service) invalidateStats() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.statsGen++
	s.stats.Clear()
}

func (s *Service) statsGeneration() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.statsGen
}

// cacheStats stores stats unless the dashboard was invalidated since gen.
func (s *Service) cacheStats(gen uint64, stats *model.DashboardStats) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if gen == s.statsGen {
		s.stats.Set(dashboardKey, stats)
	}
}
