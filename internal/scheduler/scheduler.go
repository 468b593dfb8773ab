// Package scheduler drives the check loop: claim due pages, fan them
// out to capture workers, keep claims fresh, and recover zombies.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/talemon/pagewatch/internal/metrics"
	"github.com/talemon/pagewatch/internal/watch"
)

// Capturer runs one capture attempt. Satisfied by capture.Service.
type Capturer interface {
	Capture(ctx context.Context, url string, previousCleanHash string) watch.CaptureResult
}

// DomainGate bounds per-domain load. Satisfied by domainlimit.Limiter.
type DomainGate interface {
	Acquire(ctx context.Context, domain string) (func(), error)
}

// Config controls the claim loop.
type Config struct {
	PollInterval      time.Duration
	ClaimBatchSize    int
	Concurrency       int
	HeartbeatInterval time.Duration
	ZombieTimeout     time.Duration
	// SweepInterval is the zombie sweep cadence; when unset it is
	// derived from the heartbeat interval, capped by ZombieTimeout.
	SweepInterval time.Duration
}

// Scheduler owns the poll loop and the capture worker pool.
type Scheduler struct {
	pages     watch.PageStore
	capturer  Capturer
	gate      DomainGate
	publisher watch.Publisher
	cfg       Config
	logger    *zap.Logger

	slots *semaphore.Weighted
	wg    sync.WaitGroup
}

// New constructs a Scheduler.
func New(
	pages watch.PageStore,
	capturer Capturer,
	gate DomainGate,
	publisher watch.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ZombieTimeout <= 0 {
		cfg.ZombieTimeout = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.HeartbeatInterval * 2
		if cfg.SweepInterval > cfg.ZombieTimeout {
			cfg.SweepInterval = cfg.ZombieTimeout
		}
	}
	metrics.Init()
	return &Scheduler{
		pages:     pages,
		capturer:  capturer,
		gate:      gate,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		slots:     semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run blocks until ctx finishes, then drains in-flight captures.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	go s.sweepLoop(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce claims one batch of due pages and dispatches them. Claimed
// pages start heartbeating immediately so a full worker pool cannot
// zombie them while they wait for a slot.
func (s *Scheduler) pollOnce(ctx context.Context) {
	claimed, err := s.pages.ClaimDue(ctx, s.cfg.ClaimBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("claim due pages failed", zap.Error(err))
		}
		return
	}
	if len(claimed) == 0 {
		return
	}
	s.logger.Debug("claimed pages", zap.Int("count", len(claimed)))

	for _, page := range claimed {
		s.wg.Add(1)
		go func(p watch.Page) {
			defer s.wg.Done()
			s.process(ctx, p)
		}(page)
	}
}

// process runs one claimed page through capture and completion.
func (s *Scheduler) process(ctx context.Context, page watch.Page) {
	stopHeartbeat := s.startHeartbeat(ctx, page.ID)
	defer stopHeartbeat()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.logger.Warn("capture slot wait canceled",
			zap.Int64("page_id", page.ID), zap.Error(err))
		return
	}
	defer s.slots.Release(1)

	release, err := s.gate.Acquire(ctx, page.Domain)
	if err != nil {
		s.logger.Warn("domain gate wait canceled",
			zap.Int64("page_id", page.ID), zap.String("domain", page.Domain), zap.Error(err))
		return
	}
	defer release()

	metrics.IncActiveCaptures()
	start := time.Now()
	res := s.capturer.Capture(ctx, page.URL, page.LastCleanHash)
	metrics.DecActiveCaptures()

	outcome := "ok"
	if !res.OK() {
		outcome = "error"
	}
	metrics.ObserveCapture(page.Domain, outcome, res.ChangeDetected, time.Since(start))

	if err := s.pages.CompleteCheck(ctx, page.ID, res); err != nil {
		if errors.Is(err, watch.ErrClaimConflict) {
			// The claim was reclaimed mid-capture; another worker owns
			// the page now. The result is dropped.
			metrics.ObserveClaimConflict()
			s.logger.Warn("claim lost before completion", zap.Int64("page_id", page.ID))
			return
		}
		s.logger.Error("complete check failed",
			zap.Int64("page_id", page.ID), zap.Error(err))
		return
	}

	if res.ChangeDetected && res.OK() {
		s.publishChange(ctx, page, res)
	}
}

// publishChange notifies downstream consumers. Best effort: a publish
// failure never unwinds the recorded check.
func (s *Scheduler) publishChange(ctx context.Context, page watch.Page, res watch.CaptureResult) {
	if s.publisher == nil {
		return
	}
	event := watch.ChangeEvent{
		EventID:     uuid.NewString(),
		PageID:      page.ID,
		URL:         page.URL,
		StoragePath: res.StoragePath,
		CleanHash:   res.CleanHash,
		CapturedAt:  res.Timestamp,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		metrics.ObservePublishFailure()
		s.logger.Error("publish change event failed",
			zap.Int64("page_id", page.ID), zap.String("event_id", event.EventID), zap.Error(err))
		return
	}
	s.logger.Info("change event published",
		zap.Int64("page_id", page.ID),
		zap.String("url", page.URL),
		zap.String("path", res.StoragePath))
}

// startHeartbeat refreshes the page claim until the returned stop
// function is called.
func (s *Scheduler) startHeartbeat(ctx context.Context, pageID int64) func() {
	done := make(chan struct{})
	var once sync.Once

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.pages.Heartbeat(ctx, pageID); err != nil {
					if errors.Is(err, watch.ErrClaimConflict) {
						s.logger.Warn("heartbeat on lost claim", zap.Int64("page_id", pageID))
						return
					}
					s.logger.Error("heartbeat failed", zap.Int64("page_id", pageID), zap.Error(err))
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// sweepLoop periodically returns stale PROCESSING pages to PENDING.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.pages.ReclaimZombies(ctx, s.cfg.ZombieTimeout)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("zombie reclaim failed", zap.Error(err))
				}
				continue
			}
			if len(ids) > 0 {
				metrics.ObserveZombiesReclaimed(len(ids))
				s.logger.Warn("reclaimed zombie pages", zap.Int64s("page_ids", ids))
			}
		}
	}
}
