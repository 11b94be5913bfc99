package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/mohammad-safakhou/brandscope/internal/helpers"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/mohammad-safakhou/brandscope/internal/store"
	"github.com/mohammad-safakhou/brandscope/internal/trends"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// TrendArchive is what the scheduler reads from the archive.
type TrendArchive interface {
	ListTrackedBrands(ctx context.Context, since time.Time) ([]string, error)
	LatestTrendSnapshot(ctx context.Context, brand string) (store.TrendSnapshot, bool, error)
}

// TrendRefresher refreshes trends for one brand.
type TrendRefresher interface {
	Refresh(ctx context.Context, sessionID string, req trends.Request) (trends.Result, error)
}

// Scheduler periodically refreshes trends for recently analysed brands. A
// Redis lock keeps replicas from refreshing the same brand twice.
type Scheduler struct {
	Archive  TrendArchive
	Refresh  TrendRefresher
	Rdb      redis.Cmdable
	Cron     string
	Interval time.Duration
	Window   time.Duration
	LockTTL  time.Duration
	Log      logrus.FieldLogger

	now func() time.Time
}

// Start runs the scheduler until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// tick refreshes every tracked brand that is due and returns how many were
// refreshed.
func (s *Scheduler) tick(ctx context.Context) int {
	log := logging.OrDiscard(s.Log).WithField("component", "scheduler")
	now := s.clock()
	window := s.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	brands, err := s.Archive.ListTrackedBrands(ctx, now.Add(-window))
	if err != nil {
		log.WithError(err).Warn("list tracked brands")
		return 0
	}
	refreshed := 0
	for _, brand := range brands {
		if ctx.Err() != nil {
			break
		}
		prev, ok, err := s.Archive.LatestTrendSnapshot(ctx, brand)
		if err != nil {
			log.WithError(err).WithField("brand", brand).Warn("latest trend snapshot")
			continue
		}
		var last *time.Time
		if ok {
			last = &prev.CreatedAt
		}
		if !isDue(s.Cron, last, now) {
			continue
		}
		if !s.lock(ctx, brand) {
			continue
		}
		res, err := s.Refresh.Refresh(ctx, "", trends.Request{Brand: brand})
		s.unlock(ctx, brand)
		if err != nil {
			if !errors.Is(err, trends.ErrRefreshInProgress) {
				log.WithError(err).WithField("brand", brand).Warn("scheduled trend refresh failed")
			}
			continue
		}
		refreshed++
		d := helpers.EvaluateDiff(prev.Snapshot(), res.Lines, now, 0)
		log.WithFields(logrus.Fields{
			"brand":       brand,
			"changed":     d.Changed,
			"reasons":     d.Reasons,
			"age":         d.Age,
			"synthesized": res.Synthesized,
		}).Info("trends refreshed")
	}
	return refreshed
}

func lockKey(brand string) string { return "sched:trends:" + strings.ToLower(brand) }

func (s *Scheduler) lock(ctx context.Context, brand string) bool {
	if s.Rdb == nil {
		return true
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	ok, err := s.Rdb.SetNX(ctx, lockKey(brand), "1", ttl).Result()
	return err == nil && ok
}

func (s *Scheduler) unlock(ctx context.Context, brand string) {
	if s.Rdb != nil {
		s.Rdb.Del(ctx, lockKey(brand))
	}
}

// isDue reports whether a job with cronSpec should run at now given its last
// run. "@daily", "@hourly" and cron expressions are accepted; anything that
// does not parse is treated as daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@daily", "":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return now.Sub(*last) >= 24*time.Hour
	}
	return !expr.Next(*last).After(now)
}
