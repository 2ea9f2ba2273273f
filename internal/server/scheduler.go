package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/friendlyhq/friendly/config"
	"github.com/friendlyhq/friendly/internal/store"
)

const retentionLockKey = "sched:lock:retention"

// Scheduler periodically marks conversations idle past the configured window
// as ended. A redis SetNX lock keeps multiple instances from sweeping at once.
type Scheduler struct {
	Store   *store.Store
	Rdb     *redis.Client
	Cfg     config.RetentionConfig
	Stop    chan struct{}
	Logger  *log.Logger
	lastRun time.Time
}

func NewScheduler(st *store.Store, rdb *redis.Client, cfg config.RetentionConfig, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{Store: st, Rdb: rdb, Cfg: cfg, Stop: make(chan struct{}), Logger: logger}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				now := time.Now()
				if !s.due(now) {
					continue
				}
				s.lastRun = now
				s.tick(context.Background(), now)
			}
		}
	}()
}

// due evaluates the cron spec against the last sweep time. An invalid spec
// falls back to hourly.
func (s *Scheduler) due(now time.Time) bool {
	if s.lastRun.IsZero() {
		return true
	}
	expr, err := cronexpr.Parse(s.Cfg.CronSpec)
	if err != nil {
		return now.Sub(s.lastRun) >= time.Hour
	}
	return !expr.Next(s.lastRun).After(now)
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, retentionLockKey, "1", 2*time.Minute).Result()
		if err != nil || !ok {
			return
		}
		defer s.Rdb.Del(ctx, retentionLockKey)
	}
	if n, err := s.Sweep(ctx, now); err != nil {
		s.Logger.Printf("retention sweep: %v", err)
	} else if n > 0 {
		s.Logger.Printf("retention sweep ended %d idle conversations", n)
	}
}

// Sweep ends every conversation whose last activity is older than the idle
// window and returns how many it ended.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.Cfg.IdleFor)
	ids, err := s.Store.ListIdleConversationIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.Store.EndConversations(ctx, ids, now); err != nil {
		return 0, err
	}
	return len(ids), nil
}
