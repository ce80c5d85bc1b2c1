package tracker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultUsers seeds the user store when it is empty on startup.
var DefaultUsers = []UserConfig{
	{ID: "david", Wallets: []string{"rJtj42u8QPQWcPiwF3B8sNPb2GMo9gmNub"}},
}

type SchedulerConfig struct {
	// Period is the target cycle length; the inter-cycle sleep is the
	// period minus the time the cycle took, floored at zero.
	Period time.Duration
	// RefreshInterval bounds how stale the user configuration may get.
	RefreshInterval time.Duration
}

// Scheduler drives the collection loop: refresh users, poll every wallet,
// reconcile the open book, sleep out the remainder of the period. It is
// single-threaded; the ledger calls and the sleeps are the only places it
// blocks.
type Scheduler struct {
	poller     *Poller
	reconciler *Reconciler
	store      Store
	cfg        SchedulerConfig
	log        *zap.Logger

	// OnCycle, when set, observes the completed cycle's counters.
	OnCycle func(*CycleStats)

	users       []UserConfig
	lastRefresh time.Time

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewScheduler(poller *Poller, reconciler *Reconciler, store Store, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	return &Scheduler{
		poller:     poller,
		reconciler: reconciler,
		store:      store,
		cfg:        cfg,
		log:        log.Named("scheduler"),
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Run executes cycles until the context is canceled. Cancellation is a
// clean stop and returns nil; an invariant violation terminates with the
// error.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.loadUsers(ctx); err != nil {
		return err
	}
	for {
		start := s.now()
		stats := &CycleStats{}
		err := s.runCycle(ctx, stats)
		stats.Duration = s.now().Sub(start)
		s.log.Info("cycle complete", stats.Fields()...)
		if s.OnCycle != nil {
			s.OnCycle(stats)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		rest := s.cfg.Period - stats.Duration
		if rest < 0 {
			rest = 0
		}
		if err := s.sleep(ctx, rest); err != nil {
			return nil
		}
	}
}

// runCycle recovers per-user and per-cycle errors locally; only invariant
// violations escape.
func (s *Scheduler) runCycle(ctx context.Context, stats *CycleStats) error {
	if err := s.maybeRefreshUsers(ctx); err != nil {
		s.log.Error("user configuration refresh failed", zap.Error(err))
		stats.Errors++
	}
	for _, user := range s.users {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.poller.PollUser(ctx, user, stats); err != nil {
			if errors.Is(err, ErrInvariant) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("user processing failed",
				zap.String("user", user.ID), zap.Error(err))
			stats.Errors++
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := s.reconciler.Run(ctx, stats); err != nil {
		if errors.Is(err, ErrInvariant) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.Error("reconciliation failed", zap.Error(err))
		stats.Errors++
	}
	return nil
}

func (s *Scheduler) loadUsers(ctx context.Context) error {
	users, err := s.store.Users().GetUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		users = append([]UserConfig(nil), DefaultUsers...)
		if err := s.store.Users().PutUsers(ctx, users); err != nil {
			return err
		}
		s.log.Info("seeded default users", zap.Int("count", len(users)))
	}
	s.users = users
	s.lastRefresh = s.now()
	s.log.Info("user configuration loaded", zap.Int("users", len(users)))
	return nil
}

func (s *Scheduler) maybeRefreshUsers(ctx context.Context) error {
	if s.cfg.RefreshInterval <= 0 || s.now().Sub(s.lastRefresh) < s.cfg.RefreshInterval {
		return nil
	}
	users, err := s.store.Users().GetUsers(ctx)
	if err != nil {
		return err
	}
	// An emptied store between cycles keeps the last known set; users are
	// only ever replaced, never silently dropped to zero.
	if len(users) > 0 {
		s.users = users
	}
	s.lastRefresh = s.now()
	s.log.Debug("user configuration refreshed", zap.Int("users", len(s.users)))
	return nil
}
