// Package rebuild reconciles stored awards with achievement definitions by
// re-evaluating every user.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"userachievements/internal/achievements"
)

// UserLister enumerates users in id order, afterID exclusive.
type UserLister interface {
	ListUsers(ctx context.Context, afterID int64, limit int) ([]achievements.User, error)
}

// Observer is told about every finished achievement rebuild.
type Observer interface {
	RebuildFinished(r AchievementResult)
}

type Config struct {
	Workers   int
	BatchSize int
	LockTTL   time.Duration
}

type Coordinator struct {
	registry *achievements.Registry
	users    UserLister
	store    achievements.AwardStore
	locker   Locker
	clock    clockwork.Clock
	log      *zap.Logger
	observer Observer
	cfg      Config
}

type Option func(*Coordinator)

func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

func NewCoordinator(registry *achievements.Registry, users UserLister, store achievements.AwardStore, cfg Config, opts ...Option) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	c := &Coordinator{
		registry: registry,
		users:    users,
		store:    store,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.locker == nil {
		c.locker = NewLocalLocker()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// UserFailure is one user whose evaluation failed.
type UserFailure struct {
	UserID int64
	Err    error
}

type AchievementResult struct {
	AchievementID string
	// Skipped is set for a disabled achievement named explicitly.
	Skipped  bool
	Users    int
	Failures []UserFailure
	// Err is a failure of the run itself: a held lock, a broken user
	// enumeration or cancellation.
	Err      error
	Duration time.Duration
}

// OK reports whether every user was evaluated without error.
func (r AchievementResult) OK() bool {
	return r.Err == nil && len(r.Failures) == 0
}

type Report struct {
	RunID   string
	Results []AchievementResult
}

// Failures returns the user failures of every achievement.
func (r Report) Failures() []UserFailure {
	var out []UserFailure
	for _, res := range r.Results {
		out = append(out, res.Failures...)
	}
	return out
}

// Err combines every run and user failure, nil when there were none.
func (r Report) Err() error {
	var result *multierror.Error
	for _, res := range r.Results {
		if res.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", res.AchievementID, res.Err))
		}
		for _, f := range res.Failures {
			result = multierror.Append(result, fmt.Errorf("%s: user %d: %w", res.AchievementID, f.UserID, f.Err))
		}
	}
	return result.ErrorOrNil()
}

// Rebuild re-evaluates every user against the achievement with the given id,
// or against every enabled achievement for achievements.Wildcard. User
// failures are collected in the report and never stop the batch. The
// returned error covers run failures only.
func (c *Coordinator) Rebuild(ctx context.Context, id string) (Report, error) {
	targets, err := c.registry.Select(id)
	if err != nil {
		return Report{}, err
	}

	report := Report{RunID: uuid.NewString()}
	log := c.log.With(zap.String("run_id", report.RunID))
	var runErr *multierror.Error
	for _, a := range targets {
		if !a.Enabled() {
			if id != achievements.Wildcard {
				log.Info("achievement disabled, skipping rebuild", zap.String("achievement", a.ID()))
				report.Results = append(report.Results, AchievementResult{AchievementID: a.ID(), Skipped: true})
			}
			continue
		}
		if ctx.Err() != nil {
			runErr = multierror.Append(runErr, ctx.Err())
			break
		}

		res := c.rebuildOne(ctx, log, a)
		report.Results = append(report.Results, res)
		if res.Err != nil {
			runErr = multierror.Append(runErr, fmt.Errorf("rebuilding %s: %w", a.ID(), res.Err))
		}
		if c.observer != nil {
			c.observer.RebuildFinished(res)
		}
	}
	return report, runErr.ErrorOrNil()
}

// tryUser evaluates one user, turning a panic into that user's failure.
func tryUser(ctx context.Context, a *achievements.Achievement, u achievements.User) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluating user %d panicked: %v", u.ID, r)
		}
	}()
	return a.TryAchieve(ctx, achievements.NewSystemSession(), u)
}

func (c *Coordinator) rebuildOne(ctx context.Context, log *zap.Logger, a *achievements.Achievement) AchievementResult {
	start := c.clock.Now()
	res := AchievementResult{AchievementID: a.ID()}
	log = log.With(zap.String("achievement", a.ID()))

	unlock, err := c.locker.Lock(ctx, lockKey(a.ID()), c.cfg.LockTTL)
	if err != nil {
		res.Err = err
		return res
	}
	defer unlock(context.WithoutCancel(ctx))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.cfg.Workers)

	evaluate := func(u achievements.User) {
		// A started user always finishes; cancellation applies between users.
		if ctx.Err() != nil {
			return
		}
		err := tryUser(context.WithoutCancel(ctx), a, u)

		mu.Lock()
		defer mu.Unlock()
		res.Users++
		if err != nil {
			log.Warn("rebuild failed for user",
				zap.Int64("user_id", u.ID),
				zap.Error(err),
			)
			res.Failures = append(res.Failures, UserFailure{UserID: u.ID, Err: err})
		}
	}

	var after int64
enumerate:
	for {
		if ctx.Err() != nil {
			break
		}
		users, err := c.users.ListUsers(ctx, after, c.cfg.BatchSize)
		if err != nil {
			res.Err = fmt.Errorf("listing users after %d: %w", after, err)
			break
		}
		for _, u := range users {
			if ctx.Err() != nil {
				break enumerate
			}
			u := u
			g.Go(func() error {
				evaluate(u)
				return nil
			})
		}
		if len(users) < c.cfg.BatchSize {
			break
		}
		after = users[len(users)-1].ID
	}
	g.Wait()

	if res.Err == nil && ctx.Err() != nil {
		res.Err = ctx.Err()
	}
	res.Duration = c.clock.Since(start)

	log.Info("rebuild finished",
		zap.Int("users", res.Users),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("duration", res.Duration),
		zap.Bool("interrupted", errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)),
	)
	return res
}

// Purge deletes every award of the achievement with the given id, or of all
// achievements for achievements.Wildcard, and returns the number removed.
func (c *Coordinator) Purge(ctx context.Context, id string) (int64, error) {
	targets, err := c.registry.Select(id)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, a := range targets {
		n, err := c.purgeOne(ctx, a)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *Coordinator) purgeOne(ctx context.Context, a *achievements.Achievement) (int64, error) {
	unlock, err := c.locker.Lock(ctx, lockKey(a.ID()), c.cfg.LockTTL)
	if err != nil {
		return 0, err
	}
	defer unlock(context.WithoutCancel(ctx))

	n, err := c.store.PurgeAwards(ctx, a.ID())
	if err != nil {
		return 0, fmt.Errorf("purging %s: %w", a.ID(), err)
	}
	c.log.Info("awards purged", zap.String("achievement", a.ID()), zap.Int64("count", n))
	return n, nil
}
