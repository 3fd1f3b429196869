// Package engine is the host-facing entry point to achievements: evaluation
// on user actions, admin operations and badge listings.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"userachievements/internal/achievements"
	"userachievements/internal/events"
	"userachievements/internal/rebuild"
)

// Store is the persistence the engine needs beyond what achievements use.
type Store interface {
	achievements.AwardStore
	achievements.EnabledStore
}

type Options struct {
	Registry *achievements.Registry
	Store    Store
	Admins   achievements.Admins
	Rebuild  *rebuild.Coordinator
	// Messages resolves display names used for ordering badges.
	Messages achievements.Messages
	Log      *zap.Logger
}

type Engine struct {
	registry *achievements.Registry
	store    Store
	admins   achievements.Admins
	rebuild  *rebuild.Coordinator
	msgs     achievements.Messages
	log      *zap.Logger
}

func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Admins == nil {
		opts.Admins = achievements.AdminSet(nil)
	}
	if opts.Rebuild == nil {
		opts.Rebuild = rebuild.NewCoordinator(opts.Registry, noUsers{}, opts.Store, rebuild.Config{})
	}
	return &Engine{
		registry: opts.Registry,
		store:    opts.Store,
		admins:   opts.Admins,
		rebuild:  opts.Rebuild,
		msgs:     opts.Messages,
		log:      opts.Log,
	}
}

type noUsers struct{}

func (noUsers) ListUsers(context.Context, int64, int) ([]achievements.User, error) {
	return nil, nil
}

func (e *Engine) Registry() *achievements.Registry {
	return e.registry
}

// TryAchieve evaluates one achievement for u.
func (e *Engine) TryAchieve(ctx context.Context, u achievements.User, id string) error {
	a, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	return a.TryAchieve(ctx, achievements.NewSession(u), u)
}

// TryAchieveAll evaluates every enabled achievement for u. A failing
// achievement does not stop the others.
func (e *Engine) TryAchieveAll(ctx context.Context, u achievements.User) error {
	return e.tryEach(ctx, u, e.registry.All())
}

// OnUserAction evaluates the enabled achievements subscribed to the host
// action kind.
func (e *Engine) OnUserAction(ctx context.Context, u achievements.User, kind string) error {
	return e.tryEach(ctx, u, e.registry.ForTrigger(kind))
}

func (e *Engine) tryEach(ctx context.Context, u achievements.User, list []*achievements.Achievement) error {
	s := achievements.NewSession(u)
	var result *multierror.Error
	for _, a := range list {
		if !a.Enabled() {
			continue
		}
		if err := a.TryAchieve(ctx, s, u); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Listen feeds bus actions into OnUserAction until ctx is done or the bus is
// closed. Evaluation failures are logged and do not stop the loop.
func (e *Engine) Listen(ctx context.Context, bus *events.Bus) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case action, ok := <-bus.UserActions:
			if !ok {
				return nil
			}
			if err := e.OnUserAction(ctx, action.User, action.Kind); err != nil {
				e.log.Warn("evaluating user action",
					zap.Int64("user_id", action.User.ID),
					zap.String("action", action.Kind),
					zap.Error(err),
				)
			}
		}
	}
}

// requireAdmin passes trusted sessions (achievements.NewSystemSession) and
// sessions whose actor is an admin.
func (e *Engine) requireAdmin(ctx context.Context, s *achievements.Session, op string) error {
	if s == nil {
		return achievements.NewError(achievements.CodePermissionDenied, nil, "anonymous caller may not %s", op)
	}
	if s.Trusted() {
		return nil
	}
	actor := s.Actor
	ok, err := e.admins.IsAdmin(ctx, actor)
	if err != nil {
		return fmt.Errorf("checking admin %d: %w", actor.ID, err)
	}
	if !ok {
		return achievements.NewError(achievements.CodePermissionDenied, nil, "user %d may not %s", actor.ID, op)
	}
	return nil
}

// RebuildAchievement re-evaluates all users for id, or every enabled
// achievement for achievements.Wildcard.
func (e *Engine) RebuildAchievement(ctx context.Context, s *achievements.Session, id string) (rebuild.Report, error) {
	if err := e.requireAdmin(ctx, s, "rebuild achievements"); err != nil {
		return rebuild.Report{}, err
	}
	return e.rebuild.Rebuild(ctx, id)
}

// PurgeUserBadges deletes every award of id, or of all achievements for
// achievements.Wildcard.
func (e *Engine) PurgeUserBadges(ctx context.Context, s *achievements.Session, id string) (int64, error) {
	if err := e.requireAdmin(ctx, s, "purge badges"); err != nil {
		return 0, err
	}
	return e.rebuild.Purge(ctx, id)
}

// SetEnabled persists the flag and applies it to the running registry.
func (e *Engine) SetEnabled(ctx context.Context, s *achievements.Session, id string, enabled bool) error {
	if err := e.requireAdmin(ctx, s, "change achievements"); err != nil {
		return err
	}
	a, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if err := e.store.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	a.SetEnabled(enabled)
	e.log.Info("achievement enabled flag changed",
		zap.String("achievement", id),
		zap.Bool("enabled", enabled),
		zap.Int64("by", s.Actor.ID),
	)
	return nil
}

// Award grants a level manually. Only admins may award, and the award
// records who granted it.
func (e *Engine) Award(ctx context.Context, s *achievements.Session, u achievements.User, id string, level int) (bool, error) {
	if err := e.requireAdmin(ctx, s, "award badges"); err != nil {
		return false, err
	}
	a, err := e.registry.Get(id)
	if err != nil {
		return false, err
	}
	if s.Trusted() {
		return a.Achieve(ctx, s, u, level, time.Time{}, nil)
	}
	return a.Achieve(ctx, s, u, level, time.Time{}, &s.Actor)
}

func (e *Engine) GetMaxAchievedLevel(ctx context.Context, u achievements.User, id string) (int, error) {
	a, err := e.registry.Get(id)
	if err != nil {
		return 0, err
	}
	return a.MaxAchievedLevel(ctx, u)
}

// MarkNotified records that the host told u about a badge.
func (e *Engine) MarkNotified(ctx context.Context, u achievements.User, id string, level int) error {
	if _, err := e.registry.Get(id); err != nil {
		return err
	}
	return e.store.MarkNotified(ctx, u.ID, id, level)
}

// UserBadge is a badge held by a user.
type UserBadge struct {
	Badge *achievements.Badge
	Award achievements.Award
}

func (b UserBadge) Achievement() *achievements.Achievement {
	return b.Badge.Achievement()
}

// GetUserBadges lists u's badges ordered by achievement priority (highest
// first), achievement name and level. With maxOnly only the highest level
// of each achievement is kept. Awards of achievements no longer defined are
// skipped.
func (e *Engine) GetUserBadges(ctx context.Context, u achievements.User, maxOnly bool) ([]UserBadge, error) {
	if !u.IsRegistered() {
		return nil, nil
	}
	awards, err := e.store.UserAwards(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	var out []UserBadge
	for _, aw := range awards {
		a, err := e.registry.Get(aw.AchievementID)
		if err != nil {
			continue
		}
		b, ok := a.Badge(aw.Level)
		if !ok {
			continue
		}
		out = append(out, UserBadge{Badge: b, Award: aw})
	}

	slices.SortStableFunc(out, func(x, y UserBadge) int {
		ax, ay := x.Achievement(), y.Achievement()
		if ax.Priority() != ay.Priority() {
			return ay.Priority() - ax.Priority()
		}
		if c := strings.Compare(ax.Name(e.msgs), ay.Name(e.msgs)); c != 0 {
			return c
		}
		if c := strings.Compare(ax.ID(), ay.ID()); c != 0 {
			return c
		}
		return x.Badge.Level() - y.Badge.Level()
	})

	if maxOnly {
		kept := out[:0]
		for i, b := range out {
			if i+1 < len(out) && out[i+1].Achievement() == b.Achievement() {
				continue
			}
			kept = append(kept, b)
		}
		out = kept
	}
	return out, nil
}

// VisibleAchievements lists the enabled achievements u may see. Secret ones
// stay hidden until u holds any level.
func (e *Engine) VisibleAchievements(ctx context.Context, u achievements.User) ([]*achievements.Achievement, error) {
	held := make(map[string]int)
	if u.IsRegistered() {
		awards, err := e.store.UserAwards(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		for _, aw := range awards {
			held[aw.AchievementID] = max(held[aw.AchievementID], aw.Level)
		}
	}

	var out []*achievements.Achievement
	for _, a := range e.registry.All() {
		if a.Enabled() && a.VisibleTo(held[a.ID()]) {
			out = append(out, a)
		}
	}
	return out, nil
}
