package achievements

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"userachievements/internal/editquery"
	"userachievements/internal/stats"
)

// Env holds the collaborators shared by every achievement.
type Env struct {
	Store       AwardStore
	Source      editquery.StatsSource
	Builder     editquery.Builder
	Eligibility Eligibility
	Admins      Admins
	Clock       clockwork.Clock
	// Log receives the award audit trail.
	Log      *zap.Logger
	Observer Observer
	// Installed is when the wiki was installed, usually the earliest user
	// registration.
	Installed              time.Time
	NamespaceContentModels map[int]string
	DefaultColor           string
}

func (e *Env) init() {
	if e.Clock == nil {
		e.Clock = clockwork.NewRealClock()
	}
	if e.Log == nil {
		e.Log = zap.NewNop()
	}
	if e.Eligibility == nil {
		e.Eligibility = DefaultEligibility{}
	}
	if e.Admins == nil {
		e.Admins = AdminSet(nil)
	}
	if e.Observer == nil {
		e.Observer = Observers()
	}
	if len(e.Builder.ContentNamespaces) == 0 {
		e.Builder = editquery.NewBuilder(nil)
	}
}

// Session is the scope of one top-level entry point: the acting principal
// and the stats memoized for it. Start a new Session per request or per
// rebuild unit.
type Session struct {
	Actor   User
	Stats   *stats.Cache
	trusted bool
}

func NewSession(actor User) *Session {
	return &Session{Actor: actor, Stats: stats.NewCache()}
}

// NewSystemSession is a session for maintenance jobs, which may act on
// behalf of any user.
func NewSystemSession() *Session {
	return &Session{Actor: User{Name: "Maintenance script", System: true}, Stats: stats.NewCache(), trusted: true}
}

// Trusted reports whether the session may act for any user without an admin
// check.
func (s *Session) Trusted() bool {
	return s.trusted
}

// Achievement is a multi-level goal built from a Definition.
type Achievement struct {
	def     Definition
	kind    Kind
	env     *Env
	levels  int
	badges  []*Badge
	enabled atomic.Bool
}

// New builds an achievement. env is shared and must outlive it.
func New(def Definition, env *Env) (*Achievement, error) {
	if err := def.Normalize(); err != nil {
		return nil, err
	}
	kind, err := kindOf(def)
	if err != nil {
		return nil, err
	}
	if env.Store == nil {
		return nil, NewError(CodeConfig, nil, "achievement %q: no award store", def.ID)
	}
	env.init()

	a := &Achievement{def: def, kind: kind, env: env, levels: def.Levels}
	if lc, ok := kind.(LevelCounter); ok {
		a.levels = lc.Levels(a)
	}
	if a.levels < 1 || a.levels < len(def.Badges) {
		return nil, NewError(CodeConfig, nil, "achievement %q: %d levels cannot hold %d badges", def.ID, a.levels, len(def.Badges))
	}

	a.badges = make([]*Badge, a.levels)
	for i := range a.badges {
		var bd BadgeDefinition
		if i < len(def.Badges) {
			bd = def.Badges[i]
		}
		a.badges[i] = &Badge{achievement: a, level: i + 1, def: bd}
	}
	a.enabled.Store(def.Enabled)
	return a, nil
}

func (a *Achievement) ID() string {
	return a.def.ID
}

func (a *Achievement) Kind() string {
	return a.kind.Name()
}

func (a *Achievement) Levels() int {
	return a.levels
}

func (a *Achievement) Priority() int {
	return a.def.Priority
}

func (a *Achievement) IsSecret() bool {
	return a.def.Secret
}

func (a *Achievement) Triggers() []string {
	return a.def.Triggers
}

func (a *Achievement) Config() Config {
	return a.def.Config
}

func (a *Achievement) Enabled() bool {
	return a.enabled.Load()
}

func (a *Achievement) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
}

// Badge returns the badge for a 1-indexed level.
func (a *Achievement) Badge(level int) (*Badge, bool) {
	if level < 1 || level > len(a.badges) {
		return nil, false
	}
	return a.badges[level-1], true
}

func (a *Achievement) Badges() []*Badge {
	out := make([]*Badge, len(a.badges))
	copy(out, a.badges)
	return out
}

// Stats returns the recognized stats and their defaults.
func (a *Achievement) Stats() map[string]int64 {
	out := maps.Clone(a.def.Stats)
	if out == nil {
		out = make(map[string]int64)
	}
	if sk, ok := a.kind.(statKind); ok && sk.Stat() != "" {
		if _, set := out[sk.Stat()]; !set {
			out[sk.Stat()] = 0
		}
	}
	return out
}

// VisibleTo reports whether a user holding maxLevel of this achievement may
// see it.
func (a *Achievement) VisibleTo(maxLevel int) bool {
	return !a.def.Secret || maxLevel > 0
}

func (a *Achievement) MsgKeyPrefix() string {
	return "userachievements-" + strings.ToLower(a.def.ID)
}

func (a *Achievement) Name(msgs Messages) string {
	return resolve(msgs, []string{a.MsgKeyPrefix() + "-name"}, a.def.Name, a.def.ID)
}

func (a *Achievement) Description(msgs Messages) string {
	return resolve(msgs, []string{a.MsgKeyPrefix() + "-desc"}, a.def.Description)
}

func (a *Achievement) StatName(stat string, msgs Messages) string {
	return resolve(msgs, []string{a.MsgKeyPrefix() + "-stat-" + strings.ToLower(stat) + "-name"}, stat)
}

func (a *Achievement) Color() string {
	if a.def.Color != "" {
		return a.def.Color
	}
	return a.env.DefaultColor
}

// UserStats gathers u's stats, memoized in the session. Anonymous users get
// the defaults.
func (a *Achievement) UserStats(ctx context.Context, s *Session, u User) (*stats.UserStats, error) {
	if !u.IsRegistered() {
		return stats.New(0, a.Stats()), nil
	}
	if s != nil && s.Stats != nil {
		if us, ok := s.Stats.Get(a.ID(), u.ID); ok {
			return us, nil
		}
	}

	us := stats.New(u.ID, a.Stats())
	if g, ok := a.kind.(StatsGatherer); ok {
		if err := g.GatherStats(ctx, a, u, us); err != nil {
			return nil, fmt.Errorf("gathering %s stats for user %d: %w", a.ID(), u.ID, err)
		}
	}
	// An unset value counts the recorded events.
	for _, stat := range us.Names() {
		if us.Value(stat) == 0 {
			us.SetValue(stat, us.EventCount(stat))
		}
	}

	if s != nil && s.Stats != nil {
		s.Stats.Put(a.ID(), us)
	}
	return us, nil
}

// TryAchieve awards every level u has newly earned. Disabled achievements
// and ineligible users are a no-op.
func (a *Achievement) TryAchieve(ctx context.Context, s *Session, u User) error {
	if !a.Enabled() || !a.env.Eligibility.IsEligible(u) {
		return nil
	}
	if s == nil {
		s = NewSession(u)
	}

	a.env.Log.Debug("try achieve",
		zap.String("user", u.Name),
		zap.Int64("user_id", u.ID),
		zap.String("achievement", a.ID()),
	)
	a.env.Observer.Evaluated(a.ID())

	if ev, ok := a.kind.(Evaluator); ok {
		return ev.Evaluate(ctx, s, a, u)
	}
	return a.scanLevels(ctx, s, u)
}

// scanLevels checks levels in ascending order from the next unachieved one
// and stops at the first level whose thresholds are not all met.
func (a *Achievement) scanLevels(ctx context.Context, s *Session, u User) error {
	us, err := a.UserStats(ctx, s, u)
	if err != nil {
		return err
	}
	maxLevel, err := a.env.Store.MaxAchievedLevel(ctx, u.ID, a.ID())
	if err != nil {
		return fmt.Errorf("loading max level of %s for user %d: %w", a.ID(), u.ID, err)
	}

	for level := maxLevel + 1; level <= a.levels; level++ {
		required := a.badges[level-1].def.RequiredStats
		if len(required) == 0 {
			// Manual-only level.
			continue
		}
		t, met := thresholdTime(us, required)
		if !met {
			break
		}
		if _, err := a.Achieve(ctx, s, u, level, t, nil); err != nil {
			return err
		}
	}
	return nil
}

// thresholdTime reports whether every threshold is met and, if so, the
// latest of the times each was crossed. The time is zero when no event
// times are known.
func thresholdTime(us *stats.UserStats, required map[string]int64) (time.Time, bool) {
	var latest time.Time
	for stat, threshold := range required {
		if us.Value(stat) < threshold {
			return time.Time{}, false
		}
		if t, ok := us.EventTime(stat, threshold); ok && t.After(latest) {
			latest = t
		}
	}
	return latest, true
}

// Achieve persists level for u at time t (now when zero). It reports whether
// u holds the level afterwards. Ineligible users are refused without error.
// awardedBy is recorded only when it is an admin.
func (a *Achievement) Achieve(ctx context.Context, s *Session, u User, level int, t time.Time, awardedBy *User) (bool, error) {
	if !a.env.Eligibility.IsEligible(u) {
		return false, nil
	}
	if s == nil {
		s = NewSession(u)
	}
	if err := a.checkActor(ctx, s, u); err != nil {
		return false, err
	}
	if _, ok := a.Badge(level); !ok {
		return false, NewError(CodeInvalidLevel, nil, "%s has no level %d", a.ID(), level)
	}

	has, err := a.env.Store.HasAward(ctx, u.ID, a.ID(), level)
	if err != nil {
		return false, fmt.Errorf("checking %s level %d for user %d: %w", a.ID(), level, u.ID, err)
	}
	if has {
		return true, nil
	}

	if t.IsZero() {
		t = a.env.Clock.Now()
	}
	award := Award{
		UserID:        u.ID,
		AchievementID: a.ID(),
		Level:         level,
		AchievedTime:  t.UTC().Truncate(time.Second),
	}
	if awardedBy != nil && awardedBy.IsRegistered() {
		admin, err := a.env.Admins.IsAdmin(ctx, *awardedBy)
		if err != nil {
			return false, fmt.Errorf("checking awarder %d: %w", awardedBy.ID, err)
		}
		if admin {
			award.AwardedBy = awardedBy.ID
		}
	}

	changed, err := a.env.Store.UpsertAward(ctx, award)
	if err != nil {
		return false, fmt.Errorf("awarding %s level %d to user %d: %w", a.ID(), level, u.ID, err)
	}
	if changed {
		a.env.Log.Info("badge achieved",
			zap.String("user", u.Name),
			zap.Int64("user_id", u.ID),
			zap.String("achievement", a.ID()),
			zap.Int("badge_level", level),
			zap.Time("achieved_time", award.AchievedTime),
			zap.Int64("awarded_by", award.AwardedBy),
		)
		a.env.Observer.Awarded(award)
	}
	return true, nil
}

func (a *Achievement) checkActor(ctx context.Context, s *Session, u User) error {
	if s.trusted || (s.Actor.IsRegistered() && s.Actor.ID == u.ID) {
		return nil
	}
	admin, err := a.env.Admins.IsAdmin(ctx, s.Actor)
	if err != nil {
		return fmt.Errorf("checking admin %d: %w", s.Actor.ID, err)
	}
	if !admin {
		return NewError(CodePermissionDenied, nil, "user %d may not award %s to user %d", s.Actor.ID, a.ID(), u.ID)
	}
	return nil
}

// MaxAchievedLevel returns the highest level u holds, 0 when none.
func (a *Achievement) MaxAchievedLevel(ctx context.Context, u User) (int, error) {
	if !u.IsRegistered() {
		return 0, nil
	}
	return a.env.Store.MaxAchievedLevel(ctx, u.ID, a.ID())
}

// HasAchieved reports whether u holds level.
func (a *Achievement) HasAchieved(ctx context.Context, u User, level int) (bool, error) {
	if !u.IsRegistered() {
		return false, nil
	}
	return a.env.Store.HasAward(ctx, u.ID, a.ID(), level)
}
