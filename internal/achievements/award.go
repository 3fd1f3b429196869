package achievements

import (
	"context"
	"time"
)

// Award is a persisted (user, achievement, level) badge.
type Award struct {
	UserID        int64     `db:"user_id"`
	AchievementID string    `db:"achievement_id"`
	Level         int       `db:"level"`
	AchievedTime  time.Time `db:"achieved_time"`
	// AwardedBy is the admin who granted a manual award; 0 otherwise.
	AwardedBy int64 `db:"awarded_by_user_id"`
	Notified  bool  `db:"notified"`
}

// AwardStore persists awards keyed by (user, achievement, level).
type AwardStore interface {
	// UpsertAward inserts the award or updates achieved time and awarder of
	// the existing row. changed reports whether the stored row was modified.
	UpsertAward(ctx context.Context, a Award) (changed bool, err error)
	HasAward(ctx context.Context, userID int64, achievementID string, level int) (bool, error)
	// MaxAchievedLevel returns 0 when the user holds no level.
	MaxAchievedLevel(ctx context.Context, userID int64, achievementID string) (int, error)
	PurgeAwards(ctx context.Context, achievementID string) (int64, error)
	// ListAwards returns awards of one level ordered by achieved time;
	// limit 0 means all.
	ListAwards(ctx context.Context, achievementID string, level, limit int) ([]Award, error)
	UserAwards(ctx context.Context, userID int64) ([]Award, error)
	MarkNotified(ctx context.Context, userID int64, achievementID string, level int) error
}

// EnabledStore persists the admin-controlled enabled flag per achievement.
type EnabledStore interface {
	EnabledFlags(ctx context.Context) (map[string]bool, error)
	SetEnabled(ctx context.Context, achievementID string, enabled bool) error
}

// Observer is notified of evaluations and first-time awards.
type Observer interface {
	Evaluated(achievementID string)
	Awarded(a Award)
}

type observers []Observer

func (o observers) Evaluated(id string) {
	for _, ob := range o {
		ob.Evaluated(id)
	}
}

func (o observers) Awarded(a Award) {
	for _, ob := range o {
		ob.Awarded(a)
	}
}

// Observers combines several observers into one.
func Observers(list ...Observer) Observer {
	var out observers
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}
