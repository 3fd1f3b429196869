package db

import (
	"context"
	"fmt"

	"userachievements/internal/achievements"
)

type awardRow struct {
	UserID        int64     `db:"user_id"`
	AchievementID string    `db:"achievement_id"`
	Level         int       `db:"level"`
	AchievedTime  Timestamp `db:"achieved_time"`
	AwardedBy     int64     `db:"awarded_by_user_id"`
	Notified      bool      `db:"notified"`
}

func (r awardRow) award() achievements.Award {
	return achievements.Award{
		UserID:        r.UserID,
		AchievementID: r.AchievementID,
		Level:         r.Level,
		AchievedTime:  r.AchievedTime.Time,
		AwardedBy:     r.AwardedBy,
		Notified:      r.Notified,
	}
}

const awardColumns = `user_id, achievement_id, level, achieved_time, awarded_by_user_id, notified`

func (d *DB) upsertAwardQuery() string {
	if d.dialect == MySQL {
		return `
			INSERT INTO userachievements_userbadges (user_id, achievement_id, level, achieved_time, awarded_by_user_id)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				achieved_time = VALUES(achieved_time),
				awarded_by_user_id = VALUES(awarded_by_user_id)
		`
	}
	return `
		INSERT INTO userachievements_userbadges (user_id, achievement_id, level, achieved_time, awarded_by_user_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, achievement_id, level) DO UPDATE
		SET achieved_time = excluded.achieved_time,
			awarded_by_user_id = excluded.awarded_by_user_id
		WHERE userachievements_userbadges.achieved_time IS NULL
			OR userachievements_userbadges.achieved_time <> excluded.achieved_time
			OR userachievements_userbadges.awarded_by_user_id <> excluded.awarded_by_user_id
	`
}

// UpsertAward merges the award on its (user, achievement, level) key in one
// statement. changed is true when a row was inserted or its values changed.
func (d *DB) UpsertAward(ctx context.Context, a achievements.Award) (bool, error) {
	query := d.conn.Rebind(d.upsertAwardQuery())
	var changed bool
	err := d.retry(ctx, "upsert award", func() error {
		res, err := d.conn.ExecContext(ctx, query,
			a.UserID, a.AchievementID, a.Level, formatTimestamp(a.AchievedTime), a.AwardedBy)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upserting award: %w", err)
	}
	return changed, nil
}

func (d *DB) HasAward(ctx context.Context, userID int64, achievementID string, level int) (bool, error) {
	var n int
	err := d.conn.GetContext(ctx, &n, d.conn.Rebind(`
		SELECT COUNT(*) FROM userachievements_userbadges
		WHERE user_id = ? AND achievement_id = ? AND level = ? AND achieved_time IS NOT NULL
	`), userID, achievementID, level)
	if err != nil {
		return false, fmt.Errorf("checking award: %w", err)
	}
	return n > 0, nil
}

func (d *DB) MaxAchievedLevel(ctx context.Context, userID int64, achievementID string) (int, error) {
	var level int
	err := d.conn.GetContext(ctx, &level, d.conn.Rebind(`
		SELECT COALESCE(MAX(level), 0) FROM userachievements_userbadges
		WHERE user_id = ? AND achievement_id = ? AND achieved_time IS NOT NULL
	`), userID, achievementID)
	if err != nil {
		return 0, fmt.Errorf("getting max achieved level: %w", err)
	}
	return level, nil
}

func (d *DB) PurgeAwards(ctx context.Context, achievementID string) (int64, error) {
	var n int64
	err := d.retry(ctx, "purge awards", func() error {
		res, err := d.conn.ExecContext(ctx, d.conn.Rebind(`
			DELETE FROM userachievements_userbadges WHERE achievement_id = ?
		`), achievementID)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purging awards: %w", err)
	}
	return n, nil
}

func (d *DB) ListAwards(ctx context.Context, achievementID string, level, limit int) ([]achievements.Award, error) {
	query := `SELECT ` + awardColumns + ` FROM userachievements_userbadges
		WHERE achievement_id = ? AND level = ? AND achieved_time IS NOT NULL
		ORDER BY achieved_time, user_id`
	args := []any{achievementID, level}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return d.selectAwards(ctx, "listing awards", query, args...)
}

func (d *DB) UserAwards(ctx context.Context, userID int64) ([]achievements.Award, error) {
	return d.selectAwards(ctx, "listing user awards", `
		SELECT `+awardColumns+` FROM userachievements_userbadges
		WHERE user_id = ? AND achieved_time IS NOT NULL
		ORDER BY achievement_id, level
	`, userID)
}

func (d *DB) selectAwards(ctx context.Context, op, query string, args ...any) ([]achievements.Award, error) {
	var rows []awardRow
	if err := d.conn.SelectContext(ctx, &rows, d.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]achievements.Award, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.award())
	}
	return out, nil
}

func (d *DB) MarkNotified(ctx context.Context, userID int64, achievementID string, level int) error {
	err := d.retry(ctx, "mark notified", func() error {
		_, err := d.conn.ExecContext(ctx, d.conn.Rebind(`
			UPDATE userachievements_userbadges SET notified = ?
			WHERE user_id = ? AND achievement_id = ? AND level = ?
		`), true, userID, achievementID, level)
		return err
	})
	if err != nil {
		return fmt.Errorf("marking award notified: %w", err)
	}
	return nil
}

func (d *DB) EnabledFlags(ctx context.Context) (map[string]bool, error) {
	var rows []struct {
		AchievementID string `db:"achievement_id"`
		Enabled       bool   `db:"enabled"`
	}
	if err := d.conn.SelectContext(ctx, &rows, `SELECT achievement_id, enabled FROM userachievements_achievements`); err != nil {
		return nil, fmt.Errorf("loading enabled flags: %w", err)
	}
	flags := make(map[string]bool, len(rows))
	for _, r := range rows {
		flags[r.AchievementID] = r.Enabled
	}
	return flags, nil
}

func (d *DB) SetEnabled(ctx context.Context, achievementID string, enabled bool) error {
	query := `
		INSERT INTO userachievements_achievements (achievement_id, enabled) VALUES (?, ?)
		ON CONFLICT (achievement_id) DO UPDATE SET enabled = excluded.enabled
	`
	if d.dialect == MySQL {
		query = `
			INSERT INTO userachievements_achievements (achievement_id, enabled) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE enabled = VALUES(enabled)
		`
	}
	err := d.retry(ctx, "set enabled", func() error {
		_, err := d.conn.ExecContext(ctx, d.conn.Rebind(query), achievementID, enabled)
		return err
	})
	if err != nil {
		return fmt.Errorf("setting enabled flag: %w", err)
	}
	return nil
}
