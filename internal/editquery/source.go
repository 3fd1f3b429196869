package editquery

import (
	"context"
	"fmt"
	"time"

	"userachievements/internal/stats"
)

// Row is one matched event: the grouping key (revision or page id) and the
// event time.
type Row struct {
	Key  int64
	Time time.Time
}

// StatsSource executes plans against the host's edit history.
type StatsSource interface {
	Query(ctx context.Context, p Plan) ([]Row, error)
}

// Collect executes every plan and adds the resulting event times to us.
// Rows for stats us does not recognize are dropped.
func Collect(ctx context.Context, src StatsSource, plans []Plan, us *stats.UserStats) error {
	for _, p := range plans {
		rows, err := src.Query(ctx, p)
		if err != nil {
			return fmt.Errorf("querying %s edits for %s: %w", p.Relation, p.Stat, err)
		}
		for _, r := range rows {
			us.AddEventTime(p.Stat, r.Time)
		}
	}
	return nil
}

// Earliest returns the earliest event time across all plans.
func Earliest(ctx context.Context, src StatsSource, plans []Plan) (time.Time, bool, error) {
	var first time.Time
	found := false
	for _, p := range plans {
		rows, err := src.Query(ctx, p)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("querying %s edits: %w", p.Relation, err)
		}
		for _, r := range rows {
			if !found || r.Time.Before(first) {
				first = r.Time
				found = true
			}
		}
	}
	return first, found, nil
}
