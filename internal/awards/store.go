// Package awards is an in-process award and enabled-flag store for
// single-node deployments and tests.
package awards

import (
	"cmp"
	"context"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"userachievements/internal/achievements"
)

type key struct {
	userID        int64
	achievementID string
	level         int
}

type Store struct {
	mu      sync.Mutex
	awards  map[key]achievements.Award
	enabled map[string]bool
}

func NewStore() *Store {
	return &Store{
		awards:  make(map[key]achievements.Award),
		enabled: make(map[string]bool),
	}
}

func keyOf(a achievements.Award) key {
	return key{a.UserID, a.AchievementID, a.Level}
}

func (s *Store) UpsertAward(_ context.Context, a achievements.Award) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(a)
	if cur, ok := s.awards[k]; ok {
		if cur.AchievedTime.Equal(a.AchievedTime) && cur.AwardedBy == a.AwardedBy {
			return false, nil
		}
		cur.AchievedTime = a.AchievedTime
		cur.AwardedBy = a.AwardedBy
		s.awards[k] = cur
		return true, nil
	}
	s.awards[k] = a
	return true, nil
}

func (s *Store) HasAward(_ context.Context, userID int64, achievementID string, level int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.awards[key{userID, achievementID, level}]
	return ok && !a.AchievedTime.IsZero(), nil
}

func (s *Store) MaxAchievedLevel(_ context.Context, userID int64, achievementID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxLevel := 0
	for k, a := range s.awards {
		if k.userID == userID && k.achievementID == achievementID && !a.AchievedTime.IsZero() {
			maxLevel = max(maxLevel, k.level)
		}
	}
	return maxLevel, nil
}

func (s *Store) PurgeAwards(_ context.Context, achievementID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.awards {
		if k.achievementID == achievementID {
			delete(s.awards, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListAwards(_ context.Context, achievementID string, level, limit int) ([]achievements.Award, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []achievements.Award
	for k, a := range s.awards {
		if k.achievementID == achievementID && k.level == level && !a.AchievedTime.IsZero() {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(x, y achievements.Award) int {
		if c := x.AchievedTime.Compare(y.AchievedTime); c != 0 {
			return c
		}
		return cmp.Compare(x.UserID, y.UserID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UserAwards(_ context.Context, userID int64) ([]achievements.Award, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []achievements.Award
	for k, a := range s.awards {
		if k.userID == userID && !a.AchievedTime.IsZero() {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(x, y achievements.Award) int {
		if c := strings.Compare(x.AchievementID, y.AchievementID); c != 0 {
			return c
		}
		return cmp.Compare(x.Level, y.Level)
	})
	return out, nil
}

func (s *Store) MarkNotified(_ context.Context, userID int64, achievementID string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{userID, achievementID, level}
	if a, ok := s.awards[k]; ok {
		a.Notified = true
		s.awards[k] = a
	}
	return nil
}

// All returns every stored award ordered by user, achievement and level.
func (s *Store) All() []achievements.Award {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]achievements.Award, 0, len(s.awards))
	for _, a := range s.awards {
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y achievements.Award) int {
		if x.UserID != y.UserID {
			return cmp.Compare(x.UserID, y.UserID)
		}
		if c := strings.Compare(x.AchievementID, y.AchievementID); c != 0 {
			return c
		}
		return cmp.Compare(x.Level, y.Level)
	})
	return out
}

func (s *Store) EnabledFlags(context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.enabled))
	for id, on := range s.enabled {
		out[id] = on
	}
	return out, nil
}

func (s *Store) SetEnabled(_ context.Context, achievementID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[achievementID] = enabled
	return nil
}
