package stats

import (
	"time"

	"golang.org/x/exp/slices"
)

// UserStats accumulates named counters and their event timestamps for one
// user during a single evaluation. It is not safe for concurrent use.
type UserStats struct {
	userID int64
	values map[string]int64
	events map[string][]time.Time
	dirty  map[string]bool
}

// New creates a UserStats recognizing exactly the stats in defaults.
// A userID of 0 denotes an anonymous placeholder.
func New(userID int64, defaults map[string]int64) *UserStats {
	s := &UserStats{
		userID: userID,
		values: make(map[string]int64, len(defaults)),
		events: make(map[string][]time.Time, len(defaults)),
		dirty:  make(map[string]bool, len(defaults)),
	}
	for stat, v := range defaults {
		s.values[stat] = v
		s.events[stat] = nil
	}
	return s
}

func (s *UserStats) UserID() int64 {
	return s.userID
}

// Has reports whether stat is recognized.
func (s *UserStats) Has(stat string) bool {
	_, ok := s.values[stat]
	return ok
}

// Names returns the recognized stat names in lexical order.
func (s *UserStats) Names() []string {
	names := make([]string, 0, len(s.values))
	for stat := range s.values {
		names = append(names, stat)
	}
	slices.Sort(names)
	return names
}

// AddEventTime records an event for stat. Unknown stats are ignored and
// false is returned.
func (s *UserStats) AddEventTime(stat string, t time.Time) bool {
	if !s.Has(stat) {
		return false
	}
	s.events[stat] = append(s.events[stat], t)
	s.dirty[stat] = true
	return true
}

// EventTime returns the n-th (1-indexed) event of stat in ascending time
// order.
func (s *UserStats) EventTime(stat string, n int64) (time.Time, bool) {
	if !s.Has(stat) || n < 1 || n > int64(len(s.events[stat])) {
		return time.Time{}, false
	}
	s.sort(stat)
	return s.events[stat][n-1], true
}

// EventTimes returns a copy of all events of stat in ascending time order.
func (s *UserStats) EventTimes(stat string) ([]time.Time, bool) {
	if !s.Has(stat) {
		return nil, false
	}
	s.sort(stat)
	return slices.Clone(s.events[stat]), true
}

// EventCount is the number of events recorded for stat.
func (s *UserStats) EventCount(stat string) int64 {
	return int64(len(s.events[stat]))
}

func (s *UserStats) Value(stat string) int64 {
	return s.values[stat]
}

func (s *UserStats) SetValue(stat string, v int64) bool {
	if !s.Has(stat) {
		return false
	}
	s.values[stat] = v
	return true
}

func (s *UserStats) sort(stat string) {
	if !s.dirty[stat] {
		return
	}
	slices.SortStableFunc(s.events[stat], func(a, b time.Time) int {
		return a.Compare(b)
	})
	s.dirty[stat] = false
}
