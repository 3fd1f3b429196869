package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew_Defaults(t *testing.T) {
	s := New(7, map[string]int64{"edits": 0, "bonus": 3})

	assert.Equal(t, int64(7), s.UserID())
	assert.True(t, s.Has("edits"))
	assert.False(t, s.Has("talkEdits"))
	assert.Equal(t, int64(3), s.Value("bonus"))
	assert.Equal(t, []string{"bonus", "edits"}, s.Names())
}

func TestAddEventTime_UnknownStat(t *testing.T) {
	s := New(1, map[string]int64{"edits": 0})

	assert.False(t, s.AddEventTime("unknown", base))
	assert.True(t, s.AddEventTime("edits", base))
	assert.Equal(t, int64(1), s.EventCount("edits"))
}

func TestEventTime_SortsLazily(t *testing.T) {
	s := New(1, map[string]int64{"edits": 0})
	s.AddEventTime("edits", base.Add(3*time.Hour))
	s.AddEventTime("edits", base.Add(1*time.Hour))
	s.AddEventTime("edits", base.Add(2*time.Hour))

	first, ok := s.EventTime("edits", 1)
	require.True(t, ok)
	assert.Equal(t, base.Add(1*time.Hour), first)

	// Inserting after a read must trigger a re-sort on the next read.
	s.AddEventTime("edits", base)
	first, ok = s.EventTime("edits", 1)
	require.True(t, ok)
	assert.Equal(t, base, first)

	last, ok := s.EventTime("edits", 4)
	require.True(t, ok)
	assert.Equal(t, base.Add(3*time.Hour), last)
}

func TestEventTime_Bounds(t *testing.T) {
	s := New(1, map[string]int64{"edits": 0})
	s.AddEventTime("edits", base)
	s.AddEventTime("edits", base.Add(time.Minute))

	_, ok := s.EventTime("edits", 0)
	assert.False(t, ok, "ordinal 0 must fail")

	_, ok = s.EventTime("edits", 3)
	assert.False(t, ok, "ordinal count+1 must fail")

	_, ok = s.EventTime("missing", 1)
	assert.False(t, ok)
}

func TestEventTimes_ReturnsSortedCopy(t *testing.T) {
	s := New(1, map[string]int64{"edits": 0})
	s.AddEventTime("edits", base.Add(time.Hour))
	s.AddEventTime("edits", base)

	times, ok := s.EventTimes("edits")
	require.True(t, ok)
	assert.Equal(t, []time.Time{base, base.Add(time.Hour)}, times)

	times[0] = time.Time{}
	again, _ := s.EventTimes("edits")
	assert.Equal(t, base, again[0])

	_, ok = s.EventTimes("missing")
	assert.False(t, ok)
}

func TestSetValue(t *testing.T) {
	s := New(1, map[string]int64{"edits": 0})

	assert.True(t, s.SetValue("edits", 12))
	assert.Equal(t, int64(12), s.Value("edits"))
	assert.False(t, s.SetValue("missing", 1))
	assert.Equal(t, int64(0), s.Value("missing"))
}

func TestCache(t *testing.T) {
	c := NewCache()
	s := New(5, map[string]int64{"edits": 0})
	c.Put("Edits", s)

	got, ok := c.Get("Edits", 5)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = c.Get("TalkEdits", 5)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
