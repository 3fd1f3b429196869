package editquery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"userachievements/internal/editquery"
	"userachievements/internal/editquery/editquerytest"
	"userachievements/internal/stats"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func TestBuild_Defaults(t *testing.T) {
	b := editquery.NewBuilder([]int{0, 4})
	plans := b.Build(42, "edits", editquery.Options{})

	require.Len(t, plans, 1)
	p := plans[0]
	assert.Equal(t, editquery.RelationRevision, p.Relation)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, "edits", p.Stat)
	assert.True(t, p.ExcludeNullEdits)
	assert.True(t, p.ExcludeRedirects)
	assert.Equal(t, []int{0, 4}, p.Namespaces)
	assert.Zero(t, p.Limit)
}

func TestBuild_DeletedRevisions(t *testing.T) {
	b := editquery.NewBuilder(nil)
	plans := b.Build(1, "edits", editquery.Options{
		IncludeDeletedRevisions: true,
		IncludeNullRevisions:    true,
		IncludeRedirects:        false,
		IncludeNamespaces:       editquery.AllNamespaces(),
	})

	require.Len(t, plans, 2)
	assert.Equal(t, editquery.RelationRevision, plans[0].Relation)
	assert.Equal(t, editquery.RelationArchive, plans[1].Relation)
	for _, p := range plans {
		assert.False(t, p.ExcludeNullEdits)
		assert.Nil(t, p.Namespaces)
	}
	assert.True(t, plans[0].ExcludeRedirects)
	assert.False(t, plans[1].ExcludeRedirects, "archive rows have no redirect flag")
}

func TestBuild_PlansDoNotShareNamespaces(t *testing.T) {
	b := editquery.NewBuilder([]int{0})
	plans := b.Build(1, "edits", editquery.Options{IncludeDeletedRevisions: true})

	plans[0].Namespaces[0] = 99
	assert.Equal(t, 0, plans[1].Namespaces[0])
	assert.Equal(t, []int{0}, b.ContentNamespaces)
}

func TestMutators(t *testing.T) {
	b := editquery.NewBuilder(nil)
	plans := b.Build(1, "edits", editquery.Options{IncludeDeletedRevisions: true})

	plans = editquery.Apply(plans, editquery.FirstEventOnly, editquery.PageCreationsOnly, nil)
	for _, p := range plans {
		assert.Equal(t, 1, p.Limit)
		assert.True(t, p.PageCreationsOnly)
		assert.False(t, p.DistinctPages)
	}

	plans = editquery.Apply(plans, editquery.DistinctPages)
	assert.True(t, plans[0].DistinctPages)
}

func TestNamespaces_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want editquery.Namespaces
	}{
		{"wildcard", `ns: "*"`, editquery.AllNamespaces()},
		{"single", `ns: 4`, editquery.Only(4)},
		{"list", `ns: [0, 1, 4]`, editquery.Only(0, 1, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v struct {
				NS editquery.Namespaces `yaml:"ns"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.in), &v))
			assert.Equal(t, tt.want, v.NS)
		})
	}

	var bad struct {
		NS editquery.Namespaces `yaml:"ns"`
	}
	assert.Error(t, yaml.Unmarshal([]byte(`ns: main`), &bad))
}

func TestCollect(t *testing.T) {
	src := editquerytest.New()
	src.AddEdit(editquerytest.Edit{PageID: 1, UserID: 1, Time: t0.Add(2 * time.Hour)})
	src.AddEdit(editquerytest.Edit{PageID: 1, UserID: 1, Time: t0, ParentID: 0})
	src.AddEdit(editquerytest.Edit{PageID: 2, UserID: 1, Time: t0.Add(time.Hour), NullEdit: true})
	src.AddEdit(editquerytest.Edit{PageID: 3, UserID: 1, Time: t0.Add(3 * time.Hour), Deleted: true})
	src.AddEdit(editquerytest.Edit{PageID: 4, UserID: 2, Time: t0})

	b := editquery.NewBuilder(nil)
	us := stats.New(1, map[string]int64{"edits": 0})
	plans := b.Build(1, "edits", editquery.Options{IncludeDeletedRevisions: true})

	require.NoError(t, editquery.Collect(context.Background(), src, plans, us))
	times, _ := us.EventTimes("edits")
	assert.Equal(t, []time.Time{t0, t0.Add(2 * time.Hour), t0.Add(3 * time.Hour)}, times)
}

func TestCollect_PropagatesError(t *testing.T) {
	src := editquerytest.New()
	boom := errors.New("connection reset")
	src.FailFor(3, boom)

	us := stats.New(3, map[string]int64{"edits": 0})
	plans := editquery.NewBuilder(nil).Build(3, "edits", editquery.Options{})

	err := editquery.Collect(context.Background(), src, plans, us)
	assert.ErrorIs(t, err, boom)
}

func TestEarliest(t *testing.T) {
	src := editquerytest.New()
	src.AddEdit(editquerytest.Edit{PageID: 1, UserID: 1, Time: t0.Add(time.Hour)})
	src.AddEdit(editquerytest.Edit{PageID: 2, UserID: 1, Time: t0.Add(-time.Hour), Deleted: true})

	b := editquery.NewBuilder(nil)
	plans := editquery.Apply(b.Build(1, "", editquery.Options{IncludeDeletedRevisions: true}), editquery.FirstEventOnly)

	first, ok, err := editquery.Earliest(context.Background(), src, plans)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(-time.Hour), first)

	_, ok, err = editquery.Earliest(context.Background(), src, b.Build(9, "", editquery.Options{}))
	require.NoError(t, err)
	assert.False(t, ok)
}
