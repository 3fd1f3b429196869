// Package editquerytest provides an in-memory editquery.StatsSource.
package editquerytest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"userachievements/internal/editquery"
)

// Edit is one revision in the fake history.
type Edit struct {
	RevID     int64
	PageID    int64
	ParentID  int64
	UserID    int64
	Namespace int
	Time      time.Time
	Deleted   bool
	NullEdit  bool
	Redirect  bool
}

// Post is one structured discussion post.
type Post struct {
	UserID    int64
	Namespace int
	Time      time.Time
}

// Source evaluates plans over in-memory edits.
type Source struct {
	mu      sync.Mutex
	edits   []Edit
	posts   []Post
	fail    map[int64]error
	queries int
}

func New() *Source {
	return &Source{fail: make(map[int64]error)}
}

func (s *Source) AddEdit(e Edit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.RevID == 0 {
		e.RevID = int64(len(s.edits) + 1)
	}
	s.edits = append(s.edits, e)
}

// AddEdits adds n edits by userID to distinct main-namespace pages, one hour
// apart starting at start.
func (s *Source) AddEdits(userID int64, n int, start time.Time) {
	for i := 0; i < n; i++ {
		s.AddEdit(Edit{
			PageID: userID*100000 + int64(i) + 1,
			UserID: userID,
			Time:   start.Add(time.Duration(i) * time.Hour),
		})
	}
}

func (s *Source) AddPost(p Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, p)
}

// FailFor makes every query for userID return err.
func (s *Source) FailFor(userID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[userID] = err
}

// Queries is the number of plans executed so far.
func (s *Source) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func (s *Source) Query(_ context.Context, p editquery.Plan) ([]editquery.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if err, ok := s.fail[p.UserID]; ok {
		return nil, err
	}

	var rows []editquery.Row
	if p.Relation == editquery.RelationFlow {
		for _, post := range s.posts {
			if post.UserID == p.UserID && inNamespaces(p.Namespaces, post.Namespace) {
				rows = append(rows, editquery.Row{Time: post.Time})
			}
		}
		return finish(rows, p.Limit), nil
	}

	firstPerPage := make(map[int64]int)
	for _, e := range s.edits {
		if e.UserID != p.UserID || e.Deleted != (p.Relation == editquery.RelationArchive) {
			continue
		}
		if p.ExcludeNullEdits && e.NullEdit {
			continue
		}
		if !inNamespaces(p.Namespaces, e.Namespace) {
			continue
		}
		if p.ExcludeRedirects && e.Redirect {
			continue
		}
		if p.PageCreationsOnly && e.ParentID != 0 {
			continue
		}
		if p.DistinctPages {
			if i, seen := firstPerPage[e.PageID]; seen {
				if e.Time.Before(rows[i].Time) {
					rows[i].Time = e.Time
				}
				continue
			}
			firstPerPage[e.PageID] = len(rows)
			rows = append(rows, editquery.Row{Key: e.PageID, Time: e.Time})
			continue
		}
		rows = append(rows, editquery.Row{Key: e.RevID, Time: e.Time})
	}
	return finish(rows, p.Limit), nil
}

func finish(rows []editquery.Row, limit int) []editquery.Row {
	slices.SortStableFunc(rows, func(a, b editquery.Row) int {
		return a.Time.Compare(b.Time)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func inNamespaces(allowed []int, ns int) bool {
	return allowed == nil || slices.Contains(allowed, ns)
}
