// Package editquery describes "edit-like" event queries as plain data.
//
// A Plan names one physical edit relation and the filters to apply to it.
// Plans are produced by a Builder from achievement options, optionally
// adjusted by Mutators, and executed by a StatsSource. Results are always
// ordered by event timestamp ascending.
package editquery

// Relation is the physical edit source a Plan reads from.
type Relation string

const (
	// RelationRevision holds revisions of existing pages.
	RelationRevision Relation = "revision"
	// RelationArchive holds revisions of deleted pages.
	RelationArchive Relation = "archive"
	// RelationFlow holds structured discussion posts and replies.
	RelationFlow Relation = "flow"
)

// Plan is one query descriptor. The zero value of every filter means "no
// restriction".
type Plan struct {
	// Stat is the UserStats counter the resulting events are added to.
	Stat     string
	Relation Relation
	// UserID is the author identity filter.
	UserID int64

	// ExcludeNullEdits drops revisions whose content did not change.
	ExcludeNullEdits bool
	// Namespaces is an allow-list; nil means every namespace.
	Namespaces []int
	// ExcludeRedirects drops edits to pages that are redirects. Only the
	// revision relation carries redirect state.
	ExcludeRedirects bool
	// PageCreationsOnly keeps only revisions without a parent revision.
	PageCreationsOnly bool
	// DistinctPages collapses results to one row per page, timestamped at
	// the earliest matching edit of that page.
	DistinctPages bool
	// Limit caps the number of rows; 0 means unlimited.
	Limit int
}

// Clone returns a deep copy of p.
func (p Plan) Clone() Plan {
	if p.Namespaces != nil {
		ns := make([]int, len(p.Namespaces))
		copy(ns, p.Namespaces)
		p.Namespaces = ns
	}
	return p
}
