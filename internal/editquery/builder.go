package editquery

// Builder turns achievement Options into Plans for one user.
type Builder struct {
	// ContentNamespaces is the allow-list used when Options leave
	// IncludeNamespaces unset.
	ContentNamespaces []int
}

func NewBuilder(contentNamespaces []int) Builder {
	if len(contentNamespaces) == 0 {
		contentNamespaces = []int{0}
	}
	return Builder{ContentNamespaces: contentNamespaces}
}

// Build returns one plan for current revisions and, when deleted revisions
// are included, one for the archive.
func (b Builder) Build(userID int64, stat string, opts Options) []Plan {
	relations := []Relation{RelationRevision}
	if opts.IncludeDeletedRevisions {
		relations = append(relations, RelationArchive)
	}

	var namespaces []int
	switch {
	case opts.IncludeNamespaces.All:
	case len(opts.IncludeNamespaces.IDs) > 0:
		namespaces = opts.IncludeNamespaces.IDs
	default:
		namespaces = b.ContentNamespaces
	}

	plans := make([]Plan, 0, len(relations))
	for _, rel := range relations {
		p := Plan{
			Stat:             stat,
			Relation:         rel,
			UserID:           userID,
			ExcludeNullEdits: !opts.IncludeNullRevisions,
			Namespaces:       namespaces,
			// Archived rows carry no redirect flag.
			ExcludeRedirects: !opts.IncludeRedirects && rel == RelationRevision,
		}
		plans = append(plans, p.Clone())
	}
	return plans
}
