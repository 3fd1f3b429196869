package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/exp/slices"

	"userachievements/internal/editquery"
)

// editTable names the columns of one physical edit relation.
type editTable struct {
	table, alias                                    string
	revID, page, actor, timestamp, parent, namespace string
}

var (
	revisionTable = editTable{
		table: "revision", alias: "r",
		revID: "r.rev_id", page: "r.rev_page", actor: "r.rev_actor",
		timestamp: "r.rev_timestamp", parent: "r.rev_parent_id",
		namespace: "p.page_namespace",
	}
	archiveTable = editTable{
		table: "archive", alias: "ar",
		revID: "ar.ar_rev_id", page: "ar.ar_page_id", actor: "ar.ar_actor",
		timestamp: "ar.ar_timestamp", parent: "ar.ar_parent_id",
		namespace: "ar.ar_namespace",
	}
)

// EditSource executes edit plans against the host's revision, archive and
// structured discussion tables.
type EditSource struct {
	db *DB
}

func NewEditSource(d *DB) *EditSource {
	return &EditSource{db: d}
}

func (s *EditSource) Query(ctx context.Context, p editquery.Plan) ([]editquery.Row, error) {
	switch p.Relation {
	case editquery.RelationRevision:
		return s.queryEdits(ctx, revisionTable, p)
	case editquery.RelationArchive:
		return s.queryEdits(ctx, archiveTable, p)
	case editquery.RelationFlow:
		return s.queryFlow(ctx, p)
	}
	return nil, fmt.Errorf("unknown edit relation %q", p.Relation)
}

// compileEdits renders p as a query over t.
func compileEdits(t editTable, p editquery.Plan) (string, []any, error) {
	var (
		b     strings.Builder
		conds = []string{"a.actor_user = ?"}
		args  = []any{p.UserID}
	)

	if p.DistinctPages {
		fmt.Fprintf(&b, "SELECT %s AS k, MIN(%s) AS ts", t.page, t.timestamp)
	} else {
		fmt.Fprintf(&b, "SELECT %s AS k, %s AS ts", t.revID, t.timestamp)
	}
	fmt.Fprintf(&b, " FROM %s %s JOIN actor a ON a.actor_id = %s", t.table, t.alias, t.actor)

	joinPage := t.table == "revision" && (p.Namespaces != nil || p.ExcludeRedirects)
	if joinPage {
		b.WriteString(" JOIN page p ON p.page_id = r.rev_page")
	}

	if p.ExcludeNullEdits {
		// Content changed only where the slot originated in this revision.
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM slots s WHERE s.slot_revision_id = %s AND s.slot_origin = s.slot_revision_id)", t.revID))
	}
	if p.Namespaces != nil {
		conds = append(conds, t.namespace+" IN (?)")
		args = append(args, p.Namespaces)
	}
	if p.ExcludeRedirects && joinPage {
		conds = append(conds, "p.page_is_redirect = 0")
	}
	if p.PageCreationsOnly {
		conds = append(conds, t.parent+" = 0")
	}

	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(conds, " AND "))
	if p.DistinctPages {
		fmt.Fprintf(&b, " GROUP BY %s", t.page)
	}
	b.WriteString(" ORDER BY ts")
	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)
	}

	query := b.String()
	if p.Namespaces != nil {
		if len(p.Namespaces) == 0 {
			return "", nil, fmt.Errorf("empty namespace list")
		}
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return "", nil, err
		}
	}
	return query, args, nil
}

type editRow struct {
	Key       int64     `db:"k"`
	Timestamp Timestamp `db:"ts"`
}

func (s *EditSource) queryEdits(ctx context.Context, t editTable, p editquery.Plan) ([]editquery.Row, error) {
	query, args, err := compileEdits(t, p)
	if err != nil {
		return nil, fmt.Errorf("compiling %s plan: %w", t.table, err)
	}

	var rows []editRow
	if err := s.db.conn.SelectContext(ctx, &rows, s.db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.table, err)
	}
	out := make([]editquery.Row, 0, len(rows))
	for _, r := range rows {
		if r.Timestamp.Valid {
			out = append(out, editquery.Row{Key: r.Key, Time: r.Timestamp.Time})
		}
	}
	return out, nil
}

// queryFlow finds the user's posts and replies, walks each up the topic tree
// to its workflow and keeps those whose board is in an allowed namespace.
func (s *EditSource) queryFlow(ctx context.Context, p editquery.Plan) ([]editquery.Row, error) {
	conn := s.db.conn
	var revIDs [][]byte
	err := conn.SelectContext(ctx, &revIDs, conn.Rebind(`
		SELECT rev_id FROM flow_revision
		WHERE rev_user_id = ? AND rev_change_type IN ('new-post', 'reply') AND rev_mod_state = ''
	`), p.UserID)
	if err != nil {
		return nil, fmt.Errorf("querying flow revisions: %w", err)
	}

	namespaces := make(map[string]int)
	var out []editquery.Row
	for _, revID := range revIDs {
		root, err := s.flowRoot(ctx, revID)
		if err != nil {
			return nil, err
		}
		ns, ok := namespaces[string(root)]
		if !ok {
			err := conn.GetContext(ctx, &ns, conn.Rebind(`
				SELECT workflow_namespace FROM flow_workflow WHERE workflow_id = ?
			`), root)
			if errors.Is(err, sql.ErrNoRows) {
				// Orphaned posts do not count.
				ns = -1
			} else if err != nil {
				return nil, fmt.Errorf("looking up flow workflow %x: %w", root, err)
			}
			namespaces[string(root)] = ns
		}
		if ns < 0 || (p.Namespaces != nil && !slices.Contains(p.Namespaces, ns)) {
			continue
		}
		out = append(out, editquery.Row{Time: flowIDTime(revID)})
	}

	slices.SortStableFunc(out, func(a, b editquery.Row) int {
		return a.Time.Compare(b.Time)
	})
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (s *EditSource) flowRoot(ctx context.Context, id []byte) ([]byte, error) {
	conn := s.db.conn
	seen := make(map[string]bool)
	for !seen[string(id)] {
		seen[string(id)] = true
		var parents [][]byte
		err := conn.SelectContext(ctx, &parents, conn.Rebind(`
			SELECT tree_parent_id FROM flow_tree_revision WHERE tree_rev_id = ?
		`), id)
		if err != nil {
			return nil, fmt.Errorf("walking flow tree: %w", err)
		}
		if len(parents) == 0 || len(parents[0]) == 0 {
			return id, nil
		}
		id = parents[0]
	}
	return nil, fmt.Errorf("flow tree cycle at %x", id)
}

// flowIDTime decodes the millisecond timestamp carried in the top 46 bits of
// a flow UID.
func flowIDTime(id []byte) time.Time {
	if len(id) < 6 {
		return time.Time{}
	}
	var buf [8]byte
	copy(buf[2:], id[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]) >> 2)
	return time.UnixMilli(ms).UTC()
}
