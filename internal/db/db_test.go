package db

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userachievements/internal/achievements"
	"userachievements/internal/db/dbtest"
	"userachievements/internal/editquery"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func hour(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Hour)
}

func newSQLiteDB(t *testing.T) *DB {
	t.Helper()
	database, err := Connect(SQLite, filepath.Join(t.TempDir(), "wiki.db"), nil)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func getPostgresDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}
	database, err := Connect(Postgres, dsn, nil)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	t.Cleanup(func() {
		database.conn.Exec("DELETE FROM userachievements_userbadges")
		database.conn.Exec("DELETE FROM userachievements_achievements")
		database.Close()
	})
	return database
}

func TestParseDialect(t *testing.T) {
	for _, in := range []string{"postgres", "SQLite", "mysql"} {
		if _, err := ParseDialect(in); err != nil {
			t.Errorf("ParseDialect(%q) error: %v", in, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Error("ParseDialect(oracle) should fail")
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	database := newSQLiteDB(t)
	if err := database.Migrate(); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
	for _, table := range []string{"userachievements_userbadges", "userachievements_achievements"} {
		var n int
		err := database.conn.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestSQLite_AwardStore(t *testing.T) {
	testAwardStore(t, newSQLiteDB(t))
}

func TestPostgres_AwardStore(t *testing.T) {
	testAwardStore(t, getPostgresDB(t))
}

func testAwardStore(t *testing.T, database *DB) {
	ctx := context.Background()
	a := achievements.Award{UserID: 1, AchievementID: "Edits", Level: 1, AchievedTime: hour(1)}

	changed, err := database.UpsertAward(ctx, a)
	require.NoError(t, err)
	assert.True(t, changed, "insert")

	changed, err = database.UpsertAward(ctx, a)
	require.NoError(t, err)
	assert.False(t, changed, "identical upsert")

	a.AwardedBy = 99
	changed, err = database.UpsertAward(ctx, a)
	require.NoError(t, err)
	assert.True(t, changed, "new awarder")

	for _, aw := range []achievements.Award{
		{UserID: 1, AchievementID: "Edits", Level: 2, AchievedTime: hour(5)},
		{UserID: 2, AchievementID: "Edits", Level: 1, AchievedTime: hour(0)},
		{UserID: 2, AchievementID: "TalkEdits", Level: 1, AchievedTime: hour(2)},
	} {
		_, err := database.UpsertAward(ctx, aw)
		require.NoError(t, err)
	}

	has, err := database.HasAward(ctx, 1, "Edits", 2)
	require.NoError(t, err)
	assert.True(t, has)
	has, _ = database.HasAward(ctx, 1, "Edits", 3)
	assert.False(t, has)

	level, err := database.MaxAchievedLevel(ctx, 1, "Edits")
	require.NoError(t, err)
	assert.Equal(t, 2, level)
	level, _ = database.MaxAchievedLevel(ctx, 3, "Edits")
	assert.Zero(t, level)

	list, err := database.ListAwards(ctx, "Edits", 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].UserID)
	assert.Equal(t, hour(0), list[0].AchievedTime)
	assert.Equal(t, int64(99), list[1].AwardedBy)

	list, _ = database.ListAwards(ctx, "Edits", 1, 1)
	assert.Len(t, list, 1)

	require.NoError(t, database.MarkNotified(ctx, 2, "TalkEdits", 1))
	mine, err := database.UserAwards(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.False(t, mine[0].Notified)
	assert.True(t, mine[1].Notified)

	n, err := database.PurgeAwards(ctx, "Edits")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	level, _ = database.MaxAchievedLevel(ctx, 1, "Edits")
	assert.Zero(t, level)

	require.NoError(t, database.SetEnabled(ctx, "Edits", true))
	require.NoError(t, database.SetEnabled(ctx, "TalkEdits", true))
	require.NoError(t, database.SetEnabled(ctx, "TalkEdits", false))
	flags, err := database.EnabledFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Edits": true, "TalkEdits": false}, flags)
}

func TestSQLite_NullAchievedTimeIsNotHeld(t *testing.T) {
	database := newSQLiteDB(t)
	ctx := context.Background()
	_, err := database.conn.Exec(`INSERT INTO userachievements_userbadges (user_id, achievement_id, level) VALUES (1, 'Edits', 1)`)
	require.NoError(t, err)

	has, err := database.HasAward(ctx, 1, "Edits", 1)
	require.NoError(t, err)
	assert.False(t, has)

	changed, err := database.UpsertAward(ctx, achievements.Award{UserID: 1, AchievementID: "Edits", Level: 1, AchievedTime: hour(1)})
	require.NoError(t, err)
	assert.True(t, changed)
}


var mw = dbtest.MW

// newWikiDB creates a wiki where Alice (1) edited, Bob (2) is a bot and
// Carol (4) is an admin.
func newWikiDB(t *testing.T) *DB {
	t.Helper()
	database := newSQLiteDB(t)
	database.conn.MustExec(dbtest.SQLiteHostSchema)

	exec := func(query string, args ...any) {
		t.Helper()
		_, err := database.conn.Exec(query, args...)
		require.NoError(t, err)
	}

	exec(`INSERT INTO "user" VALUES (1, 'Alice', ?, ?)`, mw(t0), mw(t0.Add(time.Hour)))
	exec(`INSERT INTO "user" VALUES (2, 'Bob', ?, NULL)`, mw(t0.AddDate(0, 1, 0)))
	exec(`INSERT INTO "user" VALUES (3, 'MediaWiki default', NULL, NULL)`)
	exec(`INSERT INTO "user" VALUES (4, 'Carol', ?, NULL)`, mw(t0.AddDate(0, 2, 0)))
	exec(`INSERT INTO "user" VALUES (5, 'Dave', ?, NULL)`, mw(t0.AddDate(0, 3, 0)))
	exec(`INSERT INTO user_groups VALUES (2, 'bot', NULL), (4, 'sysop', NULL), (5, 'sysop', '20000101000000')`)
	exec(`INSERT INTO actor VALUES (11, 1, 'Alice'), (12, 2, 'Bob')`)

	exec(`INSERT INTO page VALUES (1, 0, 'A', 0), (2, 0, 'R', 1), (3, 1, 'A', 0), (4, 0, 'B', 0)`)
	revs := []struct {
		id, page, parent, origin int64
		at                       time.Time
	}{
		{1, 1, 0, 1, hour(1)},
		{2, 1, 1, 2, hour(2)},
		{3, 2, 0, 3, hour(3)},
		{4, 3, 0, 4, hour(4)},
		{5, 4, 0, 1, hour(5)},
	}
	for _, r := range revs {
		exec(`INSERT INTO revision VALUES (?, ?, 11, ?, ?)`, r.id, r.page, mw(r.at), r.parent)
		exec(`INSERT INTO slots VALUES (?, 1, ?)`, r.id, r.origin)
	}
	exec(`INSERT INTO revision VALUES (7, 4, 12, ?, 5)`, mw(hour(7)))
	exec(`INSERT INTO slots VALUES (7, 1, 7)`)
	exec(`INSERT INTO archive VALUES (1, 0, 9, 6, 11, ?, 0)`, mw(hour(6)))
	exec(`INSERT INTO slots VALUES (6, 1, 6)`)
	return database
}

func TestEditSource(t *testing.T) {
	database := newWikiDB(t)
	src := NewEditSource(database)
	b := editquery.NewBuilder([]int{0})
	ctx := context.Background()

	times := func(plans []editquery.Plan) []time.Time {
		t.Helper()
		var out []time.Time
		for _, p := range plans {
			rows, err := src.Query(ctx, p)
			require.NoError(t, err)
			for _, r := range rows {
				out = append(out, r.Time)
			}
		}
		return out
	}

	tests := []struct {
		name  string
		plans []editquery.Plan
		want  []time.Time
	}{
		{
			name:  "defaults",
			plans: b.Build(1, "edits", editquery.Options{}),
			want:  []time.Time{hour(1), hour(2)},
		},
		{
			name: "everything",
			plans: b.Build(1, "edits", editquery.Options{
				IncludeDeletedRevisions: true,
				IncludeNullRevisions:    true,
				IncludeRedirects:        true,
				IncludeNamespaces:       editquery.AllNamespaces(),
			}),
			want: []time.Time{hour(1), hour(2), hour(3), hour(4), hour(5), hour(6)},
		},
		{
			name:  "page creations",
			plans: editquery.Apply(b.Build(1, "articlesCreated", editquery.Options{IncludeNullRevisions: true}), editquery.PageCreationsOnly),
			want:  []time.Time{hour(1), hour(5)},
		},
		{
			name: "distinct pages",
			plans: editquery.Apply(b.Build(1, "articlesEdited", editquery.Options{
				IncludeNullRevisions: true,
				IncludeRedirects:     true,
			}), editquery.DistinctPages),
			want: []time.Time{hour(1), hour(3), hour(5)},
		},
		{
			name:  "first edit only",
			plans: editquery.Apply(b.Build(1, "", editquery.Options{IncludeNamespaces: editquery.Only(1)}), editquery.FirstEventOnly),
			want:  []time.Time{hour(4)},
		},
		{
			name:  "other user",
			plans: b.Build(3, "edits", editquery.Options{}),
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, times(tt.plans))
		})
	}
}

func flowID(at time.Time, seq byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(at.UnixMilli())<<2)
	id := make([]byte, 11)
	copy(id, buf[2:])
	id[10] = seq
	return id
}

func TestEditSource_Flow(t *testing.T) {
	database := newWikiDB(t)
	ctx := context.Background()

	topic := flowID(hour(10), 1)
	post := flowID(hour(11), 2)
	reply := flowID(hour(12), 3)
	elsewhere := flowID(hour(13), 4)
	otherTopic := flowID(hour(9), 5)

	database.conn.MustExec(`INSERT INTO flow_workflow VALUES (?, 1), (?, 5)`, topic, otherTopic)
	database.conn.MustExec(`INSERT INTO flow_tree_revision VALUES (?, NULL), (?, ?), (?, ?), (?, NULL), (?, ?)`,
		topic, post, topic, reply, post, otherTopic, elsewhere, otherTopic)
	database.conn.MustExec(`INSERT INTO flow_revision (rev_id, rev_user_id, rev_change_type) VALUES (?, 1, 'new-post'), (?, 1, 'reply'), (?, 1, 'reply'), (?, 2, 'new-topic')`,
		post, reply, elsewhere, topic)

	rows, err := NewEditSource(database).Query(ctx, editquery.Plan{
		Stat: "talkEdits", Relation: editquery.RelationFlow, UserID: 1, Namespaces: []int{1},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, hour(11), rows[0].Time)
	assert.Equal(t, hour(12), rows[1].Time)
}

func TestEditSource_FlowWorkflowLookupFails(t *testing.T) {
	database := newWikiDB(t)
	topic := flowID(hour(10), 1)
	post := flowID(hour(11), 2)
	database.conn.MustExec(`INSERT INTO flow_tree_revision VALUES (?, NULL), (?, ?)`, topic, post, topic)
	database.conn.MustExec(`INSERT INTO flow_revision (rev_id, rev_user_id, rev_change_type) VALUES (?, 1, 'new-post')`, post)
	database.conn.MustExec(`ALTER TABLE flow_workflow RENAME TO flow_workflow_gone`)

	rows, err := NewEditSource(database).Query(context.Background(), editquery.Plan{
		Stat: "talkEdits", Relation: editquery.RelationFlow, UserID: 1, Namespaces: []int{1},
	})
	assert.Error(t, err)
	assert.Empty(t, rows)
}

func TestEditSource_FlowOrphanedPost(t *testing.T) {
	database := newWikiDB(t)
	topic := flowID(hour(10), 1)
	post := flowID(hour(11), 2)
	database.conn.MustExec(`INSERT INTO flow_tree_revision VALUES (?, NULL), (?, ?)`, topic, post, topic)
	database.conn.MustExec(`INSERT INTO flow_revision (rev_id, rev_user_id, rev_change_type) VALUES (?, 1, 'new-post')`, post)

	rows, err := NewEditSource(database).Query(context.Background(), editquery.Plan{
		Stat: "talkEdits", Relation: editquery.RelationFlow, UserID: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFlowIDTime(t *testing.T) {
	at := time.Date(2022, 6, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
	assert.Equal(t, at, flowIDTime(flowID(at, 9)))
	assert.True(t, flowIDTime([]byte{1, 2}).IsZero())
}

func TestDirectory(t *testing.T) {
	database := newWikiDB(t)
	dir := NewDirectory(database, DirectoryConfig{
		AdminGroups:     []string{"sysop"},
		BotGroups:       []string{"bot"},
		SystemUsernames: []string{"MediaWiki default"},
	})
	ctx := context.Background()

	alice, err := dir.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, t0, alice.Registered)
	assert.True(t, alice.EmailConfirmed)
	assert.False(t, alice.Bot)

	bob, err := dir.GetUserByName(ctx, "Bob")
	require.NoError(t, err)
	assert.True(t, bob.Bot)
	assert.False(t, bob.EmailConfirmed)

	system, err := dir.GetUser(ctx, 3)
	require.NoError(t, err)
	assert.True(t, system.System)
	assert.True(t, system.Registered.IsZero())

	_, err = dir.GetUser(ctx, 42)
	assert.ErrorIs(t, err, achievements.ErrNotRegistered)

	for id, want := range map[int64]bool{1: false, 4: true, 5: false} {
		u, err := dir.GetUser(ctx, id)
		require.NoError(t, err)
		got, err := dir.IsAdmin(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, want, got, "IsAdmin(%d)", id)
	}

	page, err := dir.ListUsers(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[1].ID)
	page, err = dir.ListUsers(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	page, err = dir.ListUsers(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	first, ok, err := dir.FirstRegistration(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, t0, first)
}

func TestTimestamp_Scan(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		want  time.Time
		valid bool
	}{
		{"nil", nil, time.Time{}, false},
		{"mw string", "20200101010000", hour(1), true},
		{"mw bytes", []byte("20200101020000"), hour(2), true},
		{"native", hour(3).In(time.FixedZone("X", 3600)), hour(3), true},
		{"empty", "", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, ts.Scan(tt.in))
			assert.Equal(t, tt.valid, ts.Valid)
			assert.Equal(t, tt.want, ts.Time)
		})
	}

	var ts Timestamp
	assert.Error(t, ts.Scan("yesterday"))
}
