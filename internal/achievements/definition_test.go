package achievements_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userachievements/internal/achievements"
	"userachievements/internal/editquery"
)

func TestParseDefinitions_Defaults(t *testing.T) {
	defs, err := achievements.ParseDefinitions([]byte("kind: practiceGroupEdits\n"))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "PracticeGroupEdits", def.ID)
	assert.Equal(t, 1, def.Levels)
	assert.Equal(t, "1 month", def.Config.EpochLength)
	assert.True(t, def.Config.IncludeNamespaces.IsZero())
}

func TestParseDefinitions_MultipleDocuments(t *testing.T) {
	defs, err := achievements.ParseDefinitions([]byte(`
kind: edits
config:
  includeNamespaces: "*"
---
id: Discussions
kind: talkEdits
triggers: [PageSaveComplete]
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, editquery.AllNamespaces(), defs[0].Config.IncludeNamespaces)
	assert.Equal(t, "Discussions", defs[1].ID)
	assert.Equal(t, []string{"PageSaveComplete"}, defs[1].Triggers)
}

func TestParseDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing kind", "id: Nothing\n"},
		{"unknown kind", "kind: logins\n"},
		{"negative levels", "kind: edits\nlevels: -1\n"},
		{"more badges than levels", "kind: edits\nlevels: 1\nbadges:\n  - requiredStats: {edits: 1}\n  - requiredStats: {edits: 2}\n"},
		{"zero threshold", "kind: edits\nbadges:\n  - requiredStats: {edits: 0}\n"},
		{"unknown field", "kind: edits\nthreshold: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := achievements.ParseDefinitions([]byte(tt.in))
			assert.ErrorIs(t, err, achievements.ErrConfig)
		})
	}
}

func TestBuiltinDefinitions(t *testing.T) {
	defs, err := achievements.BuiltinDefinitions()
	require.NoError(t, err)

	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	assert.ElementsMatch(t, []string{
		"Edits", "ArticlesCreated", "ArticlesEdited", "TalkEdits", "InauguralMember", "MembershipYears",
	}, ids)
}

func TestDefinitionsFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "edits.yaml"), []byte("id: Edits\nkind: edits\nlevels: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.yml"), []byte("id: Helper\nkind: manual\nlevels: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	defs, err := achievements.DefinitionsFromDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 7)

	byID := make(map[string]achievements.Definition)
	for _, def := range defs {
		byID[def.ID] = def
	}
	assert.Equal(t, 1, byID["Edits"].Levels)
	assert.Empty(t, byID["Edits"].Badges)
	assert.Equal(t, "manual", byID["Helper"].Kind)
}

func TestRegistry(t *testing.T) {
	f := newFixture()
	defs, err := achievements.BuiltinDefinitions()
	require.NoError(t, err)

	reg, err := achievements.NewRegistry(defs, f.env)
	require.NoError(t, err)

	var order []string
	for _, a := range reg.All() {
		order = append(order, a.ID())
	}
	assert.Equal(t, []string{
		"InauguralMember", "MembershipYears", "Edits", "ArticlesCreated", "ArticlesEdited", "TalkEdits",
	}, order)

	_, err = reg.Get("Logins")
	assert.ErrorIs(t, err, achievements.ErrInvalidAchievement)

	all, err := reg.Select(achievements.Wildcard)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	ctx := context.Background()
	require.NoError(t, f.store.SetEnabled(ctx, "Edits", true))
	require.NoError(t, f.store.SetEnabled(ctx, "Unknown", true))
	require.NoError(t, reg.LoadEnabled(ctx, f.store))

	edits, err := reg.Get("Edits")
	require.NoError(t, err)
	assert.True(t, edits.Enabled())

	triggered := reg.ForTrigger("PageSaveComplete")
	require.Len(t, triggered, 1)
	assert.Equal(t, "Edits", triggered[0].ID())
}

func TestRegistry_DuplicateID(t *testing.T) {
	f := newFixture()
	defs, err := achievements.ParseDefinitions([]byte("kind: edits\n---\nkind: edits\n"))
	require.NoError(t, err)

	_, err = achievements.NewRegistry(defs, f.env)
	assert.ErrorIs(t, err, achievements.ErrConfig)
}
