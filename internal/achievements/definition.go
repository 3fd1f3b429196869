package achievements

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"userachievements/internal/editquery"
)

//go:embed definitions/*.yaml
var builtinFS embed.FS

// Definition is the static description of one achievement.
type Definition struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind" validate:"required,oneof=edits practiceGroupEdits articlesCreated articlesEdited talkEdits inauguralMember membershipYears manual"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Color       string `yaml:"color"`
	// Levels is ignored by kinds that compute their own level count.
	Levels   int              `yaml:"levels" default:"1" validate:"min=1"`
	Priority int              `yaml:"priority"`
	Secret   bool             `yaml:"secret"`
	Enabled  bool             `yaml:"enabled"`
	Stats    map[string]int64 `yaml:"stats"`
	// Triggers are opaque host action kinds that should re-evaluate this
	// achievement for the acting user.
	Triggers []string          `yaml:"triggers"`
	Config   Config            `yaml:"config"`
	Badges   []BadgeDefinition `yaml:"badges" validate:"dive"`
}

// Config holds kind-specific switches.
type Config struct {
	editquery.Options        `yaml:",inline"`
	RequireEmailConfirmation bool   `yaml:"requireEmailConfirmation"`
	EpochStart               string `yaml:"epochStart"`
	EpochLength              string `yaml:"epochLength" default:"1 month"`
}

// BadgeDefinition describes one level of an achievement.
type BadgeDefinition struct {
	Name           string `yaml:"name"`
	NameMsg        string `yaml:"nameMsg"`
	Description    string `yaml:"description"`
	DescriptionMsg string `yaml:"descriptionMsg"`
	Color          string `yaml:"color"`
	Secret         bool   `yaml:"secret"`
	// RequiredStats maps stat names to thresholds. A badge without
	// required stats can only be awarded manually.
	RequiredStats map[string]int64 `yaml:"requiredStats" validate:"dive,min=1"`
	Media         Media            `yaml:"media"`
}

type Media struct {
	Image     string `yaml:"image"`
	Thumbnail string `yaml:"thumbnail"`
	Icon      string `yaml:"icon"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		def, ok := sl.Current().Interface().(Definition)
		if !ok {
			return
		}
		if def.Levels < len(def.Badges) {
			sl.ReportError(def.Badges, "Badges", "badges", "levels_cover_badges", "")
		}
	}, Definition{})
	return v
}

// Normalize applies defaults, derives the id and validates def.
func (def *Definition) Normalize() error {
	if err := defaults.Set(def); err != nil {
		return NewError(CodeConfig, err, "applying defaults")
	}
	if def.ID == "" && def.Kind != "" {
		def.ID = strings.ToUpper(def.Kind[:1]) + def.Kind[1:]
	}
	if err := validate.Struct(def); err != nil {
		return NewError(CodeConfig, err, "achievement %q", def.ID)
	}
	return nil
}

// ParseDefinitions decodes one or more YAML (or JSON) documents.
func ParseDefinitions(data []byte) ([]Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []Definition
	for {
		var def Definition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, NewError(CodeConfig, err, "decoding definition")
		}
		if err := def.Normalize(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadDefinitions reads every .yaml, .yml and .json file at the top level of
// fsys.
func LoadDefinitions(fsys fs.FS, dir string) ([]Definition, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions dir: %w", err)
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch path.Ext(entry.Name()) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading definition %s: %w", entry.Name(), err)
		}
		parsed, err := ParseDefinitions(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		defs = append(defs, parsed...)
	}
	return defs, nil
}

// BuiltinDefinitions returns the definitions shipped with the binary.
func BuiltinDefinitions() ([]Definition, error) {
	return LoadDefinitions(builtinFS, "definitions")
}

// DefinitionsFromDir loads the built-in definitions, then overrides or
// extends them with the files in dir. An empty dir loads only the built-ins.
func DefinitionsFromDir(dir string) ([]Definition, error) {
	defs, err := BuiltinDefinitions()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return defs, nil
	}
	extra, err := LoadDefinitions(os.DirFS(dir), ".")
	if err != nil {
		return nil, err
	}
	return MergeDefinitions(defs, extra), nil
}

// MergeDefinitions replaces base entries with overrides of the same id and
// appends the rest, keeping first-seen order.
func MergeDefinitions(base, overrides []Definition) []Definition {
	index := make(map[string]int, len(base))
	out := make([]Definition, 0, len(base)+len(overrides))
	for _, def := range base {
		index[def.ID] = len(out)
		out = append(out, def)
	}
	for _, def := range overrides {
		if i, ok := index[def.ID]; ok {
			out[i] = def
			continue
		}
		index[def.ID] = len(out)
		out = append(out, def)
	}
	return out
}
