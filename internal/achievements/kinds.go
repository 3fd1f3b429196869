package achievements

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"userachievements/internal/editquery"
	"userachievements/internal/stats"
)

// Kind is the variant an achievement is evaluated with. Variants opt into
// behavior by implementing StatsGatherer, Evaluator or LevelCounter.
type Kind interface {
	Name() string
}

// StatsGatherer fills a user's stats before the threshold scan.
type StatsGatherer interface {
	GatherStats(ctx context.Context, a *Achievement, u User, us *stats.UserStats) error
}

// Evaluator replaces the threshold scan entirely.
type Evaluator interface {
	Evaluate(ctx context.Context, s *Session, a *Achievement, u User) error
}

// LevelCounter computes the number of levels instead of reading the
// definition.
type LevelCounter interface {
	Levels(a *Achievement) int
}

type statKind interface {
	Stat() string
}

const flowBoardModel = "flow-board"

func kindOf(def Definition) (Kind, error) {
	switch def.Kind {
	case "edits", "practiceGroupEdits":
		return editsKind{name: def.Kind, stat: def.Kind}, nil
	case "articlesCreated":
		return editsKind{name: def.Kind, stat: def.Kind, mutators: []editquery.Mutator{editquery.PageCreationsOnly}}, nil
	case "articlesEdited":
		return editsKind{name: def.Kind, stat: def.Kind, mutators: []editquery.Mutator{editquery.DistinctPages}}, nil
	case "talkEdits":
		return talkEditsKind{editsKind{name: def.Kind, stat: def.Kind}}, nil
	case "inauguralMember":
		return newInauguralKind(def)
	case "membershipYears":
		return membershipYearsKind{}, nil
	case "manual":
		return manualKind{}, nil
	}
	return nil, NewError(CodeConfig, nil, "achievement %q: unknown kind %q", def.ID, def.Kind)
}

// editsKind counts edit-like events into one stat.
type editsKind struct {
	name     string
	stat     string
	mutators []editquery.Mutator
}

func (k editsKind) Name() string { return k.name }
func (k editsKind) Stat() string { return k.stat }

func (k editsKind) plans(a *Achievement, u User, opts editquery.Options) []editquery.Plan {
	return editquery.Apply(a.env.Builder.Build(u.ID, k.stat, opts), k.mutators...)
}

func (k editsKind) GatherStats(ctx context.Context, a *Achievement, u User, us *stats.UserStats) error {
	return editquery.Collect(ctx, a.env.Source, k.plans(a, u, a.def.Config.Options), us)
}

// talkEditsKind counts edits in talk namespaces. Namespaces backed by
// structured discussion boards are read from the flow relation.
type talkEditsKind struct {
	editsKind
}

func (k talkEditsKind) GatherStats(ctx context.Context, a *Achievement, u User, us *stats.UserStats) error {
	opts := a.def.Config.Options
	namespaces := opts.IncludeNamespaces.IDs
	if len(namespaces) == 0 {
		namespaces = []int{1}
	}

	var plain, flow []int
	for _, ns := range namespaces {
		if a.env.NamespaceContentModels[ns] == flowBoardModel {
			flow = append(flow, ns)
		} else {
			plain = append(plain, ns)
		}
	}

	if len(plain) > 0 {
		opts.IncludeNamespaces = editquery.Only(plain...)
		if err := editquery.Collect(ctx, a.env.Source, k.plans(a, u, opts), us); err != nil {
			return err
		}
	}
	if len(flow) > 0 {
		plan := editquery.Plan{
			Stat:       k.stat,
			Relation:   editquery.RelationFlow,
			UserID:     u.ID,
			Namespaces: flow,
		}
		if err := editquery.Collect(ctx, a.env.Source, []editquery.Plan{plan}, us); err != nil {
			return err
		}
	}
	return nil
}

// inauguralKind awards level 1 to users who registered within the epoch and
// level 2 to those whose first qualifying edit also falls inside it.
type inauguralKind struct {
	start  time.Time
	period period
}

func newInauguralKind(def Definition) (Kind, error) {
	k := inauguralKind{}
	if def.Config.EpochStart != "" {
		start, err := parseTime(def.Config.EpochStart)
		if err != nil {
			return nil, NewError(CodeConfig, err, "achievement %q: epochStart", def.ID)
		}
		k.start = start
	}
	p, err := parsePeriod(def.Config.EpochLength)
	if err != nil {
		return nil, NewError(CodeConfig, err, "achievement %q: epochLength", def.ID)
	}
	k.period = p
	return k, nil
}

func (inauguralKind) Name() string { return "inauguralMember" }

func (inauguralKind) Levels(a *Achievement) int {
	return max(2, len(a.def.Badges))
}

func (k inauguralKind) epochEnd(a *Achievement) time.Time {
	start := k.start
	if start.IsZero() {
		start = a.env.Installed
	}
	return k.period.addTo(start)
}

func (k inauguralKind) Evaluate(ctx context.Context, s *Session, a *Achievement, u User) error {
	if u.Registered.IsZero() {
		return nil
	}
	// Any confirmed address counts; the confirmation time may postdate the epoch.
	if a.def.Config.RequireEmailConfirmation && !u.EmailConfirmed {
		return nil
	}

	end := k.epochEnd(a)
	if u.Registered.After(end) {
		return nil
	}
	if _, err := a.Achieve(ctx, s, u, 1, u.Registered, nil); err != nil {
		return err
	}

	plans := editquery.Apply(a.env.Builder.Build(u.ID, "", a.def.Config.Options), editquery.FirstEventOnly)
	first, ok, err := editquery.Earliest(ctx, a.env.Source, plans)
	if err != nil {
		return fmt.Errorf("finding first edit of user %d: %w", u.ID, err)
	}
	if !ok || first.After(end) {
		return nil
	}
	_, err = a.Achieve(ctx, s, u, 2, first, nil)
	return err
}

// membershipYearsKind awards level N on the N-th anniversary of
// registration.
type membershipYearsKind struct{}

func (membershipYearsKind) Name() string { return "membershipYears" }

func (membershipYearsKind) Levels(a *Achievement) int {
	levels := len(a.def.Badges)
	if !a.env.Installed.IsZero() {
		levels = max(levels, fullYears(a.env.Installed, a.env.Clock.Now())+1)
	}
	return max(levels, 1)
}

func (membershipYearsKind) Evaluate(ctx context.Context, s *Session, a *Achievement, u User) error {
	if u.Registered.IsZero() {
		return nil
	}
	if a.def.Config.RequireEmailConfirmation && !u.EmailConfirmed {
		return nil
	}

	years := min(fullYears(u.Registered, a.env.Clock.Now()), a.Levels())
	for year := 1; year <= years; year++ {
		if _, err := a.Achieve(ctx, s, u, year, u.Registered.AddDate(year, 0, 0), nil); err != nil {
			return err
		}
	}
	return nil
}

// manualKind has no automatic criteria beyond what its badges declare.
type manualKind struct{}

func (manualKind) Name() string { return "manual" }

func fullYears(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Before(from.AddDate(years, 0, 0)) {
		years--
	}
	return max(years, 0)
}

// period is a calendar length such as "1 month" or "90 days".
type period struct {
	years, months, days int
}

func (p period) addTo(t time.Time) time.Time {
	return t.AddDate(p.years, p.months, p.days)
}

func parsePeriod(s string) (period, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "+")))
	if len(fields) == 0 || len(fields)%2 != 0 {
		return period{}, fmt.Errorf("invalid period %q", s)
	}

	var p period
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return period{}, fmt.Errorf("invalid period %q: %w", s, err)
		}
		switch strings.TrimSuffix(fields[i+1], "s") {
		case "year":
			p.years += n
		case "month":
			p.months += n
		case "week":
			p.days += 7 * n
		case "day":
			p.days += n
		default:
			return period{}, fmt.Errorf("invalid period unit %q", fields[i+1])
		}
	}
	return p, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102150405",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
