package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"userachievements/internal/achievements"
)

// Usage is the CLI help text.
const Usage = `usage: userachievements <command> [flags]

commands:
  migrate                          apply database migrations
  list                             list achievements
  enable <id>                      enable an achievement
  disable <id>                     disable an achievement
  rebuild [<id>|*]                 re-evaluate all users (default *)
  purge <id>|*                     delete every award of an achievement
  try -user NAME [-achievement ID] evaluate one user
  award -user NAME -achievement ID -level N
                                   grant a level manually
  badges -user NAME [-max]         list a user's badges
`

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("invalid usage")

// Run executes one CLI command against an opened App.
func (a *App) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, Usage)
		return ErrUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		// Open already migrated.
		fmt.Fprintln(out, "migrations applied")
		return nil
	case "list":
		return a.list(out)
	case "enable", "disable":
		if len(rest) != 1 {
			return usageError(out, "%s needs an achievement id", cmd)
		}
		if err := a.Engine.SetEnabled(ctx, achievements.NewSystemSession(), rest[0], cmd == "enable"); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %sd\n", rest[0], cmd)
		return nil
	case "rebuild":
		id := achievements.Wildcard
		if len(rest) > 0 {
			id = rest[0]
		}
		return a.rebuild(ctx, out, id)
	case "purge":
		if len(rest) != 1 {
			return usageError(out, "purge needs an achievement id or *")
		}
		n, err := a.Engine.PurgeUserBadges(ctx, achievements.NewSystemSession(), rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "purged %d awards\n", n)
		return nil
	case "try":
		return a.try(ctx, out, rest)
	case "award":
		return a.award(ctx, out, rest)
	case "badges":
		return a.badges(ctx, out, rest)
	case "help", "-h", "--help":
		fmt.Fprint(out, Usage)
		return nil
	}
	return usageError(out, "unknown command %q", cmd)
}

func usageError(out io.Writer, format string, args ...any) error {
	fmt.Fprintf(out, format+"\n\n", args...)
	fmt.Fprint(out, Usage)
	return ErrUsage
}

func (a *App) list(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tENABLED\tLEVELS\tPRIORITY\tTRIGGERS")
	for _, ach := range a.Engine.Registry().All() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%v\n",
			ach.ID(), ach.Kind(), ach.Enabled(), ach.Levels(), ach.Priority(), ach.Triggers())
	}
	return w.Flush()
}

func (a *App) rebuild(ctx context.Context, out io.Writer, id string) error {
	report, err := a.Engine.RebuildAchievement(ctx, achievements.NewSystemSession(), id)
	for _, r := range report.Results {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "%s: skipped (disabled)\n", r.AchievementID)
		case r.Err != nil:
			fmt.Fprintf(out, "%s: %d users, %d failures, stopped: %v\n", r.AchievementID, r.Users, len(r.Failures), r.Err)
		default:
			fmt.Fprintf(out, "%s: %d users, %d failures in %s\n", r.AchievementID, r.Users, len(r.Failures), r.Duration)
		}
		for _, f := range r.Failures {
			fmt.Fprintf(out, "  user %d: %v\n", f.UserID, f.Err)
		}
	}
	if err != nil {
		return err
	}
	return report.Err()
}

func (a *App) lookupUser(ctx context.Context, out io.Writer, name string) (achievements.User, error) {
	if name == "" {
		return achievements.User{}, usageError(out, "-user is required")
	}
	return a.Directory.GetUserByName(ctx, name)
}

func (a *App) try(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("try", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("user", "", "user name")
	id := fs.String("achievement", "", "achievement id; all when empty")
	if err := fs.Parse(args); err != nil {
		return ErrUsage
	}
	u, err := a.lookupUser(ctx, out, *name)
	if err != nil {
		return err
	}
	if *id == "" {
		err = a.Engine.TryAchieveAll(ctx, u)
	} else {
		err = a.Engine.TryAchieve(ctx, u, *id)
	}
	if err != nil {
		return err
	}
	return a.printBadges(ctx, out, u, false)
}

func (a *App) award(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("award", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("user", "", "user name")
	id := fs.String("achievement", "", "achievement id")
	level := fs.Int("level", 1, "badge level")
	if err := fs.Parse(args); err != nil {
		return ErrUsage
	}
	if *id == "" {
		return usageError(out, "-achievement is required")
	}
	u, err := a.lookupUser(ctx, out, *name)
	if err != nil {
		return err
	}
	held, err := a.Engine.Award(ctx, achievements.NewSystemSession(), u, *id, *level)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("%s is not eligible for badges", u.Name)
	}
	fmt.Fprintf(out, "%s holds %s level %d\n", u.Name, *id, *level)
	return nil
}

func (a *App) badges(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("badges", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("user", "", "user name")
	maxOnly := fs.Bool("max", false, "only the highest level of each achievement")
	if err := fs.Parse(args); err != nil {
		return ErrUsage
	}
	u, err := a.lookupUser(ctx, out, *name)
	if err != nil {
		return err
	}
	return a.printBadges(ctx, out, u, *maxOnly)
}

func (a *App) printBadges(ctx context.Context, out io.Writer, u achievements.User, maxOnly bool) error {
	badges, err := a.Engine.GetUserBadges(ctx, u, maxOnly)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACHIEVEMENT\tLEVEL\tNAME\tACHIEVED\tAWARDED BY")
	for _, b := range badges {
		by := "-"
		if b.Award.AwardedBy != 0 {
			by = strconv.FormatInt(b.Award.AwardedBy, 10)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			b.Achievement().ID(), b.Badge.Level(), b.Badge.Name(nil),
			b.Award.AchievedTime.Format("2006-01-02 15:04:05"), by)
	}
	return w.Flush()
}
