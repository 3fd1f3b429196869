package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"golang.org/x/exp/slices"

	"userachievements/internal/achievements"
)

type DirectoryConfig struct {
	AdminGroups     []string
	BotGroups       []string
	SystemUsernames []string
	Clock           clockwork.Clock
}

// Directory reads accounts and group memberships from the host's user
// tables.
type Directory struct {
	db  *DB
	cfg DirectoryConfig
}

func NewDirectory(d *DB, cfg DirectoryConfig) *Directory {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Directory{db: d, cfg: cfg}
}

type userRow struct {
	ID                 int64     `db:"user_id"`
	Name               string    `db:"user_name"`
	Registration       Timestamp `db:"user_registration"`
	EmailAuthenticated Timestamp `db:"user_email_authenticated"`
}

func (d *Directory) userTable() string {
	if d.db.dialect == Postgres {
		return "mwuser"
	}
	return d.db.quote("user")
}

func (d *Directory) selectUsers() string {
	return `SELECT user_id, user_name, user_registration, user_email_authenticated FROM ` + d.userTable()
}

func (d *Directory) GetUser(ctx context.Context, id int64) (achievements.User, error) {
	return d.getUser(ctx, d.selectUsers()+` WHERE user_id = ?`, id)
}

func (d *Directory) GetUserByName(ctx context.Context, name string) (achievements.User, error) {
	return d.getUser(ctx, d.selectUsers()+` WHERE user_name = ?`, name)
}

func (d *Directory) getUser(ctx context.Context, query string, arg any) (achievements.User, error) {
	var row userRow
	err := d.db.conn.GetContext(ctx, &row, d.db.conn.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return achievements.User{}, achievements.NewError(achievements.CodeNotRegistered, nil, "no user %v", arg)
	}
	if err != nil {
		return achievements.User{}, fmt.Errorf("getting user: %w", err)
	}
	users, err := d.withGroups(ctx, []userRow{row})
	if err != nil {
		return achievements.User{}, err
	}
	return users[0], nil
}

// ListUsers returns up to limit users with ids above afterID in id order.
func (d *Directory) ListUsers(ctx context.Context, afterID int64, limit int) ([]achievements.User, error) {
	var rows []userRow
	err := d.db.conn.SelectContext(ctx, &rows, d.db.conn.Rebind(
		d.selectUsers()+` WHERE user_id > ? ORDER BY user_id LIMIT ?`), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return d.withGroups(ctx, rows)
}

// FirstRegistration is the earliest account registration, used as the
// installation time.
func (d *Directory) FirstRegistration(ctx context.Context) (time.Time, bool, error) {
	var ts Timestamp
	err := d.db.conn.GetContext(ctx, &ts, `SELECT MIN(user_registration) FROM `+d.userTable())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("getting first registration: %w", err)
	}
	return ts.Time, ts.Valid, nil
}

// IsAdmin reports whether u belongs to an admin group.
func (d *Directory) IsAdmin(ctx context.Context, u achievements.User) (bool, error) {
	if !u.IsRegistered() {
		return false, nil
	}
	groups, err := d.groups(ctx, []int64{u.ID})
	if err != nil {
		return false, err
	}
	for _, g := range groups[u.ID] {
		if slices.Contains(d.cfg.AdminGroups, g) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) withGroups(ctx context.Context, rows []userRow) ([]achievements.User, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	groups, err := d.groups(ctx, ids)
	if err != nil {
		return nil, err
	}

	users := make([]achievements.User, 0, len(rows))
	for _, r := range rows {
		u := achievements.User{
			ID:             r.ID,
			Name:           r.Name,
			Registered:     r.Registration.Time,
			EmailConfirmed: r.EmailAuthenticated.Valid,
			System:         slices.Contains(d.cfg.SystemUsernames, r.Name),
		}
		for _, g := range groups[r.ID] {
			if slices.Contains(d.cfg.BotGroups, g) {
				u.Bot = true
			}
		}
		users = append(users, u)
	}
	return users, nil
}

// groups returns the unexpired group memberships of ids.
func (d *Directory) groups(ctx context.Context, ids []int64) (map[int64][]string, error) {
	query, args, err := sqlx.In(`SELECT ug_user, ug_group, ug_expiry FROM user_groups WHERE ug_user IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		User   int64     `db:"ug_user"`
		Group  string    `db:"ug_group"`
		Expiry Timestamp `db:"ug_expiry"`
	}
	if err := d.db.conn.SelectContext(ctx, &rows, d.db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("loading user groups: %w", err)
	}

	now := d.cfg.Clock.Now()
	out := make(map[int64][]string, len(ids))
	for _, r := range rows {
		if r.Expiry.Valid && r.Expiry.Time.Before(now) {
			continue
		}
		out[r.User] = append(out[r.User], r.Group)
	}
	return out, nil
}
