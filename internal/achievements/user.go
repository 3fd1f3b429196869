package achievements

import (
	"context"
	"time"

	"golang.org/x/exp/slices"
)

// User is the host account an achievement is evaluated for or acted on by.
type User struct {
	ID   int64
	Name string
	// Registered is the account creation time; zero when unknown.
	Registered     time.Time
	EmailConfirmed bool
	Bot            bool
	System         bool
}

// IsRegistered reports whether u is a real account rather than an
// anonymous placeholder.
func (u User) IsRegistered() bool {
	return u.ID > 0
}

// Eligibility decides whether a user may hold badges at all.
type Eligibility interface {
	IsEligible(u User) bool
}

// Admins decides whether a user may run administrative operations.
type Admins interface {
	IsAdmin(ctx context.Context, u User) (bool, error)
}

// DefaultEligibility accepts registered, non-bot, non-system users whose
// name is not ignored.
type DefaultEligibility struct {
	IgnoreUsernames []string
}

func (e DefaultEligibility) IsEligible(u User) bool {
	return u.IsRegistered() &&
		!u.Bot &&
		!u.System &&
		!slices.Contains(e.IgnoreUsernames, u.Name)
}

// AdminSet is a fixed list of administrator user ids.
type AdminSet map[int64]bool

func (s AdminSet) IsAdmin(_ context.Context, u User) (bool, error) {
	return u.IsRegistered() && s[u.ID], nil
}
