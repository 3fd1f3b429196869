package achievements

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Wildcard selects every achievement in Registry.Select.
const Wildcard = "*"

// Registry maps achievement ids to achievements. It is built once and read
// concurrently afterwards.
type Registry struct {
	byID    map[string]*Achievement
	ordered []*Achievement
}

// NewRegistry builds every definition against env. Any broken definition
// fails the whole registry.
func NewRegistry(defs []Definition, env *Env) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Achievement, len(defs))}
	for _, def := range defs {
		a, err := New(def, env)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[a.ID()]; dup {
			return nil, NewError(CodeConfig, nil, "duplicate achievement id %q", a.ID())
		}
		r.byID[a.ID()] = a
		r.ordered = append(r.ordered, a)
	}

	slices.SortStableFunc(r.ordered, func(x, y *Achievement) int {
		if x.Priority() != y.Priority() {
			return y.Priority() - x.Priority()
		}
		return strings.Compare(x.ID(), y.ID())
	})
	return r, nil
}

// LoadEnabled applies the persisted enabled flags. Achievements without a
// stored flag keep their definition default.
func (r *Registry) LoadEnabled(ctx context.Context, store EnabledStore) error {
	flags, err := store.EnabledFlags(ctx)
	if err != nil {
		return fmt.Errorf("loading enabled flags: %w", err)
	}
	for id, enabled := range flags {
		if a, ok := r.byID[id]; ok {
			a.SetEnabled(enabled)
		}
	}
	return nil
}

func (r *Registry) Get(id string) (*Achievement, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, NewError(CodeInvalidAchievement, nil, "unknown achievement %q", id)
	}
	return a, nil
}

// All returns every achievement ordered by priority, highest first, then id.
func (r *Registry) All() []*Achievement {
	return slices.Clone(r.ordered)
}

// Select returns the achievement with the given id, or all of them for
// Wildcard.
func (r *Registry) Select(id string) ([]*Achievement, error) {
	if id == Wildcard {
		return r.All(), nil
	}
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return []*Achievement{a}, nil
}

// ForTrigger returns the enabled achievements subscribed to a host action
// kind.
func (r *Registry) ForTrigger(action string) []*Achievement {
	var out []*Achievement
	for _, a := range r.ordered {
		if a.Enabled() && slices.Contains(a.Triggers(), action) {
			out = append(out, a)
		}
	}
	return out
}
