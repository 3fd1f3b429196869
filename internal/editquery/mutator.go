package editquery

// Mutator adjusts a set of plans before execution.
type Mutator interface {
	Mutate(plans []Plan) []Plan
}

// MutatorFunc adapts a function to Mutator.
type MutatorFunc func(plans []Plan) []Plan

func (f MutatorFunc) Mutate(plans []Plan) []Plan {
	return f(plans)
}

// Apply runs the mutators in order.
func Apply(plans []Plan, mutators ...Mutator) []Plan {
	for _, m := range mutators {
		if m != nil {
			plans = m.Mutate(plans)
		}
	}
	return plans
}

func each(fn func(p *Plan)) MutatorFunc {
	return func(plans []Plan) []Plan {
		for i := range plans {
			fn(&plans[i])
		}
		return plans
	}
}

// FirstEventOnly limits every plan to its earliest row.
var FirstEventOnly Mutator = each(func(p *Plan) { p.Limit = 1 })

// PageCreationsOnly keeps only edits that created a page.
var PageCreationsOnly Mutator = each(func(p *Plan) { p.PageCreationsOnly = true })

// DistinctPages counts pages instead of revisions.
var DistinctPages Mutator = each(func(p *Plan) { p.DistinctPages = true })
