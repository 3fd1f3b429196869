package editquery

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Namespaces is either the wildcard "*" or an explicit list of namespace ids.
// The zero value means "use the content namespaces".
type Namespaces struct {
	All bool
	IDs []int
}

// AllNamespaces matches every namespace.
func AllNamespaces() Namespaces {
	return Namespaces{All: true}
}

// Only matches the given namespaces.
func Only(ids ...int) Namespaces {
	return Namespaces{IDs: ids}
}

// IsZero reports whether no namespace preference was configured.
func (n Namespaces) IsZero() bool {
	return !n.All && len(n.IDs) == 0
}

// UnmarshalYAML accepts "*", a single integer or a list of integers.
func (n *Namespaces) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "*" {
			*n = AllNamespaces()
			return nil
		}
		var id int
		if err := value.Decode(&id); err != nil {
			return fmt.Errorf("namespace %q: %w", value.Value, err)
		}
		*n = Only(id)
		return nil
	case yaml.SequenceNode:
		var ids []int
		if err := value.Decode(&ids); err != nil {
			return fmt.Errorf("namespace list: %w", err)
		}
		*n = Only(ids...)
		return nil
	default:
		return fmt.Errorf("namespaces must be \"*\" or a list of integers")
	}
}

// Options are the achievement-level switches that shape edit plans.
type Options struct {
	IncludeDeletedRevisions bool       `yaml:"includeDeletedRevisions"`
	IncludeNullRevisions    bool       `yaml:"includeNullRevisions"`
	IncludeRedirects        bool       `yaml:"includeRedirects"`
	IncludeNamespaces       Namespaces `yaml:"includeNamespaces"`
}
