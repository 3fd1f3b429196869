package events

import "userachievements/internal/achievements"

// UserAction is a host write event, such as a saved page, that may earn
// badges. Kind is the host's opaque action name.
type UserAction struct {
	User achievements.User
	Kind string
}

type Bus struct {
	UserActions chan UserAction
}

func NewBus() *Bus {
	return &Bus{
		UserActions: make(chan UserAction, 64),
	}
}

// Publish queues an action without blocking. It reports false when the bus
// is full and the action was dropped.
func (b *Bus) Publish(a UserAction) bool {
	select {
	case b.UserActions <- a:
		return true
	default:
		return false
	}
}
