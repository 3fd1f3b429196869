package broadcast

import (
	"sync"

	"userachievements/internal/achievements"
)

// AwardEvent announces a badge the user did not hold before.
type AwardEvent struct {
	Award achievements.Award
}

// Broadcaster fans award events out to subscribers such as host notifiers.
// It is an achievements.Observer.
type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[chan AwardEvent]bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		Clients: make(map[chan AwardEvent]bool),
	}
}

func (b *Broadcaster) Subscribe() chan AwardEvent {
	ch := make(chan AwardEvent, 10)
	b.Mu.Lock()
	b.Clients[ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan AwardEvent) {
	b.Mu.Lock()
	delete(b.Clients, ch)
	b.Mu.Unlock()
	close(ch)
}

func (b *Broadcaster) Broadcast(ev AwardEvent) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		select {
		case ch <- ev:
		default:
			// skip subscribers with full channels
		}
	}
}

func (b *Broadcaster) Evaluated(string) {}

func (b *Broadcaster) Awarded(a achievements.Award) {
	b.Broadcast(AwardEvent{Award: a})
}
