package server

import (
	"encoding/json"
	"sync"

	"github.com/playperu/stamprally/internal/stamprally"
)

// Event is the payload published to a player's subscribers.
type Event struct {
	Type   string                 `json:"type"`
	SpotID string                 `json:"spotId"`
	From   stamprally.UnlockState `json:"from"`
	To     stamprally.UnlockState `json:"to"`
}

// Broker is an in-process pub/sub for SSE events, keyed by player ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the player.
func (b *Broker) Subscribe(playerID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[playerID] == nil {
		b.subs[playerID] = make(map[chan []byte]struct{})
	}
	b.subs[playerID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from the player's subscribers. The player entry is
// dropped with its last subscriber. ch is not closed.
func (b *Broker) Unsubscribe(playerID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[playerID], ch)
	if len(b.subs[playerID]) == 0 {
		delete(b.subs, playerID)
	}
	b.mu.Unlock()
}

// Subscribed reports whether the player has at least one subscriber.
func (b *Broker) Subscribed(playerID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[playerID]) > 0
}

// Publish never blocks: a full subscriber misses the event.
func (b *Broker) Publish(playerID string, event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[playerID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.RUnlock()
}
