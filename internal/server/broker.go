package server

import (
	"encoding/json"
	"sync"
)

// Event is the payload published to reading subscribers.
type Event struct {
	Type    string           `json:"type"`
	Reading *ReadingResponse `json:"reading,omitempty"`
	// Target and From are set on "reset" events.
	Target string `json:"target,omitempty"`
	From   string `json:"from,omitempty"`
}

// Broker is an in-process pub/sub for reading events, keyed by reading ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the given reading.
func (b *Broker) Subscribe(readingID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[readingID] == nil {
		b.subs[readingID] = make(map[chan []byte]struct{})
	}
	b.subs[readingID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the reading's subscribers.
func (b *Broker) Unsubscribe(readingID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[readingID], ch)
	if len(b.subs[readingID]) == 0 {
		delete(b.subs, readingID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the given reading. It never
// blocks.
func (b *Broker) Publish(readingID string, event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[readingID] {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

// Subscribers reports how many channels listen to the reading.
func (b *Broker) Subscribers(readingID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[readingID])
}
