package hub

import (
	"sync"

	"github.com/google/uuid"
)

// sendBuffer is how many messages a subscriber may lag behind before it is dropped.
const sendBuffer = 64

// Subscriber receives broadcast payloads on Send until the hub closes it.
type Subscriber struct {
	ID     string
	ItemID string // empty for the global feed
	Send   chan []byte
}

// Hub fans payloads out to subscribers of one item and to global feed subscribers.
// A subscriber that cannot keep up is dropped rather than allowed to stall the rest.
type Hub struct {
	mu     sync.RWMutex
	items  map[string]map[*Subscriber]struct{}
	global map[*Subscriber]struct{}
}

func New() *Hub {
	return &Hub{
		items:  make(map[string]map[*Subscriber]struct{}),
		global: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber for itemID, or for every item when itemID is empty.
func (h *Hub) Subscribe(itemID string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		ItemID: itemID,
		Send:   make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if itemID == "" {
		h.global[sub] = struct{}{}
		return sub
	}
	set, ok := h.items[itemID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.items[itemID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its Send channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if sub.ItemID == "" {
		if _, ok := h.global[sub]; !ok {
			return
		}
		delete(h.global, sub)
	} else {
		set, ok := h.items[sub.ItemID]
		if !ok {
			return
		}
		if _, ok := set[sub]; !ok {
			return
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.items, sub.ItemID)
		}
	}
	close(sub.Send)
}

// Publish delivers payload to the item's subscribers and the global feed and
// returns how many received it.
func (h *Hub) Publish(itemID string, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	var slow []*Subscriber
	deliver := func(sub *Subscriber) {
		select {
		case sub.Send <- payload:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	for sub := range h.items[itemID] {
		deliver(sub)
	}
	for sub := range h.global {
		deliver(sub)
	}
	for _, sub := range slow {
		h.removeLocked(sub)
	}
	return delivered
}

// SubscriberCount returns the number of subscribers watching itemID.
func (h *Hub) SubscriberCount(itemID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if itemID == "" {
		return len(h.global)
	}
	return len(h.items[itemID])
}
