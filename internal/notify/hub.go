// Package notify is a small publish–subscribe hub used to broadcast
// application state changes, such as credential updates, to whoever is
// interested (model pickers, websocket clients, other server instances).
package notify

import (
	"sync"
	"time"
)

// Topic names an event stream
type Topic string

// TopicCredentialsChanged fires whenever the credential mapping changes
const TopicCredentialsChanged Topic = "credentials.changed"

// Event is a single notification
type Event struct {
	Topic   Topic     `json:"topic"`
	Origin  string    `json:"origin,omitempty"`
	Payload string    `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher publishes events
type Publisher interface {
	Publish(evt Event)
}

// Subscription receives events for one topic until cancelled
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel stops delivery and closes C
func (s *Subscription) Cancel() {
	s.cancel()
}

// Hub fans events out to subscribers. Delivery never blocks the publisher:
// an event is dropped for a subscriber whose buffer is full.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Topic]map[int]chan Event
	nextID int
	hooks  []func(Event)
	// run on events from other processes before subscribers see them
	deliverHooks []func(Event)
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[int]chan Event)}
}

// Subscribe registers interest in topic
func (h *Hub) Subscribe(topic Topic) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	id := h.nextID
	h.nextID++
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]chan Event)
	}
	h.subs[topic][id] = ch

	var once sync.Once
	return &Subscription{
		C: ch,
		cancel: func() {
			once.Do(func() {
				h.mu.Lock()
				defer h.mu.Unlock()
				delete(h.subs[topic], id)
				close(ch)
			})
		},
	}
}

// OnPublish registers a hook called synchronously for every locally
// published event. Bridges use it to relay events to other processes.
func (h *Hub) OnPublish(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

// Publish delivers evt to local subscribers and publish hooks
func (h *Hub) Publish(evt Event) {
	h.deliver(evt)

	h.mu.RLock()
	hooks := append([]func(Event){}, h.hooks...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(evt)
	}
}

// OnDeliver registers a hook called synchronously for every event that
// arrived from another process, before it reaches local subscribers.
// Stores use it to reload state that another instance changed.
func (h *Hub) OnDeliver(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverHooks = append(h.deliverHooks, fn)
}

// Deliver runs the deliver hooks and hands evt to local subscribers only;
// used for events that arrived from another process.
func (h *Hub) Deliver(evt Event) {
	h.mu.RLock()
	hooks := append([]func(Event){}, h.deliverHooks...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(evt)
	}

	h.deliver(evt)
}

func (h *Hub) deliver(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.Topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}
