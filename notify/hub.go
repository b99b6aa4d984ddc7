package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// subscriber buffer size; a subscriber that falls this far behind is
// dropped rather than skipped, so it never observes a gap
const sendBuffer = 64

// Message is the envelope pushed to every subscriber
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Subscriber is one open push connection. Events are delivered in
// broadcast order until the channel is closed.
type Subscriber struct {
	events chan []byte
}

// Events returns the subscriber's event stream
func (s *Subscriber) Events() <-chan []byte {
	return s.events
}

// Hub maintains the set of open push subscribers and broadcasts events to
// all of them, best-effort. It is constructed per process (or per test)
// and injected into the handlers that publish.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	logger      *logrus.Logger
}

// NewHub creates an empty hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The caller owns the connection and
// must call Unsubscribe when it closes.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{events: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.logger.WithField("subscriber_count", count).Info("Subscriber connected")
	return sub
}

// Unsubscribe removes a subscriber and closes its event stream. Safe to
// call after the hub has already dropped the subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.events)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	h.logger.WithField("subscriber_count", count).Info("Subscriber disconnected")
}

// Broadcast serializes the payload once and delivers it to every current
// subscriber. Subscribers that cannot keep up are dropped; failures never
// propagate to the caller. Subscribers that connect later never receive
// this event.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	message := Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return
	}

	h.mu.Lock()
	for sub := range h.subscribers {
		select {
		case sub.events <- payload:
		default:
			delete(h.subscribers, sub)
			close(sub.events)
			h.logger.Warn("Dropping slow subscriber")
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports how many push connections are open
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
