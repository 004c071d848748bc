// Package stream provides the in-process fan-out broker that feeds live
// event consumers (WebSocket, SSE, and the orchestrator wake-up path).
package stream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/repomesh/repomesh/internal/models"
)

// queueSize bounds each subscriber's buffer. Under burst traffic the oldest
// buffered event is dropped so the stream stays live.
const queueSize = 200

// Subscriber is a registered consumer of the live event feed. Events arrive
// on C until Unsubscribe is called.
type Subscriber struct {
	ID               string
	C                chan *models.Event
	RecipientID      string
	Channel          string
	IncludeBroadcast bool
}

// Broker fans published events out to matching subscribers. Delivery is
// best-effort: a slow subscriber loses its oldest buffered events, never
// blocks the publisher.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]*Subscriber)}
}

// Subscribe registers a consumer. recipientID and channel narrow delivery;
// empty values match everything.
func (b *Broker) Subscribe(recipientID, channel string, includeBroadcast bool) *Subscriber {
	sub := &Subscriber{
		ID:               uuid.NewString(),
		C:                make(chan *models.Event, queueSize),
		RecipientID:      recipientID,
		Channel:          channel,
		IncludeBroadcast: includeBroadcast,
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the consumer. Its channel is not closed; readers
// select on it alongside their own done signal.
func (b *Broker) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()
}

// Publish delivers the event to every matching subscriber.
func (b *Broker) Publish(event *models.Event) {
	b.mu.Lock()
	subscribers := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	for _, sub := range subscribers {
		if !matches(sub, event) {
			continue
		}
		select {
		case sub.C <- event:
		default:
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- event:
			default:
			}
		}
	}
}

func matches(sub *Subscriber, event *models.Event) bool {
	if sub.Channel != "" && sub.Channel != event.Channel {
		return false
	}
	if sub.RecipientID != "" {
		if event.RecipientID == nil {
			return sub.IncludeBroadcast
		}
		return *event.RecipientID == sub.RecipientID
	}
	return true
}
