package events

import (
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"
)

// Hub fans engine events out to any number of subscribers
type Hub struct {
	queue     topic.Topic[*Event]
	prod      topic.Producer[*Event]
	closeOnce sync.Once
}

// NewHub creates an event hub
func NewHub() *Hub {
	queue := caravan.NewTopic[*Event]()
	return &Hub{
		queue: queue,
		prod:  queue.NewProducer(),
	}
}

// Publish delivers an event to all current subscribers
func (h *Hub) Publish(ev *Event) {
	message.Send(h.prod, ev)
}

// Subscribe returns a consumer of all events published after the call.
// The caller owns the consumer and must close it
func (h *Hub) Subscribe() topic.Consumer[*Event] {
	return h.queue.NewConsumer()
}

// Close shuts down the hub's producer
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.prod.Close()
	})
}
