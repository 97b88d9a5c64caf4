package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/pkg/log"
)

// Recorder subscribes to the engine's event hub and folds every
// process-scoped event into the history store
type Recorder struct {
	store     *Store
	hub       *events.Hub
	log       *slog.Logger
	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

const recordTimeout = 10 * time.Second

// NewRecorder creates a recorder over a history store and event hub
func NewRecorder(store *Store, hub *events.Hub, l *slog.Logger) *Recorder {
	if l == nil {
		l = slog.Default()
	}
	return &Recorder{
		store: store,
		hub:   hub,
		log:   l,
		stop:  make(chan struct{}),
	}
}

// Start begins consuming events. The subscription is created here so no
// event published after Start is missed
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		sub := r.hub.Subscribe()
		r.wg.Go(func() {
			r.consume(sub)
		})
	})
}

// Stop ends consumption and waits for the in-flight event to land
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

func (r *Recorder) consume(sub topic.Consumer[*events.Event]) {
	defer sub.Close()
	for {
		select {
		case <-r.stop:
			return
		case ev, ok := <-sub.Receive():
			if !ok {
				return
			}
			r.record(ev)
		}
	}
}

func (r *Recorder) record(ev *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.store.Record(ctx, ev); err != nil {
		r.log.Error("Unable to record history event",
			log.EventType(ev.Type),
			log.ProcessID(ev.Process),
			log.Error(err))
	}
}
