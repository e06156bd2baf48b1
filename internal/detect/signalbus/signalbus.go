// Package signalbus implements the signal-subscription interface:
// dashboard and persistence consumers attach over a websocket and
// receive a bounded, drop-oldest fan-out of detection events. The
// request path only ever calls Publish, which never blocks.
package signalbus

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is one detection outcome broadcast to subscribers. It never
// carries raw PII — only hashes, scores, and policy names.
type Event struct {
	RequestID      string
	BotProbability float64
	RiskBand       string
	PolicyName     string
	At             time.Time
}

// DefaultSubscriberBuffer bounds how many events a slow subscriber can
// fall behind by before the oldest is dropped.
const DefaultSubscriberBuffer = 256

// Bus fans out Events to any number of subscribers. Safe for
// concurrent use; Publish never blocks regardless of how slow or
// backlogged a subscriber is.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufferSize  int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  DefaultSubscriberBuffer,
	}
}

// Subscribe registers a new channel and returns it plus an unsubscribe
// func the caller must call when done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Publish broadcasts ev to every subscriber. A subscriber whose buffer
// is full has its oldest queued event dropped to make room — the bus
// never blocks the caller and never blocks on a slow consumer.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the connection to a websocket and streams Events
// to it until the client disconnects. It is a thin transport adapter;
// callers mount it at whatever path their composition root chooses.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "signalbus").Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			log.Debug().Str("component", "signalbus").Err(err).Msg("subscriber write failed, closing")
			return
		}
	}
}
