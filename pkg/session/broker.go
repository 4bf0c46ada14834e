package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/devicelab-dev/aiqa-agent/pkg/executor"
	"github.com/devicelab-dev/aiqa-agent/pkg/logger"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Broker fans session events out to subscribers. Each subscriber owns a
// buffered channel; events are dropped for a subscriber whose buffer is
// full, so delivery is at most once and a slow reader never stalls the
// engine.
type Broker struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[string]chan executor.Event // session id -> subscriber id -> queue
}

// NewBroker creates a broker with the given per-subscriber buffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[string]map[string]chan executor.Event),
	}
}

// Subscribe registers a subscriber for a session. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(sessionID string) (<-chan executor.Event, func()) {
	id := uuid.NewString()
	ch := make(chan executor.Event, b.buffer)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[string]chan executor.Event)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	logger.Debug("Subscriber %s registered for session %s", id, sessionID)

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(sessionID, id) })
	}
}

func (b *Broker) remove(sessionID, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sessionID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, sessionID)
	}
	close(ch)
	logger.Debug("Subscriber %s removed from session %s", id, sessionID)
}

// Publish delivers ev to every subscriber of the session and returns how
// many subscribers missed it.
func (b *Broker) Publish(sessionID string, ev executor.Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for id, ch := range b.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			dropped++
			logger.Warn("Subscriber %s buffer full, dropping %s event", id, ev.Kind)
		}
	}
	return dropped
}

// Subscribers returns the number of subscribers of a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// CloseSession removes every subscriber of a session.
func (b *Broker) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs[sessionID] {
		close(ch)
		delete(b.subs[sessionID], id)
	}
	delete(b.subs, sessionID)
}
