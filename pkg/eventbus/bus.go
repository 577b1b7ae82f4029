// Package eventbus is a small typed wrapper around cskr/pubsub used to fan
// camera notifications out to any number of consumers.
package eventbus

import (
	"sync"

	"github.com/cskr/pubsub/v2"
)

const defaultCapacity = 32

// Bus delivers messages of type M to subscribers of string topics.
type Bus[M any] struct {
	ps       *pubsub.PubSub[string, M]
	lossy    map[string]bool
	closed   bool
	closeMux sync.RWMutex
}

// New creates a bus whose subscriber channels buffer capacity messages.
// Messages published on a lossy topic are dropped for subscribers that are
// not keeping up instead of stalling the publisher.
func New[M any](capacity int, lossyTopics ...string) *Bus[M] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	lossy := make(map[string]bool, len(lossyTopics))
	for _, t := range lossyTopics {
		lossy[t] = true
	}
	return &Bus[M]{ps: pubsub.New[string, M](capacity), lossy: lossy}
}

// Sub returns a channel receiving messages published on any of topics.
// After Shutdown the returned channel is already closed.
func (b *Bus[M]) Sub(topics ...string) chan M {
	b.closeMux.RLock()
	defer b.closeMux.RUnlock()
	if b.closed {
		ch := make(chan M)
		close(ch)
		return ch
	}
	return b.ps.Sub(topics...)
}

// Unsub removes ch from topics, or from all topics when none are given.
func (b *Bus[M]) Unsub(ch chan M, topics ...string) {
	b.closeMux.RLock()
	defer b.closeMux.RUnlock()
	if b.closed {
		return
	}
	if len(topics) == 0 {
		// pubsub closes ch once it has no topics left; keep it drained until
		// then so a pending delivery can't stall the unsubscribe.
		go func() {
			for range ch {
			}
		}()
	}
	b.ps.Unsub(ch, topics...)
}

// Publish sends msg to the subscribers of topic. It is a no-op after Shutdown.
func (b *Bus[M]) Publish(topic string, msg M) {
	b.closeMux.RLock()
	defer b.closeMux.RUnlock()
	if b.closed {
		return
	}
	if b.lossy[topic] {
		b.ps.TryPub(msg, topic)
		return
	}
	b.ps.Pub(msg, topic)
}

// Shutdown closes every subscriber channel. The bus can't be used afterwards.
func (b *Bus[M]) Shutdown() {
	b.closeMux.Lock()
	defer b.closeMux.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}
