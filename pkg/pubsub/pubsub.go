// Package pubsub implements a minimal publish/subscribe broker used to fan
// out updates to interested components.
package pubsub

import (
	"log/slog"
	"sync"
)

// Publisher fans out published values to all subscribed channels. Publish
// blocks until every subscriber has received the value; subscribers are
// expected to service their channel promptly.
type Publisher[T any] struct {
	logger      *slog.Logger
	subscribers map[chan T]struct{}
	lock        sync.RWMutex
}

// New returns a new Publisher.
func New[T any](logger *slog.Logger) *Publisher[T] {
	return &Publisher[T]{
		logger:      logger,
		subscribers: make(map[chan T]struct{}),
	}
}

// Subscribe returns a channel on which the caller will receive all values
// published after this call.
func (p *Publisher[T]) Subscribe() chan T {
	p.lock.Lock()
	defer p.lock.Unlock()
	ch := make(chan T)
	p.subscribers[ch] = struct{}{}
	p.logger.Debug("subscriber added", slog.Int("subscribers", len(p.subscribers)))
	return ch
}

// Unsubscribe removes a channel returned by Subscribe. No values are sent to
// it afterwards.
func (p *Publisher[T]) Unsubscribe(ch chan T) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.subscribers, ch)
	p.logger.Debug("subscriber removed", slog.Int("subscribers", len(p.subscribers)))
}

// Publish sends value to all subscribers.
func (p *Publisher[T]) Publish(value T) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for ch := range p.subscribers {
		ch <- value
	}
}

// Subscribers returns the number of subscribed channels.
func (p *Publisher[T]) Subscribers() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.subscribers)
}
