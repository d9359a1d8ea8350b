package core

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker closed")

// BrokerMessage is a payload published to a group.
type BrokerMessage struct {
	Group   string
	Payload []byte
}

// Broker carries group events between server processes.
// Messages published to the same group are delivered to each subscriber in publish order.
type Broker interface {
	Publish(ctx context.Context, group string, payload []byte) error
	// Subscribe receives every group. The channel is closed once ctx is done
	// or the broker is closed.
	Subscribe(ctx context.Context) (<-chan BrokerMessage, error)
	Close() error
}

type memorySubscriber struct {
	ch   chan BrokerMessage
	done chan struct{}
	once sync.Once
}

func (s *memorySubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// MemoryBroker is an in-process broker for single instance deployments and tests.
type MemoryBroker struct {
	subs   map[*memorySubscriber]struct{}
	mu     sync.RWMutex
	closed bool
	buffer int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[*memorySubscriber]struct{}),
		buffer: 256,
	}
}

var _ Broker = (*MemoryBroker)(nil)

func (b *MemoryBroker) Publish(ctx context.Context, group string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	msg := BrokerMessage{Group: group, Payload: payload}
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan BrokerMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &memorySubscriber{
		ch:   make(chan BrokerMessage, b.buffer),
		done: make(chan struct{}),
	}
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		sub.stop()
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySubscriber, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}
