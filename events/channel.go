package events

import (
	"context"
	"sync"
)

// Message is a publication delivered to in-process subscribers.
type Message struct {
	Topic string
	Event any
}

// ChannelPublisher fans events out to in-process subscribers. Slow subscribers
// drop messages rather than block publishers.
type ChannelPublisher struct {
	mu     sync.RWMutex
	subs   map[int]chan Message
	nextID int
	buffer int
	closed bool
}

// NewChannelPublisher returns a publisher whose subscriber channels hold buffer messages.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelPublisher{subs: make(map[int]chan Message), buffer: buffer}
}

// Subscribe returns a channel of future publications and a cancel function that
// unsubscribes and closes the channel.
func (p *ChannelPublisher) Subscribe() (<-chan Message, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Message, p.buffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(sub)
			}
		})
	}
}

func (p *ChannelPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- Message{Topic: topic, Event: event}:
		default:
			// Drop message if channel is full to avoid blocking the publisher.
		}
	}
	return nil
}

func (p *ChannelPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	return nil
}
