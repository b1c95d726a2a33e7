// Package relay streams capture lifecycle events to Server-Sent Events
// clients. Every event carries a sequence number; a client reconnecting
// with Last-Event-ID is replayed what it missed from a bounded backlog.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	subscriberBufSize = 256
	backlogSize       = 128
)

// Feeds published by the capture service.
const (
	FeedCapture = "capture"
	FeedBatch   = "batch"
)

// Event is one capture or batch notification.
type Event struct {
	Seq     int64
	Feed    string
	Payload string
}

// Broker sequences events, keeps the most recent ones for replay and fans
// them out to subscribers without blocking the publisher.
type Broker struct {
	mu      sync.Mutex
	seq     int64
	backlog []Event // ring, oldest first once full
	head    int
	subs    map[int64]chan Event
	nextSub int64
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int64]chan Event)}
}

// Subscribe registers a client. Backlogged events with Seq > after are queued
// on the returned channel before any live event; pass 0 for live only.
func (b *Broker) Subscribe(after int64) (int64, <-chan Event) {
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if after > 0 {
		for _, evt := range b.replayLocked() {
			if evt.Seq > after {
				ch <- evt
			}
		}
	}
	b.nextSub++
	b.subs[b.nextSub] = ch
	return b.nextSub, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish stamps evt with the next sequence number and delivers it. A full
// subscriber loses the event and the loss is counted.
func (b *Broker) Publish(evt Event) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	evt.Seq = b.seq
	if len(b.backlog) < backlogSize {
		b.backlog = append(b.backlog, evt)
	} else {
		b.backlog[b.head] = evt
		b.head = (b.head + 1) % backlogSize
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
	return evt.Seq
}

// PublishJSON marshals v as the payload of a feed event.
func (b *Broker) PublishJSON(feed string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Debug("relay event marshal failed", "feed", feed, "error", err)
		return
	}
	b.Publish(Event{Feed: feed, Payload: string(raw)})
}

func (b *Broker) replayLocked() []Event {
	out := make([]Event, 0, len(b.backlog))
	out = append(out, b.backlog[b.head:]...)
	return append(out, b.backlog[:b.head]...)
}

func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped counts events discarded because a subscriber was full.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
