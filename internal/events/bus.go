/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events carries job and scheduler state changes to dashboards
// and other listeners.
package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventJobSubmitted EventType = "job.submitted"
	EventJobDeferred  EventType = "job.deferred"
	EventJobReady     EventType = "job.ready"
	EventJobRunning   EventType = "job.running"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobArchived  EventType = "job.archived"

	EventSchedulerTick       EventType = "scheduler.tick"
	EventForecastUpdated     EventType = "forecast.updated"
	EventForecastUnavailable EventType = "forecast.unavailable"
)

// JobEvents lists the per-job lifecycle events.
var JobEvents = []EventType{
	EventJobSubmitted, EventJobDeferred, EventJobReady, EventJobRunning,
	EventJobCompleted, EventJobFailed, EventJobArchived,
}

// Publisher is anything that fans events out to subscribers.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is a Publisher that also hands out subscriptions. Bus and the
// distributed buses in package eventbus implement it.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

const subscriberBuffer = 32

// Bus implements a simple in-process pubsub. Publish never blocks; a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
