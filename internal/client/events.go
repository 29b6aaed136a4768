package client

import (
	"container/list"
	"sync"
)

// Event is an opaque execute directive handed to the host application
type Event struct {
	CardUID    string `json:"cardUid"`
	ActionID   string `json:"actionId,omitempty"`
	InstanceID string `json:"cardInstanceId,omitempty"`
	Payload    any    `json:"payload"`
}

// EventQueue accumulates execute events until the host drains them
type EventQueue struct {
	mu      sync.Mutex
	pending *list.List // *Event
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	return &EventQueue{
		pending: list.New(),
	}
}

// Enqueue adds an event to the queue
func (q *EventQueue) Enqueue(ev *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.PushBack(ev)
}

// Drain pops all pending events in arrival order
func (q *EventQueue) Drain() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	var events []*Event
	for elem := q.pending.Front(); elem != nil; elem = elem.Next() {
		events = append(events, elem.Value.(*Event))
	}
	q.pending.Init()
	return events
}

// HasEvents returns true if there are pending events
func (q *EventQueue) HasEvents() bool {
	return q.Count() > 0
}

// Count returns the number of pending events
func (q *EventQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}
