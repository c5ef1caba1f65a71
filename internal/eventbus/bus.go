package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventStepStarted       EventType = "step.started"
	EventStepCompleted     EventType = "step.completed"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowAborted   EventType = "workflow.aborted"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
	EventApprovalEscalated EventType = "approval.escalated"
)

type Event struct {
	ID        string
	Type      EventType
	ThreadID  string
	StepID    string
	Metadata  map[string]string
	CreatedAt time.Time
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, threadID, stepID string, metadata map[string]string) {
	b.Publish(&Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		ThreadID:  threadID,
		StepID:    stepID,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
}
