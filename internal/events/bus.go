// Package events is a typed publish/subscribe bus for engine lifecycle notifications.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// Type names an event
type Type string

// Event types emitted by the engine
const (
	EngineStarted      Type = "engine:started"
	EngineStopped      Type = "engine:stopped"
	TaskCreated        Type = "task:created"
	TaskStarted        Type = "task:started"
	TaskCompleted      Type = "task:completed"
	TaskFailed         Type = "task:failed"
	BatchCreated       Type = "batch:created"
	BatchStarted       Type = "batch:started"
	BatchCompleted     Type = "batch:completed"
	BatchCancelled     Type = "batch:cancelled"
	VestingCreated     Type = "vesting:created"
	ApprovalCreated    Type = "approval:created"
	ApprovalApproved   Type = "approval:approved"
	ApprovalRejected   Type = "approval:rejected"
	ApprovalExpired    Type = "approval:expired"
	CircuitOpen        Type = "circuit:open"
	CircuitReset       Type = "circuit:reset"
	GenesisInitialized Type = "genesis:initialized"
	MetricsUpdated     Type = "metrics:updated"
)

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type       Type           `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	TaskID     string         `json:"taskId,omitempty"`
	BatchID    string         `json:"batchId,omitempty"`
	ScheduleID string         `json:"scheduleId,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Category   types.Category `json:"category,omitempty"`
	LatencyMs  float64        `json:"latencyMs,omitempty"`
	Count      int            `json:"count,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber, stamping the timestamp if unset
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			logrus.WithFields(logrus.Fields{"subscriber": id, "event": e.Type}).Debug("Event dropped, subscriber buffer full")
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
