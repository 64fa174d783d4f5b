package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType is the last token of an event subject.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event reports a task transition or one product outcome.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	State     State     `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	ProductID string    `json:"product_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func newEvent(typ EventType, t Task, at time.Time) Event {
	return Event{
		Type:      typ,
		TaskID:    t.ID,
		State:     t.State,
		Total:     t.Total,
		Completed: t.Completed,
		Failed:    t.Failed,
		Error:     t.Error,
		At:        at,
	}
}

// Publisher delivers task events. Implementations must not block for long;
// they are called from workers outside the task lock.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes events as JSON on <prefix>.<task_id>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher wraps an open connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "lmaudit.tasks"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(taskID string, typ EventType) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, taskID, typ)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e.TaskID, e.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// ConnectNATS dials url for event publishing. Reconnects are unbounded so a
// restarted broker does not silence a long-running daemon.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}
