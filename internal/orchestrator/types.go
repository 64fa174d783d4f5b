package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
)

// State is the lifecycle position of a bulk task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Source says where a task's product URLs came from.
type Source string

const (
	SourceDiscovery Source = "discovery"
	SourceURLs      Source = "urls"
)

var (
	// ErrTaskNotFound is returned for unknown or pruned task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidRequest wraps every submit validation failure.
	ErrInvalidRequest = errors.New("invalid task request")

	// ErrTaskFinished is returned when cancelling a terminal task.
	ErrTaskFinished = errors.New("task already finished")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// TaskAbort fails a whole task before any product was audited.
type TaskAbort struct {
	TaskID string
	Reason string
	Cause  error
}

func (e *TaskAbort) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("task %s aborted: %s: %v", e.TaskID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("task %s aborted: %s", e.TaskID, e.Reason)
}

func (e *TaskAbort) Unwrap() error {
	return e.Cause
}

// Request starts a discovery-driven bulk audit.
type Request struct {
	Category      scraper.DiscoveryCategory `json:"category"`
	MaxProducts   int                       `json:"max_products"`
	Marketplace   scraper.Marketplace       `json:"marketplace,omitempty"`
	SellerID      string                    `json:"seller_id"`
	CustomKeyword string                    `json:"custom_keyword,omitempty"`
}

// URLRequest starts a bulk audit over explicit product URLs.
type URLRequest struct {
	URLs     []string         `json:"urls"`
	SellerID string           `json:"seller_id"`
	Category catalog.Category `json:"category,omitempty"`
}

// Task is a point-in-time snapshot of a bulk task. Results arrive in
// completion order, not discovery order.
type Task struct {
	ID          string                `json:"task_id"`
	State       State                 `json:"status"`
	Source      Source                `json:"source"`
	Category    string                `json:"category,omitempty"`
	Marketplace string                `json:"marketplace,omitempty"`
	SellerID    string                `json:"seller_id"`
	Total       int                   `json:"total"`
	Completed   int                   `json:"completed"`
	Failed      int                   `json:"failed"`
	Results     []*report.AuditReport `json:"results"`
	Errors      []string              `json:"errors"`
	Error       string                `json:"error,omitempty"`
	Cancelled   bool                  `json:"cancelled,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	FinishedAt  *time.Time            `json:"finished_at,omitempty"`
}

// Done is the number of products with an outcome.
func (t Task) Done() int {
	return t.Completed + t.Failed
}

// Progress is the finished fraction in [0, 1]. It is 0 until discovery sets Total.
func (t Task) Progress() float64 {
	if t.Total == 0 {
		if t.State.Terminal() {
			return 1
		}
		return 0
	}
	return float64(t.Done()) / float64(t.Total)
}
