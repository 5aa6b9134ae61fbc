package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"api-runner/internal/request"
)

// Mode selects how a run dispatches its operations.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
)

// ParseMode accepts a mode name case-insensitively. Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case Parallel:
		return Parallel, nil
	default:
		return "", fmt.Errorf("unknown execution mode '%s'", s)
	}
}

// Status is the lifecycle state of one operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrRunActive rejects Reset and Load while a run is active or while
	// dispatched calls have not returned.
	ErrRunActive = errors.New("a run is active")
	// ErrAlreadyRunning is returned by Run when Start was a no-op.
	ErrAlreadyRunning = errors.New("a run is already in progress")
)

// Config controls one orchestrator.
type Config struct {
	Mode Mode
	// InterRequestDelay separates sequential operations. Unused in parallel
	// mode.
	InterRequestDelay time.Duration
	ChainingEnabled   bool
}

// Operation is one request in a run together with its outcome. Values handed
// out by the orchestrator are copies.
type Operation struct {
	ID        string
	Spec      request.RequestSpec
	Status    Status
	Response  *request.Response
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Summary counts operations by status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Executor dispatches one assembled request.
type Executor interface {
	Execute(ctx context.Context, fr *request.FinalRequest) (*request.Response, error)
}

// VariableSource supplies the active variable set.
type VariableSource interface {
	ActiveVariables() map[string]string
}

// Metrics receives run and request events.
type Metrics interface {
	RunStarted(mode string)
	RequestStarted()
	RequestFinished(method string, elapsed time.Duration, gotResponse bool)
	OperationDone(status string)
}

// Opts overrides orchestrator dependencies. Nil fields use defaults.
type Opts struct {
	Executor  Executor
	Variables VariableSource
	// After is the timer used for the inter-request delay.
	After   func(time.Duration) <-chan time.Time
	Metrics Metrics
	// OnOperationDone is called outside the orchestrator lock each time an
	// operation reaches completed or failed.
	OnOperationDone func(Operation)
}

type noVariables struct{}

func (noVariables) ActiveVariables() map[string]string { return map[string]string{} }

type noMetrics struct{}

func (noMetrics) RunStarted(string)                           {}
func (noMetrics) RequestStarted()                             {}
func (noMetrics) RequestFinished(string, time.Duration, bool) {}
func (noMetrics) OperationDone(string)                        {}
