package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// TypeDepositReconcile re-checks a deposit whose payment was still in flight.
const TypeDepositReconcile = "deposit:reconcile"

// DefaultQueue is the asynq queue deposit tasks run on.
const DefaultQueue = "deposits"

// ReconcilePayload identifies the checkout session to reconcile.
type ReconcilePayload struct {
	SessionID string `json:"sessionId"`
}

// NewReconcileTask builds a reconcile task for sessionID.
func NewReconcileTask(sessionID string) (*asynq.Task, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("queue: session id is required")
	}
	payload, err := json.Marshal(ReconcilePayload{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDepositReconcile, payload), nil
}

// TaskClient is the subset of *asynq.Client used to enqueue tasks.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer schedules deposit tasks.
type Enqueuer struct {
	Client   TaskClient
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// EnqueueReconcile schedules a reconcile for sessionID after delay. At most
// one reconcile per session is pending at a time.
func (e Enqueuer) EnqueueReconcile(ctx context.Context, sessionID string, delay time.Duration) error {
	if e.Client == nil {
		return errors.New("queue: task client not configured")
	}
	task, err := NewReconcileTask(sessionID)
	if err != nil {
		return err
	}
	queueName := e.Queue
	if queueName == "" {
		queueName = DefaultQueue
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.TaskID(reconcileTaskID(sessionID)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			QueueEnqueuedTotal.WithLabelValues(TypeDepositReconcile, "duplicate").Inc()
			return nil
		}
		QueueEnqueuedTotal.WithLabelValues(TypeDepositReconcile, "error").Inc()
		return fmt.Errorf("queue: enqueue reconcile: %w", err)
	}
	QueueEnqueuedTotal.WithLabelValues(TypeDepositReconcile, "ok").Inc()
	return nil
}

func reconcileTaskID(sessionID string) string {
	return "reconcile:" + strings.TrimSpace(sessionID)
}
