package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/queue"
)

type captureClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (c *captureClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	c.opts = append(c.opts, opts)
	return &asynq.TaskInfo{ID: "x"}, nil
}

func optionTypes(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestEnqueueReconcile(t *testing.T) {
	client := &captureClient{}
	enq := queue.Enqueuer{Client: client, MaxRetry: 4}

	require.NoError(t, enq.EnqueueReconcile(context.Background(), "sess-1", time.Minute))
	require.Len(t, client.tasks, 1)
	require.Equal(t, queue.TypeDepositReconcile, client.tasks[0].Type())

	var payload queue.ReconcilePayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, "sess-1", payload.SessionID)

	opts := optionTypes(client.opts[0])
	require.Equal(t, queue.DefaultQueue, opts[asynq.QueueOpt])
	require.Equal(t, 4, opts[asynq.MaxRetryOpt])
	require.Equal(t, "reconcile:sess-1", opts[asynq.TaskIDOpt])
	require.Equal(t, time.Minute, opts[asynq.ProcessInOpt])
}

func TestEnqueueReconcileIgnoresDuplicates(t *testing.T) {
	enq := queue.Enqueuer{Client: &captureClient{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, enq.EnqueueReconcile(context.Background(), "sess-1", 0))

	enq = queue.Enqueuer{Client: &captureClient{err: errors.New("redis down")}}
	require.Error(t, enq.EnqueueReconcile(context.Background(), "sess-1", 0))

	require.Error(t, queue.Enqueuer{Client: &captureClient{}}.EnqueueReconcile(context.Background(), " ", 0))
}

type reconcilerFunc func(ctx context.Context, id string) error

func (f reconcilerFunc) Reconcile(ctx context.Context, id string) error { return f(ctx, id) }

var errStillPending = errors.New("still pending")

func TestReconcileHandler(t *testing.T) {
	var seen []string
	h := queue.ReconcileHandler{
		Reconciler: reconcilerFunc(func(_ context.Context, id string) error {
			seen = append(seen, id)
			if id == "pending" {
				return errStillPending
			}
			return nil
		}),
		IsPending: func(err error) bool { return errors.Is(err, errStillPending) },
		Logger:    zerolog.Nop(),
	}

	task, err := queue.NewReconcileTask("sess-9")
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	pending, err := queue.NewReconcileTask("pending")
	require.NoError(t, err)
	err = h.ProcessTask(context.Background(), pending)
	require.ErrorIs(t, err, errStillPending)

	err = h.ProcessTask(context.Background(), asynq.NewTask(queue.TypeDepositReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, []string{"sess-9", "pending"}, seen)
}

func TestRetryDelayIsCapped(t *testing.T) {
	require.Equal(t, 10*time.Minute, queue.RetryDelay(time.Minute, 30, 0))
	d := queue.RetryDelay(time.Second, 0, 0)
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 10*time.Minute)
}

func TestRetryDelayPollsPendingAtBase(t *testing.T) {
	h := queue.ReconcileHandler{
		Reconciler: reconcilerFunc(func(context.Context, string) error { return errStillPending }),
		IsPending:  func(err error) bool { return errors.Is(err, errStillPending) },
		Logger:     zerolog.Nop(),
	}
	task, err := queue.NewReconcileTask("sess-1")
	require.NoError(t, err)
	pendingErr := h.ProcessTask(context.Background(), task)
	require.Error(t, pendingErr)

	delay := queue.NewRetryDelayFunc(time.Minute, 0)
	require.Equal(t, time.Minute, delay(0, pendingErr, task))
	require.Equal(t, time.Minute, delay(7, pendingErr, task))
	require.Equal(t, queue.RetryDelay(time.Minute, 3, 0), delay(3, errors.New("redis down"), task))
}
