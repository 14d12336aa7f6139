package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/sgsupercars/storefront/internal/resilience"
)

// Reconciler settles one checkout session.
type Reconciler interface {
	Reconcile(ctx context.Context, sessionID string) error
}

// ReconcileHandler processes TypeDepositReconcile tasks.
type ReconcileHandler struct {
	Reconciler Reconciler
	// IsPending reports errors that only mean "not settled yet".
	IsPending func(error) bool
	Logger    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.SessionID == "" {
		QueueProcessedTotal.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("queue: bad reconcile payload: %v: %w", err, asynq.SkipRetry)
	}
	start := time.Now()
	err := h.Reconciler.Reconcile(ctx, payload.SessionID)
	logger := h.Logger.With().Str("task", t.Type()).Str("session_id", payload.SessionID).Logger()
	if err != nil {
		if h.IsPending != nil && h.IsPending(err) {
			QueueProcessedTotal.WithLabelValues(t.Type(), "pending").Inc()
			logger.Debug().Dur("duration", time.Since(start)).Msg("reconcile_pending")
			return pendingError(err)
		}
		QueueProcessedTotal.WithLabelValues(t.Type(), "retry").Inc()
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("reconcile_retry")
		return err
	}
	QueueProcessedTotal.WithLabelValues(t.Type(), "done").Inc()
	logger.Info().Dur("duration", time.Since(start)).Msg("reconcile_done")
	return nil
}

// NewServeMux routes deposit tasks to their handlers.
func NewServeMux(reconcile ReconcileHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeDepositReconcile, reconcile)
	return mux
}

// ServerConfig configures the asynq worker server.
type ServerConfig struct {
	Concurrency int
	Queue       string
	RetryBase   time.Duration
	RetryJitter float64
	Logger      zerolog.Logger
}

// NewServer builds an asynq server for the deposit queue.
func NewServer(opt asynq.RedisConnOpt, cfg ServerConfig) *asynq.Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	queueName := cfg.Queue
	if queueName == "" {
		queueName = DefaultQueue
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = 5 * time.Second
	}
	logger := cfg.Logger
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{queueName: 1},
		RetryDelayFunc: NewRetryDelayFunc(base, cfg.RetryJitter),
		IsFailure: func(err error) bool {
			return !errors.Is(err, errPending)
		},
		ErrorHandler: errorHandler(logger),
		Logger:       zerologAdapter{logger: logger},
	})
}

// NewRetryDelayFunc polls still-pending tasks every base interval. asynq does
// not bump the retry count for errors IsFailure rejects, so pending polls
// never grow and never exhaust MaxRetry; they stop once the session settles
// or expires. Real failures back off exponentially.
func NewRetryDelayFunc(base time.Duration, jitter float64) asynq.RetryDelayFunc {
	return func(n int, err error, _ *asynq.Task) time.Duration {
		if errors.Is(err, errPending) {
			return base
		}
		return RetryDelay(base, n, jitter)
	}
}

// RetryDelay is the backoff before retry n, capped at ten minutes.
func RetryDelay(base time.Duration, n int, jitter float64) time.Duration {
	if n > 16 {
		n = 16
	}
	d := resilience.Backoff(base, n+1, jitter)
	if d > 10*time.Minute || d <= 0 {
		d = 10 * time.Minute
	}
	return d
}

func errorHandler(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
		if errors.Is(err, errPending) {
			return
		}
		logger.Error().Err(err).Str("task", task.Type()).Msg("task_failed")
	})
}

// errPending is matched by IsFailure so that still-pending payments do not
// count against the queue's failure stats.
var errPending = errors.New("pending")

func pendingError(err error) error {
	return fmt.Errorf("%w: %w", errPending, err)
}

type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Debug(args ...interface{}) { a.logger.Debug().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Info(args ...interface{})  { a.logger.Info().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Warn(args ...interface{})  { a.logger.Warn().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Error(args ...interface{}) { a.logger.Error().Msg(fmt.Sprint(args...)) }
func (a zerologAdapter) Fatal(args ...interface{}) { a.logger.Fatal().Msg(fmt.Sprint(args...)) }
