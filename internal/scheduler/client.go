package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"power-dialer/internal/config"
	"power-dialer/internal/disposition"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues dialer background jobs. It implements disposition.Jobs.
type Client struct {
	client enqueuer
	queue  string
}

var _ disposition.Jobs = (*Client)(nil)

func NewClient(cfg config.Config) *Client {
	queue := cfg.Scheduler.Queue
	if queue == "" {
		queue = "default"
	}
	return &Client{client: asynq.NewClient(RedisOpt(cfg)), queue: queue}
}

// RedisOpt is the asynq connection for the configured Redis.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleCallbackCheck enqueues the missed check for a callback. The task id
// is derived from the callback so rescheduling never double-enqueues.
func (c *Client) ScheduleCallbackCheck(ctx context.Context, callbackID string, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewCallbackMissedCheckTask(CallbackMissedCheckPayload{CallbackID: callbackID})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(runAt),
		asynq.Queue(c.queue),
		asynq.TaskID(TaskCallbackMissedCheck+":"+callbackID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (c *Client) ScheduleAutoText(ctx context.Context, job disposition.AutoTextJob) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewAutoTextTask(job)
	if err != nil {
		return err
	}

	opts := []asynq.Option{asynq.Queue(c.queue), asynq.MaxRetry(3)}
	if job.LegID != "" {
		opts = append(opts, asynq.TaskID(TaskAutoText+":"+job.LegID))
	}
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}
