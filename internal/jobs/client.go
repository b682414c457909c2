package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"followup-caller/pkg/logger"

	"github.com/hibiken/asynq"
)

// RedisOpt names the Redis instance backing the queue.
type RedisOpt struct {
	Addr     string
	Password string
	DB       int
}

func (o RedisOpt) asynq() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB}
}

// Client enqueues post-call tasks. It satisfies calls.Dispatcher.
type Client struct {
	client    *asynq.Client
	queue     string
	retention time.Duration
}

func NewClient(opt RedisOpt, queue string) (*Client, error) {
	if opt.Addr == "" {
		return nil, fmt.Errorf("redis addr not configured")
	}
	if queue == "" {
		queue = "default"
	}
	return &Client{
		client:    asynq.NewClient(opt.asynq()),
		queue:     queue,
		retention: 24 * time.Hour,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Dispatch enqueues processing for a call. A task already queued or retained for
// the same call is treated as success, so duplicate callbacks never run it twice.
func (c *Client) Dispatch(ctx context.Context, providerCallID string) error {
	task, err := NewPostCallTask(PostCallPayload{ProviderCallID: providerCallID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(postCallTaskID(providerCallID)),
		asynq.MaxRetry(0),
		asynq.Retention(c.retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logger.From(ctx).Info("post-call task already queued", "provider_call_id", providerCallID)
		return nil
	}
	return err
}
