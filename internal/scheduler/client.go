package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Forward retries back off; the first attempt waits out transient sink
// hiccups rather than retrying immediately.
const (
	retryInitialDelay = 30 * time.Second
	retryMaxAttempts  = 10
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleForwardRetry enqueues one out-of-band forwarding retry for a
// finalized lead.
func (c *Client) ScheduleForwardRetry(ctx context.Context, leadID string) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewLeadForwardRetryTask(LeadForwardRetryPayload{LeadID: leadID})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessIn(retryInitialDelay),
		asynq.MaxRetry(retryMaxAttempts),
		asynq.Queue(c.queue))
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
