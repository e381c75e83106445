package scheduler

import (
	"context"
	"fmt"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/config"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"

	"github.com/hibiken/asynq"
)

// LeadForwarder is the piece of the leads service the worker needs.
type LeadForwarder interface {
	RetryForward(ctx context.Context, leadID string) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	leads  LeadForwarder
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, leads LeadForwarder, log *logger.Logger) (*Worker, error) {
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

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		leads:  leads,
		log:    log,
	}

	mux.HandleFunc(TaskLeadForwardRetry, w.handleLeadForwardRetry)

	return w, nil
}

func (w *Worker) handleLeadForwardRetry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadForwardRetryPayload(task)
	if err != nil {
		return err
	}

	w.log.Info("retrying segment forward", "lead_id", payload.LeadID)
	return w.leads.RetryForward(ctx, payload.LeadID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
