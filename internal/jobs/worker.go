package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"followup-caller/internal/postcall"
	"followup-caller/pkg/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes post-call tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	proc   postcall.Processor
	log    *slog.Logger
}

func NewWorker(opt RedisOpt, queue string, concurrency int, proc postcall.Processor, log *slog.Logger) (*Worker, error) {
	if opt.Addr == "" {
		return nil, fmt.Errorf("redis addr not configured")
	}
	if queue == "" {
		queue = "default"
	}
	if concurrency < 1 {
		concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}

	server := asynq.NewServer(opt.asynq(), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		Logger:   newAsynqLogger(log),
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	w := &Worker{server: server, mux: mux, proc: proc, log: log}
	mux.HandleFunc(TaskPostCall, w.handlePostCall)
	return w, nil
}

func (w *Worker) handlePostCall(ctx context.Context, task *asynq.Task) error {
	payload, err := ParsePostCallPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if payload.ProviderCallID == "" {
		return fmt.Errorf("post-call task without call id: %w", asynq.SkipRetry)
	}
	ctx = logger.With(ctx, w.log.With("task", TaskPostCall))
	res := w.proc.Process(ctx, payload.ProviderCallID)
	w.log.Debug("post-call task finished", "provider_call_id", payload.ProviderCallID, "stopped_at", res.StoppedAt)
	return nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start post-call worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct{ l *slog.Logger }

func newAsynqLogger(l *slog.Logger) asynq.Logger {
	if l == nil {
		l = slog.Default()
	}
	return asynqLogger{l: l.With("component", "asynq")}
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
