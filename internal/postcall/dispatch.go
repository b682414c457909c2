package postcall

import (
	"context"
	"sync"

	"followup-caller/pkg/logger"
)

// Processor runs the pipeline for one call.
type Processor interface {
	Process(ctx context.Context, providerCallID string) Result
}

// AsyncDispatcher runs the pipeline on a goroutine so the status webhook can
// answer immediately. A call already being processed is not started twice.
// Used when the task queue is disabled.
type AsyncDispatcher struct {
	proc Processor

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewAsyncDispatcher(proc Processor) *AsyncDispatcher {
	return &AsyncDispatcher{proc: proc, inflight: map[string]struct{}{}}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, providerCallID string) error {
	d.mu.Lock()
	if _, busy := d.inflight[providerCallID]; busy {
		d.mu.Unlock()
		logger.From(ctx).Info("post-call processing already running", "provider_call_id", providerCallID)
		return nil
	}
	d.inflight[providerCallID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	// Detach from the request so the webhook returning does not cancel processing.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, providerCallID)
			d.mu.Unlock()
		}()
		d.proc.Process(bg, providerCallID)
	}()
	return nil
}

// Wait blocks until all dispatched runs finish or ctx expires.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
