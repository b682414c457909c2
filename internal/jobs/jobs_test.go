package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"followup-caller/internal/postcall"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

type recordingProcessor struct {
	sids []string
}

func (p *recordingProcessor) Process(ctx context.Context, sid string) postcall.Result {
	p.sids = append(p.sids, sid)
	return postcall.Result{ProviderCallID: sid, StoppedAt: postcall.StageDone}
}

func TestDispatch_DedupesByCallID(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(RedisOpt{Addr: mr.Addr()}, "postcall")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Dispatch(ctx, "CA1"); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := c.Dispatch(ctx, "CA1"); err != nil {
		t.Fatalf("duplicate dispatch must be a no-op, got %v", err)
	}
	if err := c.Dispatch(ctx, "CA2"); err != nil {
		t.Fatalf("other call: %v", err)
	}
	if n, _ := mr.List("asynq:{postcall}:pending"); len(n) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(n))
	}
}

func TestNewClient_RequiresAddr(t *testing.T) {
	if _, err := NewClient(RedisOpt{}, ""); err == nil {
		t.Fatalf("expected error without redis addr")
	}
}

func TestHandlePostCall(t *testing.T) {
	proc := &recordingProcessor{}
	w := &Worker{proc: proc, log: slog.Default()}

	task, err := NewPostCallTask(PostCallPayload{ProviderCallID: "CA9"})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if task.Type() != TaskPostCall {
		t.Fatalf("unexpected task type %q", task.Type())
	}
	if err := w.handlePostCall(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(proc.sids) != 1 || proc.sids[0] != "CA9" {
		t.Fatalf("expected processor called with CA9, got %v", proc.sids)
	}

	bad := asynq.NewTask(TaskPostCall, []byte("{not json"))
	if err := w.handlePostCall(context.Background(), bad); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for malformed payload, got %v", err)
	}
	empty, _ := NewPostCallTask(PostCallPayload{})
	if err := w.handlePostCall(context.Background(), empty); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for empty call id, got %v", err)
	}
}
