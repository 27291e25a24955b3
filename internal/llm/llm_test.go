package llm

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeProvider struct {
	calls   int
	fail    int // number of leading calls to fail with a transient error
	permErr error
	resp    *Response
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	if f.permErr != nil {
		return nil, f.permErr
	}
	if f.calls <= f.fail {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}
	return f.resp, nil
}

type fakeRecorder struct {
	names    []string
	statuses []string
}

func (r *fakeRecorder) RecordLLMCall(name string, start, end time.Time, model, status string) {
	r.names = append(r.names, name)
	r.statuses = append(r.statuses, status)
}

func TestGateway_Complete_Success(t *testing.T) {
	p := &fakeProvider{resp: &Response{Content: "ok", FinishReason: "stop"}}
	rec := &fakeRecorder{}
	g := New(p, time.Second, rec)

	resp, err := g.Complete(context.Background(), "classify", Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != "completed" {
		t.Errorf("recorder statuses = %v, want [completed]", rec.statuses)
	}
}

func TestGateway_Complete_RetriesTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{fail: 1, resp: &Response{Content: "ok"}}
	g := New(p, time.Second, nil)

	resp, err := g.Complete(context.Background(), "classify", Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Content = %q, want ok", resp.Content)
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", p.calls)
	}
}

func TestGateway_Complete_NonTransientFailsImmediately(t *testing.T) {
	p := &fakeProvider{permErr: errors.New("bad request")}
	rec := &fakeRecorder{}
	g := New(p, time.Second, rec)

	_, err := g.Complete(context.Background(), "classify", Request{Model: "m"})
	if err == nil {
		t.Fatalf("Complete = nil error, want failure")
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-transient error)", p.calls)
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != "failed" {
		t.Errorf("recorder statuses = %v, want [failed]", rec.statuses)
	}
}

func TestGateway_Complete_TimeoutMapsToErrTimeout(t *testing.T) {
	p := &fakeProvider{}
	g := New(&slowProvider{delay: 50 * time.Millisecond}, 10*time.Millisecond, nil)
	_ = p

	_, err := g.Complete(context.Background(), "classify", Request{Model: "m"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

type slowProvider struct {
	delay time.Duration
}

func (s *slowProvider) Name() string { return "slow" }

func (s *slowProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	select {
	case <-time.After(s.delay):
		return &Response{Content: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
