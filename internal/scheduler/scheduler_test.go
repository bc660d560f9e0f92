package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"weibo_feed/internal/runner"
)

type mockJob struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (m *mockJob) Run(ctx context.Context) (*runner.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(m.delay):
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &runner.Result{Published: true}, nil
}

func (m *mockJob) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// every fires at a fixed interval.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func TestSchedulerRunsImmediatelyAndOnTicks(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "successful runs"},
		{name: "failed runs keep the loop going", err: errors.New("no response")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &mockJob{err: tt.err}
			log := slog.New(slog.NewTextHandler(io.Discard, nil))
			sched := NewWithSchedule(every(20*time.Millisecond), job, log)

			ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
			defer cancel()
			sched.Run(ctx)

			if got := job.getCalls(); got < 2 {
				t.Errorf("expected the initial run plus ticks, got %d calls", got)
			}

			stopped := job.getCalls()
			time.Sleep(60 * time.Millisecond)
			if diff := cmp.Diff(stopped, job.getCalls()); diff != "" {
				t.Errorf("job ran after Run returned (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	job := &mockJob{delay: 200 * time.Millisecond}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := NewWithSchedule(every(10*time.Millisecond), job, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	// The initial run blocks for 200ms; afterwards ticks start a single long run.
	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	if got := job.getCalls(); got > 2 {
		t.Errorf("overlapping runs were not skipped: %d calls", got)
	}
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	if _, err := New("every hour", &mockJob{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error")
	}
}
