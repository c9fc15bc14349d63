package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitJob(t *testing.T, j *Job) {
	t.Helper()
	select {
	case <-j.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", j.Name())
	}
}

func TestWorkerPool_RecordsOutcome(t *testing.T) {
	p := NewWorkerPool(2, 10, zerolog.Nop())
	defer p.Close()

	ok, err := p.Submit("ok", func() error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	bad, _ := p.Submit("bad", func() error { return errors.New("boom") })
	panicky, _ := p.Submit("panicky", func() error { panic("oops") })

	for _, j := range []*Job{ok, bad, panicky} {
		waitJob(t, j)
	}

	if ok.Err() != nil {
		t.Errorf("ok.Err() = %v", ok.Err())
	}
	if bad.Err() == nil || bad.Err().Error() != "boom" {
		t.Errorf("bad.Err() = %v", bad.Err())
	}
	if panicky.Err() == nil || !strings.Contains(panicky.Err().Error(), "oops") {
		t.Errorf("panicky.Err() = %v", panicky.Err())
	}

	tasks := p.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("Tasks() = %d, want 3", len(tasks))
	}
	want := []struct {
		name   string
		status TaskStatus
	}{{"ok", TaskCompleted}, {"bad", TaskFailed}, {"panicky", TaskFailed}}
	for i, w := range want {
		if tasks[i].Name != w.name || tasks[i].Status != w.status {
			t.Errorf("task %d = %s/%s, want %s/%s", i, tasks[i].Name, tasks[i].Status, w.name, w.status)
		}
		if tasks[i].Finished.IsZero() {
			t.Errorf("task %s has no finish time", tasks[i].Name)
		}
	}
}

func TestWorkerPool_CoalescesDuplicateNames(t *testing.T) {
	p := NewWorkerPool(1, 10, zerolog.Nop())
	defer p.Close()

	release := make(chan struct{})
	var calls atomic.Int32
	first, _ := p.Submit("update_feed_a", func() error {
		calls.Add(1)
		<-release
		return nil
	})
	second, _ := p.Submit("update_feed_a", func() error {
		calls.Add(1)
		return nil
	})
	if first != second {
		t.Error("duplicate submit should return the queued job")
	}
	close(release)
	waitJob(t, first)

	third, _ := p.Submit("update_feed_a", func() error {
		calls.Add(1)
		return nil
	})
	if third == first {
		t.Error("finished job should not be reused")
	}
	waitJob(t, third)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2, 100, zerolog.Nop())
	defer p.Close()

	var mu sync.Mutex
	running, peak := 0, 0
	jobs := make([]*Job, 8)
	for i := range jobs {
		jobs[i], _ = p.Submit(fmt.Sprintf("job%d", i), func() error {
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}
	for _, j := range jobs {
		waitJob(t, j)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestWorkerPool_HistoryIsBounded(t *testing.T) {
	p := NewWorkerPool(1, 3, zerolog.Nop())
	defer p.Close()

	for i := 0; i < 6; i++ {
		j, _ := p.Submit(fmt.Sprintf("t%d", i), func() error { return nil })
		waitJob(t, j)
	}
	tasks := p.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("Tasks() = %d, want 3", len(tasks))
	}
	if tasks[0].Name != "t3" || tasks[2].Name != "t5" {
		t.Errorf("kept %s..%s, want t3..t5", tasks[0].Name, tasks[2].Name)
	}
	if _, ok := p.Task("t0"); ok {
		t.Error("oldest task should have been dropped")
	}
}

func TestWorkerPool_Closed(t *testing.T) {
	p := NewWorkerPool(1, 1, zerolog.Nop())
	p.Close()
	if _, err := p.Submit("x", func() error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() error = %v, want ErrPoolClosed", err)
	}
}
