package worker

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
	"github.com/spherical-ai/finsight/internal/storage"
)

type stubRunner struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
	fail  map[string]bool
}

func (r *stubRunner) Run(ctx context.Context, taskID string, sub domain.Submission) domain.Record {
	r.mu.Lock()
	r.calls = append(r.calls, taskID)
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	rec := domain.Record{TaskID: taskID, RunID: "run-" + taskID, StartedAt: time.Now(), FinishedAt: time.Now()}
	if r.fail[sub.Filename] {
		rec.Failure = domain.NewFailure(domain.ExtractionError("unreadable", nil))
		return rec
	}
	rec.Result = &domain.Result{DocumentType: domain.TypeInvoice, Filename: sub.Filename, ExtractedData: domain.StructuredRecord{}}
	rec.Progress = 100
	return rec
}

// lingeringRunner waits for cancellation, lingers, then reports a failure
// the way the orchestrator does, through progress.Commit.
type lingeringRunner struct {
	status progress.Channel
	linger time.Duration

	active, peak atomic.Int32
	mu           sync.Mutex
	causes       []error
}

func (r *lingeringRunner) Run(ctx context.Context, taskID string, sub domain.Submission) domain.Record {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	<-ctx.Done()
	r.mu.Lock()
	r.causes = append(r.causes, context.Cause(ctx))
	r.mu.Unlock()
	time.Sleep(r.linger)

	rec := domain.Record{TaskID: taskID, RunID: "run-" + taskID, Failure: domain.NewFailure(domain.InternalError("cancelled", ctx.Err()))}
	progress.Commit(ctx, taskID, func() {
		_ = r.status.Publish(ctx, domain.ProgressEvent{TaskID: taskID, State: rec.Stage(), Result: &rec})
	})
	return rec
}

func (r *stubRunner) taskIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.calls...)
	sort.Strings(out)
	return out
}

type memLedger struct {
	mu   sync.Mutex
	runs map[string]*storage.Run
	err  error
}

func (l *memLedger) Record(_ context.Context, run *storage.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.runs == nil {
		l.runs = make(map[string]*storage.Run)
	}
	l.runs[run.ID] = run
	return nil
}

func (l *memLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runs)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func doc(name string) domain.Submission {
	return domain.Submission{Filename: name, Content: "aGVsbG8="}
}

func testConfig() Config {
	return Config{
		Concurrency:      2,
		PollTimeout:      20 * time.Millisecond,
		HardTimeLimit:    time.Second,
		SoftTimeLimit:    time.Second,
		ReclaimInterval:  time.Hour,
		BatchConcurrency: 2,
	}
}

// runPool starts p and stops it once done reports true.
func runPool(t *testing.T, p *Pool, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, done, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_ProcessesAndAcks(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{})
	runner := &stubRunner{fail: map[string]bool{"bad.pdf": true}}
	ledger := &memLedger{}
	p := NewPool(q, runner, ledger, nil, testConfig(), nil)

	ctx := context.Background()
	good, bad := queue.NewDocumentTask(doc("good.pdf")), queue.NewDocumentTask(doc("bad.pdf"))
	require.NoError(t, q.Enqueue(ctx, good))
	require.NoError(t, q.Enqueue(ctx, bad))

	runPool(t, p, func() bool { return ledger.len() == 2 && q.InFlight() == 0 })

	assert.Equal(t, Stats{Succeeded: 1, Failed: 1}, p.Stats())
	assert.Equal(t, storage.RunStatusSucceeded, ledger.runs["run-"+good.ID].Status)
	assert.Equal(t, storage.RunStatusFailed, ledger.runs["run-"+bad.ID].Status)
	assert.Equal(t, domain.KindExtraction, ledger.runs["run-"+bad.ID].ErrorType)

	n, _ := q.Len(ctx)
	assert.Zero(t, n)
}

func TestPool_HardLimitBreachLeavesTaskUnacked(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{})
	runner := &stubRunner{delay: 300 * time.Millisecond}
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.HardTimeLimit = 50 * time.Millisecond
	p := NewPool(q, runner, nil, nil, cfg, nil)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewDocumentTask(doc("slow.pdf"))))

	runPool(t, p, func() bool { return p.Stats().Breached == 1 })
	assert.Equal(t, 1, q.InFlight(), "breached task stays reserved for redelivery")
}

func TestPool_BreachedRunsReportNothingAndHoldTheirSlot(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{})
	status := progress.NewRecorder()
	runner := &lingeringRunner{status: status, linger: 50 * time.Millisecond}
	ledger := &memLedger{}
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.HardTimeLimit = 20 * time.Millisecond
	cfg.SoftTimeLimit = 20 * time.Millisecond
	p := NewPool(q, runner, ledger, status, cfg, nil)

	var tasks []queue.Task
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		task := queue.NewDocumentTask(doc(name))
		tasks = append(tasks, task)
		require.NoError(t, q.Enqueue(context.Background(), task))
	}

	runPool(t, p, func() bool { return p.Stats().Breached == 3 && runner.active.Load() == 0 })

	assert.LessOrEqual(t, runner.peak.Load(), int32(1), "a breached run keeps its consumer busy")
	assert.Zero(t, ledger.len(), "abandoned runs are not recorded")
	assert.Equal(t, Stats{Breached: 3}, p.Stats())
	assert.Equal(t, 3, q.InFlight())
	for _, task := range tasks {
		assert.Empty(t, status.Events(task.ID), "no terminal event for %s", task.ID)
	}
	for _, cause := range runner.causes {
		assert.ErrorIs(t, cause, ErrHardTimeLimit)
	}
}

func TestPool_SoftLimitLogsWarning(t *testing.T) {
	var out syncBuffer
	logger := observability.NewLogger(observability.LogConfig{Level: "warn", Output: &out})

	q := queue.NewMemoryQueue(queue.Options{})
	runner := &stubRunner{delay: 150 * time.Millisecond}
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.SoftTimeLimit = 30 * time.Millisecond
	p := NewPool(q, runner, nil, nil, cfg, logger)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewDocumentTask(doc("slowish.pdf"))))

	runPool(t, p, func() bool { return p.Stats().Succeeded == 1 && q.InFlight() == 0 })
	assert.Contains(t, out.String(), "Task exceeded soft time limit")
	assert.Zero(t, p.Stats().Breached)
}

func TestPool_LedgerFailureStillAcks(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{})
	ledger := &memLedger{err: errors.New("database is locked")}
	p := NewPool(q, &stubRunner{}, ledger, nil, testConfig(), nil)

	require.NoError(t, q.Enqueue(context.Background(), queue.NewDocumentTask(doc("a.pdf"))))
	runPool(t, p, func() bool { return p.Stats().Succeeded == 1 && q.InFlight() == 0 })
}

func TestPool_BatchTask(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Options{})
	runner := &stubRunner{fail: map[string]bool{"2.pdf": true}}
	ledger := &memLedger{}
	status := progress.NewRecorder()
	p := NewPool(q, runner, ledger, status, testConfig(), nil)

	task, err := queue.NewBatchTask(queue.KindProcessGSTFiles, []domain.Submission{doc("1.pdf"), doc("2.pdf"), doc("3.pdf")})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), task))

	runPool(t, p, func() bool { return ledger.len() == 3 && q.InFlight() == 0 })

	assert.Equal(t, []string{ItemTaskID(task.ID, 0), ItemTaskID(task.ID, 1), ItemTaskID(task.ID, 2)}, runner.taskIDs())

	latest, err := status.Latest(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageSucceeded, latest.State)
	require.NotNil(t, latest.Batch)
	assert.Equal(t, domain.BatchResult{Status: "completed", FilesProcessed: 3}, *latest.Batch)
	assert.Len(t, status.Events(task.ID), 2)
}

func TestProcessBatch_RespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, taskID string, sub domain.Submission) domain.Record {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return domain.Record{Failure: domain.NewFailure(domain.InternalError("x", nil))}
	})

	subs := make([]domain.Submission, 6)
	for i := range subs {
		subs[i] = doc("f.pdf")
	}
	res := ProcessBatch(context.Background(), runner, "batch", subs, 2)

	assert.Equal(t, domain.BatchResult{Status: domain.BatchCompleted, FilesProcessed: 6}, res)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{SoftTimeLimit: time.Hour}.withDefaults()
	assert.Equal(t, 30*time.Minute, cfg.HardTimeLimit)
	assert.Equal(t, cfg.HardTimeLimit, cfg.SoftTimeLimit, "soft limit never exceeds the hard limit")
	assert.Equal(t, 2, cfg.Concurrency)
}
