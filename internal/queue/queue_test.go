package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/finsight/internal/domain"
)

func sub(name string) domain.Submission {
	return domain.Submission{Filename: name, Content: "aGVsbG8="}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"process_document", KindProcessDocument, true},
		{"process_gst_files_task", KindProcessGSTFiles, true},
		{"process-audit-files", KindProcessAuditFiles, true},
		{"gst", KindProcessGSTFiles, true},
		{"Audit", KindProcessAuditFiles, true},
		{"reindex", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseKind(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskValidate(t *testing.T) {
	assert.NoError(t, NewDocumentTask(sub("a.pdf")).Validate())

	_, err := NewBatchTask(KindProcessGSTFiles, nil)
	assert.Error(t, err)

	_, err = NewBatchTask(KindProcessDocument, []domain.Submission{sub("a"), sub("b")})
	assert.Error(t, err)

	_, err = NewBatchTask(Kind("other"), []domain.Submission{sub("a")})
	assert.Error(t, err)

	bad := NewDocumentTask(domain.Submission{})
	assert.Error(t, bad.Validate())
}

func TestDecode(t *testing.T) {
	task, err := NewBatchTask(KindProcessAuditFiles, []domain.Submission{sub("a.pdf"), sub("b.pdf")})
	require.NoError(t, err)
	data, err := Encode(task)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Len(t, got.Submissions, 2)

	_, err = Decode([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedTask)

	_, err = Decode([]byte(`{"id":"x","kind":"process_document","submissions":[]}`))
	assert.ErrorIs(t, err, ErrMalformedTask)
}

func TestMemoryQueue_FIFOAndAck(t *testing.T) {
	q := NewMemoryQueue(Options{})
	ctx := context.Background()

	first, second := NewDocumentTask(sub("1.pdf")), NewDocumentTask(sub("2.pdf"))
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, d.Task.ID)
	assert.Equal(t, 1, q.InFlight())

	require.NoError(t, q.Ack(ctx, d))
	assert.Equal(t, 0, q.InFlight())
	assert.Error(t, q.Ack(ctx, d))

	d, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, second.ID, d.Task.ID)
}

func TestMemoryQueue_DequeueTimesOut(t *testing.T) {
	q := NewMemoryQueue(Options{})
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_DequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemoryQueue(Options{})
	task := NewDocumentTask(sub("late.pdf"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(context.Background(), task)
	}()

	d, err := q.Dequeue(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
}

func TestMemoryQueue_ReclaimRedeliversThenDeadLetters(t *testing.T) {
	now := time.Now()
	q := NewMemoryQueue(Options{Visibility: time.Minute, MaxAttempts: 2})
	q.SetClock(func() time.Time { return now })
	ctx := context.Background()

	task := NewDocumentTask(sub("slow.pdf"))
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	moved, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved, "reservation is still within its window")

	now = now.Add(2 * time.Minute)
	moved, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	assert.Equal(t, 1, d.Task.Attempts)

	now = now.Add(2 * time.Minute)
	moved, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
	require.Len(t, q.Dead(), 1)
	assert.Equal(t, 2, q.Dead()[0].Attempts)

	n, _ := q.Len(ctx)
	assert.Zero(t, n)
}

func TestMemoryQueue_RejectsInvalidTask(t *testing.T) {
	q := NewMemoryQueue(Options{})
	assert.Error(t, q.Enqueue(context.Background(), Task{ID: "x", Kind: KindProcessDocument}))
}
