package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
)

func TestJobQueuePriorityOrdering(t *testing.T) {
	q := NewJobQueue(0)
	ctx := context.Background()

	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "low"}, Priority: episode.PriorityLow}))
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "critical"}, Priority: episode.PriorityCritical}))
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "normal"}, Priority: episode.PriorityNormal}))
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "high"}, Priority: episode.PriorityHigh}))

	order := []string{}
	for i := 0; i < 4; i++ {
		job, ok := q.Pop(ctx)
		require.True(t, ok)
		order = append(order, job.Episode.ID)
	}
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, order)
}

func TestJobQueueFIFOWithinSamePriority(t *testing.T) {
	q := NewJobQueue(0)
	ctx := context.Background()

	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "first"}, Priority: episode.PriorityNormal}))
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "second"}, Priority: episode.PriorityNormal}))

	j1, _ := q.Pop(ctx)
	j2, _ := q.Pop(ctx)
	assert.Equal(t, "first", j1.Episode.ID)
	assert.Equal(t, "second", j2.Episode.ID)
}

func TestJobQueuePopBlocksUntilPush(t *testing.T) {
	q := NewJobQueue(0)
	ctx := context.Background()

	type result struct {
		job Job
		ok  bool
	}
	resCh := make(chan result, 1)
	go func() {
		job, ok := q.Pop(ctx)
		resCh <- result{job, ok}
	}()

	select {
	case <-resCh:
		t.Fatal("Pop returned before any job was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "late"}, Priority: episode.PriorityNormal}))

	select {
	case r := <-resCh:
		require.True(t, r.ok)
		assert.Equal(t, "late", r.job.Episode.ID)
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after a push")
	}
}

func TestJobQueuePushBlocksWhenFull(t *testing.T) {
	q := NewJobQueue(1)
	ctx := context.Background()
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "one"}, Priority: episode.PriorityNormal}))

	pushed := make(chan bool, 1)
	go func() {
		pushed <- q.Push(ctx, Job{Episode: episode.Episode{ID: "two"}, Priority: episode.PriorityNormal})
	}()

	select {
	case <-pushed:
		t.Fatal("Push returned before the queue had room")
	case <-time.After(50 * time.Millisecond):
	}

	job, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "one", job.Episode.ID)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Push never unblocked after room freed up")
	}
}

func TestJobQueueCloseDiscardsQueuedAndFailsFuturePush(t *testing.T) {
	q := NewJobQueue(0)
	ctx := context.Background()
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "queued"}, Priority: episode.PriorityNormal}))
	q.Close()

	_, ok := q.Pop(ctx)
	assert.False(t, ok, "Close discards items already queued")

	assert.False(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "after-close"}, Priority: episode.PriorityNormal}))
}

func TestJobQueueDrainServesRemainingThenEmpty(t *testing.T) {
	q := NewJobQueue(0)
	ctx := context.Background()
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "a"}, Priority: episode.PriorityNormal}))
	require.True(t, q.Push(ctx, Job{Episode: episode.Episode{ID: "b"}, Priority: episode.PriorityNormal}))
	q.Drain()

	job, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", job.Episode.ID)

	job, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", job.Episode.ID)

	_, ok = q.Pop(ctx)
	assert.False(t, ok, "Drain reports empty once the heap is exhausted")
}

func TestJobQueuePopCanceledContext(t *testing.T) {
	q := NewJobQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestJobQueueLen(t *testing.T) {
	q := NewJobQueue(0)
	ctx := context.Background()
	assert.Equal(t, 0, q.Len())
	require.True(t, q.Push(ctx, Job{Priority: episode.PriorityNormal}))
	assert.Equal(t, 1, q.Len())
}
