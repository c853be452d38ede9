package groutine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsJobsInOrder(t *testing.T) {
	q := NewQueue(context.Background(), "test-queue")

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	q.Close()

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v, "MUST preserve posting order")
	}
	assert.False(t, q.Post(func() {}), "MUST reject jobs after close")
}

func TestQueue_JobsMayPost(t *testing.T) {
	q := NewQueue(context.Background(), "test-reentrant")
	done := make(chan string, 1)

	q.Post(func() {
		q.Post(func() { done <- "inner" })
	})

	select {
	case v := <-done:
		assert.Equal(t, "inner", v)
	case <-time.After(time.Second):
		t.Fatal("nested job never ran")
	}
	q.Close()
}

func TestQueue_NestedPostsKeepOrder(t *testing.T) {
	q := NewQueue(context.Background(), "test-nested-order")

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}

	// a runs first and posts a1 and a2 behind b and c, which were already queued.
	started, release := make(chan struct{}), make(chan struct{})
	require.True(t, q.Post(func() {
		close(started)
		<-release
	}))
	<-started
	require.True(t, q.Post(func() {
		record("a")()
		q.Post(record("a1"))
		q.Post(func() {
			record("a2")()
			q.Post(record("a2.1"))
		})
	}))
	require.True(t, q.Post(record("b")))
	require.True(t, q.Post(record("c")))
	assert.Equal(t, 3, q.Len(), "MUST hold every job posted while the goroutine is busy")
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 6
	}, time.Second, 5*time.Millisecond, "nested jobs MUST all run")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "a1", "a2", "a2.1"}, got, "MUST run nested posts after jobs queued before them")
	q.Close()
}

func TestQueue_CloseDrainsPending(t *testing.T) {
	q := NewQueue(context.Background(), "test-close-drain")
	release := make(chan struct{})
	ran := make(chan int, 3)

	q.Post(func() { <-release })
	for i := 0; i < 3; i++ {
		i := i
		q.Post(func() { ran <- i })
	}
	q.Close()
	assert.False(t, q.Post(func() { ran <- 99 }), "MUST reject jobs after close")
	close(release)

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not drain after close")
	}
	close(ran)
	var got []int
	for v := range ran {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got, "MUST run jobs posted before close")
}

func TestQueue_NamesGoroutine(t *testing.T) {
	name := make(chan string, 1)

	Go(context.Background(), "named-worker", func(ctx context.Context) {
		name <- GetName(ctx)
	})

	assert.Equal(t, "named-worker", <-name)
	assert.Equal(t, "", GetName(context.Background()))
}
