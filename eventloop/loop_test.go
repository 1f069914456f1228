package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopRunsSubmittedTasks(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)

	var mu sync.Mutex
	var got []int

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, loop.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	require.NoError(t, loop.Close())
	select {
	case err := <-done:
		require.NoError(t, err) // Close triggers a clean shutdown, not ctx cancellation
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after Close")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 10)
}

func TestLoopSubmitAfterCloseFails(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	require.NoError(t, loop.Close())

	err = loop.Submit(func() {})
	require.ErrorIs(t, err, ErrLoopTerminated)
}

func TestLoopReentrantRunRejected(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reentrantErr := make(chan error, 1)
	go func() { _ = loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return loop.State() == StateSleeping || loop.State() == StateRunning
	}, time.Second, time.Millisecond)

	require.NoError(t, loop.Submit(func() {
		reentrantErr <- loop.Run(context.Background())
	}))

	select {
	case err := <-reentrantErr:
		require.ErrorIs(t, err, ErrReentrantRun)
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant Run never returned")
	}
}
