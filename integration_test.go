package uvfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raftuv/uvfile/eventloop"
	"github.com/raftuv/uvfile/internal/probe"
)

// newTestLoop starts a loop on a background goroutine and returns it along
// with a cleanup that stops it.
func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		_ = loop.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})

	return loop
}

// TestCreateWriteReadBack exercises end-to-end scenario 1: create a 4096
// byte file, write 512 bytes of 0xAA at offset 0, read back.
func TestCreateWriteReadBack(t *testing.T) {
	loop := newTestLoop(t)
	h, err := New(loop, false, false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "segment-0")

	createDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		err := h.Create(&CreateRequest{}, path, 4096, 1, func(_ *CreateRequest, err error) {
			createDone <- err
		})
		require.NoError(t, err)
	}))
	require.NoError(t, <-createDone)

	payload := bytes.Repeat([]byte{0xAA}, 512)
	writeDone := make(chan int, 1)
	writeErr := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		err := h.Write(&WriteRequest{}, [][]byte{payload}, 0, func(_ *WriteRequest, n int, err error) {
			writeDone <- n
			writeErr <- err
		})
		require.NoError(t, err)
	}))
	require.NoError(t, <-writeErr)
	require.Equal(t, 512, <-writeDone)

	closeDone := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		h.Close(func(*FileHandle) { close(closeDone) })
	}))
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, contents, 4096)
	require.Equal(t, payload, contents[0:512])
	require.Equal(t, make([]byte, 4096-512), contents[512:])
}

// TestMaxWritesOneRejectsConcurrentWrite exercises end-to-end scenario 2:
// with maxWrites=1, a second write submitted before the first completes
// is rejected as a precondition violation.
func TestMaxWritesOneRejectsConcurrentWrite(t *testing.T) {
	loop := newTestLoop(t)
	h, err := New(loop, false, false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "segment-0")
	createDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, h.Create(&CreateRequest{}, path, 4096, 1, func(_ *CreateRequest, err error) {
			createDone <- err
		}))
	}))
	require.NoError(t, <-createDone)

	blockA := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		payload := bytes.Repeat([]byte{0x01}, 512)
		_ = h.Write(&WriteRequest{}, [][]byte{payload}, 0, func(*WriteRequest, int, error) {
			close(blockA)
		})

		payloadB := bytes.Repeat([]byte{0x02}, 512)
		err := h.Write(&WriteRequest{}, [][]byte{payloadB}, 1024, func(*WriteRequest, int, error) {})
		require.ErrorIs(t, err, ErrQueueFull)
	}))

	select {
	case <-blockA:
	case <-time.After(2 * time.Second):
		t.Fatal("write A never completed")
	}
}

// TestFourConcurrentWrites exercises end-to-end scenario 3: maxWrites=4,
// four writes at disjoint offsets all complete with status 512.
func TestFourConcurrentWrites(t *testing.T) {
	loop := newTestLoop(t)
	h, err := New(loop, false, false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "segment-0")
	createDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, h.Create(&CreateRequest{}, path, 4096, 4, func(_ *CreateRequest, err error) {
			createDone <- err
		}))
	}))
	require.NoError(t, <-createDone)

	offsets := []int64{0, 1024, 2048, 3072}
	results := make(chan error, len(offsets))
	counts := make(chan int, len(offsets))

	require.NoError(t, loop.Submit(func() {
		for i, off := range offsets {
			payload := bytes.Repeat([]byte{byte(i + 1)}, 512)
			err := h.Write(&WriteRequest{}, [][]byte{payload}, off, func(_ *WriteRequest, n int, err error) {
				counts <- n
				results <- err
			})
			require.NoError(t, err)
		}
	}))

	for i := 0; i < len(offsets); i++ {
		select {
		case err := <-results:
			require.NoError(t, err)
			require.Equal(t, 512, <-counts)
		case <-time.After(2 * time.Second):
			t.Fatal("not all writes completed")
		}
	}
}

// TestCloseAfterWriteRejectsFurtherWrites exercises end-to-end scenario 4.
func TestCloseAfterWriteRejectsFurtherWrites(t *testing.T) {
	loop := newTestLoop(t)
	h, err := New(loop, false, false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "segment-0")
	createDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, h.Create(&CreateRequest{}, path, 4096, 1, func(_ *CreateRequest, err error) {
			createDone <- err
		}))
	}))
	require.NoError(t, <-createDone)

	payload := bytes.Repeat([]byte{0xAA}, 512)
	writeDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, h.Write(&WriteRequest{}, [][]byte{payload}, 0, func(_ *WriteRequest, _ int, err error) {
			writeDone <- err
		}))
	}))
	require.NoError(t, <-writeDone)

	closeDone := make(chan struct{})
	closeErr := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		h.Close(func(*FileHandle) { close(closeDone) })
		closeErr <- h.Write(&WriteRequest{}, [][]byte{payload}, 1024, func(*WriteRequest, int, error) {})
	}))

	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}
	require.ErrorIs(t, <-closeErr, ErrClosing)
}

// TestCloseDuringInFlightWriteReportsCancelled exercises end-to-end
// scenario 6: closing while a write is in flight reports that write as
// Cancelled, and the close callback still fires exactly once, after the
// write callback. The write is submitted and Close is called in the same
// loop tick, so the outcome doesn't race the worker pool: writeAfterWork
// always observes closing already set by the time it runs back on the
// loop goroutine.
func TestCloseDuringInFlightWriteReportsCancelled(t *testing.T) {
	loop := newTestLoop(t)
	h, err := New(loop, false, false)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "segment-0")
	createDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, h.Create(&CreateRequest{}, path, 4096, 1, func(_ *CreateRequest, err error) {
			createDone <- err
		}))
	}))
	require.NoError(t, <-createDone)

	writeErr := make(chan error, 1)
	closeDone := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		payload := bytes.Repeat([]byte{0xAA}, 512)
		require.NoError(t, h.Write(&WriteRequest{}, [][]byte{payload}, 0, func(_ *WriteRequest, _ int, err error) {
			writeErr <- err
		}))
		h.Close(func(*FileHandle) { close(closeDone) })
	}))

	select {
	case err := <-writeErr:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("write callback never fired")
	}
	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}
}

// TestAsyncFastPathEAGAINFallsBackToSlowPath exercises end-to-end scenario
// 5: a buffered (non-direct) fast-path submission almost always gets
// EAGAIN back from the kernel, since RWF_NOWAIT can't be honoured on a
// write that isn't O_DIRECT, and the write must still complete via the
// worker-pool slow path. Skipped where the platform probe reports
// non-blocking kernel AIO submission isn't usable at all, e.g. under a
// sandbox that blocks io_submit.
func TestAsyncFastPathEAGAINFallsBackToSlowPath(t *testing.T) {
	dir := t.TempDir()
	caps, err := probe.Probe(dir)
	if err != nil || !caps.NonBlockingAIO {
		t.Skip("non-blocking kernel AIO submission unavailable in this environment")
	}

	loop := newTestLoop(t)
	h, err := New(loop, false, true)
	require.NoError(t, err)

	path := filepath.Join(dir, "segment-0")
	createDone := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		require.NoError(t, h.Create(&CreateRequest{}, path, 4096, 1, func(_ *CreateRequest, err error) {
			createDone <- err
		}))
	}))
	require.NoError(t, <-createDone)

	payload := bytes.Repeat([]byte{0xAA}, 512)
	writeDone := make(chan int, 1)
	writeErr := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		err := h.Write(&WriteRequest{}, [][]byte{payload}, 0, func(_ *WriteRequest, n int, err error) {
			writeDone <- n
			writeErr <- err
		})
		require.NoError(t, err)
	}))
	require.NoError(t, <-writeErr)
	require.Equal(t, 512, <-writeDone)
}

// TestCreateRejectsZeroSize covers the boundary: Create with size = 0 is
// rejected synchronously.
func TestCreateRejectsZeroSize(t *testing.T) {
	loop := newTestLoop(t)
	h, err := New(loop, false, false)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	require.NoError(t, loop.Submit(func() {
		errCh <- h.Create(&CreateRequest{}, filepath.Join(t.TempDir(), "x"), 0, 1, func(*CreateRequest, error) {})
	}))
	require.ErrorIs(t, <-errCh, ErrInvalidArgument)
}
