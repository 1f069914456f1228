package uvfile

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/raftuv/uvfile/eventloop"
	"github.com/raftuv/uvfile/internal/aio"
	"github.com/raftuv/uvfile/internal/probe"
	"github.com/raftuv/uvfile/internal/worker"
)

// CreateRequest is the transient object backing one Create call. It lives
// from submission to the create callback.
type CreateRequest struct {
	file   *FileHandle
	path   string
	size   int64
	status error
	cb     func(*CreateRequest, error)
}

// Create prepares a fresh file at path: opens it exclusively, pre-allocates
// size bytes, fsyncs the file and its parent directory, optionally enables
// direct I/O, then arms the poller. cb is invoked on the loop goroutine
// with the final status, strictly before any write callback on this
// handle.
func (h *FileHandle) Create(req *CreateRequest, path string, size int64, maxWrites int, cb func(*CreateRequest, error)) error {
	if size <= 0 {
		return wrapErr(ErrInvalidArgument, nil)
	}
	if maxWrites <= 0 {
		return wrapErr(ErrInvalidArgument, nil)
	}
	if h.closing.Load() {
		return ErrClosing
	}

	h.state.Store(StateCreating)

	caps, err := probe.Probe(filepath.Dir(path))
	if err != nil {
		h.state.Store(statePreCreate)
		return wrapErr(ErrResourceExhausted, err)
	}
	h.caps = caps
	h.direct = h.wantDirect && caps.DirectIO
	h.async = h.wantAsync && caps.NonBlockingAIO

	flags := unix.O_WRONLY | unix.O_CREAT | unix.O_EXCL
	if !caps.DSync {
		// The kernel won't honour per-request RWF_DSYNC on this
		// filesystem, on either path: fall back to an O_DSYNC open so
		// every write is durable before its callback fires regardless of
		// which path services it.
		flags |= unix.O_DSYNC
	}

	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		h.state.Store(statePreCreate)
		return wrapErr(ErrResourceExhausted, err)
	}

	aioCtx, err := aio.NewContext(maxWrites)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		h.state.Store(statePreCreate)
		return wrapErr(ErrResourceExhausted, err)
	}

	h.fd = fd
	h.path = path
	h.maxWrites = maxWrites
	h.aioCtx = aioCtx
	h.events = make([]aio.Event, maxWrites)

	req.file = h
	req.path = path
	req.size = size
	req.cb = cb

	h.pool.Submit(worker.Job{
		Body: func() { h.createWorkBody(req) },
		After: func() { h.createAfterWork(req) },
	})

	return nil
}

// createWorkBody runs on a worker goroutine: pre-allocate, fsync file and
// directory, optionally switch to direct I/O. Grounded step-for-step on
// createWorkCb in the original uv_file.c.
func (h *FileHandle) createWorkBody(req *CreateRequest) {
	if err := unix.Fallocate(h.fd, 0, 0, req.size); err != nil {
		req.status = wrapErr(ErrAllocationFailed, err)
		return
	}

	if err := unix.Fsync(h.fd); err != nil {
		req.status = wrapErr(ErrDurabilityFailed, err)
		return
	}

	dir := filepath.Dir(req.path)
	dirFD, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		req.status = wrapErr(ErrDurabilityFailed, err)
		return
	}
	syncErr := unix.Fsync(dirFD)
	_ = unix.Close(dirFD)
	if syncErr != nil {
		req.status = wrapErr(ErrDurabilityFailed, syncErr)
		return
	}

	if h.direct {
		if err := switchToDirectIO(h.fd); err != nil {
			req.status = wrapErr(ErrSubmissionFailed, err)
			return
		}
	}

	req.status = nil
}

// switchToDirectIO adds O_DIRECT to an already-open descriptor's flags.
func switchToDirectIO(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_DIRECT)
	return err
}

// createAfterWork runs on the loop goroutine after createWorkBody returns.
// Grounded on createAfterWorkCb.
func (h *FileHandle) createAfterWork(req *CreateRequest) {
	if h.closing.Load() {
		_ = unix.Unlink(req.path)
		req.status = ErrCancelled
		h.state.Store(StateErrored)
		h.finishCreate(req, req.status)
		h.maybeClosed()
		return
	}

	if req.status == nil {
		if err := h.loop.RegisterFD(h.eventFD, eventloop.EventRead, func(eventloop.IOEvents) {
			h.onPollReadable()
		}); err != nil {
			req.status = wrapErr(ErrResourceExhausted, err)
		}
	}

	if req.status != nil {
		h.state.Store(StateErrored)
		_ = h.aioCtx.Destroy()
		h.aioCtx = nil
		_ = unix.Close(h.eventFD)
		h.eventFD = -1
		_ = unix.Close(h.fd)
		h.fd = -1
		_ = unix.Unlink(req.path)
	} else {
		h.state.Store(StateReady)
	}

	h.finishCreate(req, req.status)
	h.maybeClosed()
}

func (h *FileHandle) finishCreate(req *CreateRequest, err error) {
	if req.cb != nil {
		req.cb(req, err)
	}
}
