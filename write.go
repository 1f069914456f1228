package uvfile

import (
	"container/list"

	"golang.org/x/sys/unix"

	"github.com/raftuv/uvfile/internal/aio"
	"github.com/raftuv/uvfile/internal/worker"
)

// WriteRequest is the transient object backing one Write call. It borrows
// the file handle (non-owning; the handle outlives the request) and lives
// from admission to the write callback.
type WriteRequest struct {
	file   *FileHandle
	bufs   [][]byte
	iovecs []unix.Iovec
	offset int64

	iocb  *aio.Iocb
	token uint64

	elem *list.Element

	status    int
	statusErr error

	cb func(*WriteRequest, int, error)
}

// Write submits a vectored write of bufs at offset. It tries the fast
// path (kernel AIO with non-blocking submission) when the handle was
// initialized with async=true, and falls back to the worker pool on
// EAGAIN or when async is false. cb is invoked on the loop goroutine
// exactly once, with a non-negative byte count on success or a negative-
// convention error on failure.
func (h *FileHandle) Write(req *WriteRequest, bufs [][]byte, offset int64, cb func(*WriteRequest, int, error)) error {
	if h.closing.Load() {
		return ErrClosing
	}
	if h.state.Load() != StateReady {
		return ErrNotReady
	}
	if len(bufs) == 0 {
		return wrapErr(ErrInvalidArgument, nil)
	}
	if h.maxWrites == 1 && h.writeQueue.Len() != 0 {
		return ErrQueueFull
	}
	if h.writeQueue.Len() >= h.maxWrites {
		return ErrQueueFull
	}

	req.file = h
	req.bufs = bufs
	req.offset = offset
	req.cb = cb
	req.iovecs = toIovecs(bufs)

	req.elem = h.writeQueue.PushBack(req)

	if h.async {
		done, err := h.submitFastPath(req)
		if done {
			return err
		}
	}

	return h.submitSlowPath(req)
}

func toIovecs(bufs [][]byte) []unix.Iovec {
	iov := make([]unix.Iovec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		iov[i].Base = &b[0]
		iov[i].SetLen(len(b))
	}
	return iov
}

// submitFastPath attempts kernel AIO submission with RWF_NOWAIT.
//
// done is true when the caller should return immediately with err (either
// nil, meaning the write is in flight via the fast path, or a synchronous
// submission failure). done is false when the slow path should be tried
// next, in which case err is always nil.
func (h *FileHandle) submitFastPath(req *WriteRequest) (done bool, err error) {
	req.token = h.registry.Put(req)

	iocb := aio.NewPwritevIocb(h.fd, req.iovecs, req.offset, req.token)
	h.applyDurabilityFlags(iocb)
	iocb.Flags |= aio.FlagResFD
	iocb.ResFD = uint32(h.eventFD)
	iocb.RWFlags |= aio.RWFNoWait
	req.iocb = iocb

	_, submitErr := h.aioCtx.Submit(iocb)
	if submitErr == nil {
		return true, nil
	}

	h.registry.Take(req.token)

	switch submitErr {
	case unix.EAGAIN:
		// Would have blocked: strip the non-blocking request and continue
		// to the slow path, invisibly to the caller.
		iocb.Flags &^= aio.FlagResFD
		iocb.ResFD = 0
		iocb.RWFlags &^= aio.RWFNoWait
		return false, nil
	default:
		// EOPNOTSUPP means the probe's verdict was wrong: a platform
		// contract breach. Any other error is a genuine submission
		// failure. Both are synchronous, non-recoverable failures.
		h.writeQueue.Remove(req.elem)
		req.elem = nil
		h.logCtx().Warn().Err(submitErr).Msg("fast-path write submission failed")
		return true, wrapErr(ErrSubmissionFailed, submitErr)
	}
}

// submitSlowPath dispatches req to the worker pool. If maxWrites > 1 the
// worker opens a private single-slot AIO context to avoid sharing the
// handle's main context across threads.
func (h *FileHandle) submitSlowPath(req *WriteRequest) error {
	if req.iocb == nil {
		// The fast path was never attempted (async == false): build a
		// plain synchronous control block, no RESFD/NOWAIT.
		req.iocb = aio.NewPwritevIocb(h.fd, req.iovecs, req.offset, 0)
		h.applyDurabilityFlags(req.iocb)
	}

	usePrivateCtx := h.maxWrites > 1

	h.pool.Submit(worker.Job{
		Body:  func() { h.writeWorkBody(req, usePrivateCtx) },
		After: func() { h.writeAfterWork(req) },
	})
	return nil
}

// writeWorkBody runs on a worker goroutine: submit then synchronously
// wait for completion. Grounded on writeWorkCb in the original uv_file.c.
func (h *FileHandle) writeWorkBody(req *WriteRequest, usePrivateCtx bool) {
	ctx := h.aioCtx
	var privateCtx *aio.Context
	if usePrivateCtx {
		var err error
		privateCtx, err = aio.NewContext(1)
		if err != nil {
			req.status, req.statusErr = 0, wrapErr(ErrResourceExhausted, err)
			return
		}
		ctx = privateCtx
		defer func() { _ = privateCtx.Destroy() }()
	}

	if _, err := ctx.Submit(req.iocb); err != nil {
		req.status, req.statusErr = 0, wrapErr(ErrSubmissionFailed, err)
		return
	}

	events := make([]aio.Event, 1)
	n, err := ctx.GetEvents(1, events, nil)
	if err != nil || n < 1 {
		req.status, req.statusErr = 0, wrapErr(ErrSubmissionFailed, err)
		return
	}

	if events[0].Res < 0 {
		req.status, req.statusErr = 0, unix.Errno(-events[0].Res)
		return
	}
	req.status, req.statusErr = int(events[0].Res), nil
}

// writeAfterWork runs on the loop goroutine once writeWorkBody returns.
// Grounded on writeAfterWorkCb.
func (h *FileHandle) writeAfterWork(req *WriteRequest) {
	if h.closing.Load() {
		req.statusErr = ErrCancelled
	}
	h.finishWrite(req)
	h.maybeClosed()
}

// onPollReadable is the poller callback registered on the handle's
// event-counter descriptor. Grounded on writePollCb.
func (h *FileHandle) onPollReadable() {
	var buf [8]byte
	n, err := unix.Read(h.eventFD, buf[:])
	if n != 8 {
		if err == unix.EAGAIN {
			return
		}
		h.logCtx().Error().Err(err).Msg("short read on event-counter descriptor outside EAGAIN")
		return
	}

	got, err := h.aioCtx.GetEvents(0, h.events, &unix.Timespec{})
	if err != nil {
		h.logCtx().Error().Err(err).Msg("io_getevents failed on poll-readable")
		return
	}
	if got == 0 {
		// Spurious wakeup. The kernel should not produce this, but treat
		// it defensively rather than asserting, per the open question in
		// the design notes.
		h.logCtx().Warn().Msg("poll-readable fired with zero completions")
		return
	}

	for i := 0; i < got; i++ {
		ev := h.events[i]
		value, ok := h.registry.Take(ev.Data)
		if !ok {
			h.logCtx().Error().Uint64("token", ev.Data).Msg("unknown completion token")
			continue
		}
		req := value.(*WriteRequest)

		if h.closing.Load() {
			req.statusErr = ErrCancelled
			h.finishWrite(req)
			continue
		}

		if ev.Res == -int64(unix.EAGAIN) {
			// Direct-I/O non-blocking refusal: downgrade and resubmit to
			// the worker pool. The request stays in the queue; the
			// fast-path attempt is vacated.
			req.iocb.Flags &^= aio.FlagResFD
			req.iocb.ResFD = 0
			req.iocb.RWFlags &^= aio.RWFNoWait
			if err := h.submitSlowPath(req); err != nil {
				req.statusErr = err
				h.finishWrite(req)
			}
			continue
		}

		if ev.Res < 0 {
			req.statusErr = unix.Errno(-ev.Res)
		} else {
			req.status = int(ev.Res)
		}
		h.finishWrite(req)
	}

	h.maybeClosed()
}

func (h *FileHandle) finishWrite(req *WriteRequest) {
	if req.elem != nil {
		h.writeQueue.Remove(req.elem)
		req.elem = nil
	}
	if req.cb != nil {
		req.cb(req, req.status, req.statusErr)
	}
}
