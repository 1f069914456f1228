package uvfile

import (
	"golang.org/x/sys/unix"
)

// Close begins the close sequence: it sets the closing flag and, if the
// file descriptor is open, closes it immediately (the kernel completes or
// fails any outstanding writes on a closed descriptor; their callbacks
// are still delivered). cb, if non-nil, fires exactly once, after every
// outstanding request callback and the create callback have fired.
//
// Grounded on uvFileClose/maybeClosed/pollCloseCb in the original
// uv_file.c.
func (h *FileHandle) Close(cb func(*FileHandle)) {
	h.closing.Store(true)
	h.closeCB = cb

	if h.fd != -1 {
		_ = unix.Close(h.fd)
		h.fd = -1
	}

	h.maybeClosed()
}

// maybeClosed unregisters the poller and releases the remaining
// resources once closing has been requested, the handle is not mid-
// create, and no writes remain in flight.
func (h *FileHandle) maybeClosed() {
	state := h.state.Load()
	if state == StateClosed {
		return
	}
	if !h.closing.Load() {
		return
	}
	if state == StateCreating {
		return
	}
	if h.writeQueue.Len() != 0 {
		return
	}

	h.finishClose()
}

// finishClose releases the event-counter descriptor, destroys the AIO
// context, frees the events buffer, transitions to Closed, and invokes
// the close callback exactly once.
func (h *FileHandle) finishClose() {
	if h.eventFD != -1 {
		if err := h.loop.UnregisterFD(h.eventFD); err != nil {
			h.logCtx().Warn().Err(err).Msg("failed to unregister event-counter descriptor from loop")
		}
		_ = unix.Close(h.eventFD)
		h.eventFD = -1
	}

	if h.aioCtx != nil {
		if err := h.aioCtx.Destroy(); err != nil {
			h.logCtx().Warn().Err(err).Msg("failed to destroy AIO context")
		}
		h.aioCtx = nil
	}

	h.events = nil

	h.pool.Close()

	h.state.Store(StateClosed)

	if h.closeCB != nil {
		h.closeCB(h)
	}
}
