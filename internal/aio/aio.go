// Package aio provides minimal bindings to the Linux kernel asynchronous
// I/O (KAIO) syscalls: io_setup, io_submit, io_getevents, and io_destroy.
//
// golang.org/x/sys/unix does not expose these (they predate io_uring and
// were never wrapped), so this package talks to them directly via
// unix.Syscall using the raw syscall numbers. This is the one place in the
// module that reaches below golang.org/x/sys/unix — see DESIGN.md for why
// no ecosystem library could serve this instead.
package aio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// amd64 Linux syscall numbers for the KAIO family. There is no portable
// way to obtain these other than hardcoding them; the module is Linux-only
// by design (spec Non-goals exclude non-Linux portability).
const (
	sysIOSetup     = 206
	sysIODestroy   = 207
	sysIOGetevents = 208
	sysIOSubmit    = 209
)

// Context is a kernel AIO context handle, sized at Setup time to hold a
// fixed number of concurrent in-flight requests.
type Context struct {
	id uint64
}

// NewContext allocates a kernel AIO context able to hold up to maxEvents
// concurrent requests.
func NewContext(maxEvents int) (*Context, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("aio: maxEvents must be positive, got %d", maxEvents)
	}
	var ctx Context
	_, _, errno := unix.Syscall(sysIOSetup, uintptr(maxEvents), uintptr(unsafe.Pointer(&ctx.id)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("aio: io_setup: %w", errno)
	}
	return &ctx, nil
}

// Destroy releases the kernel AIO context. Any in-flight requests are
// cancelled by the kernel.
func (c *Context) Destroy() error {
	if c == nil || c.id == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(sysIODestroy, uintptr(c.id), 0, 0)
	c.id = 0
	if errno != 0 {
		return fmt.Errorf("aio: io_destroy: %w", errno)
	}
	return nil
}

// Submit submits one or more prepared control blocks for asynchronous
// execution. It returns the number of control blocks successfully queued.
func (c *Context) Submit(iocbs ...*Iocb) (int, error) {
	if len(iocbs) == 0 {
		return 0, nil
	}
	ptrs := make([]*Iocb, len(iocbs))
	copy(ptrs, iocbs)
	n, _, errno := unix.Syscall(sysIOSubmit, uintptr(c.id), uintptr(len(ptrs)), uintptr(unsafe.Pointer(&ptrs[0])))
	if errno != 0 {
		return int(n), errno
	}
	return int(n), nil
}

// GetEvents waits for between minNr and len(events) completions, returning
// as soon as minNr are available or timeout elapses. A nil timeout blocks
// indefinitely; a zero timeout polls without blocking.
func (c *Context) GetEvents(minNr int, events []Event, timeout *unix.Timespec) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	for {
		n, _, errno := unix.Syscall6(
			sysIOGetevents,
			uintptr(c.id),
			uintptr(minNr),
			uintptr(len(events)),
			uintptr(unsafe.Pointer(&events[0])),
			uintptr(unsafe.Pointer(timeout)),
			0,
		)
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return int(n), errno
		}
		return int(n), nil
	}
}
