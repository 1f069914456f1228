// Package probe performs the one-shot platform capability discovery the
// engine consults before trusting its fast path: whether non-blocking KAIO
// submission is honoured, whether direct I/O is usable on the target
// filesystem, whether RWF_DSYNC/RWF_HIPRI are accepted on a per-request
// control block, and the filesystem's preferred block size. Create calls
// Probe once per file and threads the verdict into its open flags and the
// write path's control-block flags; nothing downstream re-checks the
// kernel.
package probe

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/raftuv/uvfile/internal/aio"
)

// Capabilities is the resolved capability record. The engine consults it
// once at create time and carries no further conditional logic on the
// literal platform.
type Capabilities struct {
	// BlockSize is the filesystem's preferred I/O block size, as reported
	// by statfs. It is recorded for callers; the engine does not check
	// direct-I/O alignment against it.
	BlockSize int64

	// DirectIO reports whether O_DIRECT opens succeed on this filesystem.
	DirectIO bool

	// NonBlockingAIO reports whether a trial non-blocking KAIO submission
	// returned EAGAIN (supported) as opposed to succeeding synchronously
	// or returning EOPNOTSUPP (unsupported).
	NonBlockingAIO bool

	// DSync reports whether the kernel accepts RWF_DSYNC on a per-request
	// control block, letting the engine rely on it instead of an O_DSYNC
	// open for durability.
	DSync bool

	// HiPri reports whether the kernel accepts RWF_HIPRI on a per-request
	// control block.
	HiPri bool
}

// probeFileSize is the size of the throwaway file used for the trial
// write; large enough to survive block-size alignment on any common
// filesystem.
const probeFileSize = 4096

// Probe determines the Capabilities available for files created in dir.
// It creates and removes a temporary file inside dir to run its trial
// write, so the caller must have write access to dir.
func Probe(dir string) (Capabilities, error) {
	var caps Capabilities

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return caps, fmt.Errorf("probe: statfs %q: %w", dir, err)
	}
	caps.BlockSize = int64(stat.Bsize)

	probePath := filepath.Join(dir, fmt.Sprintf(".uvfile-probe-%d", os.Getpid()))

	fd, err := unix.Open(probePath, unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		return caps, fmt.Errorf("probe: open %q: %w", probePath, err)
	}
	defer func() {
		_ = unix.Close(fd)
		_ = unix.Unlink(probePath)
	}()

	if err := unix.Fallocate(fd, 0, 0, probeFileSize); err != nil {
		return caps, fmt.Errorf("probe: fallocate: %w", err)
	}

	caps.DirectIO = probeDirectIO(probePath)
	caps.NonBlockingAIO = probeNonBlockingAIO(fd)
	caps.DSync = probeRWFlagSupported(fd, aio.RWFDSync)
	caps.HiPri = probeRWFlagSupported(fd, aio.RWFHiPri)

	return caps, nil
}

// probeDirectIO attempts to reopen path with O_DIRECT; failure (commonly
// EINVAL on filesystems that don't support it, e.g. tmpfs) just reports
// unsupported rather than an error, since direct I/O is always optional.
func probeDirectIO(path string) bool {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_DIRECT, 0)
	if err != nil {
		return false
	}
	_ = unix.Close(fd)
	return true
}

// probeNonBlockingAIO issues a single trial non-blocking KAIO write and
// classifies the result per spec.md §4.5: EAGAIN means supported (the
// kernel recognised RWF_NOWAIT and refused rather than blocking);
// EOPNOTSUPP or synchronous success both mean the fast path is not
// usable, since the engine needs the EAGAIN-vs-succeed distinction to
// tell fast-path submission from silent synchronous fallback.
func probeNonBlockingAIO(fd int) bool {
	ctx, err := aio.NewContext(1)
	if err != nil {
		return false
	}
	defer func() { _ = ctx.Destroy() }()

	buf := make([]byte, 512)
	iov := []unix.Iovec{{Base: &buf[0]}}
	iov[0].SetLen(len(buf))

	cb := aio.NewPwritevIocb(fd, iov, 0, 0)
	cb.RWFlags |= aio.RWFNoWait

	_, submitErr := ctx.Submit(cb)
	return submitErr == unix.EAGAIN
}

// probeRWFlagSupported issues a trial blocking submission carrying flag
// alone and reports whether the kernel accepted it. EINVAL (or any other
// submission error) means the flag isn't honoured on this kernel; a
// successful submission is drained before returning so the trial request
// doesn't leak.
func probeRWFlagSupported(fd int, flag uint32) bool {
	ctx, err := aio.NewContext(1)
	if err != nil {
		return false
	}
	defer func() { _ = ctx.Destroy() }()

	buf := make([]byte, 512)
	iov := []unix.Iovec{{Base: &buf[0]}}
	iov[0].SetLen(len(buf))

	cb := aio.NewPwritevIocb(fd, iov, 0, 0)
	cb.RWFlags |= flag

	if _, err := ctx.Submit(cb); err != nil {
		return false
	}

	events := make([]aio.Event, 1)
	_, _ = ctx.GetEvents(1, events, nil)
	return true
}
