package uvfile

import (
	"container/list"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/raftuv/uvfile/eventloop"
	"github.com/raftuv/uvfile/internal/aio"
	"github.com/raftuv/uvfile/internal/probe"
	"github.com/raftuv/uvfile/internal/worker"
)

// FileHandle is the durable write endpoint: it owns the file descriptor,
// the kernel AIO context, the event-counter descriptor, the poller
// registered on it, and the queue of in-flight writes.
type FileHandle struct {
	cfg Config

	path      string
	fd        int
	maxWrites int

	// wantDirect/wantAsync are the caller's request; direct/async are the
	// effective values after Create intersects them with caps, the
	// platform probe's verdict for this file's directory.
	wantDirect bool
	wantAsync  bool
	direct     bool
	async      bool
	caps       probe.Capabilities

	loop     *eventloop.Loop
	pool     *worker.Pool
	aioCtx   *aio.Context
	eventFD  int
	events   []aio.Event
	registry *aio.Registry

	writeQueue *list.List // of *WriteRequest, insertion order = submission order

	state   *handleState
	closing atomic.Bool
	closeCB func(*FileHandle)
}

// New allocates a FileHandle and runs Init against loop. direct requests
// direct I/O; async requests the fast path. Both are requests only: Create
// probes the target directory and ANDs each against the platform's actual
// capability before ever touching a file, so a request for a capability
// the kernel won't honour just silently falls back rather than failing.
func New(loop *eventloop.Loop, direct, async bool, opts ...Option) (*FileHandle, error) {
	h := &FileHandle{
		fd:    -1,
		state: newHandleState(),
		cfg:   newConfig(opts...),
	}
	if err := h.Init(loop, direct, async); err != nil {
		return nil, err
	}
	return h, nil
}

// Init allocates the event-counter descriptor and prepares the handle for
// a subsequent Create call. The poller is not yet registered with the
// loop; that happens once Create succeeds, mirroring the original's
// associate-then-start split. direct/async are recorded as requests;
// Create resolves the effective values against the platform probe.
func (h *FileHandle) Init(loop *eventloop.Loop, direct, async bool) error {
	h.loop = loop
	h.wantDirect = direct
	h.wantAsync = async
	h.fd = -1

	eventFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return wrapErr(ErrResourceExhausted, err)
	}
	h.eventFD = eventFD

	h.registry = aio.NewRegistry()
	h.writeQueue = list.New()
	h.closing.Store(false)

	h.pool = worker.New(h.cfg.workerCount, h.cfg.workerQueue, func(after func()) {
		if err := h.loop.Submit(after); err != nil {
			h.cfg.logger.Error().Err(err).Str("path", h.path).Msg("failed to submit worker after-callback to loop")
		}
	})

	return nil
}

// logCtx returns a logger pre-populated with this handle's identifying
// fields, used by write.go/close.go for their log lines.
func (h *FileHandle) logCtx() zerolog.Logger {
	return h.cfg.logger.With().
		Str("path", h.path).
		Int("fd", h.fd).
		Str("state", h.state.Load().String()).
		Logger()
}

// applyDurabilityFlags sets RWF_DSYNC/RWF_HIPRI on iocb, gated on this
// handle's probed capabilities so a write never carries a flag the kernel
// is known not to honour.
func (h *FileHandle) applyDurabilityFlags(iocb *aio.Iocb) {
	if h.caps.DSync {
		iocb.RWFlags |= aio.RWFDSync
	}
	if h.caps.HiPri {
		iocb.RWFlags |= aio.RWFHiPri
	}
}
