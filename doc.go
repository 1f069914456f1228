// Package uvfile implements an asynchronous, durable, pre-allocated file
// I/O engine suitable as the write path of a Raft consensus log.
//
// A FileHandle lets a single-threaded event-driven host issue appends to
// a previously-created, fixed-size file and learn, via callback, when
// each append has been durably persisted. It prefers a fully
// non-blocking kernel fast path (Linux KAIO submission with RWF_NOWAIT,
// completion signalled through an eventfd registered with the host's
// loop), and transparently falls back to a worker-goroutine offload when
// the kernel cannot honour the non-blocking request.
//
// # Lifecycle
//
//	h, err := uvfile.New(loop, direct, async)
//	h.Create(&uvfile.CreateRequest{}, path, size, maxWrites, func(req *uvfile.CreateRequest, err error) {
//	    h.Write(&uvfile.WriteRequest{}, bufs, offset, func(req *uvfile.WriteRequest, n int, err error) {
//	        // n bytes durable on disk
//	    })
//	})
//	h.Close(func(h *uvfile.FileHandle) {
//	    // all resources released
//	})
//
// Out of scope: the consensus protocol, log record encoding, cluster
// membership, and the host event loop's own implementation (see package
// eventloop for the loop this engine plugs into). Non-goals: buffered
// I/O, file growth, reading, concurrent writers to overlapping offsets,
// and portability to non-Linux kernels.
package uvfile
