// Package eventloop provides a minimal, single-threaded, epoll-backed task
// loop for Linux.
//
// # Architecture
//
// [Loop] owns one epoll instance ([FastPoller]) and one eventfd used to wake
// the poller when work is submitted from another goroutine. Submitted work
// ([Task]) is buffered in a [ChunkedIngress] queue and drained on every tick
// before the loop blocks in epoll_wait again.
//
// The loop knows nothing about files, AIO, or durability — it is a thin,
// reusable host for code that needs exactly three guarantees: a single
// goroutine to run callbacks on, a way to be woken from outside that
// goroutine, and a way to be notified when a file descriptor becomes ready.
//
// # Thread Safety
//
//   - [Loop.Submit], [Loop.RegisterFD], [Loop.UnregisterFD], [Loop.ModifyFD],
//     [Loop.Shutdown], and [Loop.Close] are safe to call from any goroutine.
//   - Callbacks passed to RegisterFD and tasks passed to Submit always run on
//     the loop's own goroutine, never concurrently with each other.
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	loop.Submit(func() {
//	    fmt.Println("running on the loop goroutine")
//	})
//
//	go func() {
//	    if err := loop.Run(context.Background()); err != nil {
//	        log.Println(err)
//	    }
//	}()
//
//	defer loop.Close()
package eventloop
