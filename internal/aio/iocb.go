package aio

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Iocb mirrors struct iocb from linux/aio_abi.h for little-endian 64-bit
// targets. The syscall numbers in aio.go are those of amd64.
type Iocb struct {
	Data      uint64
	Key       uint32
	RWFlags   uint32
	LioOpcode uint16
	ReqPrio   int16
	Fildes    uint32
	Buf       uint64
	Nbytes    uint64
	Offset    int64
	Reserved2 uint64
	Flags     uint32
	ResFD     uint32
}

// Event mirrors struct io_event from linux/aio_abi.h.
type Event struct {
	Data uint64
	Obj  uint64
	Res  int64
	Res2 int64
}

// Control block opcodes (aio_lio_opcode).
const (
	CmdPread   = 0
	CmdPwrite  = 1
	CmdFsync   = 2
	CmdFdsync  = 3
	CmdPreadv  = 7
	CmdPwritev = 8
)

// Control block flags (aio_flags).
const (
	// FlagResFD requests that completion increment the eventfd at ResFD.
	FlagResFD = 1 << 0
)

// Per-request RWF_* flags (aio_rw_flags), mirroring linux/fs.h.
const (
	RWFHiPri = 0x00000001
	RWFDSync = 0x00000002
	RWFSync  = 0x00000004
	RWFNoWait = 0x00000008
)

// NewPwritevIocb builds a vectored-write control block targeting fd at the
// given offset, with the given vector of buffers described by iovecs.
// The caller is responsible for keeping iovecs and the underlying buffers
// alive until the request completes.
func NewPwritevIocb(fd int, iovecs []unix.Iovec, offset int64, token uint64) *Iocb {
	var bufPtr uint64
	if len(iovecs) > 0 {
		bufPtr = uint64(uintptr(unsafe.Pointer(&iovecs[0])))
	}
	return &Iocb{
		Data:      token,
		LioOpcode: CmdPwritev,
		Fildes:    uint32(fd),
		Buf:       bufPtr,
		Nbytes:    uint64(len(iovecs)),
		Offset:    offset,
	}
}
