//go:build linux

package eventloop

import (
	"golang.org/x/sys/unix"
)

const (
	efdCloexec  = unix.EFD_CLOEXEC
	efdNonblock = unix.EFD_NONBLOCK
)

// createWakeFd creates an eventfd for wake-up notifications.
// The same descriptor serves as both read and write end.
func createWakeFd() (int, error) {
	return unix.Eventfd(0, efdCloexec|efdNonblock)
}
