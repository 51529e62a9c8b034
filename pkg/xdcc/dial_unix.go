//go:build unix

package xdcc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl sizes the kernel receive buffer of data sockets.
func socketControl(recvBuffer int) func(network, address string, c syscall.RawConn) error {
	if recvBuffer <= 0 {
		return nil
	}
	return func(_, _ string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBuffer)
		})
	}
}
