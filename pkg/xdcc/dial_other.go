//go:build !unix

package xdcc

import "syscall"

func socketControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
