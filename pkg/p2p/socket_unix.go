//go:build !windows

package p2p

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketReuseAddr lets a restarted node rebind its port while old
// connections sit in TIME_WAIT.
func setSocketReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
