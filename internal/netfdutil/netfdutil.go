// Package netfdutil extracts the raw file descriptor backing a
// net.Conn, so the stream engine can drive sendmsg/recvmsg/epoll
// directly instead of through net.Conn's blocking Read/Write.
package netfdutil

import (
	"fmt"
	"net"

	"github.com/higebu/netfd"
)

// RawFD returns the OS file descriptor underlying conn. conn must be a
// *net.TCPConn (or another type netfd.GetFdFromConn recognizes);
// anything else returns an error rather than the sentinel -1
// netfd.GetFdFromConn itself returns on failure, so callers can't
// silently proceed with a bogus descriptor.
func RawFD(conn net.Conn) (int, error) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return 0, fmt.Errorf("netfdutil: could not extract fd from %T", conn)
	}
	return fd, nil
}
