//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package nbt

import (
	"net"
	"syscall"
)

// QoS tagging is not supported on this platform and is silently ignored.

func qosControl(uint32) func(network, address string, c syscall.RawConn) error {
	return nil
}

func applyConnQoS(net.Conn, uint32) {}
