//go:build linux || darwin || freebsd || netbsd || openbsd

package nbt

import (
	"net"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/smbtran/internal/logger"
)

// qosControl returns a dialer Control hook that tags the socket with qos
// before it connects. A zero qos leaves the socket untouched.
func qosControl(qos uint32) func(network, address string, c syscall.RawConn) error {
	if qos == 0 {
		return nil
	}
	return func(network, _ string, c syscall.RawConn) error {
		setTrafficClass(c, strings.HasSuffix(network, "6"), qos)
		return nil
	}
}

// applyConnQoS retags an established connection. Failures are ignored.
func applyConnQoS(conn net.Conn, qos uint32) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		logger.Debug("QoS not applied", logger.KeyError, err)
		return
	}
	v6 := false
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		v6 = addr.IP.To4() == nil
	}
	setTrafficClass(raw, v6, qos)
}

func setTrafficClass(c syscall.RawConn, v6 bool, qos uint32) {
	tos := int(qos & 0xff)
	var serr error
	err := c.Control(func(fd uintptr) {
		if v6 {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
			return
		}
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
	})
	if err == nil {
		err = serr
	}
	if err != nil {
		logger.Debug("QoS not applied", "qos", qos, "ipv6", v6, logger.KeyError, err)
	}
}
