package httpx

import (
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
)

const maxPortRollAttempts = 42

type Listener struct {
	net.Listener
}

// NewListener binds a TCP listener to the address and, when rollPorts
// is set, walks up the port range until a free port is found.
func NewListener(address string, rollPorts bool) (*Listener, error) {
	ls, err := net.Listen("tcp4", address)
	if err != nil {
		if rollPorts && isErrorAddressAlreadyInUse(err) {
			host, p, er := net.SplitHostPort(address)
			if er != nil {
				return nil, err
			}
			port, er := strconv.Atoi(p)
			if er != nil {
				return nil, err
			}
			for i := port + 1; i < port+maxPortRollAttempts; i++ {
				ls, err = net.Listen("tcp4", host+":"+strconv.Itoa(i))
				if err == nil {
					return &Listener{ls}, nil
				}
			}
		}
		return nil, err
	}
	return &Listener{ls}, nil
}

func (l *Listener) GetPort() int {
	if l == nil || l.Listener == nil {
		return 0
	}
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func isErrorAddressAlreadyInUse(err error) bool {
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	return errErrno == syscall.EADDRINUSE
}
