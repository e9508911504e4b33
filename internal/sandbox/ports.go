package sandbox

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
)

// portAttempts bounds ephemeral binds after the preferred port is taken.
const portAttempts = 16

// portReservation is a bound listening socket. The socket itself is passed
// to the node, so the port cannot be taken between reservation and use.
type portReservation struct {
	ln   *net.TCPListener
	port int
}

// reservePort binds 127.0.0.1 on preferred, falling back to ephemeral
// ports when preferred is 0 or busy.
func reservePort(preferred int) (*portReservation, error) {
	if preferred > 0 {
		res, err := bindPort(preferred)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) && !errors.Is(err, syscall.EACCES) {
			return nil, fmt.Errorf("%w: %v", ErrPortExhausted, err)
		}
	}

	var lastErr error
	for i := 0; i < portAttempts; i++ {
		res, err := bindPort(0)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrPortExhausted, lastErr)
}

func bindPort(port int) (*portReservation, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tcp := ln.(*net.TCPListener)
	return &portReservation{ln: tcp, port: tcp.Addr().(*net.TCPAddr).Port}, nil
}

// file returns a duplicate of the socket for a child's ExtraFiles.
func (r *portReservation) file() (*os.File, error) {
	return r.ln.File()
}

// release closes our copy of the socket. A child holding a duplicate keeps
// serving on it.
func (r *portReservation) release() error {
	return r.ln.Close()
}
