// Package query implements the request/response layer of the server-query
// protocol: challenge sequencing, split-response reassembly, and one call
// per logical query against a single server.
package query

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// maxDatagramSize covers the largest response datagram game servers send;
// fragments of split responses stay well under the usual 1400-byte MTU
// budget but single-packet rules responses can run long.
const maxDatagramSize = 65507

// ErrTimeout reports that no response arrived within the receive timeout.
var ErrTimeout = errors.New("receive timed out")

// TransportError reports a send or receive failure below the protocol
// layer. Timeouts wrap ErrTimeout and can be matched with errors.Is.
type TransportError struct {
	Op   string // "send" or "receive"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transport delivers datagrams to and from a single server endpoint. A
// session owns exactly one transport; responses are correlated to the most
// recent request, so a transport must never be shared between concurrent
// exchanges.
type Transport interface {
	Send(p []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// UDPTransport is the standard Transport over a connected UDP socket.
type UDPTransport struct {
	conn *net.UDPConn
	addr string
	buf  []byte
}

// DialUDP connects a UDP transport to the given "host:port" address.
func DialUDP(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, &TransportError{Op: "send", Addr: addr, Err: err}
	}

	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return nil, &TransportError{Op: "send", Addr: addr, Err: err}
	}

	return &UDPTransport{
		conn: conn,
		addr: addr,
		buf:  make([]byte, maxDatagramSize),
	}, nil
}

// Addr returns the remote address the transport is connected to.
func (t *UDPTransport) Addr() string {
	return t.addr
}

// Send writes one datagram to the server.
func (t *UDPTransport) Send(p []byte) error {
	if _, err := t.conn.Write(p); err != nil {
		return &TransportError{Op: "send", Addr: t.addr, Err: err}
	}
	return nil
}

// Receive reads one datagram, waiting at most timeout. Expiry surfaces as
// a TransportError wrapping ErrTimeout.
func (t *UDPTransport) Receive(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &TransportError{Op: "receive", Addr: t.addr, Err: err}
	}

	n, err := t.conn.Read(t.buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, &TransportError{Op: "receive", Addr: t.addr, Err: ErrTimeout}
		}
		return nil, &TransportError{Op: "receive", Addr: t.addr, Err: err}
	}

	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
