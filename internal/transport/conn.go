package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// MaxDatagramSize is the largest payload Receive will return.
const MaxDatagramSize = 64 * 1024

// Datagram is one inbound packet and the address it came from.
type Datagram struct {
	Addr *net.UDPAddr
	Data []byte
}

// Error is a failed transport operation.
type Error struct {
	Op   string // "listen", "resolve", "write" or "read"
	Addr string
	Err  error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsClosed reports whether err came from using a closed Conn.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// Conn is a bound UDP endpoint. One goroutine may block in Receive while
// others call Send; the underlying socket supports concurrent use.
type Conn struct {
	conn        *net.UDPConn
	defaultPort int
}

// Listen binds a UDP socket on port (0 picks an ephemeral port). Destinations
// given to Send without a port are sent to defaultPort.
func Listen(port, defaultPort int) (*Conn, error) {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: fmt.Sprintf(":%d", port), Err: err}
	}
	if defaultPort == 0 {
		defaultPort = conn.LocalAddr().(*net.UDPAddr).Port
	}
	return &Conn{conn: conn, defaultPort: defaultPort}, nil
}

func (c *Conn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to dest, given as "host" or "host:port".
func (c *Conn) Send(dest string, data []byte) error {
	addr, err := c.resolve(dest)
	if err != nil {
		return &Error{Op: "resolve", Addr: dest, Err: err}
	}
	if _, err := c.conn.WriteToUDP(data, addr); err != nil {
		return &Error{Op: "write", Addr: addr.String(), Err: err}
	}
	return nil
}

// Receive blocks until a datagram arrives or the Conn is closed.
func (c *Conn) Receive() (Datagram, error) {
	buf := make([]byte, MaxDatagramSize)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return Datagram{}, &Error{Op: "read", Err: err}
	}
	return Datagram{Addr: addr, Data: buf[:n]}, nil
}

// Close releases the socket and unblocks any pending Receive.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) resolve(dest string) (*net.UDPAddr, error) {
	if dest == "" {
		return nil, errors.New("empty destination")
	}
	hostport := dest
	if _, _, err := net.SplitHostPort(dest); err != nil {
		hostport = net.JoinHostPort(dest, strconv.Itoa(c.defaultPort))
	}
	return net.ResolveUDPAddr("udp", hostport)
}
