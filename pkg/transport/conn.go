// Package transport provides the byte stream a translator session runs on:
// full-transfer helpers, Unix stream connections and descriptor passing.
package transport

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrBadAncillary is returned when a handle transfer does not carry exactly
// one SCM_RIGHTS message with exactly one descriptor.
var ErrBadAncillary = errors.New("transport: malformed ancillary data")

// Conn is a duplex byte stream exclusively owned by one session.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// HandleReceiver is implemented by transports that can receive an open
// transport handle from the peer.
type HandleReceiver interface {
	// ReceiveHandle reads len(inline) bytes of inline data together with one
	// transferred handle. n reports how much inline data arrived, also when
	// the ancillary data is malformed.
	ReceiveHandle(inline []byte) (n int, conn Conn, err error)
}

// UnixConn is a Unix stream socket. Reads are never buffered so that inline
// data and ancillary data stay aligned with the stream.
type UnixConn struct {
	c *net.UnixConn
}

func NewUnixConn(c *net.UnixConn) *UnixConn {
	return &UnixConn{c: c}
}

// FromFD adopts an open socket descriptor, typically one inherited from the
// launching process. The descriptor is owned by the returned connection.
func FromFD(fd int) (*UnixConn, error) {
	if fd < 0 {
		return nil, errors.Errorf("transport: invalid descriptor %d", fd)
	}
	f := os.NewFile(uintptr(fd), fmt.Sprintf("fd:%d", fd))
	if f == nil {
		return nil, errors.Errorf("transport: invalid descriptor %d", fd)
	}
	// net.FileConn duplicates the descriptor.
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: adopting descriptor %d", fd)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		_ = c.Close()
		return nil, errors.Errorf("transport: descriptor %d is not a unix socket", fd)
	}
	return &UnixConn{c: uc}, nil
}

// Dial connects to a translation server listening on a Unix socket path.
func Dial(path string) (*UnixConn, error) {
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", path)
	}
	return &UnixConn{c: c}, nil
}

// SocketPair returns both ends of a connected Unix stream socket pair.
func SocketPair() (*UnixConn, *UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "transport: socketpair")
	}
	a, err := FromFD(fds[0])
	if err != nil {
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := FromFD(fds[1])
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

func (c *UnixConn) Read(p []byte) (int, error)  { return c.c.Read(p) }
func (c *UnixConn) Write(p []byte) (int, error) { return c.c.Write(p) }
func (c *UnixConn) Close() error                { return c.c.Close() }

// File returns a duplicate of the underlying descriptor, e.g. for
// exec.Cmd.ExtraFiles. Closing it does not affect the connection.
func (c *UnixConn) File() (*os.File, error) {
	return c.c.File()
}

// ReceiveHandle implements HandleReceiver.
func (c *UnixConn) ReceiveHandle(inline []byte) (int, Conn, error) {
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, flags, _, err := c.c.ReadMsgUnix(inline, oob)
	if err != nil {
		return n, nil, errors.Wrap(err, "transport: receiving handle")
	}
	fds, valid := parseRights(oob[:oobn])
	if !valid || flags&unix.MSG_CTRUNC != 0 || n != len(inline) {
		closeAll(fds)
		return n, nil, errors.Wrapf(ErrBadAncillary, "inline=%d/%d control=%d flags=%#x", n, len(inline), oobn, flags)
	}
	conn, err := FromFD(fds[0])
	if err != nil {
		return n, nil, err
	}
	return n, conn, nil
}

// SendHandle writes inline together with h's descriptor. h stays open and
// usable; the receiver gets its own reference.
func (c *UnixConn) SendHandle(inline []byte, h *UnixConn) error {
	raw, err := h.c.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "transport: accessing handle")
	}
	var (
		n    int
		werr error
	)
	if err := raw.Control(func(fd uintptr) {
		n, _, werr = c.c.WriteMsgUnix(inline, unix.UnixRights(int(fd)), nil)
	}); err != nil {
		return errors.Wrap(err, "transport: accessing handle")
	}
	if werr != nil {
		return errors.Wrap(werr, "transport: sending handle")
	}
	if n != len(inline) {
		return errors.Wrapf(ErrShortTransfer, "wrote %d of %d bytes", n, len(inline))
	}
	return nil
}

// parseRights returns every descriptor found in the control data and whether
// the data was exactly one SCM_RIGHTS message carrying one descriptor.
func parseRights(oob []byte) ([]int, bool) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, false
	}
	var fds []int
	for i := range msgs {
		m := &msgs[i]
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		if got, err := unix.ParseUnixRights(m); err == nil {
			fds = append(fds, got...)
		}
	}
	if len(msgs) != 1 || len(fds) != 1 {
		return fds, false
	}
	m := msgs[0]
	if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS || uint64(m.Header.Len) != uint64(unix.CmsgLen(4)) {
		return fds, false
	}
	return fds, true
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
