// Package translator implements the client side of a translation session.
//
// A session sends translate requests for code addresses and receives
// translated objects. While a request is outstanding the server may ask for
// byte ranges of the image; those are answered from the image the
// Translator was created with.
//
// Correlation relies on a single pending-header slot. A header that does not
// match what the caller expected is kept, not dropped, so the next
// expectation can claim it. This is how a translate request tells "another
// memory request" apart from "the final object" without peeking.
//
// A Translator is not safe for concurrent use.
package translator

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/rewclient/pkg/protocol"
	"github.com/grafana/rewclient/pkg/transport"
)

const DefaultMaxObjectSize = 256 << 20

type Translator struct {
	conn    transport.Conn
	mem     io.ReaderAt
	pending protocol.Header
	served  uint64
	state   State

	logger        log.Logger
	metrics       *Metrics
	maxObjectSize int
}

type Option func(*Translator)

func WithLogger(logger log.Logger) Option {
	return func(t *Translator) {
		t.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Translator) {
		t.metrics = m
	}
}

// WithMaxObjectSize bounds the size of objects the server may announce.
func WithMaxObjectSize(n int) Option {
	return func(t *Translator) {
		t.maxObjectSize = n
	}
}

// New creates a disconnected session serving memory requests from mem,
// usually an *elfimage.Image.
func New(mem io.ReaderAt, opts ...Option) *Translator {
	t := &Translator{
		mem:           mem,
		logger:        log.NewNopLogger(),
		maxObjectSize: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	return t
}

func (t *Translator) State() State { return t.state }

// ServedBytes is the number of bytes sent in reply to memory requests,
// zero filler included.
func (t *Translator) ServedBytes() uint64 { return t.served }

// Pending returns the buffered header, if any.
func (t *Translator) Pending() (protocol.Header, bool) {
	return t.pending, t.pending.ID != protocol.Unknown
}

// Init binds conn to the session and sends the server configuration.
func (t *Translator) Init(conn transport.Conn, cfg protocol.ServerConfig) error {
	if err := t.expectState("init", StateDisconnected); err != nil {
		return err
	}
	t.conn = conn
	t.pending = protocol.Header{}
	t.served = 0

	payload, err := cfg.MarshalBinary()
	if err != nil {
		return err
	}
	if err := t.send(protocol.CInit, payload); err != nil {
		return err
	}
	t.state = StateInitializing
	return nil
}

// ConfigFetch receives the configuration the server chose for this client.
func (t *Translator) ConfigFetch() (protocol.ClientConfig, error) {
	var cfg protocol.ClientConfig
	if err := t.expectState("config fetch", StateInitializing); err != nil {
		return cfg, err
	}
	size, err := t.recvHeader(protocol.SInit)
	if err != nil {
		return cfg, err
	}
	if size != protocol.ClientConfigSize {
		return cfg, errors.Wrapf(ErrProtocol, "%s size %d, want %d", protocol.SInit, size, protocol.ClientConfigSize)
	}
	buf := make([]byte, size)
	if _, err := transport.ReadFull(t.conn, buf); err != nil {
		return cfg, errors.Wrap(err, "reading client config")
	}
	if err := cfg.UnmarshalBinary(buf); err != nil {
		return cfg, err
	}
	t.state = StateReady
	return cfg, nil
}

// GetObject receives an S_OBJECT message that is pending or next on the
// wire.
func (t *Translator) GetObject() ([]byte, error) {
	if err := t.expectState("get object", StateReady); err != nil {
		return nil, err
	}
	return t.getObject()
}

func (t *Translator) getObject() ([]byte, error) {
	size, err := t.recvHeader(protocol.SObject)
	if err != nil {
		return nil, err
	}
	if size < 0 || int(size) > t.maxObjectSize {
		return nil, errors.Wrapf(ErrProtocol, "%s size %d out of range", protocol.SObject, size)
	}
	buf := make([]byte, size)
	if _, err := transport.ReadFull(t.conn, buf); err != nil {
		return nil, errors.Wrap(err, "reading object")
	}
	t.metrics.Objects.Inc()
	t.metrics.ObjectBytes.Add(float64(size))
	return buf, nil
}

// Get requests the translation of addr and serves the server's memory
// requests until the object arrives.
func (t *Translator) Get(addr uint64) ([]byte, error) {
	if err := t.expectState("translate", StateReady); err != nil {
		return nil, err
	}
	t.state = StateTranslating
	defer func() { t.state = StateReady }()

	start := time.Now()
	var req [8]byte
	binary.LittleEndian.PutUint64(req[:], addr)
	if err := t.send(protocol.CTranslate, req[:]); err != nil {
		return nil, err
	}

	for {
		size, err := t.recvHeader(protocol.SMemReq)
		var unexpected *UnexpectedMessageError
		if errors.As(err, &unexpected) {
			// Not a memory request, so it has to be the object.
			obj, err := t.getObject()
			if err != nil {
				return nil, err
			}
			t.metrics.TranslateDuration.Observe(time.Since(start).Seconds())
			level.Debug(t.logger).Log("msg", "received object", "addr", fmt.Sprintf("%#x", addr), "size", len(obj))
			return obj, nil
		}
		if err != nil {
			return nil, err
		}
		if size != protocol.MemRequestSize {
			return nil, errors.Wrapf(ErrProtocol, "%s size %d, want %d", protocol.SMemReq, size, protocol.MemRequestSize)
		}
		if err := t.serveMemory(); err != nil {
			return nil, err
		}
	}
}

// serveMemory answers one memory request. The reply always carries the
// clamped size plus a status byte: 0 for image data, 1 for zero filler when
// the range is not part of the image.
func (t *Translator) serveMemory() error {
	var b [protocol.MemRequestSize]byte
	if _, err := transport.ReadFull(t.conn, b[:]); err != nil {
		return errors.Wrap(err, "reading memory request")
	}
	req, err := protocol.DecodeMemRequest(b[:])
	if err != nil {
		return err
	}

	n := req.Clamped()
	reply := make([]byte, n+1)
	result := "ok"
	if !t.copyImage(reply[:n], req.Addr) {
		clear(reply[:n])
		reply[n] = 1
		result = "fault"
	}
	if err := t.send(protocol.CMemBuf, reply); err != nil {
		return err
	}
	t.served += n

	t.metrics.MemoryRequests.WithLabelValues(result).Inc()
	t.metrics.ServedBytes.Add(float64(n))
	level.Debug(t.logger).Log("msg", "served memory request", "addr", fmt.Sprintf("%#x", req.Addr), "requested", req.Size, "size", n, "result", result)
	return nil
}

// copyImage fills dst from the image at addr and reports whether the whole
// range was available.
func (t *Translator) copyImage(dst []byte, addr uint64) bool {
	if t.mem == nil || addr > math.MaxInt64 {
		return false
	}
	n, _ := t.mem.ReadAt(dst, int64(addr))
	return n == len(dst)
}

// ForkPrepare asks the server for a second transport, to be adopted with
// ForkFinalize by one of the processes after the caller duplicates the
// process.
func (t *Translator) ForkPrepare() (transport.Conn, error) {
	if err := t.expectState("fork prepare", StateReady); err != nil {
		return nil, err
	}
	receiver, ok := t.conn.(transport.HandleReceiver)
	if !ok {
		return nil, ErrHandoffUnsupported
	}
	t.state = StateForking
	defer func() { t.state = StateReady }()

	if err := t.send(protocol.CFork, nil); err != nil {
		return nil, err
	}
	size, err := t.recvHeader(protocol.SFD)
	if err != nil {
		return nil, err
	}
	if size != 4 {
		return nil, errors.Wrapf(ErrProtocol, "%s size %d, want 4", protocol.SFD, size)
	}

	var result [4]byte
	n, conn, err := receiver.ReceiveHandle(result[:])
	if n == len(result) {
		if code := int32(binary.LittleEndian.Uint32(result[:])); code != 0 {
			if conn != nil {
				_ = conn.Close()
			}
			return nil, &RemoteError{Code: code}
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "receiving transport handle")
	}
	level.Debug(t.logger).Log("msg", "received transport handle")
	return conn, nil
}

// ForkFinalize closes the current transport and continues the session on
// conn.
func (t *Translator) ForkFinalize(conn transport.Conn) error {
	if err := t.expectState("fork finalize", StateReady); err != nil {
		return err
	}
	if conn == nil {
		return errors.New("translator: nil transport")
	}
	err := t.conn.Close()
	t.conn = conn
	if err != nil {
		level.Warn(t.logger).Log("msg", "closing previous transport", "err", err)
	}
	return nil
}

// Fini closes the transport. The session cannot be used afterwards.
func (t *Translator) Fini() error {
	if t.state == StateClosed {
		return ErrClosed
	}
	t.state = StateClosed
	if t.conn == nil {
		return nil
	}
	conn := t.conn
	t.conn = nil
	return conn.Close()
}

func (t *Translator) send(id protocol.MsgID, payload []byte) error {
	if t.pending.ID != protocol.Unknown {
		return errors.Wrapf(ErrPendingHeader, "sending %s with %s pending", id, t.pending.ID)
	}
	buf := make([]byte, 0, protocol.HeaderSize+len(payload))
	buf = protocol.Header{ID: id, Size: int32(len(payload))}.Append(buf)
	buf = append(buf, payload...)
	if _, err := transport.WriteFull(t.conn, buf); err != nil {
		return errors.Wrapf(err, "sending %s", id)
	}
	return nil
}

// recvHeader reads a header unless one is pending and claims it if its
// identifier is want. Otherwise the header stays pending and an
// *UnexpectedMessageError is returned.
func (t *Translator) recvHeader(want protocol.MsgID) (int32, error) {
	if t.pending.ID == protocol.Unknown {
		var b [protocol.HeaderSize]byte
		if _, err := transport.ReadFull(t.conn, b[:]); err != nil {
			return 0, errors.Wrapf(err, "reading header, expecting %s", want)
		}
		h, err := protocol.DecodeHeader(b[:])
		if err != nil {
			return 0, err
		}
		if h.ID == protocol.Unknown {
			return 0, errors.Wrapf(ErrProtocol, "received %s header, expecting %s", h.ID, want)
		}
		t.pending = h
	}
	if t.pending.ID != want {
		return 0, &UnexpectedMessageError{Want: want, Got: t.pending}
	}
	size := t.pending.Size
	t.pending = protocol.Header{}
	return size, nil
}

func (t *Translator) expectState(op string, states ...State) error {
	if t.state == StateClosed {
		return ErrClosed
	}
	if slices.Contains(states, t.state) {
		return nil
	}
	return errors.Wrapf(ErrInvalidState, "%s in state %s", op, t.state)
}
