package translator

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/rewclient/pkg/protocol"
	"github.com/grafana/rewclient/pkg/transport"
)

// readyTranslator returns a session that completed the handshake with p.
func readyTranslator(t *testing.T, client *transport.UnixConn, p *peer, mem io.ReaderAt) *Translator {
	t.Helper()
	var g errgroup.Group
	g.Go(func() error { return p.handshake(testClientConfig) })
	tr := New(mem)
	require.NoError(t, tr.Init(client, testServerConfig))
	_, err := tr.ConfigFetch()
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	return tr
}

func result(code int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(code))
}

func Test_ForkHandoff(t *testing.T) {
	image := testImage(512)
	client, p := newPair(t)
	tr := readyTranslator(t, client, p, bytes.NewReader(image))

	// handed is passed to the client, kept stays with the server.
	handed, kept, err := transport.SocketPair()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kept.Close() })
	forked := &peer{conn: kept}

	var (
		g     errgroup.Group
		reply membuf
	)
	g.Go(func() error {
		defer handed.Close()
		if _, err := p.expect(protocol.CFork); err != nil {
			return err
		}
		if err := p.header(protocol.SFD, 4); err != nil {
			return err
		}
		return p.conn.SendHandle(result(0), handed)
	})

	conn, err := tr.ForkPrepare()
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Equal(t, StateReady, tr.State())
	require.NoError(t, g.Wait())

	require.NoError(t, tr.ForkFinalize(conn))

	g.Go(func() error {
		if _, err := forked.expect(protocol.CTranslate); err != nil {
			return err
		}
		if err := forked.memRequest(8, 8); err != nil {
			return err
		}
		var err error
		if reply, err = forked.expectMembuf(); err != nil {
			return err
		}
		if err := forked.send(protocol.SObject, []byte("forked")); err != nil {
			return err
		}
		return forked.drained()
	})
	// The first transport was closed by the client and saw nothing else.
	g.Go(p.drained)

	obj, err := tr.Get(0x2000)
	require.NoError(t, err)
	require.Equal(t, []byte("forked"), obj)
	require.NoError(t, tr.Fini())
	require.NoError(t, g.Wait())

	require.Equal(t, image[8:16], reply.data)
	require.Equal(t, byte(0), reply.status)

	_, err = client.Write([]byte{0})
	require.Error(t, err, "previous transport must be closed")
}

func Test_ForkRemoteError(t *testing.T) {
	t.Run("with handle", func(t *testing.T) {
		client, p := newPair(t)
		tr := readyTranslator(t, client, p, nil)
		handed, kept, err := transport.SocketPair()
		require.NoError(t, err)
		t.Cleanup(func() { _ = kept.Close() })

		var g errgroup.Group
		g.Go(func() error {
			defer handed.Close()
			if _, err := p.expect(protocol.CFork); err != nil {
				return err
			}
			if err := p.header(protocol.SFD, 4); err != nil {
				return err
			}
			return p.conn.SendHandle(result(-12), handed)
		})

		_, err = tr.ForkPrepare()
		var remote *RemoteError
		require.True(t, errors.As(err, &remote), "got %v", err)
		require.Equal(t, int32(-12), remote.Code)
		require.NoError(t, g.Wait())

		// The received handle was closed, so the kept end sees EOF.
		rest, err := io.ReadAll(kept)
		require.NoError(t, err)
		require.Empty(t, rest)
	})

	t.Run("without handle", func(t *testing.T) {
		client, p := newPair(t)
		tr := readyTranslator(t, client, p, nil)

		var g errgroup.Group
		g.Go(func() error {
			if _, err := p.expect(protocol.CFork); err != nil {
				return err
			}
			return p.send(protocol.SFD, result(5))
		})

		_, err := tr.ForkPrepare()
		var remote *RemoteError
		require.True(t, errors.As(err, &remote), "got %v", err)
		require.Equal(t, int32(5), remote.Code)
		require.NoError(t, g.Wait())
	})
}

func Test_ForkProtocolErrors(t *testing.T) {
	t.Run("missing handle", func(t *testing.T) {
		client, p := newPair(t)
		tr := readyTranslator(t, client, p, nil)

		var g errgroup.Group
		g.Go(func() error {
			if _, err := p.expect(protocol.CFork); err != nil {
				return err
			}
			return p.send(protocol.SFD, result(0))
		})

		_, err := tr.ForkPrepare()
		require.True(t, errors.Is(err, transport.ErrBadAncillary), "got %v", err)
		require.NoError(t, g.Wait())
	})

	t.Run("wrong size", func(t *testing.T) {
		client, p := newPair(t)
		tr := readyTranslator(t, client, p, nil)

		var g errgroup.Group
		g.Go(func() error {
			if _, err := p.expect(protocol.CFork); err != nil {
				return err
			}
			return p.send(protocol.SFD, make([]byte, 8))
		})

		_, err := tr.ForkPrepare()
		require.True(t, errors.Is(err, ErrProtocol), "got %v", err)
		require.NoError(t, g.Wait())
	})

	t.Run("transport without handle passing", func(t *testing.T) {
		clientConfig, _ := testClientConfig.MarshalBinary()
		conn := newBufConn(msg(protocol.SInit, clientConfig))
		tr := New(nil)
		require.NoError(t, tr.Init(conn, testServerConfig))
		_, err := tr.ConfigFetch()
		require.NoError(t, err)

		sent := conn.out.Len()
		_, err = tr.ForkPrepare()
		require.True(t, errors.Is(err, ErrHandoffUnsupported), "got %v", err)
		require.Equal(t, sent, conn.out.Len(), "nothing sent")
	})
}

func Test_ForkFinalizeReplacesTransport(t *testing.T) {
	old := newBufConn()
	next := newBufConn(msg(protocol.SObject, []byte("x")))
	tr := New(nil)
	tr.conn, tr.state = old, StateReady

	require.NoError(t, tr.ForkFinalize(next))
	require.True(t, old.closed)

	obj, err := tr.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), obj)
	require.Zero(t, old.out.Len())
	require.Equal(t, msg(protocol.CTranslate, binary.LittleEndian.AppendUint64(nil, 1)), next.out.Bytes())
}
