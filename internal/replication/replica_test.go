package replication

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redigo-stream/internal/protocol"
	"redigo-stream/internal/storage"
)

func newTestReplicaClient() (*ReplicaClient, *storage.Store) {
	store := storage.NewStore()
	streams := storage.NewStreamStore()
	log := logrus.NewEntry(logrus.New())
	return NewReplicaClient(store, streams, log), store
}

// runFakeMaster accepts one connection on a local listener, performs the
// handshake's expected replies (spec §4.6), then calls after with the
// connection for the test to drive whatever follows PSYNC.
func runFakeMaster(t *testing.T, after func(conn net.Conn, r *protocol.Reader)) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		r := protocol.NewReaderFromBufio(br)

		for i := 0; i < 3; i++ { // PING, REPLCONF listening-port, REPLCONF capa
			if _, _, err := r.ReadCommand(); err != nil {
				return
			}
			conn.Write(protocol.EncodeSimpleString(pickReply(i)))
		}
		if _, _, err := r.ReadCommand(); err != nil { // PSYNC
			return
		}
		rdbPayload := []byte{0xAA, 0xBB}
		out := protocol.EncodeSimpleString("FULLRESYNC " + GenerateReplID() + " 0")
		out = append(out, protocol.EncodeBulkHeader(len(rdbPayload))...)
		out = append(out, rdbPayload...)
		conn.Write(out)

		after(conn, r)
	}()

	return ln.Addr().(*net.TCPAddr)
}

func pickReply(step int) string {
	if step == 0 {
		return "PONG"
	}
	return "OK"
}

func TestHandshakeThenInboundSetIsApplied(t *testing.T) {
	c, store := newTestReplicaClient()

	addr := runFakeMaster(t, func(conn net.Conn, r *protocol.Reader) {
		conn.Write(protocol.EncodeCommand([]string{"SET", "foo", "bar"}))
		conn.Write(protocol.EncodeCommand([]string{"SET", "ttl", "v", "PX", "60000"}))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Run(ctx, "127.0.0.1", addr.Port, 7000)

	require.Eventually(t, func() bool {
		v, ok := store.Get("foo")
		return ok && v == "bar"
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := store.Get("ttl")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestHandshakeFailsOnUnexpectedReply(t *testing.T) {
	c, _ := newTestReplicaClient()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		br := bufio.NewReader(serverConn)
		r := protocol.NewReaderFromBufio(br)
		if _, _, err := r.ReadCommand(); err != nil {
			return
		}
		serverConn.Write(protocol.EncodeSimpleString("NOTPONG"))
		serverConn.Close()
	}()

	br := bufio.NewReader(clientConn)
	err := c.handshake(clientConn, br, 7000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PING")
}

func TestApplyLoopRespondsToGetAckWithPreAckOffset(t *testing.T) {
	c, _ := newTestReplicaClient()
	c.addOffset(100)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		br := bufio.NewReader(clientConn)
		c.applyLoop(ctx, clientConn, br)
	}()

	getAck := protocol.EncodeCommand([]string{"REPLCONF", "GETACK", "*"})
	_, err := serverConn.Write(getAck)
	require.NoError(t, err)

	replyBr := bufio.NewReader(serverConn)
	reply, _, err := protocol.NewReaderFromBufio(replyBr).ReadCommand()
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, []string{"REPLCONF", "ACK", "100"}, reply.Args)

	// GETACK itself is only counted into the offset after the reply is
	// sent (spec §4.6).
	require.Eventually(t, func() bool {
		return c.Offset() == 100+int64(len(getAck))
	}, time.Second, 5*time.Millisecond)
}

func TestApplyLoopResumesAfterProtocolError(t *testing.T) {
	c, store := newTestReplicaClient()

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		br := bufio.NewReader(clientConn)
		done <- c.applyLoop(ctx, clientConn, br)
	}()

	// A malformed frame (bad bulk length) is a ProtocolError and must not
	// abort the loop; the next well-formed command still applies.
	_, err := serverConn.Write([]byte("$abc\r\n"))
	require.NoError(t, err)
	_, err = serverConn.Write(protocol.EncodeCommand([]string{"SET", "after", "ok"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := store.Get("after")
		return ok
	}, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("applyLoop should not have returned after a protocol error")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadRDBBulkConsumesExactPayload(t *testing.T) {
	payload := []byte("xyz")
	data := append(protocol.EncodeBulkHeader(len(payload)), payload...)
	data = append(data, []byte("*1\r\n$4\r\nPING\r\n")...)

	br := bufio.NewReader(strings.NewReader(string(data)))
	require.NoError(t, readRDBBulk(br))

	r := protocol.NewReaderFromBufio(br)
	cmd, _, err := r.ReadCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, cmd.Args)
}
