package replication

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"redigo-stream/internal/protocol"
	"redigo-stream/internal/storage"
)

// ReplicaClient drives the outbound side of replication: the four-stage
// handshake to a master and the inbound command-stream applier that
// follows it (spec §4.6).
type ReplicaClient struct {
	store   *storage.Store
	streams *storage.StreamStore
	log     *logrus.Entry

	mu     sync.Mutex
	offset int64
}

func NewReplicaClient(store *storage.Store, streams *storage.StreamStore, log *logrus.Entry) *ReplicaClient {
	return &ReplicaClient{store: store, streams: streams, log: log}
}

func (c *ReplicaClient) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *ReplicaClient) addOffset(n int64) {
	c.mu.Lock()
	c.offset += n
	c.mu.Unlock()
}

// Run performs the handshake against masterHost:masterPort, then applies
// the inbound command stream until ctx is cancelled or the connection
// drops. A handshake failure aborts replication entirely (spec §7); there
// is no in-process retry.
func (c *ReplicaClient) Run(ctx context.Context, masterHost string, masterPort int, selfPort int) error {
	addr := net.JoinHostPort(masterHost, strconv.Itoa(masterPort))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("replication: dial master %s: %w", addr, err)
	}
	defer conn.Close()

	br := bufio.NewReader(conn)
	if err := c.handshake(conn, br, selfPort); err != nil {
		return fmt.Errorf("replication: handshake with %s: %w", addr, err)
	}
	c.log.WithField("master", addr).Info("replication handshake complete, applying command stream")

	return c.applyLoop(ctx, conn, br)
}

func (c *ReplicaClient) handshake(conn net.Conn, br *bufio.Reader, selfPort int) error {
	steps := []struct {
		name string
		cmd  []string
		want func(*protocol.Frame) error
	}{
		{"PING", []string{"PING"}, expectSimpleString("PONG")},
		{"REPLCONF listening-port", []string{"REPLCONF", "listening-port", strconv.Itoa(selfPort)}, expectSimpleString("OK")},
		{"REPLCONF capa", []string{"REPLCONF", "capa", "psync2"}, expectSimpleString("OK")},
	}
	for _, step := range steps {
		if _, err := conn.Write(protocol.EncodeCommand(step.cmd)); err != nil {
			return fmt.Errorf("%s: write: %w", step.name, err)
		}
		frame, err := readReplyFrame(br)
		if err != nil {
			return fmt.Errorf("%s: read reply: %w", step.name, err)
		}
		if err := step.want(frame); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if _, err := conn.Write(protocol.EncodeCommand([]string{"PSYNC", "?", "-1"})); err != nil {
		return fmt.Errorf("PSYNC: write: %w", err)
	}
	line, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("PSYNC: read FULLRESYNC line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "+FULLRESYNC") {
		return fmt.Errorf("PSYNC: unexpected reply %q", line)
	}

	if err := readRDBBulk(br); err != nil {
		return fmt.Errorf("PSYNC: read RDB payload: %w", err)
	}
	return nil
}

// readRDBBulk consumes the raw RDB bulk that follows FULLRESYNC: a
// "$<len>\r\n" header with no trailing CRLF after the payload bytes
// (spec §4.4, §8 scenario 5).
func readRDBBulk(br *bufio.Reader) error {
	header, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	header = strings.TrimRight(header, "\r\n")
	if !strings.HasPrefix(header, "$") {
		return fmt.Errorf("expected bulk header, got %q", header)
	}
	n, err := strconv.Atoi(header[1:])
	if err != nil {
		return fmt.Errorf("bad bulk length %q: %w", header, err)
	}
	buf := make([]byte, n)
	_, err = readFull(br, buf)
	return err
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := br.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func expectSimpleString(want string) func(*protocol.Frame) error {
	return func(f *protocol.Frame) error {
		if f.Kind != protocol.KindSimpleString || f.Str != want {
			return fmt.Errorf("expected +%s, got %+v", want, f)
		}
		return nil
	}
}

func readReplyFrame(br *bufio.Reader) (*protocol.Frame, error) {
	r := protocol.NewReaderFromBufio(br)
	return r.ReadFrame()
}

// applyLoop decodes commands off the master connection and applies them
// directly to storage, tracking the cumulative serialized byte length as
// slave_repl_offset (spec §4.6). A decode error logs and the loop resumes
// at the next frame boundary rather than aborting replication outright.
func (c *ReplicaClient) applyLoop(ctx context.Context, conn net.Conn, br *bufio.Reader) error {
	r := protocol.NewReaderFromBufio(br)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd, _, err := r.ReadCommand()
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				c.log.WithError(err).Warn("replica: mid-stream decode error, resuming at next frame")
				continue
			}
			return fmt.Errorf("replication stream closed: %w", err)
		}
		if cmd == nil {
			c.log.Warn("replica: non-command frame on replication stream, ignoring")
			continue
		}

		frameLen := int64(len(protocol.EncodeCommand(cmd.Args)))
		name := strings.ToUpper(cmd.Args[0])

		if name == "REPLCONF" && len(cmd.Args) >= 2 && strings.EqualFold(cmd.Args[1], "GETACK") {
			ack := []string{"REPLCONF", "ACK", strconv.FormatInt(c.Offset(), 10)}
			if _, err := conn.Write(protocol.EncodeCommand(ack)); err != nil {
				return fmt.Errorf("write REPLCONF ACK: %w", err)
			}
			c.addOffset(frameLen)
			continue
		}

		c.applyCommand(cmd.Args)
		c.addOffset(frameLen)
	}
}

func (c *ReplicaClient) applyCommand(args []string) {
	if len(args) == 0 {
		return
	}
	switch strings.ToUpper(args[0]) {
	case "SET":
		c.applySet(args)
	case "PING":
		// health traffic only, no store effect.
	default:
		c.log.WithField("cmd", args[0]).Warn("replica: ignoring unreplicated command")
	}
}

func (c *ReplicaClient) applySet(args []string) {
	if len(args) < 3 {
		return
	}
	key, val := args[1], args[2]
	nowMs := time.Now().UnixMilli()
	for i := 3; i+1 < len(args); i += 2 {
		if strings.EqualFold(args[i], "PX") {
			ttl, err := strconv.ParseInt(args[i+1], 10, 64)
			if err == nil {
				c.store.SetWithExpire(key, val, nowMs, ttl)
				return
			}
		}
	}
	c.store.Set(key, val)
}
