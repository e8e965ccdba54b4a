package server

import (
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"redigo-stream/internal/dispatcher"
	"redigo-stream/internal/protocol"
	"redigo-stream/internal/replication"
)

// handleConnection runs one connection's parse→dispatch→reply loop,
// strictly in request order (spec §5). A connection that completes the
// PSYNC handshake hands its write half to the master's replica registry
// and is removed from it when the connection closes.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	log := s.log.WithField("remote", remoteAddr)
	log.Debug("connection accepted")

	becameReplica := false
	defer func() {
		conn.Close()
		if becameReplica && s.master != nil {
			s.master.RemoveReplica(remoteAddr)
			log.Info("replica disconnected")
		}
		log.Debug("connection closed")
	}()

	reader := protocol.NewReader(conn)
	for {
		cmd, raw, err := reader.ReadCommand()
		if err != nil {
			return
		}

		if cmd == nil {
			writeOrClose(conn, log, barePingOrEmpty(raw))
			continue
		}

		resp := s.disp.Dispatch(cmd, remoteAddr)
		if !s.applyResponse(conn, log, resp, &becameReplica, remoteAddr) {
			return
		}
	}
}

// barePingOrEmpty implements the non-array "ping" special case and the
// unknown-first-frame-type fallback (spec §4.4).
func barePingOrEmpty(raw *protocol.Frame) []byte {
	if raw != nil && raw.Kind == protocol.KindBulkString && !raw.Null && strings.EqualFold(string(raw.Bulk), "ping") {
		return protocol.EncodeSimpleString("PONG")
	}
	return protocol.EncodeRawArray(nil)
}

// applyResponse writes resp's bytes and carries out whatever replication
// side effect its Kind calls for (spec §4.4's response variant table).
// It returns false if the connection should be closed.
func (s *Server) applyResponse(conn net.Conn, log *logrus.Entry, resp dispatcher.Response, becameReplica *bool, remoteAddr string) bool {
	switch resp.Kind {
	case dispatcher.RespBasic, dispatcher.RespSet:
		return writeOrClose(conn, log, resp.Bytes)

	case dispatcher.RespReplica:
		if !writeOrClose(conn, log, resp.Bytes) {
			return false
		}
		if s.replicator != nil {
			s.replicator.FanOut(resp.Cmd)
		}
		return true

	case dispatcher.RespPsync:
		if !writeOrClose(conn, log, resp.Bytes) {
			return false
		}
		if s.master != nil {
			s.master.SetWriteHandle(resp.Host, replication.NewWriteHandle(conn))
			*becameReplica = true
			log.Info("replica attached")
		}
		return true

	case dispatcher.RespGetAck:
		if len(resp.Bytes) == 0 {
			return true
		}
		return writeOrClose(conn, log, resp.Bytes)

	case dispatcher.RespWait:
		n := 0
		if s.replicator != nil {
			n = s.replicator.Wait(resp.Count, resp.TimeMs)
		}
		return writeOrClose(conn, log, protocol.EncodeInteger(int64(n)))

	case dispatcher.RespStreamBlock:
		return writeOrClose(conn, log, s.disp.ResolveStreamBlock(resp))

	default:
		return true
	}
}

func writeOrClose(conn net.Conn, log *logrus.Entry, b []byte) bool {
	if len(b) == 0 {
		return true
	}
	if _, err := conn.Write(b); err != nil {
		log.WithError(err).Debug("write failed, closing connection")
		return false
	}
	return true
}
