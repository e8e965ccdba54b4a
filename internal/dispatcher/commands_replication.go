package dispatcher

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"redigo-stream/internal/protocol"
	"redigo-stream/internal/rdb"
	"redigo-stream/internal/replication"
)

// cmdInfo implements INFO [replication] (spec §4.4). master_repl_offset
// is literally always 0 on the wire, independent of master_offset.
func (d *Dispatcher) cmdInfo(args []string) Response {
	var replID string
	if d.master != nil {
		replID = d.master.ReplID()
	} else {
		replID = strings.Repeat("0", 40)
	}

	role := "master"
	if d.role == replication.RoleSlave {
		role = "slave"
	}

	body := fmt.Sprintf("role:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:0", role, replID)
	return basic(protocol.EncodeBulkString(body))
}

// cmdReplconf implements REPLCONF listening-port/capa/GETACK/ACK (spec
// §4.4, §4.5).
func (d *Dispatcher) cmdReplconf(args []string, remoteAddr string) Response {
	if len(args) < 2 {
		return errReply("ERR wrong number of arguments for 'replconf' command")
	}
	sub := strings.ToUpper(args[1])

	switch sub {
	case "LISTENING-PORT":
		if len(args) != 3 {
			return errReply("ERR wrong number of arguments for 'replconf' command")
		}
		port, err := strconv.Atoi(args[2])
		if err != nil {
			return errReply("ERR value is not an integer or out of range")
		}
		if d.master != nil {
			d.master.GetOrCreateReplica(remoteAddr, remoteAddr, uuid.NewString())
			d.master.AdvanceHandshake(remoteAddr, replication.HandshakeReplconf)
			d.master.SetListeningPort(remoteAddr, port)
		}
		return basic(protocol.EncodeSimpleString("OK"))

	case "CAPA":
		if d.master != nil {
			d.master.AdvanceHandshake(remoteAddr, replication.HandshakeReplconfCapa)
		}
		return basic(protocol.EncodeSimpleString("OK"))

	case "GETACK":
		// Sent by a master to a replica. A replica answers it in its
		// inbound applier (internal/replication/replica.go), which does
		// not go through this dispatcher; received here, it gets no reply.
		return Response{Kind: RespGetAck, Bytes: nil}

	case "ACK":
		if len(args) != 3 {
			return errReply("ERR wrong number of arguments for 'replconf' command")
		}
		offset, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return errReply("ERR value is not an integer or out of range")
		}
		if d.master != nil {
			d.master.UpdateAck(remoteAddr, offset)
		}
		return Response{Kind: RespBasic, Bytes: nil}

	default:
		return errReply(fmt.Sprintf("ERR Unrecognized REPLCONF option: %s", args[1]))
	}
}

// cmdPsync implements PSYNC ? -1 (spec §4.4, §4.7). The reply always
// advertises offset 0 (spec §9's documented open question, preserved).
func (d *Dispatcher) cmdPsync(args []string, remoteAddr string) Response {
	if d.master == nil {
		return errReply("ERR PSYNC is only valid against a master")
	}
	payload := rdb.EmptyRDB()
	var out []byte
	out = append(out, protocol.EncodeSimpleString(fmt.Sprintf("FULLRESYNC %s 0", d.master.ReplID()))...)
	out = append(out, protocol.EncodeBulkHeader(len(payload))...)
	out = append(out, payload...)

	d.master.GetOrCreateReplica(remoteAddr, remoteAddr, uuid.NewString())
	d.master.AdvanceHandshake(remoteAddr, replication.HandshakePsync)

	return Response{Kind: RespPsync, Bytes: out, Host: remoteAddr}
}

// cmdWait implements WAIT numreplicas timeout_ms (spec §4.4, §4.5). The
// actual protocol runs in the replicator actor; this only validates
// arguments and hands off the parameters.
func (d *Dispatcher) cmdWait(args []string) Response {
	if len(args) != 3 {
		return errReply("ERR wrong number of arguments for 'wait' command")
	}
	count, err := strconv.Atoi(args[1])
	if err != nil {
		return errReply("ERR value is not an integer or out of range")
	}
	timeoutMs, err := strconv.Atoi(args[2])
	if err != nil {
		return errReply("ERR value is not an integer or out of range")
	}
	return Response{Kind: RespWait, Count: count, TimeMs: timeoutMs}
}
