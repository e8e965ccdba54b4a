package dispatcher

import (
	"strconv"
	"strings"

	"redigo-stream/internal/protocol"
	"redigo-stream/internal/replication"
)

func (d *Dispatcher) cmdEcho(args []string) Response {
	if len(args) < 2 {
		return errReply("ERR wrong number of arguments for 'echo' command")
	}
	return basic(protocol.EncodeBulkString(strings.Join(args[1:], "")))
}

func (d *Dispatcher) cmdGet(args []string) Response {
	if len(args) != 2 {
		return errReply("ERR wrong number of arguments for 'get' command")
	}
	v, ok := d.store.Get(args[1])
	if !ok {
		return basic(protocol.EncodeNullBulkString())
	}
	return basic(protocol.EncodeBulkString(v))
}

// cmdSet implements SET k v [PX ms] (spec §4.4). Arity below 3 is a
// wrong-number-of-arguments error and never touches the store (§9 open
// question, resolved).
func (d *Dispatcher) cmdSet(args []string) Response {
	if len(args) < 3 {
		return errReply("ERR wrong number of arguments for 'set' command")
	}
	key, val := args[1], args[2]

	var ttlMs int64
	hasTTL := false
	for i := 3; i+1 < len(args); i += 2 {
		if strings.EqualFold(args[i], "PX") {
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return errReply("ERR value is not an integer or out of range")
			}
			ttlMs = ms
			hasTTL = true
		}
	}

	if hasTTL {
		d.store.SetWithExpire(key, val, nowMs(), ttlMs)
	} else {
		d.store.Set(key, val)
	}

	reply := protocol.EncodeSimpleString("OK")

	if d.role != replication.RoleMaster || d.master == nil {
		return basic(reply)
	}

	cmdArgs := append([]string(nil), args...)
	offset := int64(len(protocol.EncodeCommand(cmdArgs)))
	d.master.AddMasterOffset(offset)

	if d.master.PsyncReplicaCount() == 0 {
		return Response{Kind: RespSet, Bytes: reply, Offset: offset}
	}
	return Response{Kind: RespReplica, Bytes: reply, Cmd: cmdArgs, Offset: offset}
}

func (d *Dispatcher) cmdKeys(args []string) Response {
	if len(args) != 2 || args[1] != "*" {
		return errReply("ERR wrong number of arguments for 'keys' command")
	}
	keys := d.store.Keys()
	items := make([][]byte, 0, len(keys))
	for _, k := range keys {
		items = append(items, protocol.EncodeBulkString(k))
	}
	return basic(protocol.EncodeRawArray(items))
}

func (d *Dispatcher) cmdType(args []string) Response {
	if len(args) != 2 {
		return errReply("ERR wrong number of arguments for 'type' command")
	}
	if d.store.Exists(args[1]) {
		return basic(protocol.EncodeSimpleString("string"))
	}
	if _, ok := d.streams.GetLastStreamID(args[1]); ok {
		return basic(protocol.EncodeSimpleString("stream"))
	}
	return basic(protocol.EncodeSimpleString("none"))
}

func (d *Dispatcher) cmdConfig(args []string) Response {
	if len(args) != 3 || !strings.EqualFold(args[1], "GET") {
		return errReply("ERR wrong number of arguments for 'config' command")
	}
	var name, value string
	switch strings.ToLower(args[2]) {
	case "dir":
		name, value = "dir", d.dir
	case "dbfilename":
		name, value = "dbfilename", d.dbFilename
	default:
		return basic(protocol.EncodeRawArray(nil))
	}
	return basic(protocol.EncodeRawArray([][]byte{
		protocol.EncodeBulkString(name),
		protocol.EncodeBulkString(value),
	}))
}
