package dispatcher

import (
	"strconv"
	"strings"
	"time"

	"redigo-stream/internal/protocol"
	"redigo-stream/internal/storage"
)

func parseStreamIDArg(d *Dispatcher, key, s string) (storage.StreamID, bool, Response) {
	spec := storage.ValidateStreamID(s)
	switch spec.Kind {
	case storage.KindMillisecondOnly:
		return storage.StreamID{Millis: spec.Millis, Seq: 0}, true, Response{}
	case storage.KindGenerateMillisecond:
		ts := uint64(time.Now().UnixMilli())
		id, ok := d.streams.NextStreamSequenceID(key, ts)
		if !ok {
			return storage.StreamID{}, false, errReply("ERR The ID specified in XADD is equal or smaller than the target stream top item")
		}
		return id, true, Response{}
	case storage.KindGenerateSequence:
		id, ok := d.streams.NextStreamSequenceID(key, spec.Millis)
		if !ok {
			return storage.StreamID{}, false, errReply("ERR The ID specified in XADD is equal or smaller than the target stream top item")
		}
		return id, true, Response{}
	case storage.KindOk:
		return spec.ID, true, Response{}
	default:
		return storage.StreamID{}, false, errReply("ERR Invalid stream ID specified as stream command argument")
	}
}

// cmdXAdd implements XADD key id field val [field val ...] (spec §4.3, §4.4).
func (d *Dispatcher) cmdXAdd(args []string) Response {
	if len(args) < 5 || len(args)%2 != 1 {
		return errReply("ERR wrong number of arguments for 'xadd' command")
	}
	key := args[1]

	id, ok, errResp := parseStreamIDArg(d, key, args[2])
	if !ok {
		return errResp
	}

	fields := make([]storage.FieldValue, 0, (len(args)-3)/2)
	for i := 3; i+1 < len(args); i += 2 {
		fields = append(fields, storage.FieldValue{Field: args[i], Value: args[i+1]})
	}

	if err := d.streams.SetStreamKey(key, id, fields); err != nil {
		return errReply(err.Error())
	}
	return basic(protocol.EncodeBulkString(id.String()))
}

// cmdXRange implements XRANGE key start end (spec §4.4), where `-`/`+`
// denote the first/last id present.
func (d *Dispatcher) cmdXRange(args []string) Response {
	if len(args) != 4 {
		return errReply("ERR wrong number of arguments for 'xrange' command")
	}
	key := args[1]

	start, err := resolveRangeBound(args[2], storage.ZeroStreamID)
	if err != nil {
		return errReply(err.Error())
	}
	end, err := resolveRangeBound(args[3], storage.StreamID{Millis: ^uint64(0), Seq: ^uint64(0)})
	if err != nil {
		return errReply(err.Error())
	}

	entries := d.streams.Range(key, start, end)
	return basic(protocol.EncodeRawArray(encodeStreamEntries(entries)))
}

func resolveRangeBound(s string, wildcard storage.StreamID) (storage.StreamID, error) {
	switch s {
	case "-":
		return storage.ZeroStreamID, nil
	case "+":
		return wildcard, nil
	default:
		return storage.ParseStreamID(s)
	}
}

func encodeStreamEntries(entries []storage.StreamEntry) [][]byte {
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		fv := make([][]byte, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fv = append(fv, protocol.EncodeBulkString(f.Field), protocol.EncodeBulkString(f.Value))
		}
		out = append(out, protocol.EncodeRawArray([][]byte{
			protocol.EncodeBulkString(e.ID.String()),
			protocol.EncodeRawArray(fv),
		}))
	}
	return out
}

// cmdXRead implements XREAD [BLOCK ms] STREAMS k1..kn id1..idn (spec
// §4.3, §4.4, §5). A non-blocking read that finds nothing returns a
// null array (*-1); a BLOCK request instead returns
// RespStreamBlock so the connection loop can suspend.
func (d *Dispatcher) cmdXRead(args []string) Response {
	rest := args[1:]
	blockMs := int64(-1) // -1 means no BLOCK clause
	if len(rest) >= 2 && strings.EqualFold(rest[0], "BLOCK") {
		ms, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return errReply("ERR timeout is not an integer or out of range")
		}
		blockMs = ms
		rest = rest[2:]
	}
	if len(rest) < 2 || !strings.EqualFold(rest[0], "STREAMS") {
		return errReply("ERR wrong number of arguments for 'xread' command")
	}
	rest = rest[1:]
	if len(rest)%2 != 0 {
		return errReply("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(rest) / 2
	keys := append([]string(nil), rest[:n]...)
	ids := make([]storage.StreamID, n)
	for i := 0; i < n; i++ {
		idArg := rest[n+i]
		if idArg == "$" {
			last, _ := d.streams.GetLastStreamID(keys[i])
			ids[i] = last
			continue
		}
		id, err := storage.ParseStreamID(idArg)
		if err != nil {
			return errReply("ERR Invalid stream ID specified as stream command argument")
		}
		ids[i] = id
	}

	if reply, any := d.readStreams(keys, ids); any {
		return basic(reply)
	}
	if blockMs < 0 {
		return basic(protocol.EncodeNullArray())
	}
	return Response{Kind: RespStreamBlock, BlockMs: blockMs, Keys: keys, IDs: ids}
}

// readStreams gathers XREAD results for keys/ids, omitting any key with
// no qualifying entries. any reports whether at least one key had data.
func (d *Dispatcher) readStreams(keys []string, ids []storage.StreamID) (reply []byte, any bool) {
	items := make([][]byte, 0, len(keys))
	for i, k := range keys {
		entries := d.streams.XRead(k, ids[i])
		if len(entries) == 0 {
			continue
		}
		any = true
		items = append(items, protocol.EncodeRawArray([][]byte{
			protocol.EncodeBulkString(k),
			protocol.EncodeRawArray(encodeStreamEntries(entries)),
		}))
	}
	return protocol.EncodeRawArray(items), any
}

// ResolveStreamBlock is called by the connection loop to carry out a
// blocking XREAD (spec §5's "implementers may poll the stream store at
// a short interval"). It polls every 20ms until data arrives or BlockMs
// elapses (0 means block indefinitely).
func (d *Dispatcher) ResolveStreamBlock(r Response) []byte {
	if reply, any := d.readStreams(r.Keys, r.IDs); any {
		return reply
	}

	var deadline <-chan time.Time
	if r.BlockMs > 0 {
		timer := time.NewTimer(time.Duration(r.BlockMs) * time.Millisecond)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return protocol.EncodeNullArray()
		case <-ticker.C:
			if reply, any := d.readStreams(r.Keys, r.IDs); any {
				return reply
			}
		}
	}
}
