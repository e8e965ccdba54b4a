package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamID is the (milliseconds, sequence) pair identifying one stream
// entry. Total order is lexicographic on the pair; "0-0" is the sentinel
// "before first" value and is never a valid insert.
type StreamID struct {
	Millis uint64
	Seq    uint64
}

var ZeroStreamID = StreamID{0, 0}

func (id StreamID) String() string {
	return fmt.Sprintf("%d-%d", id.Millis, id.Seq)
}

// Less reports whether id sorts strictly before other.
func (id StreamID) Less(other StreamID) bool {
	if id.Millis != other.Millis {
		return id.Millis < other.Millis
	}
	return id.Seq < other.Seq
}

func (id StreamID) Equal(other StreamID) bool {
	return id.Millis == other.Millis && id.Seq == other.Seq
}

func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Less(other):
		return -1
	case other.Less(id):
		return 1
	default:
		return 0
	}
}

// Next returns the immediate successor within the same millisecond.
func (id StreamID) Next() StreamID {
	return StreamID{Millis: id.Millis, Seq: id.Seq + 1}
}

// ParseStreamID parses "<millis>-<seq>", or a bare "<millis>" as seq 0,
// with no wildcard handling — used once a caller has already resolved
// any `*`/`-`/`+`.
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("invalid stream id %q", s)
	}
	if len(parts) == 1 {
		return StreamID{Millis: ms}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("invalid stream id %q", s)
	}
	return StreamID{Millis: ms, Seq: seq}, nil
}

// StreamIDKind classifies a raw XADD/XRANGE id argument the way
// original_source/src/store/engine.rs's StreamIDState does.
type StreamIDKind int

const (
	KindErr StreamIDKind = iota
	KindOk
	KindMillisecondOnly
	KindGenerateSequence
	KindGenerateMillisecond
	KindFirstStreamID
	KindLastStreamID
)

// StreamIDSpec is the classified result of validating a textual stream
// id argument.
type StreamIDSpec struct {
	Kind   StreamIDKind
	Millis uint64 // populated for MillisecondOnly / GenerateSequence
	ID     StreamID // populated for Ok
}

// ValidateStreamID classifies s per spec §4.3.
func ValidateStreamID(s string) StreamIDSpec {
	switch s {
	case "-":
		return StreamIDSpec{Kind: KindFirstStreamID, ID: ZeroStreamID}
	case "+":
		return StreamIDSpec{Kind: KindLastStreamID}
	}

	parts := strings.SplitN(s, "-", 2)
	if len(parts) == 1 {
		if s == "*" {
			return StreamIDSpec{Kind: KindGenerateMillisecond}
		}
		ms, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return StreamIDSpec{Kind: KindErr}
		}
		return StreamIDSpec{Kind: KindMillisecondOnly, Millis: ms}
	}

	msPart, seqPart := parts[0], parts[1]
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		if msPart == "*" {
			return StreamIDSpec{Kind: KindGenerateMillisecond}
		}
		return StreamIDSpec{Kind: KindErr}
	}

	if seqPart == "*" {
		return StreamIDSpec{Kind: KindGenerateSequence, Millis: ms}
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamIDSpec{Kind: KindErr}
	}
	return StreamIDSpec{Kind: KindOk, ID: StreamID{Millis: ms, Seq: seq}}
}
