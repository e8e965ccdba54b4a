// Package dispatcher routes one decoded command frame to its handler and
// classifies the reply into the typed response variants the connection
// loop needs to sequence replication side effects (spec §4.4).
package dispatcher

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"redigo-stream/internal/protocol"
	"redigo-stream/internal/replication"
	"redigo-stream/internal/storage"
)

// ResponseKind tags which side effects the connection loop must apply
// after writing Bytes (spec §4.4's handler response variants).
type ResponseKind int

const (
	RespBasic ResponseKind = iota
	RespSet
	RespReplica
	RespPsync
	RespGetAck
	RespWait
	RespStreamBlock
)

// Response is the dispatcher's sole output shape. Only the fields
// relevant to Kind are populated.
type Response struct {
	Kind  ResponseKind
	Bytes []byte

	Offset int64    // Set, Replica
	Cmd    []string // Replica: the command to fan out

	Host string // Psync: registry key for this connection

	Count  int // Wait
	TimeMs int // Wait

	BlockMs int64              // StreamBlock: 0 means block indefinitely
	Keys    []string           // StreamBlock
	IDs     []storage.StreamID // StreamBlock: exclusive lower bound per key
}

// Dispatcher holds everything a command needs to execute: the two
// stores, this node's replication role and state, and the config
// surface CONFIG GET reads from.
type Dispatcher struct {
	store   *storage.Store
	streams *storage.StreamStore

	role   replication.Role
	master *replication.Master // non-nil only when role == RoleMaster

	replicaOfHost string
	selfPort      int
	dir           string
	dbFilename    string

	log *logrus.Entry
}

type Deps struct {
	Store         *storage.Store
	Streams       *storage.StreamStore
	Role          replication.Role
	Master        *replication.Master
	ReplicaOfHost string
	SelfPort      int
	Dir           string
	DBFilename    string
	Log           *logrus.Entry
}

func New(d Deps) *Dispatcher {
	return &Dispatcher{
		store:         d.Store,
		streams:       d.Streams,
		role:          d.Role,
		master:        d.Master,
		replicaOfHost: d.ReplicaOfHost,
		selfPort:      d.SelfPort,
		dir:           d.Dir,
		dbFilename:    d.DBFilename,
		log:           d.Log,
	}
}

// Dispatch executes cmd against this node's state and returns the typed
// response the connection loop must act on. remoteAddr identifies the
// calling connection in the master's replica registry.
func (d *Dispatcher) Dispatch(cmd *protocol.Command, remoteAddr string) Response {
	if len(cmd.Args) == 0 {
		return basic(emptyArray())
	}
	name := strings.ToUpper(cmd.Args[0])
	args := cmd.Args

	switch name {
	case "PING":
		return basic(protocol.EncodeSimpleString("PONG"))
	case "ECHO":
		return d.cmdEcho(args)
	case "GET":
		return d.cmdGet(args)
	case "SET":
		return d.cmdSet(args)
	case "KEYS":
		return d.cmdKeys(args)
	case "TYPE":
		return d.cmdType(args)
	case "CONFIG":
		return d.cmdConfig(args)
	case "INFO":
		return d.cmdInfo(args)
	case "REPLCONF":
		return d.cmdReplconf(args, remoteAddr)
	case "PSYNC":
		return d.cmdPsync(args, remoteAddr)
	case "WAIT":
		return d.cmdWait(args)
	case "XADD":
		return d.cmdXAdd(args)
	case "XRANGE":
		return d.cmdXRange(args)
	case "XREAD":
		return d.cmdXRead(args)
	default:
		return basic(emptyArray())
	}
}

func basic(b []byte) Response { return Response{Kind: RespBasic, Bytes: b} }

func errReply(msg string) Response { return basic(protocol.EncodeError(msg)) }

// emptyArray is the *0\r\n reply for unknown commands (spec §4.4).
func emptyArray() []byte { return protocol.EncodeRawArray(nil) }

func nowMs() int64 { return time.Now().UnixMilli() }
