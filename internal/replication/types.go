// Package replication implements the master and replica sides of the
// replication subsystem: the replica's four-stage handshake and inbound
// command applier, the master's replica registry and offset bookkeeping,
// and the replicator actor that serializes fan-out, the GETACK sweep,
// and WAIT against that registry (spec §4.5, §4.6).
package replication

import (
	"crypto/rand"
	"fmt"
)

// Role is this server's position in the replication topology.
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// HandshakeState is the ordered stage a replica connection has reached.
// It only ever advances (spec §3).
type HandshakeState int

const (
	HandshakeNone HandshakeState = iota
	HandshakePing
	HandshakeReplconf
	HandshakeReplconfCapa
	HandshakePsync
)

func (s HandshakeState) String() string {
	switch s {
	case HandshakePing:
		return "ping"
	case HandshakeReplconf:
		return "replconf"
	case HandshakeReplconfCapa:
		return "replconf-capa"
	case HandshakePsync:
		return "psync"
	default:
		return "none"
	}
}

// Advance moves s forward to next, never backward — spec §8 requires
// idempotent re-entry into the same or a later state even if REPLCONF
// steps arrive out of order or repeated.
func (s HandshakeState) Advance(next HandshakeState) HandshakeState {
	if next > s {
		return next
	}
	return s
}

// Fixed serialized lengths of the two health-traffic commands a master
// sends a replica outside of fan-out. Both sides must agree on these
// constants since the master subtracts them from a replica's reported
// offset to recover the "effective" fan-out-only offset (spec §4.5,
// §9 DESIGN NOTES — documented here as part of the wire contract).
const (
	PingLen         = 14 // len(EncodeCommand([]string{"PING"}))
	ReplGetAckLen   = 37 // len(EncodeCommand([]string{"REPLCONF","GETACK","*"}))
	replIDByteCount = 20 // 20 bytes = 40 hex characters
)

// GenerateReplID returns a random 40-hex-character replication ID,
// stable for the life of the process (spec §3).
func GenerateReplID() string {
	b := make([]byte, replIDByteCount)
	if _, err := rand.Read(b); err != nil {
		panic("replication: crypto/rand unavailable: " + err.Error())
	}
	return fmt.Sprintf("%x", b)
}
