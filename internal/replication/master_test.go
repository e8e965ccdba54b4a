package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterOffsetBookkeeping(t *testing.T) {
	m := NewMaster()
	assert.Equal(t, int64(0), m.MasterOffset())

	m.AddMasterOffset(31)
	assert.Equal(t, int64(31), m.MasterOffset())
	assert.Equal(t, int64(31), m.LastSetOffset())

	m.AddMasterOffset(31)
	assert.Equal(t, int64(62), m.MasterOffset())
	assert.Equal(t, int64(62), m.LastSetOffset())
}

func TestReplicaRegistryLifecycle(t *testing.T) {
	m := NewMaster()
	addr := "127.0.0.1:5555"

	r := m.GetOrCreateReplica(addr, "127.0.0.1", "id-1")
	assert.Equal(t, HandshakeNone, r.HandshakeState)

	m.AdvanceHandshake(addr, HandshakeReplconf)
	got, ok := m.Replica(addr)
	require.True(t, ok)
	assert.Equal(t, HandshakeReplconf, got.HandshakeState)

	// Advance never retreats (spec §3).
	m.AdvanceHandshake(addr, HandshakeNone)
	got, _ = m.Replica(addr)
	assert.Equal(t, HandshakeReplconf, got.HandshakeState)

	m.AdvanceHandshake(addr, HandshakePsync)
	assert.Equal(t, 1, m.PsyncReplicaCount())

	m.RemoveReplica(addr)
	_, ok = m.Replica(addr)
	assert.False(t, ok)
	assert.Equal(t, 0, m.PsyncReplicaCount())
}

func TestEffectiveOffsetSubtractsHealthTraffic(t *testing.T) {
	rec := &ReplicaRecord{
		SlaveReplOffset: 1000,
		PingCount:       2,
		AckCount:        3,
	}
	// effective = slave_repl_offset - (ack_count-1)*PING_LEN - ping_count*REPL_GETACK_LEN
	want := int64(1000) - (3-1)*PingLen - 2*ReplGetAckLen
	assert.Equal(t, want, EffectiveOffset(rec))
}

func TestHandshakeStateAdvanceNeverRetreats(t *testing.T) {
	s := HandshakeReplconfCapa
	assert.Equal(t, HandshakeReplconfCapa, s.Advance(HandshakeReplconf))
	assert.Equal(t, HandshakePsync, s.Advance(HandshakePsync))
}

func TestGenerateReplIDIsFortyHexChars(t *testing.T) {
	id := GenerateReplID()
	assert.Len(t, id, 40)
}
