package replication

import (
	"net"
	"sync"
)

// WriteHandle is one replica connection's write half, independently
// locked so a fan-out write to one replica never blocks behind another
// (spec §5). It is never held across more than one write.
type WriteHandle struct {
	mu   sync.Mutex
	conn net.Conn
}

func NewWriteHandle(conn net.Conn) *WriteHandle {
	return &WriteHandle{conn: conn}
}

func (w *WriteHandle) Write(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.conn.Write(b)
	return err
}

// ReplicaRecord is the master's bookkeeping for one attached replica
// (spec §3's Master State.replicas entry).
type ReplicaRecord struct {
	ID         string // google/uuid identity (DESIGN.md), independent of the observed address
	RemoteAddr string // peer address observed from the accept socket
	Host       string
	Port       int // advertised via REPLCONF listening-port

	HandshakeState  HandshakeState
	SlaveReplOffset int64
	PingCount       int64
	AckCount        int64
	WriteHandle     *WriteHandle
}

// Master holds a master's offset bookkeeping and replica registry
// (spec §3, §4.5).
type Master struct {
	replID string

	mu             sync.RWMutex
	masterOffset   int64
	lastSetOffset  int64
	lastSentOffset int64

	replicasMu sync.RWMutex
	replicas   map[string]*ReplicaRecord // keyed by RemoteAddr
}

func NewMaster() *Master {
	return &Master{
		replID:   GenerateReplID(),
		replicas: make(map[string]*ReplicaRecord),
	}
}

func (m *Master) ReplID() string { return m.replID }

func (m *Master) MasterOffset() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.masterOffset
}

func (m *Master) LastSetOffset() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSetOffset
}

func (m *Master) LastSentOffset() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSentOffset
}

func (m *Master) SetLastSentOffset(v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSentOffset = v
}

// AddMasterOffset accumulates the serialized length of one accepted
// write command and snapshots it as the new "caught up" target for
// WAIT (spec §4.5).
func (m *Master) AddMasterOffset(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterOffset += n
	m.lastSetOffset = m.masterOffset
}

// GetOrCreateReplica returns the replica record for remoteAddr,
// creating one in HandshakeNone if this is the first contact
// (REPLCONF listening-port, spec §3's replica lifecycle).
func (m *Master) GetOrCreateReplica(remoteAddr, host string, id string) *ReplicaRecord {
	m.replicasMu.Lock()
	defer m.replicasMu.Unlock()
	r, ok := m.replicas[remoteAddr]
	if !ok {
		r = &ReplicaRecord{ID: id, RemoteAddr: remoteAddr, Host: host}
		m.replicas[remoteAddr] = r
	}
	return r
}

func (m *Master) Replica(remoteAddr string) (*ReplicaRecord, bool) {
	m.replicasMu.RLock()
	defer m.replicasMu.RUnlock()
	r, ok := m.replicas[remoteAddr]
	return r, ok
}

// AdvanceHandshake moves remoteAddr's handshake state forward, never
// backward (spec §3, §8).
func (m *Master) AdvanceHandshake(remoteAddr string, next HandshakeState) {
	m.replicasMu.Lock()
	defer m.replicasMu.Unlock()
	if r, ok := m.replicas[remoteAddr]; ok {
		r.HandshakeState = r.HandshakeState.Advance(next)
	}
}

func (m *Master) SetListeningPort(remoteAddr string, port int) {
	m.replicasMu.Lock()
	defer m.replicasMu.Unlock()
	if r, ok := m.replicas[remoteAddr]; ok {
		r.Port = port
	}
}

func (m *Master) SetWriteHandle(remoteAddr string, wh *WriteHandle) {
	m.replicasMu.Lock()
	defer m.replicasMu.Unlock()
	if r, ok := m.replicas[remoteAddr]; ok {
		r.WriteHandle = wh
	}
}

// RemoveReplica drops remoteAddr from the registry — called when its
// connection closes (spec §4.5's "master treats an EOF on a replica
// connection as replica loss").
func (m *Master) RemoveReplica(remoteAddr string) {
	m.replicasMu.Lock()
	defer m.replicasMu.Unlock()
	delete(m.replicas, remoteAddr)
}

func (m *Master) UpdateAck(remoteAddr string, offset int64) {
	m.replicasMu.Lock()
	defer m.replicasMu.Unlock()
	if r, ok := m.replicas[remoteAddr]; ok {
		r.SlaveReplOffset = offset
	}
}

// ForEachPsyncReplica holds a read guard over the registry while fn
// runs against every replica that has completed the handshake,
// letting fan-out iterate without blocking concurrent registrations
// (spec §5).
func (m *Master) ForEachPsyncReplica(fn func(*ReplicaRecord)) {
	m.replicasMu.RLock()
	defer m.replicasMu.RUnlock()
	for _, r := range m.replicas {
		if r.HandshakeState == HandshakePsync {
			fn(r)
		}
	}
}

// PsyncReplicaCount returns the number of replicas that have completed
// the handshake.
func (m *Master) PsyncReplicaCount() int {
	count := 0
	m.ForEachPsyncReplica(func(*ReplicaRecord) { count++ })
	return count
}

// EffectiveOffset recovers the portion of r's reported offset
// attributable to replicated writes, subtracting the bytes the
// master's own PING/GETACK health traffic contributed (spec §4.5).
func EffectiveOffset(r *ReplicaRecord) int64 {
	return r.SlaveReplOffset - (r.AckCount-1)*PingLen - r.PingCount*ReplGetAckLen
}
