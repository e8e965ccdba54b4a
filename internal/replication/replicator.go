package replication

import (
	"time"

	"github.com/sirupsen/logrus"

	"redigo-stream/internal/protocol"
)

// mailboxCapacity bounds the replicator actor's mailbox (spec §5).
const mailboxCapacity = 128

// Replicator is the single-consumer actor that serializes every
// side-effectful replication operation — fan-out of one accepted write,
// the GETACK sweep, and the WAIT poll — against the master's replica
// registry, so that writes to one replica's connection are never
// interleaved and per-replica ordering is preserved (spec §4.5, §9
// DESIGN NOTES). PingCount/AckCount on each ReplicaRecord are only ever
// mutated from inside this goroutine, so they need no lock of their own.
type Replicator struct {
	master  *Master
	mailbox chan func()
	log     *logrus.Entry
	stop    chan struct{}
}

func NewReplicator(master *Master, log *logrus.Entry) *Replicator {
	r := &Replicator{
		master:  master,
		mailbox: make(chan func(), mailboxCapacity),
		log:     log,
		stop:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Replicator) run() {
	for {
		select {
		case fn := <-r.mailbox:
			fn()
		case <-r.stop:
			return
		}
	}
}

func (r *Replicator) Close() { close(r.stop) }

func (r *Replicator) enqueue(fn func()) {
	select {
	case r.mailbox <- fn:
	default:
		r.log.Warn("replicator mailbox full, dropping message")
	}
}

// FanOut re-encodes args as a RESP command array and writes it to every
// Psync-state replica's write handle (spec §4.5's fan-out). A write
// failure is treated as replica loss and removes the record.
func (r *Replicator) FanOut(args []string) {
	encoded := protocol.EncodeCommand(args)
	r.enqueue(func() {
		var dead []string
		r.master.ForEachPsyncReplica(func(rec *ReplicaRecord) {
			if rec.WriteHandle == nil {
				return
			}
			if err := rec.WriteHandle.Write(encoded); err != nil {
				r.log.WithError(err).WithField("replica", rec.RemoteAddr).Warn("fan-out write failed, dropping replica")
				dead = append(dead, rec.RemoteAddr)
			}
		})
		for _, addr := range dead {
			r.master.RemoveReplica(addr)
		}
	})
}

// RunPingSweep starts the 1s master health ticker (spec §4.5, §5),
// stopping when the replicator is closed.
func (r *Replicator) RunPingSweep() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.enqueue(r.pingAll)
		case <-r.stop:
			return
		}
	}
}

func (r *Replicator) pingAll() {
	ping := protocol.EncodeCommand([]string{"PING"})
	var dead []string
	r.master.ForEachPsyncReplica(func(rec *ReplicaRecord) {
		if rec.WriteHandle == nil {
			return
		}
		if err := rec.WriteHandle.Write(ping); err != nil {
			dead = append(dead, rec.RemoteAddr)
			return
		}
		rec.PingCount++
	})
	for _, addr := range dead {
		r.master.RemoveReplica(addr)
	}
}

// getAckSweep sends REPLCONF GETACK * to every Psync replica, bumping
// each one's ack_count (spec §4.5). Must only be called from inside the
// actor goroutine (doWait/checkReplicaFollow), since it mutates AckCount
// directly.
func (r *Replicator) getAckSweep() {
	getAck := protocol.EncodeCommand([]string{"REPLCONF", "GETACK", "*"})
	var dead []string
	r.master.ForEachPsyncReplica(func(rec *ReplicaRecord) {
		if rec.WriteHandle == nil {
			return
		}
		if err := rec.WriteHandle.Write(getAck); err != nil {
			dead = append(dead, rec.RemoteAddr)
			return
		}
		rec.AckCount++
	})
	for _, addr := range dead {
		r.master.RemoveReplica(addr)
	}
	r.master.SetLastSentOffset(r.master.MasterOffset())
}

// checkReplicaFollow counts Psync replicas whose reconciled offset has
// caught up to last_set_offset, sending a fresh GETACK sweep first if
// the master has accepted writes since the last one (spec §4.5 step 2-3).
func (r *Replicator) checkReplicaFollow() int {
	masterOffset := r.master.MasterOffset()
	if masterOffset != r.master.LastSentOffset() {
		r.getAckSweep()
	}

	lastSet := r.master.LastSetOffset()
	count := 0
	r.master.ForEachPsyncReplica(func(rec *ReplicaRecord) {
		if EffectiveOffset(rec) >= lastSet {
			count++
		}
	})
	return count
}

// Wait runs the WAIT protocol (spec §4.5) and returns the replica count
// to reply with. It executes inside the actor goroutine so it serializes
// with fan-out and the ping sweep, per the single-consumer design.
func (r *Replicator) Wait(numReplicas int, timeoutMs int) int {
	result := make(chan int, 1)
	r.enqueue(func() { result <- r.doWait(numReplicas, timeoutMs) })
	return <-result
}

func (r *Replicator) doWait(numReplicas int, timeoutMs int) int {
	masterOffset := r.master.MasterOffset()
	if masterOffset == r.master.LastSentOffset() && masterOffset == r.master.LastSetOffset() {
		return r.master.PsyncReplicaCount()
	}

	r.getAckSweep()

	deadline := time.After(time.Duration(timeoutMs) * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	count := r.checkReplicaFollow()
	for count < numReplicas {
		select {
		case <-deadline:
			return count
		case <-ticker.C:
			count = r.checkReplicaFollow()
		}
	}
	return count
}
