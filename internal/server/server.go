// Package server wires the RESP listener, the two in-memory stores, the
// RDB bootstrap loader, and the replication subsystem into one running
// node (spec §2, §5, §6).
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"redigo-stream/internal/dispatcher"
	"redigo-stream/internal/rdb"
	"redigo-stream/internal/replication"
	"redigo-stream/internal/storage"
)

const reapPeriod = 3 * time.Millisecond

// Server is one running node, either a master or a replica of one.
type Server struct {
	cfg *Config
	log *logrus.Entry

	store   *storage.Store
	streams *storage.StreamStore

	role          replication.Role
	master        *replication.Master
	replicator    *replication.Replicator
	replicaClient *replication.ReplicaClient

	disp *dispatcher.Dispatcher

	listener net.Listener
}

func New(cfg *Config, log *logrus.Entry) *Server {
	store := storage.NewStore()
	streams := storage.NewStreamStore()

	s := &Server{
		cfg:     cfg,
		log:     log,
		store:   store,
		streams: streams,
	}

	if cfg.IsReplica() {
		s.role = replication.RoleSlave
		s.replicaClient = replication.NewReplicaClient(store, streams, log)
	} else {
		s.role = replication.RoleMaster
		s.master = replication.NewMaster()
		s.replicator = replication.NewReplicator(s.master, log)
	}

	s.disp = dispatcher.New(dispatcher.Deps{
		Store:      store,
		Streams:    streams,
		Role:       s.role,
		Master:     s.master,
		SelfPort:   cfg.Port,
		Dir:        cfg.Dir,
		DBFilename: cfg.DBFilename,
		Log:        log,
	})

	return s
}

// Run loads the RDB snapshot, binds the listener, and blocks running
// every background task until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.loadRDB(); err != nil {
		return fmt.Errorf("server: RDB load: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.log.WithField("addr", addr).Info("listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return s.listener.Close()
	})

	g.Go(func() error {
		s.acceptLoop(gctx)
		return nil
	})

	g.Go(func() error {
		s.store.RunReaper(reapPeriod, gctx.Done())
		return nil
	})

	if s.role == replication.RoleMaster {
		g.Go(func() error {
			s.replicator.RunPingSweep()
			return nil
		})
	} else {
		g.Go(func() error {
			if err := s.replicaClient.Run(gctx, s.cfg.ReplicaOf.Host, s.cfg.ReplicaOf.Port, s.cfg.Port); err != nil {
				s.log.WithError(err).Error("replication stopped")
			}
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) loadRDB() error {
	loader := rdb.NewLoader(s.cfg.Dir + "/" + s.cfg.DBFilename)
	cmds, err := loader.Load()
	if err != nil {
		return err
	}
	nowMs := time.Now().UnixMilli()
	for _, c := range cmds {
		if c.ExpireAtMs > 0 {
			ttl := c.ExpireAtMs - nowMs
			if ttl <= 0 {
				continue
			}
			s.store.SetWithExpire(c.Key, c.Value, nowMs, ttl)
		} else {
			s.store.Set(c.Key, c.Value)
		}
	}
	s.log.WithField("keys", len(cmds)).Info("RDB snapshot loaded")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.WithError(err).Warn("accept failed")
				return
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) Close() error {
	if s.replicator != nil {
		s.replicator.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
