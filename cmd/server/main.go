package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"redigo-stream/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := server.DefaultConfig()
	var replicaOf string

	cmd := &cobra.Command{
		Use:           "redigo-stream",
		Short:         "Redis-compatible in-memory key/value and stream server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if replicaOf != "" {
				fields := strings.Fields(replicaOf)
				if len(fields) != 2 {
					return fmt.Errorf("--replicaof takes exactly two values: HOST PORT")
				}
				port, err := parsePort(fields[1])
				if err != nil {
					return fmt.Errorf("--replicaof port: %w", err)
				}
				cfg.ReplicaOf = &server.ReplicaOf{Host: fields[0], Port: port}
			}
			return run(cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	cmd.Flags().StringVar(&cfg.Dir, "dir", cfg.Dir, "directory holding the RDB snapshot")
	cmd.Flags().StringVar(&cfg.DBFilename, "dbfilename", cfg.DBFilename, "RDB snapshot filename")
	cmd.Flags().StringVar(&replicaOf, "replicaof", "", `"HOST PORT" of a master to replicate from`)

	return cmd
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	return port, err
}

func run(cfg *server.Config) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg, entry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("shutting down")
		cancel()
		srv.Close()
	}()

	entry.WithField("port", cfg.Port).Info("starting server")
	if err := srv.Run(ctx); err != nil {
		entry.WithError(err).Error("server stopped")
		return err
	}
	return nil
}
