// Package server wires the relay components together and runs them until
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/friendrelay/admin"
	"github.com/opd-ai/friendrelay/config"
	"github.com/opd-ai/friendrelay/friend"
	"github.com/opd-ai/friendrelay/presence"
	"github.com/opd-ai/friendrelay/relay"
	"github.com/opd-ai/friendrelay/store"
	"github.com/opd-ai/friendrelay/transport"
)

// Server owns the relay, its keep-alive monitor, the accept loop and the
// optional admin endpoint.
type Server struct {
	cfg     *config.Config
	store   store.Store
	auth    transport.Authenticator
	relay   *relay.Relay
	monitor *relay.Monitor
	admin   *admin.Server

	wg sync.WaitGroup
}

// New loads the stored graph from st and prepares a server. Connections
// are authenticated with auth.
func New(ctx context.Context, cfg *config.Config, st store.Store, auth transport.Authenticator) (*Server, error) {
	snap, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	graph, err := friend.NewGraphFromSnapshot(snap)
	if err != nil {
		return nil, err
	}

	r := relay.New(graph, presence.NewRegistry(cfg.KeepAlive.Threshold), cfg.RelayOptions())

	s := &Server{
		cfg:     cfg,
		store:   st,
		auth:    auth,
		relay:   r,
		monitor: relay.NewMonitor(r, cfg.KeepAlive.Interval),
	}
	if cfg.Admin.Listen != "" {
		s.admin = admin.NewServer(cfg.Admin.Listen, r)
	}
	return s, nil
}

// Relay returns the relay served by s.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts clients on l until ctx is cancelled, then saves the graph,
// closes l, ends every session and stops the admin endpoint. The returned
// error is non-nil if the final save failed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"addr":     l.Addr().String(),
		"mode":     s.cfg.Transport.Mode,
	}).Info("Relay listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(ctx)
	}()

	if s.admin != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.admin.ListenAndServe(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Serve",
					"error":    err.Error(),
				}).Error("Admin endpoint failed")
			}
		}()
	}

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		s.acceptConnections(ctx, l)
	}()

	<-ctx.Done()
	return s.shutdown(l, accepted)
}

func (s *Server) acceptConnections(ctx context.Context, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	log := logrus.WithFields(logrus.Fields{
		"function": "handleConnection",
		"remote":   conn.RemoteAddr().String(),
	})

	username, secured, err := s.auth.Authenticate(ctx, conn)
	if err != nil {
		log.WithField("error", err.Error()).Warn("Authentication failed")
		conn.Close()
		return
	}

	log = log.WithField("username", username)
	log.Debug("Client authenticated")

	if err := s.relay.Serve(ctx, username, secured); err != nil {
		log.WithField("error", err.Error()).Warn("Session ended with error")
	}
}

func (s *Server) shutdown(l net.Listener, accepted <-chan struct{}) error {
	log := logrus.WithField("function", "shutdown")
	log.Info("Shutting down")

	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	saveErr := store.SaveWithRetry(saveCtx, s.store, s.relay.Graph().Snapshot(), store.DefaultSaveAttempts, store.DefaultRetryBackoff)
	if saveErr != nil {
		log.WithField("error", saveErr.Error()).Error("Failed to save friend graph, changes since the last save are lost")
	}

	if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithField("error", err.Error()).Debug("Closing listener")
	}
	<-accepted

	s.relay.Close()

	if s.admin != nil {
		adminCtx, cancelAdmin := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelAdmin()
		if err := s.admin.Shutdown(adminCtx); err != nil {
			log.WithField("error", err.Error()).Warn("Admin endpoint shutdown")
		}
	}

	s.wg.Wait()
	log.Info("Shutdown complete")
	return saveErr
}
