package punkd

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/signal"

	"github.com/arkpunks/punkd/punkdb"
)

// ServerConfig bundles the fully constructed subsystems of the daemon.
type ServerConfig struct {
	// DB is the sqlite store backing the registry and marketplace.
	DB *punkdb.SqliteStore

	// RPCServer is the HTTP API.
	RPCServer *rpcServer
}

// Server is the main daemon construct for the punk server. It handles
// spinning up the HTTP server, the database, and any other components that
// the punk server needs to function.
type Server struct {
	started  int32
	shutdown int32

	cfg *ServerConfig

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServer creates a new server given the passed config.
func NewServer(cfg *ServerConfig) *Server {
	return &Server{
		cfg:  cfg,
		quit: make(chan struct{}, 1),
	}
}

// Start signals that the server should begin accepting requests.
func (s *Server) Start() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	srvrLog.Infof("Version: %s", Version())

	if err := s.cfg.RPCServer.Start(); err != nil {
		return err
	}

	srvrLog.Info("Punk daemon fully active")

	return nil
}

// Stop signals that the server should attempt a graceful shutdown and
// release all its resources.
func (s *Server) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}

	srvrLog.Info("Punk daemon shutting down")

	if err := s.cfg.RPCServer.Stop(); err != nil {
		srvrLog.Errorf("Error stopping HTTP server: %v", err)
	}

	if err := s.cfg.DB.Close(); err != nil {
		srvrLog.Errorf("Error closing database: %v", err)
	}

	close(s.quit)
	s.wg.Wait()

	return nil
}

// RunUntilShutdown runs the main punk server loop until a signal is received
// to shut down the process.
func (s *Server) RunUntilShutdown(interceptor signal.Interceptor) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("unable to start server: %w", err)
	}
	defer func() {
		if err := s.Stop(); err != nil {
			srvrLog.Errorf("Error stopping server: %v", err)
		}
	}()

	<-interceptor.ShutdownChannel()

	srvrLog.Info("Received shutdown signal")

	return nil
}
