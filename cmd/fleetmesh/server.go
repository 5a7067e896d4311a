package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetmesh/fleetmesh/config"
	"github.com/fleetmesh/fleetmesh/distributor"
	"github.com/fleetmesh/fleetmesh/gossip"
	"github.com/fleetmesh/fleetmesh/internal/metrics"
	"github.com/fleetmesh/fleetmesh/internal/server"
)

// Options selects which subsystems a node runs.
type Options struct {
	EnableGossip      bool
	EnableDistributor bool
}

// Server assembles one fleetmesh node: the gossip coordinator, the task
// distributor, and the admin HTTP surface, all sharing one metrics
// registry and logger.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	coord   *gossip.Coordinator
	dist    *distributor.Distributor
	manager *server.Manager
}

// NewServer builds a node from cfg without starting anything.
func NewServer(cfg *config.Config, logger *zap.Logger, opts Options) (*Server, error) {
	if !opts.EnableGossip && !opts.EnableDistributor {
		return nil, fmt.Errorf("at least one of gossip and distributor must be enabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("fleetmesh", registry, logger)

	s := &Server{cfg: cfg, logger: logger, opts: opts}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if opts.EnableGossip {
		coord, err := gossip.NewCoordinator(cfg.Gossip, collector, logger)
		if err != nil {
			return nil, fmt.Errorf("gossip coordinator: %w", err)
		}
		s.coord = coord
	}

	if opts.EnableDistributor {
		dist, err := distributor.New(cfg.Distributor, collector, logger)
		if err != nil {
			return nil, fmt.Errorf("distributor: %w", err)
		}
		for _, node := range cfg.Nodes {
			if err := dist.AddNode(node); err != nil {
				return nil, fmt.Errorf("register node %s: %w", node.Name, err)
			}
		}
		s.dist = dist
	}

	mux := http.NewServeMux()
	registerHandlers(mux, s)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := Chain(mux,
		Recovery(logger),
		RequestID(),
		RequestLogger(logger),
		RateLimiter(s.ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger),
	)

	s.manager = server.NewManager(handler, server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return s, nil
}

// Start brings up the enabled subsystems and the admin server. On gossip
// nodes with configured seeds the cluster join runs after the listener is
// up so seed nodes can reach back immediately.
func (s *Server) Start() error {
	if s.coord != nil {
		if err := s.coord.Start(); err != nil {
			return fmt.Errorf("start gossip: %w", err)
		}
		if len(s.cfg.Gossip.Seeds) > 0 {
			if err := s.coord.Bootstrap(s.ctx); err != nil {
				s.logger.Warn("cluster bootstrap failed, continuing standalone", zap.Error(err))
			}
		}
	}

	if s.dist != nil {
		if err := s.dist.Start(s.ctx); err != nil {
			if s.coord != nil {
				s.coord.Stop()
			}
			return fmt.Errorf("start distributor: %w", err)
		}
	}

	if err := s.manager.Start(); err != nil {
		s.stopSubsystems()
		return err
	}
	return nil
}

// WaitForShutdown blocks until a signal or server error, then stops
// everything in reverse start order.
func (s *Server) WaitForShutdown() {
	s.manager.WaitForShutdown()
	s.stopSubsystems()
	s.cancel()
}

func (s *Server) stopSubsystems() {
	if s.dist != nil {
		s.dist.Stop()
	}
	if s.coord != nil {
		s.coord.Stop()
	}
}
