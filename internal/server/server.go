// Package server wires every scheduling-core collaborator into one
// explicit value — no package-level globals. cmd/slamd constructs
// exactly one Server per process.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/slamd-project/slamd/internal/access"
	"github.com/slamd-project/slamd/internal/clientmanager"
	"github.com/slamd-project/slamd/internal/common"
	"github.com/slamd-project/slamd/internal/events"
	"github.com/slamd-project/slamd/internal/idalloc"
	"github.com/slamd-project/slamd/internal/jobclass"
	"github.com/slamd-project/slamd/internal/optimizer"
	"github.com/slamd-project/slamd/internal/registry"
	"github.com/slamd-project/slamd/internal/scheduler"
	"github.com/slamd-project/slamd/internal/storage/badger"
	"github.com/slamd-project/slamd/internal/transport/ws"
	"github.com/slamd-project/slamd/internal/watchdog"
)

// Server owns every collaborator internal/access sits in front of,
// plus the HTTP listener that upgrades worker connections.
type Server struct {
	config *common.Config
	logger arbor.ILogger

	storage   *badger.Manager
	ids       *idalloc.Allocator
	registry  *registry.Registry
	bus       *events.Bus
	scheduler *scheduler.Scheduler
	watchdog  *watchdog.Watchdog
	hub       *ws.Hub
	clientMgr *clientmanager.Controller

	JobClasses *jobclass.Registry
	Algorithms *optimizer.Registry
	Access     *access.AccessPoints

	httpServer *http.Server
}

// New wires every collaborator in the dependency order the scheduling
// core requires. The Hub is constructed unbound (internal/transport/ws
// needs the AccessPoints and Scheduler as its own collaborators, and
// those in turn need the Hub as their JobDispatcher/Dispatcher); Bind
// closes that cycle once every value exists, before Start opens the
// HTTP listener.
func New(config *common.Config, logger arbor.ILogger) (*Server, error) {
	storageMgr, err := badger.NewManager(logger, &config.Badger)
	if err != nil {
		return nil, err
	}

	ids := idalloc.New(storageMgr.Counters(), logger)
	reg := registry.New(logger)
	bus := events.NewBus(logger)

	hub := ws.NewHub(logger)

	sched := scheduler.New(scheduler.Config{
		TickInterval:  config.Scheduler.TickInterval(),
		MaxClientWait: config.Scheduler.MaxClientWait(),
	}, storageMgr.ConfigStore(), reg, hub, bus, logger)

	clientMgr := clientmanager.New(reg, hub, logger, rate.Limit(config.ClientManager.RPS), config.ClientManager.Burst)

	jobClasses := jobclass.NewRegistry()
	jobClasses.Register(jobclass.HTTPLoadClass{})

	algorithms := optimizer.NewRegistry()
	algorithms.Register(optimizer.ThroughputAlgorithm{})

	accessPoints := access.New(sched, storageMgr.ConfigStore(), ids, reg, clientMgr, jobClasses, algorithms, sched, logger)

	hub.Bind(accessPoints, sched)

	wd := watchdog.New(watchdog.Config{
		Interval:   config.Watchdog.Interval(),
		StuckGrace: config.Watchdog.StuckGrace(),
	}, sched, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/load", hub.HandleLoadConnect)
	mux.HandleFunc("/ws/resource-monitor", hub.HandleResourceMonitorConnect)
	mux.HandleFunc("/ws/client-manager", hub.HandleClientManagerConnect)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler: mux,
	}

	return &Server{
		config:     config,
		logger:     logger,
		storage:    storageMgr,
		ids:        ids,
		registry:   reg,
		bus:        bus,
		scheduler:  sched,
		watchdog:   wd,
		hub:        hub,
		clientMgr:  clientMgr,
		JobClasses: jobClasses,
		Algorithms: algorithms,
		Access:     accessPoints,
		httpServer: httpServer,
	}, nil
}

// Start opens the HTTP/websocket listener and the watchdog's sweep
// loop, then blocks serving connections until Shutdown closes the
// listener. Callers run it in a goroutine and wait on their own
// interrupt/shutdown signal, the way cmd/slamd does.
func (s *Server) Start() error {
	if err := s.watchdog.Start(); err != nil {
		return err
	}

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight Jobs for up to config.Shutdown.Grace,
// stops the watchdog, closes every live OptimizingJobController, and
// finally closes the BadgerDB handle.
func (s *Server) Shutdown(ctx context.Context) error {
	s.watchdog.Stop()

	s.scheduler.Shutdown(s.config.Shutdown.Grace())

	s.Access.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	return s.storage.Close()
}
