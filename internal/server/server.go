// Package server runs the synchronization engine: it owns the client
// sessions, steps the environment and keeps every client's view of blocks,
// objects, sounds and particles current.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voxelsync.ai/internal/config"
	"voxelsync.ai/internal/logging"
	"voxelsync.ai/internal/metrics"
	"voxelsync.ai/internal/protocol"
	"voxelsync.ai/internal/sim/aosync"
	"voxelsync.ai/internal/sim/blocksend"
	"voxelsync.ai/internal/sim/catalogs"
	"voxelsync.ai/internal/sim/env"
	"voxelsync.ai/internal/sim/geom"
	"voxelsync.ai/internal/sim/mapedit"
	"voxelsync.ai/internal/sim/session"
	"voxelsync.ai/internal/sim/shutdown"
	"voxelsync.ai/internal/sim/sound"
	"voxelsync.ai/internal/transport"
)

const (
	receiveWait = 30 * time.Millisecond
	maxStepTime = 2.0
)

// SpawnPos is where new players appear, in world units.
var SpawnPos = geom.V3f{Y: geom.BS}

type Options struct {
	Game            config.GameConfig
	BannedAddresses []string

	Transport transport.Transport
	Env       *env.Environment
	Catalogs  *catalogs.Catalogs
	// Journal, when set, records every dispatched map edit.
	Journal mapedit.Journal

	Log     *logging.Logger
	Metrics metrics.Metrics
}

type Server struct {
	cfg    config.GameConfig
	banned map[string]struct{}

	transport transport.Transport
	env       *env.Environment
	catalogs  *catalogs.Catalogs
	log       *logging.Logger
	metrics   metrics.Metrics

	clients   *session.Table
	blocks    *blocksend.Scheduler
	objects   *aosync.Synchronizer
	bus       *mapedit.Bus
	mapEdits  *mapedit.Dispatcher
	sounds    *sound.Registry
	particles *sound.Particles
	shutdown  *shutdown.Machine

	// envMu serializes everything that touches the environment or the
	// per-client sync state.
	envMu          sync.Mutex
	timeOfDayTimer float64

	peerMu      sync.Mutex
	peerChanges []peerChange

	stepMu    sync.Mutex
	stepDtime float64
	startedAt time.Time

	fatalMu    sync.Mutex
	asyncFatal error

	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Server {
	log := opts.Log
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	s := &Server{
		cfg:       opts.Game,
		banned:    map[string]struct{}{},
		transport: opts.Transport,
		env:       opts.Env,
		catalogs:  opts.Catalogs,
		log:       log,
		metrics:   m,
		clients:   session.NewTable(),
		bus:       mapedit.NewBus(),
		startedAt: time.Now(),
	}
	for _, a := range opts.BannedAddresses {
		s.banned[a] = struct{}{}
	}

	s.blocks = blocksend.New(blocksend.Config{
		MaxUsers:                           s.cfg.MaxUsers,
		MaxSimultaneousBlockSendsPerClient: s.cfg.MaxSimultaneousBlockSendsPerClient,
	}, s.clients, blocksend.NewShellSource(s.cfg.MaxBlockSendDistance), s.env.Map, s, log, m)
	s.objects = aosync.New(aosync.Config{
		ActiveObjectSendRangeBlocks:     s.cfg.ActiveObjectSendRangeBlocks,
		PlayerTransferDistance:          s.cfg.PlayerTransferDistance,
		UnlimitedPlayerTransferDistance: s.cfg.UnlimitedPlayerTransferDistance,
	}, s.env.Objects, s, log, m)
	s.mapEdits = mapedit.NewDispatcher(s.clients, s, s.env.Map, log, m)
	if opts.Journal != nil {
		s.mapEdits.SetJournal(opts.Journal)
	}
	s.sounds = sound.NewRegistry(s.clients, s.env, s, log, m)
	s.particles = sound.NewParticles(s.clients, s.env, s, s.cfg.MaxBlockSendDistance, log, m)
	s.shutdown = shutdown.New(s, log)

	s.env.Map.SetListener(func(e mapedit.Event) { s.bus.Push(e) })
	s.transport.SetHandler(s)
	return s
}

// Start launches the server thread. Stop ends it.
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *Server) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Server) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.SetAsyncFatalError(fmt.Errorf("server thread: %v", r))
		}
	}()

	s.AsyncRunStep(true)
	for ctx.Err() == nil {
		s.AsyncRunStep(false)
		s.Receive(ctx)
		if s.fatalError() != nil {
			return
		}
	}
}

// AsyncRunStep does one pass of the server thread over the time
// accumulated by Step. Blocks are sent on every call; everything else
// waits until at least a millisecond has passed.
func (s *Server) AsyncRunStep(initial bool) {
	s.stepMu.Lock()
	dtime := s.stepDtime
	s.stepMu.Unlock()

	start := time.Now()
	s.envMu.Lock()
	defer s.envMu.Unlock()

	s.blocks.SendBlocks(s.clients.CountAtLeast(session.Active))

	if dtime < 0.001 && !initial {
		return
	}
	s.stepMu.Lock()
	s.stepDtime -= dtime
	s.stepMu.Unlock()

	s.handlePeerChanges()

	s.timeOfDayTimer += dtime
	if s.timeOfDayTimer >= s.cfg.TimeSendInterval {
		s.timeOfDayTimer = 0
		s.sendTimeOfDay()
	}

	s.env.Step(dtime)
	s.particles.Step(float32(dtime))

	for _, c := range s.clients.Snapshot(session.DefinitionsSent) {
		s.objects.RemoveAdd(c)
	}
	if msgs := s.env.Objects.DrainMessages(); len(msgs) > 0 {
		s.objects.FanOut(msgs, s.clients.Snapshot(session.DefinitionsSent))
	}

	s.mapEdits.Dispatch(s.bus.Drain())
	s.shutdown.Tick(dtime)

	for state, n := range s.clients.StateCounts() {
		s.metrics.SetClients(state, n)
	}
	s.metrics.SetPlayingSounds(s.sounds.Len())
	s.metrics.SetParticleSpawners(s.particles.Len())
	s.metrics.ObserveStep(time.Since(start))
}

// Receive waits briefly for one packet, then handles whatever else is
// already queued, up to max_packets_per_iteration.
func (s *Server) Receive(ctx context.Context) {
	d, err := s.transport.Receive(ctx, receiveWait)
	for n := 0; ; n++ {
		if err != nil {
			if errors.Is(err, transport.ErrNoIncomingData) || ctx.Err() != nil {
				return
			}
			s.SetAsyncFatalError(fmt.Errorf("receive: %w", err))
			return
		}
		s.envMu.Lock()
		s.handlePeerChanges()
		s.processData(d)
		s.envMu.Unlock()

		if n+1 >= s.cfg.MaxPacketsPerIteration {
			return
		}
		d, err = s.transport.TryReceive()
	}
}

// Step is called from the main loop with the real elapsed time. It
// returns the server thread's fatal error after kicking every client.
func (s *Server) Step(dtime float64) error {
	if dtime > maxStepTime {
		dtime = maxStepTime
	}
	s.stepMu.Lock()
	s.stepDtime += dtime
	s.stepMu.Unlock()

	if err := s.fatalError(); err != nil {
		s.envMu.Lock()
		s.kickAll(protocol.DenyCrash, s.cfg.KickMsgCrash, s.cfg.AskReconnectOnCrash)
		s.envMu.Unlock()
		return err
	}
	return nil
}

// SetAsyncFatalError records err unless an earlier error is pending.
func (s *Server) SetAsyncFatalError(err error) {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	if s.asyncFatal == nil {
		s.asyncFatal = err
		s.log.Errorf("server: fatal: %v", err)
	}
}

func (s *Server) fatalError() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.asyncFatal
}

// RunDedicated steps the server every dedicated_server_step until the
// context ends, a shutdown is requested or the server thread fails.
func (s *Server) RunDedicated(ctx context.Context) error {
	step := time.Duration(s.cfg.DedicatedServerStep * float64(time.Second))
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	s.Start(ctx)
	s.log.Actionf("server: started, max %d users", s.cfg.MaxUsers)

	last := time.Now()
	lastSave := last
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			dtime := now.Sub(last).Seconds()
			last = now
			if err := s.Step(dtime); err != nil {
				runErr = err
				break loop
			}
			if s.shutdown.Requested() {
				break loop
			}
			if s.cfg.SaveInterval > 0 && now.Sub(lastSave) >= s.cfg.SaveInterval {
				lastSave = now
				s.SaveMap()
			}
		}
	}

	s.teardown(runErr != nil)
	return runErr
}

func (s *Server) teardown(crashed bool) {
	if !crashed {
		msg, reconnect := s.shutdown.Message()
		if msg == "" {
			msg = s.cfg.KickMsgShutdown
		}
		s.envMu.Lock()
		s.kickAll(protocol.DenyShutdown, msg, reconnect)
		s.envMu.Unlock()
	}
	s.Stop()

	s.envMu.Lock()
	s.handlePeerChanges()
	s.envMu.Unlock()
	s.SaveMap()
	s.log.Actionf("server: stopped")
}

// SaveMap writes modified blocks back to the map store.
func (s *Server) SaveMap() {
	s.envMu.Lock()
	n, err := s.env.Map.Save()
	s.envMu.Unlock()
	if err != nil {
		s.log.Errorf("server: map save: %v", err)
		return
	}
	if n > 0 {
		s.log.Infof("server: saved %d blocks", n)
	}
}
