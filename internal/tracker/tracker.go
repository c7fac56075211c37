// Package tracker implements the background polling loop that keeps the
// server registry and snapshot history current. Each tracked server is
// queried on its own goroutine with its own query session, and state
// transitions are published on the event bus.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sourcewatch-project/sourcewatch/internal/config"
	"github.com/sourcewatch-project/sourcewatch/internal/events"
	"github.com/sourcewatch-project/sourcewatch/internal/master"
	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
	"github.com/sourcewatch-project/sourcewatch/internal/query"
	"github.com/sourcewatch-project/sourcewatch/internal/store"
	"github.com/sourcewatch-project/sourcewatch/internal/util"
)

// serverHealth tracks consecutive failures for one address.
type serverHealth struct {
	state    events.ServerState
	failures int
}

// Tracker polls the configured servers and records their state.
type Tracker struct {
	cfg      *config.Config
	store    *store.Store
	eventBus *events.EventBus
	logger   zerolog.Logger

	mu     sync.Mutex
	health map[string]*serverHealth

	queryInfo func(addr string, timeout time.Duration) (*protocol.ServerInfo, int64, error)
}

// New creates a tracker over the given store and event bus.
func New(cfg *config.Config, st *store.Store, eventBus *events.EventBus) *Tracker {
	return &Tracker{
		cfg:       cfg,
		store:     st,
		eventBus:  eventBus,
		logger:    util.ComponentLogger("tracker"),
		health:    make(map[string]*serverHealth),
		queryInfo: queryInfoLive,
	}
}

// Start runs the polling, sweep, and retention loops until the context is
// cancelled.
func (t *Tracker) Start(ctx context.Context) {
	t.logger.Info().
		Int("servers", len(t.cfg.GetQuery().Servers)).
		Msg("tracker started")

	go t.runPollLoop(ctx)
	go t.runRetentionLoop(ctx)

	if t.cfg.GetMaster().Enabled {
		go t.runSweepLoop(ctx)
	}

	<-ctx.Done()
	t.logger.Info().Msg("tracker stopped")
}

func (t *Tracker) runPollLoop(ctx context.Context) {
	interval := time.Duration(t.cfg.GetTracker().PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First poll immediately rather than waiting a full interval.
	t.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollAll(ctx)
		}
	}
}

// pollAll queries every tracked server concurrently and waits for the
// round to finish.
func (t *Tracker) pollAll(ctx context.Context) {
	servers := t.cfg.GetQuery().Servers
	if len(servers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, addr := range servers {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.pollServer(ctx, addr)
		}()
	}
	wg.Wait()
}

// pollServer queries a single server, retrying up to the configured retry
// count before counting the round as a failure.
func (t *Tracker) pollServer(ctx context.Context, addr string) {
	qCfg := t.cfg.GetQuery()
	timeout := time.Duration(qCfg.TimeoutSec) * time.Second
	attempts := qCfg.RetryCount + 1

	var (
		info *protocol.ServerInfo
		ping int64
		err  error
	)
	for i := 0; i < attempts; i++ {
		info, ping, err = t.queryInfo(addr, timeout)
		if err == nil {
			t.recordSuccess(ctx, addr, info, ping)
			return
		}
		t.logger.Debug().Err(err).Str("server", addr).
			Int("attempt", i+1).Msg("info query failed")
	}
	t.recordFailure(ctx, addr)
}

// queryInfoLive dials the server and runs one info round-trip. Tests swap
// queryInfo out for a canned responder.
func queryInfoLive(addr string, timeout time.Duration) (*protocol.ServerInfo, int64, error) {
	transport, err := query.DialUDP(addr)
	if err != nil {
		return nil, 0, err
	}
	defer transport.Close()

	session := query.NewSession(transport, timeout)

	start := time.Now()
	info, err := session.Info()
	if err != nil {
		return nil, 0, err
	}
	return info, time.Since(start).Milliseconds(), nil
}

func (t *Tracker) recordSuccess(ctx context.Context, addr string, info *protocol.ServerInfo, ping int64) {
	now := time.Now()

	if err := t.store.UpsertServer(store.ServerRecord{
		Address:    addr,
		Name:       info.Name,
		Map:        info.Map,
		Game:       info.Game,
		MaxPlayers: int(info.MaxPlayers),
		State:      events.ServerStateOnline,
		Source:     store.SourceStatic,
	}); err != nil {
		t.logger.Error().Err(err).Str("server", addr).Msg("failed to update registry")
	}

	if err := t.store.SaveSnapshot(store.Snapshot{
		Address:     addr,
		PlayerCount: int(info.Players),
		MaxPlayers:  int(info.MaxPlayers),
		Map:         info.Map,
		PingMs:      ping,
		TakenAt:     now,
	}); err != nil {
		t.logger.Error().Err(err).Str("server", addr).Msg("failed to save snapshot")
	}

	t.eventBus.Emit(ctx, events.Event{
		Type:   events.EventServerStatus,
		Source: "tracker",
		Payload: events.ServerStatusPayload{
			Address:     addr,
			Info:        info,
			PingMs:      ping,
			PlayerCount: int(info.Players),
			PolledAt:    now,
		},
	})

	t.mu.Lock()
	h := t.healthFor(addr)
	wasOffline := h.state == events.ServerStateOffline
	h.state = events.ServerStateOnline
	h.failures = 0
	t.mu.Unlock()

	if wasOffline {
		t.transition(ctx, addr, events.ServerStateOnline, 0)
	}
}

func (t *Tracker) recordFailure(ctx context.Context, addr string) {
	threshold := t.cfg.GetTracker().OfflineThreshold

	t.mu.Lock()
	h := t.healthFor(addr)
	h.failures++
	crossed := h.state != events.ServerStateOffline && h.failures >= threshold
	if crossed {
		h.state = events.ServerStateOffline
	}
	failures := h.failures
	t.mu.Unlock()

	if !crossed {
		return
	}

	if err := t.store.SetServerState(addr, events.ServerStateOffline); err != nil {
		t.logger.Error().Err(err).Str("server", addr).Msg("failed to mark server offline")
	}
	t.transition(ctx, addr, events.ServerStateOffline, failures)
}

// healthFor returns the health entry for addr. Caller must hold t.mu.
func (t *Tracker) healthFor(addr string) *serverHealth {
	h, ok := t.health[addr]
	if !ok {
		h = &serverHealth{state: events.ServerStateUnknown}
		t.health[addr] = h
	}
	return h
}

func (t *Tracker) transition(ctx context.Context, addr string, state events.ServerState, failures int) {
	t.logger.Info().
		Str("server", addr).
		Str("state", state.String()).
		Int("failures", failures).
		Msg("server state changed")

	eventType := events.EventServerOnline
	if state == events.ServerStateOffline {
		eventType = events.EventServerOffline
	}

	t.eventBus.Emit(ctx, events.Event{
		Type:   eventType,
		Source: "tracker",
		Payload: events.ServerTransitionPayload{
			Address:  addr,
			State:    state,
			Failures: failures,
			At:       time.Now(),
		},
	})
}

// State returns the current tracked state for an address.
func (t *Tracker) State(addr string) events.ServerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.health[addr]; ok {
		return h.state
	}
	return events.ServerStateUnknown
}

// runSweepLoop periodically walks the master server list and folds newly
// discovered servers into the registry.
func (t *Tracker) runSweepLoop(ctx context.Context) {
	// Sweeps are expensive; run them an order of magnitude less often
	// than server polls.
	interval := 10 * time.Duration(t.cfg.GetTracker().PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *Tracker) sweep(ctx context.Context) {
	mCfg := t.cfg.GetMaster()
	timeout := time.Duration(t.cfg.GetQuery().TimeoutSec) * time.Second

	transport, err := query.DialUDP(mCfg.Address)
	if err != nil {
		t.logger.Warn().Err(err).Str("master", mCfg.Address).Msg("failed to dial master server")
		return
	}
	defer transport.Close()

	browser := master.NewBrowser(transport, timeout,
		master.WithRegion(mCfg.Region),
		master.WithFilter(mCfg.Filter),
		master.WithPageLimit(mCfg.PageLimit))

	start := time.Now()
	endpoints, err := browser.Servers(ctx)
	if err != nil {
		t.logger.Warn().Err(err).
			Str("master", mCfg.Address).
			Int("partial", len(endpoints)).
			Msg("master sweep incomplete")
	}
	if len(endpoints) == 0 {
		return
	}

	for _, ep := range endpoints {
		if err := t.store.RegisterDiscovered(ep.String(), store.SourceMaster); err != nil {
			t.logger.Error().Err(err).Str("server", ep.String()).Msg("failed to register discovered server")
		}
	}

	t.logger.Info().
		Int("servers", len(endpoints)).
		Dur("took", time.Since(start)).
		Msg("master sweep completed")

	t.eventBus.Emit(ctx, events.Event{
		Type:   events.EventMasterSweepDone,
		Source: "tracker",
		Payload: events.MasterSweepPayload{
			MasterAddr: mCfg.Address,
			Filter:     mCfg.Filter,
			Servers:    endpoints,
			Duration:   time.Since(start),
		},
	})
}

// runRetentionLoop prunes snapshots past the retention window once a day.
func (t *Tracker) runRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			days := t.cfg.GetTracker().RetentionDays
			cutoff := time.Now().AddDate(0, 0, -days)
			if _, err := t.store.PruneSnapshots(cutoff); err != nil {
				t.logger.Error().Err(err).Msg("snapshot pruning failed")
			}
		}
	}
}
