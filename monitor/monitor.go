package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"pathflow/flow"
	"pathflow/routing"
	"pathflow/topology"
)

// Pair is one monitored src/dst host pair, keyed by MAC.
type Pair struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

type State int32

const (
	StateIdle State = iota
	StateConverging
)

func (s State) String() string {
	if s == StateConverging {
		return "Converging"
	}
	return "Idle"
}

const defaultPairWorkers = 16

// Monitor periodically re-synchronizes topology and re-converges every
// registered pair affected by the delta. Cycles never overlap: a tick that
// finds the previous cycle still converging is skipped, not queued.
type Monitor struct {
	synchronizer *topology.Synchronizer
	compiler     *flow.Compiler
	orchestrator *flow.Orchestrator
	interval     time.Duration
	pool         *ants.Pool

	state atomic.Int32

	mu        sync.RWMutex
	pairs     map[Pair]struct{}
	lastPaths map[Pair][]string

	// OnReport, when set, observes every reconvergence outcome. Used by the
	// etcd bridge to publish reports for out-of-process shells.
	OnReport func(Pair, routing.Path, *flow.Report)
}

func NewMonitor(syncer *topology.Synchronizer, compiler *flow.Compiler, orch *flow.Orchestrator, interval time.Duration, pairWorkers int) (*Monitor, error) {
	if pairWorkers <= 0 {
		pairWorkers = defaultPairWorkers
	}
	pool, err := ants.NewPool(pairWorkers)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		synchronizer: syncer,
		compiler:     compiler,
		orchestrator: orch,
		interval:     interval,
		pool:         pool,
		pairs:        make(map[Pair]struct{}),
		lastPaths:    make(map[Pair][]string),
	}, nil
}

func (m *Monitor) State() State { return State(m.state.Load()) }

func (m *Monitor) RegisterPair(src, dst string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[Pair{Src: src, Dst: dst}] = struct{}{}
	log.Infof("registered monitored pair %s <-> %s", src, dst)
}

func (m *Monitor) UnregisterPair(src, dst string) {
	p := Pair{Src: src, Dst: dst}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, p)
	delete(m.lastPaths, p)
	log.Infof("unregistered monitored pair %s <-> %s", src, dst)
}

func (m *Monitor) registered(p Pair) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pairs[p]
	return ok
}

// Pairs returns the registered pairs in a stable order.
func (m *Monitor) Pairs() []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]Pair, 0, len(m.pairs))
	for p := range m.pairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Src != pairs[j].Src {
			return pairs[i].Src < pairs[j].Src
		}
		return pairs[i].Dst < pairs[j].Dst
	})
	return pairs
}

// RecordPath seeds the last converged device sequence for a pair, so an
// immediately following poll does not reinstall what EnableCommunication
// just installed.
func (m *Monitor) RecordPath(p Pair, devices []string) {
	seq := make([]string, len(devices))
	copy(seq, devices)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPaths[p] = seq
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.pool.Release()

	log.Infof("reactive monitor started, poll interval %s", m.interval)
	for {
		select {
		case <-ctx.Done():
			log.Infof("reactive monitor stopped")
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll runs one cycle: sync, and when the topology changed, converge every
// registered pair. Skips (never queues) when the previous cycle is still in
// flight.
func (m *Monitor) Poll(ctx context.Context) {
	if !m.state.CompareAndSwap(int32(StateIdle), int32(StateConverging)) {
		log.Warnf("previous convergence cycle still running, skipping poll")
		return
	}
	defer m.state.Store(int32(StateIdle))

	graph, changed, err := m.synchronizer.Sync(ctx)
	if err != nil {
		if errors.Is(err, topology.ErrSyncFailed) {
			log.Warnf("topology poll failed, keeping last snapshot: %v", err)
		} else {
			log.Warnf("topology candidate rejected: %v", err)
		}
		return
	}
	if !changed {
		return
	}

	log.Infof("topology change detected, reconverging %d pairs", len(m.Pairs()))
	m.converge(ctx, graph)
}

func (m *Monitor) converge(ctx context.Context, g *topology.Graph) {
	pairs := m.Pairs()
	if len(pairs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, p := range pairs {
		wg.Add(1)
		pair := p
		err := m.pool.Submit(func() {
			defer wg.Done()
			m.convergePair(ctx, g, pair)
		})
		if err != nil {
			// Pool saturated or released: converge inline rather than drop.
			m.convergePair(ctx, g, pair)
			wg.Done()
		}
	}
	wg.Wait()
}

// convergePair recomputes one pair's shortest path on the new snapshot and
// reinstalls only when the ordered device sequence changed or the pair
// became unreachable. A weight-only difference is a no-op. Failures are
// logged and retried naturally on the next changed poll.
func (m *Monitor) convergePair(ctx context.Context, g *topology.Graph, pair Pair) {
	if !m.registered(pair) {
		return
	}

	src, ok := g.Host(pair.Src)
	if !ok {
		log.Warnf("pair %s <-> %s: source host not attached", pair.Src, pair.Dst)
		m.clearPath(pair)
		return
	}
	dst, ok := g.Host(pair.Dst)
	if !ok {
		log.Warnf("pair %s <-> %s: destination host not attached", pair.Src, pair.Dst)
		m.clearPath(pair)
		return
	}

	path, err := routing.ShortestPath(g, src.DeviceID, dst.DeviceID)
	if err != nil {
		var noPath *routing.NoPathError
		if errors.As(err, &noPath) {
			log.Warnf("pair %s <-> %s unreachable after topology change", pair.Src, pair.Dst)
			m.clearPath(pair)
			if m.OnReport != nil {
				m.OnReport(pair, routing.Path{}, &flow.Report{Failed: &flow.InstallFailure{Err: err}})
			}
			return
		}
		log.Warnf("pair %s <-> %s: path computation failed: %v", pair.Src, pair.Dst, err)
		return
	}

	m.mu.RLock()
	last, seen := m.lastPaths[pair]
	m.mu.RUnlock()
	if seen && sameSequence(last, path.Devices) {
		log.Debugf("pair %s <-> %s unaffected, skipping", pair.Src, pair.Dst)
		return
	}

	installs, err := m.compiler.Compile(g, path, src, dst)
	if err != nil {
		log.Warnf("pair %s <-> %s: compile failed: %v", pair.Src, pair.Dst, err)
		return
	}
	if !m.registered(pair) {
		// Unregistered mid-flight: abandon before touching the controller.
		return
	}

	report := m.orchestrator.Apply(ctx, installs)
	if report.OK() {
		m.RecordPath(pair, path.Devices)
		log.Infof("pair %s <-> %s reconverged over %s (%d installs)",
			pair.Src, pair.Dst, path, len(report.Succeeded))
	} else {
		log.Warnf("pair %s <-> %s: partial install (%d ok, failed at %s): %v",
			pair.Src, pair.Dst, len(report.Succeeded),
			report.Failed.Installation.DeviceID, report.Failed.Err)
	}
	if m.OnReport != nil {
		m.OnReport(pair, path, report)
	}
}

func (m *Monitor) clearPath(pair Pair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastPaths, pair)
}

func sameSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
