package service

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"pathflow/controller"
	"pathflow/flow"
	"pathflow/health"
	"pathflow/monitor"
	"pathflow/routing"
	"pathflow/topology"
)

// Consecutive failed polls before the status surface reports degraded mode.
const degradedThreshold = 5

// UnknownHostError reports a MAC with no attachment point in the current
// snapshot.
type UnknownHostError struct {
	MAC string
}

func (e *UnknownHostError) Error() string {
	return fmt.Sprintf("host %s is not attached to the topology", e.MAC)
}

// Service is the northbound facade consumed by the operator shell, the HTTP
// API and the etcd bridge.
type Service struct {
	client       controller.Client
	synchronizer *topology.Synchronizer
	compiler     *flow.Compiler
	orchestrator *flow.Orchestrator
	monitor      *monitor.Monitor
}

func New(client controller.Client, sync *topology.Synchronizer, compiler *flow.Compiler, orch *flow.Orchestrator, mon *monitor.Monitor) *Service {
	return &Service{
		client:       client,
		synchronizer: sync,
		compiler:     compiler,
		orchestrator: orch,
		monitor:      mon,
	}
}

// snapshot returns the current graph, syncing first when none has been
// published yet. A failed refresh falls back to the last good snapshot.
func (s *Service) snapshot(ctx context.Context) (*topology.Graph, error) {
	if g := s.synchronizer.Snapshot(); g != nil {
		return g, nil
	}
	g, _, err := s.synchronizer.Sync(ctx)
	if err != nil && g == nil {
		return nil, err
	}
	return g, nil
}

func (s *Service) hostPair(g *topology.Graph, srcMAC, dstMAC string) (topology.Host, topology.Host, error) {
	src, ok := g.Host(srcMAC)
	if !ok {
		return topology.Host{}, topology.Host{}, &UnknownHostError{MAC: srcMAC}
	}
	dst, ok := g.Host(dstMAC)
	if !ok {
		return topology.Host{}, topology.Host{}, &UnknownHostError{MAC: dstMAC}
	}
	return src, dst, nil
}

// ComputePath returns the shortest device path between two hosts on the
// current snapshot.
func (s *Service) ComputePath(ctx context.Context, srcMAC, dstMAC string) (routing.Path, error) {
	g, err := s.snapshot(ctx)
	if err != nil {
		return routing.Path{}, err
	}
	src, dst, err := s.hostPair(g, srcMAC, dstMAC)
	if err != nil {
		return routing.Path{}, err
	}
	return routing.ShortestPath(g, src.DeviceID, dst.DeviceID)
}

// AlternatePaths returns up to k shortest device paths between two hosts,
// for load-balancing experiments and the status display.
func (s *Service) AlternatePaths(ctx context.Context, srcMAC, dstMAC string, k int) ([]routing.Path, error) {
	g, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	src, dst, err := s.hostPair(g, srcMAC, dstMAC)
	if err != nil {
		return nil, err
	}
	return routing.KShortestPaths(g, src.DeviceID, dst.DeviceID, k)
}

// EnableCommunication refreshes the topology, computes the shortest path
// between the two hosts, compiles and applies the bidirectional rule set,
// and on success registers the pair for reactive monitoring.
func (s *Service) EnableCommunication(ctx context.Context, srcMAC, dstMAC string) (routing.Path, *flow.Report, error) {
	g, _, err := s.synchronizer.Sync(ctx)
	if err != nil {
		if g == nil {
			return routing.Path{}, nil, err
		}
		log.Warnf("enable %s <-> %s: sync failed, using last snapshot: %v", srcMAC, dstMAC, err)
	}

	src, dst, err := s.hostPair(g, srcMAC, dstMAC)
	if err != nil {
		return routing.Path{}, nil, err
	}
	path, err := routing.ShortestPath(g, src.DeviceID, dst.DeviceID)
	if err != nil {
		return routing.Path{}, nil, err
	}
	installs, err := s.compiler.Compile(g, path, src, dst)
	if err != nil {
		return path, nil, err
	}

	report := s.orchestrator.Apply(ctx, installs)
	if report.OK() {
		pair := monitor.Pair{Src: srcMAC, Dst: dstMAC}
		s.monitor.RegisterPair(srcMAC, dstMAC)
		s.monitor.RecordPath(pair, path.Devices)
		log.Infof("communication enabled for %s <-> %s over %s", srcMAC, dstMAC, path)
	}
	return path, report, nil
}

// EnableAllResult summarizes EnableAll over every known host pair.
type EnableAllResult struct {
	BaseInstalls int `json:"baseInstalls"`
	PairsTotal   int `json:"pairsTotal"`
	PairsEnabled int `json:"pairsEnabled"`
}

// EnableAll installs the ARP and broadcast rule sets and then enables
// communication for every known host pair. Per-pair failures are logged and
// counted, never fatal for the rest.
func (s *Service) EnableAll(ctx context.Context) (*EnableAllResult, error) {
	g, _, err := s.synchronizer.Sync(ctx)
	if err != nil && g == nil {
		return nil, err
	}

	result := &EnableAllResult{}
	base := append(s.compiler.CompileARP(g), s.compiler.CompileBroadcast(g)...)
	baseReport := s.orchestrator.Apply(ctx, base)
	result.BaseInstalls = len(baseReport.Succeeded)
	if !baseReport.OK() {
		log.Warnf("base rule set partially installed (%d ok): %v",
			len(baseReport.Succeeded), baseReport.Failed.Err)
	}

	hosts := g.Hosts()
	for i := 0; i < len(hosts); i++ {
		for j := i + 1; j < len(hosts); j++ {
			result.PairsTotal++
			_, report, err := s.EnableCommunication(ctx, hosts[i].MAC, hosts[j].MAC)
			if err != nil {
				log.Warnf("enable %s <-> %s failed: %v", hosts[i].MAC, hosts[j].MAC, err)
				continue
			}
			if report.OK() {
				result.PairsEnabled++
			}
		}
	}
	log.Infof("enable-all finished: %d/%d pairs enabled", result.PairsEnabled, result.PairsTotal)
	return result, nil
}

// DisableCommunication unregisters the pair and removes its host-pair rules
// from every device in the snapshot, so nothing lingers after the pair stops
// being monitored. Returns how many rules were removed.
func (s *Service) DisableCommunication(ctx context.Context, srcMAC, dstMAC string) (int, error) {
	s.monitor.UnregisterPair(srcMAC, dstMAC)

	g, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range g.DeviceIDs() {
		n, err := s.orchestrator.RemoveRules(ctx, id, func(r controller.RuleSpec) bool {
			return r.AppID == flow.AppID && flow.IsHostPairRule(r, srcMAC, dstMAC)
		})
		removed += n
		if err != nil {
			return removed, fmt.Errorf("clearing %s <-> %s rules on %s: %w", srcMAC, dstMAC, id, err)
		}
	}
	log.Infof("communication disabled for %s <-> %s, %d rules removed", srcMAC, dstMAC, removed)
	return removed, nil
}

// ClearDeviceFlows removes every rule this application installed on one
// device. Rules owned by other controller applications are left alone.
func (s *Service) ClearDeviceFlows(ctx context.Context, deviceID string) (int, error) {
	removed, err := s.orchestrator.RemoveRules(ctx, deviceID, func(r controller.RuleSpec) bool {
		return r.AppID == flow.AppID
	})
	if err != nil {
		return removed, err
	}
	log.Infof("cleared %d rules from %s", removed, deviceID)
	return removed, nil
}

func (s *Service) RegisterPair(srcMAC, dstMAC string)   { s.monitor.RegisterPair(srcMAC, dstMAC) }
func (s *Service) UnregisterPair(srcMAC, dstMAC string) { s.monitor.UnregisterPair(srcMAC, dstMAC) }
func (s *Service) Pairs() []monitor.Pair                { return s.monitor.Pairs() }

// Snapshot exposes the current graph for status display. May be nil before
// the first successful sync.
func (s *Service) Snapshot() *topology.Graph { return s.synchronizer.Snapshot() }

// InstalledRules lists a device's rules from the controller, for
// verification and debugging only.
func (s *Service) InstalledRules(ctx context.Context, deviceID string) ([]controller.RuleSpec, error) {
	return s.client.ListInstalledRules(ctx, deviceID)
}

// Status is the operator-facing system summary.
type Status struct {
	Degraded     bool             `json:"degraded"`
	SyncFailures int              `json:"syncFailures"`
	MonitorState string           `json:"monitorState"`
	Devices      int              `json:"devices"`
	Links        int              `json:"links"`
	Hosts        int              `json:"hosts"`
	Pairs        []monitor.Pair   `json:"pairs"`
	FlowCounts   map[string]int   `json:"flowCounts,omitempty"`
	Health       *health.Snapshot `json:"health"`
}

// Status reports topology counts, monitor state, per-device flow counts
// (best effort) and host health. Degraded mode flags an extended run of
// failed polls.
func (s *Service) Status(ctx context.Context) *Status {
	st := &Status{
		SyncFailures: s.synchronizer.ConsecutiveFailures(),
		MonitorState: s.monitor.State().String(),
		Pairs:        s.monitor.Pairs(),
		Health:       health.Collect(),
	}
	st.Degraded = st.SyncFailures >= degradedThreshold

	g := s.synchronizer.Snapshot()
	if g == nil {
		return st
	}
	st.Devices = g.DeviceCount()
	st.Links = g.LinkCount()
	st.Hosts = g.HostCount()

	st.FlowCounts = make(map[string]int)
	for _, id := range g.DeviceIDs() {
		rules, err := s.client.ListInstalledRules(ctx, id)
		if err != nil {
			log.Debugf("flow count for %s unavailable: %v", id, err)
			continue
		}
		st.FlowCounts[id] = len(rules)
	}
	return st
}
