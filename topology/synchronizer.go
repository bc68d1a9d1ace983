package topology

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"pathflow/controller"
)

// ErrSyncFailed marks a transient topology fetch failure. The caller keeps
// the last good snapshot and retries on the next poll.
var ErrSyncFailed = errors.New("topology sync failed")

// Synchronizer pulls raw facts from the controller and publishes immutable
// graph snapshots. Sync cycles are serialized end to end so a slow fetch can
// never publish over a newer snapshot; reads are lock-free pointer loads, so
// in-flight path computations always see a consistent graph.
type Synchronizer struct {
	client   controller.Client
	mu       sync.Mutex
	snapshot atomic.Pointer[Graph]
	failures atomic.Int32
}

func NewSynchronizer(client controller.Client) *Synchronizer {
	return &Synchronizer{client: client}
}

// Snapshot returns the last published graph, or nil before the first
// successful sync.
func (s *Synchronizer) Snapshot() *Graph {
	return s.snapshot.Load()
}

// ConsecutiveFailures reports how many sync attempts in a row have failed.
// The service uses it to flag degraded mode.
func (s *Synchronizer) ConsecutiveFailures() int {
	return int(s.failures.Load())
}

// Sync fetches devices, hosts and links, builds a candidate graph and
// publishes it when it differs structurally from the previous snapshot.
// A fetch failure returns the previous snapshot unchanged together with an
// error wrapping ErrSyncFailed; an integrity failure discards the candidate
// and keeps serving the last good snapshot. Concurrent callers (the poll
// loop and on-demand enables) run one cycle at a time, so change detection
// always compares against the snapshot it is about to replace.
func (s *Synchronizer) Sync(ctx context.Context) (*Graph, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.snapshot.Load()

	deviceFacts, err := s.client.ListDevices(ctx)
	if err != nil {
		s.failures.Add(1)
		return prev, false, fmt.Errorf("%w: listing devices: %v", ErrSyncFailed, err)
	}
	hostFacts, err := s.client.ListHosts(ctx)
	if err != nil {
		s.failures.Add(1)
		return prev, false, fmt.Errorf("%w: listing hosts: %v", ErrSyncFailed, err)
	}
	linkFacts, err := s.client.ListLinks(ctx)
	if err != nil {
		s.failures.Add(1)
		return prev, false, fmt.Errorf("%w: listing links: %v", ErrSyncFailed, err)
	}

	candidate, err := BuildGraph(normalizeDevices(deviceFacts), normalizeHosts(hostFacts), normalizeLinks(linkFacts))
	if err != nil {
		s.failures.Add(1)
		return prev, false, fmt.Errorf("rejecting candidate snapshot: %w", err)
	}
	s.failures.Store(0)

	if prev != nil && candidate.Equal(prev) {
		return prev, false, nil
	}

	s.snapshot.Store(candidate)

	log.Infof("published topology snapshot: %d devices, %d links, %d hosts",
		candidate.DeviceCount(), candidate.LinkCount(), candidate.HostCount())
	return candidate, true, nil
}

func normalizeDevices(facts []controller.DeviceFact) []Device {
	devices := make([]Device, 0, len(facts))
	for _, f := range facts {
		state := DeviceInactive
		if f.Available {
			state = DeviceActive
		}
		var ports []int
		for _, p := range f.Ports {
			if !p.Enabled {
				continue
			}
			n, err := strconv.Atoi(p.Port)
			if err != nil {
				continue // logical ports like "local"
			}
			ports = append(ports, n)
		}
		devices = append(devices, Device{ID: f.ID, State: state, Ports: ports})
	}
	return devices
}

func normalizeHosts(facts []controller.HostFact) []Host {
	hosts := make([]Host, 0, len(facts))
	for _, f := range facts {
		if len(f.Locations) == 0 {
			log.Warnf("host %s has no attachment point, skipping", f.MAC)
			continue
		}
		loc := f.Locations[0]
		port, err := strconv.Atoi(loc.Port)
		if err != nil {
			log.Warnf("host %s has non-numeric attachment port %q, skipping", f.MAC, loc.Port)
			continue
		}
		hosts = append(hosts, Host{MAC: f.MAC, IPs: f.IPAddresses, DeviceID: loc.ElementID, Port: port})
	}
	return hosts
}

func normalizeLinks(facts []controller.LinkFact) []Link {
	links := make([]Link, 0, len(facts))
	for _, f := range facts {
		srcPort, err := strconv.Atoi(f.Src.Port)
		if err != nil {
			continue
		}
		dstPort, err := strconv.Atoi(f.Dst.Port)
		if err != nil {
			continue
		}
		// The controller reports both directions of a bidirectional link as
		// separate entries, so each fact maps to exactly one directed edge.
		links = append(links, Link{
			SrcDevice: f.Src.Device,
			SrcPort:   srcPort,
			DstDevice: f.Dst.Device,
			DstPort:   dstPort,
			Weight:    1,
		})
	}
	return links
}
