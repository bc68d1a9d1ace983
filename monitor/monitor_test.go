package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pathflow/controller"
	"pathflow/flow"
	"pathflow/routing"
	"pathflow/topology"
)

// fakeSDN serves mutable topology facts and records rule installs.
type fakeSDN struct {
	mu          sync.Mutex
	devices     []controller.DeviceFact
	hosts       []controller.HostFact
	links       []controller.LinkFact
	installs    []controller.RuleSpec
	deviceLists int
}

func (f *fakeSDN) ListDevices(ctx context.Context) ([]controller.DeviceFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceLists++
	return f.devices, nil
}

func (f *fakeSDN) ListHosts(ctx context.Context) ([]controller.HostFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hosts, nil
}

func (f *fakeSDN) ListLinks(ctx context.Context) ([]controller.LinkFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links, nil
}

func (f *fakeSDN) InstallRule(ctx context.Context, deviceID string, rule controller.RuleSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, rule)
	return nil
}

func (f *fakeSDN) DeleteRule(ctx context.Context, deviceID, flowID string) error {
	return nil
}

func (f *fakeSDN) ListInstalledRules(ctx context.Context, deviceID string) ([]controller.RuleSpec, error) {
	return nil, nil
}

func (f *fakeSDN) deviceListCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceLists
}

func (f *fakeSDN) installCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.installs)
}

func (f *fakeSDN) installedOn(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.installs {
		if r.DeviceID == deviceID {
			n++
		}
	}
	return n
}

func (f *fakeSDN) dropLinksOf(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.links[:0]
	for _, l := range f.links {
		if l.Src.Device == deviceID || l.Dst.Device == deviceID {
			continue
		}
		kept = append(kept, l)
	}
	f.links = kept
}

func fact(src, srcPort, dst, dstPort string) controller.LinkFact {
	return controller.LinkFact{
		Src: controller.EndpointFact{Device: src, Port: srcPort},
		Dst: controller.EndpointFact{Device: dst, Port: dstPort},
	}
}

func biLink(src, srcPort, dst, dstPort string) []controller.LinkFact {
	return []controller.LinkFact{
		fact(src, srcPort, dst, dstPort),
		fact(dst, dstPort, src, srcPort),
	}
}

// squareSDN is two hosts over a square of switches: s1 reaches s4 either via
// s2 or via s3, both two hops.
func squareSDN() *fakeSDN {
	dev := func(id string, ports ...string) controller.DeviceFact {
		d := controller.DeviceFact{ID: id, Available: true}
		for _, p := range ports {
			d.Ports = append(d.Ports, controller.PortFact{Port: p, Enabled: true})
		}
		return d
	}
	f := &fakeSDN{
		devices: []controller.DeviceFact{
			dev("s1", "1", "2", "3"),
			dev("s2", "2", "3"),
			dev("s3", "2", "3"),
			dev("s4", "1", "2", "3"),
		},
		hosts: []controller.HostFact{
			{MAC: "00:00:00:00:00:01", Locations: []controller.LocationFact{{ElementID: "s1", Port: "1"}}},
			{MAC: "00:00:00:00:00:02", Locations: []controller.LocationFact{{ElementID: "s4", Port: "1"}}},
		},
	}
	f.links = append(f.links, biLink("s1", "2", "s2", "2")...)
	f.links = append(f.links, biLink("s2", "3", "s4", "2")...)
	f.links = append(f.links, biLink("s1", "3", "s3", "2")...)
	f.links = append(f.links, biLink("s3", "3", "s4", "3")...)
	return f
}

func newTestMonitor(t *testing.T, f *fakeSDN) *Monitor {
	t.Helper()
	syncer := topology.NewSynchronizer(f)
	m, err := NewMonitor(syncer, flow.NewCompiler(), flow.NewOrchestrator(f), time.Second, 4)
	if err != nil {
		t.Fatalf("NewMonitor failed: %v", err)
	}
	return m
}

func TestPoll(t *testing.T) {
	ctx := context.Background()
	h1, h2 := "00:00:00:00:00:01", "00:00:00:00:00:02"

	t.Run("ConvergesRegisteredPairOnFirstSync", func(t *testing.T) {
		f := squareSDN()
		m := newTestMonitor(t, f)
		m.RegisterPair(h1, h2)

		m.Poll(ctx)
		// Two hops each way over the tie-broken route through s2.
		if f.installCount() != 4 {
			t.Fatalf("expected 4 installs, got %d", f.installCount())
		}
		if f.installedOn("s3") != 0 {
			t.Errorf("losing branch s3 must not receive rules")
		}
		if m.State() != StateIdle {
			t.Errorf("monitor must return to Idle, got %s", m.State())
		}
	})

	t.Run("UnchangedTopologyInstallsNothing", func(t *testing.T) {
		f := squareSDN()
		m := newTestMonitor(t, f)
		m.RegisterPair(h1, h2)

		m.Poll(ctx)
		before := f.installCount()
		m.Poll(ctx)
		if f.installCount() != before {
			t.Errorf("unchanged poll issued %d extra installs", f.installCount()-before)
		}
	})

	t.Run("LinkFailureRedirectsPair", func(t *testing.T) {
		f := squareSDN()
		m := newTestMonitor(t, f)
		m.RegisterPair(h1, h2)
		m.Poll(ctx)

		f.dropLinksOf("s2")
		m.Poll(ctx)

		if f.installedOn("s3") == 0 {
			t.Errorf("pair not redirected through s3 after losing s2")
		}
	})

	t.Run("UnreachablePairReportsAndRecovers", func(t *testing.T) {
		f := squareSDN()
		m := newTestMonitor(t, f)
		m.RegisterPair(h1, h2)

		var reportMu sync.Mutex
		var failures []string
		m.OnReport = func(p Pair, path routing.Path, r *flow.Report) {
			reportMu.Lock()
			defer reportMu.Unlock()
			if !r.OK() {
				failures = append(failures, r.Failed.Err.Error())
			}
		}

		m.Poll(ctx)
		before := f.installCount()

		saved := append([]controller.LinkFact{}, f.links...)
		f.dropLinksOf("s2")
		f.dropLinksOf("s3")
		m.Poll(ctx)

		if f.installCount() != before {
			t.Errorf("unreachable pair must not trigger installs")
		}
		reportMu.Lock()
		if len(failures) != 1 || !strings.Contains(failures[0], "no path") {
			t.Errorf("expected one no-path report, got %v", failures)
		}
		reportMu.Unlock()

		// Restoring the links must reinstall even though the winning route is
		// the same sequence as before the outage.
		f.mu.Lock()
		f.links = saved
		f.mu.Unlock()
		m.Poll(ctx)
		if f.installCount() <= before {
			t.Errorf("pair not reconverged after link recovery")
		}
	})

	t.Run("SkipsWhenPreviousCycleStillRunning", func(t *testing.T) {
		f := squareSDN()
		m := newTestMonitor(t, f)
		m.RegisterPair(h1, h2)

		m.state.Store(int32(StateConverging))
		m.Poll(ctx)
		if f.deviceListCount() != 0 {
			t.Errorf("overlapping poll must skip before syncing")
		}
		m.state.Store(int32(StateIdle))
	})

	t.Run("UnregisteredPairIgnored", func(t *testing.T) {
		f := squareSDN()
		m := newTestMonitor(t, f)
		m.RegisterPair(h1, h2)
		m.UnregisterPair(h1, h2)

		m.Poll(ctx)
		if f.installCount() != 0 {
			t.Errorf("unregistered pair received %d installs", f.installCount())
		}
	})
}

// TestWeightOnlyChangeIsNoOp drives convergePair directly with two snapshots
// that differ only in an edge weight along the same device sequence.
func TestWeightOnlyChangeIsNoOp(t *testing.T) {
	devices := []topology.Device{
		{ID: "s1", State: topology.DeviceActive, Ports: []int{1, 2}},
		{ID: "s2", State: topology.DeviceActive, Ports: []int{1, 2}},
	}
	hosts := []topology.Host{
		{MAC: "00:00:00:00:00:01", DeviceID: "s1", Port: 1},
		{MAC: "00:00:00:00:00:02", DeviceID: "s2", Port: 1},
	}
	link := func(w int) []topology.Link {
		return []topology.Link{
			{SrcDevice: "s1", SrcPort: 2, DstDevice: "s2", DstPort: 2, Weight: w},
			{SrcDevice: "s2", SrcPort: 2, DstDevice: "s1", DstPort: 2, Weight: w},
		}
	}
	heavier, err := topology.BuildGraph(devices, hosts, link(5))
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}

	f := &fakeSDN{}
	m := newTestMonitor(t, f)
	pair := Pair{Src: "00:00:00:00:00:01", Dst: "00:00:00:00:00:02"}
	m.RegisterPair(pair.Src, pair.Dst)
	m.RecordPath(pair, []string{"s1", "s2"})

	m.convergePair(context.Background(), heavier, pair)
	if f.installCount() != 0 {
		t.Errorf("weight-only change reinstalled %d rules", f.installCount())
	}
}
