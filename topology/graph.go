package topology

import (
	"fmt"
	"sort"
)

type DeviceState int

const (
	DeviceInactive DeviceState = iota
	DeviceActive
)

func (s DeviceState) String() string {
	switch s {
	case DeviceActive:
		return "ACTIVE"
	case DeviceInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Device is a normalized switch fact. Devices are created and removed by the
// synchronizer on each cycle and never mutated elsewhere.
type Device struct {
	ID    string
	State DeviceState
	Ports []int
}

// Host has exactly one attachment point; re-attachment replaces it wholesale.
type Host struct {
	MAC      string
	IPs      []string
	DeviceID string
	Port     int
}

// Link is one directed edge between two (device, port) endpoints. Weight is
// a positive integer, 1 by default.
type Link struct {
	SrcDevice string
	SrcPort   int
	DstDevice string
	DstPort   int
	Weight    int
}

// Edge is one entry of a device's neighbor list.
type Edge struct {
	Neighbor string
	Weight   int
}

// IntegrityError flags a link or host attachment referencing a device that
// is not part of the device set. A candidate snapshot carrying one of these
// is never published.
type IntegrityError struct {
	Device string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("topology integrity: %s references unknown device %s", e.Detail, e.Device)
}

// Graph is the immutable snapshot every consumer reads. It is replaced as a
// whole on each successful sync; nothing mutates it after BuildGraph returns.
type Graph struct {
	devices map[string]Device
	hosts   map[string]Host
	links   []Link
	adj     map[string][]Edge
}

// BuildGraph normalizes device, host and link facts into an adjacency
// structure. Construction is deterministic: neighbor lists are sorted by
// neighbor ID so iteration order (and downstream tie-breaking) is
// reproducible for identical inputs.
func BuildGraph(devices []Device, hosts []Host, links []Link) (*Graph, error) {
	g := &Graph{
		devices: make(map[string]Device, len(devices)),
		hosts:   make(map[string]Host, len(hosts)),
		links:   make([]Link, 0, len(links)),
		adj:     make(map[string][]Edge, len(devices)),
	}

	for _, d := range devices {
		g.devices[d.ID] = d
		g.adj[d.ID] = nil
	}

	for _, l := range links {
		if _, ok := g.devices[l.SrcDevice]; !ok {
			return nil, &IntegrityError{Device: l.SrcDevice, Detail: fmt.Sprintf("link %s->%s", l.SrcDevice, l.DstDevice)}
		}
		if _, ok := g.devices[l.DstDevice]; !ok {
			return nil, &IntegrityError{Device: l.DstDevice, Detail: fmt.Sprintf("link %s->%s", l.SrcDevice, l.DstDevice)}
		}
		if l.Weight <= 0 {
			l.Weight = 1
		}
		g.links = append(g.links, l)
		g.adj[l.SrcDevice] = append(g.adj[l.SrcDevice], Edge{Neighbor: l.DstDevice, Weight: l.Weight})
	}

	for _, h := range hosts {
		if _, ok := g.devices[h.DeviceID]; !ok {
			return nil, &IntegrityError{Device: h.DeviceID, Detail: fmt.Sprintf("host %s attachment", h.MAC)}
		}
		g.hosts[h.MAC] = h
	}

	for id := range g.adj {
		edges := g.adj[id]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Neighbor != edges[j].Neighbor {
				return edges[i].Neighbor < edges[j].Neighbor
			}
			return edges[i].Weight < edges[j].Weight
		})
	}

	return g, nil
}

func (g *Graph) HasDevice(id string) bool {
	_, ok := g.devices[id]
	return ok
}

func (g *Graph) Device(id string) (Device, bool) {
	d, ok := g.devices[id]
	return d, ok
}

// DeviceIDs returns all device identifiers in sorted order.
func (g *Graph) DeviceIDs() []string {
	ids := make([]string, 0, len(g.devices))
	for id := range g.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) DeviceCount() int { return len(g.devices) }

// Neighbors returns the ordered neighbor list of a device. The returned
// slice is part of the snapshot and must not be modified.
func (g *Graph) Neighbors(id string) []Edge {
	return g.adj[id]
}

// EdgeWeight returns the weight of the cheapest direct edge from a to b.
func (g *Graph) EdgeWeight(a, b string) (int, bool) {
	for _, e := range g.adj[a] {
		if e.Neighbor == b {
			return e.Weight, true
		}
	}
	return 0, false
}

func (g *Graph) Host(mac string) (Host, bool) {
	h, ok := g.hosts[mac]
	return h, ok
}

// Hosts returns all hosts sorted by MAC.
func (g *Graph) Hosts() []Host {
	hosts := make([]Host, 0, len(g.hosts))
	for _, h := range g.hosts {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].MAC < hosts[j].MAC })
	return hosts
}

// HostPorts returns the ports of a device that face attached hosts.
func (g *Graph) HostPorts(deviceID string) []int {
	var ports []int
	for _, h := range g.hosts {
		if h.DeviceID == deviceID {
			ports = append(ports, h.Port)
		}
	}
	sort.Ints(ports)
	return ports
}

// Links returns a copy of the link facts.
func (g *Graph) Links() []Link {
	out := make([]Link, len(g.links))
	copy(out, g.links)
	return out
}

func (g *Graph) LinkCount() int { return len(g.links) }
func (g *Graph) HostCount() int { return len(g.hosts) }

// OutputPort returns the port on src that faces dst, resolved from the link
// facts in either direction.
func (g *Graph) OutputPort(src, dst string) (int, bool) {
	for _, l := range g.links {
		if l.SrcDevice == src && l.DstDevice == dst {
			return l.SrcPort, true
		}
		if l.SrcDevice == dst && l.DstDevice == src {
			return l.DstPort, true
		}
	}
	return 0, false
}

// Equal is the structural comparison the synchronizer uses for change
// detection: same device set, same edge set with weights, same
// host-attachment map.
func (g *Graph) Equal(o *Graph) bool {
	if o == nil {
		return false
	}
	if len(g.devices) != len(o.devices) || len(g.hosts) != len(o.hosts) {
		return false
	}
	for id, d := range g.devices {
		od, ok := o.devices[id]
		if !ok || od.State != d.State {
			return false
		}
	}
	for id, edges := range g.adj {
		oEdges := o.adj[id]
		if len(edges) != len(oEdges) {
			return false
		}
		for i := range edges {
			if edges[i] != oEdges[i] {
				return false
			}
		}
	}
	for mac, h := range g.hosts {
		oh, ok := o.hosts[mac]
		if !ok || oh.DeviceID != h.DeviceID || oh.Port != h.Port {
			return false
		}
	}
	return true
}
