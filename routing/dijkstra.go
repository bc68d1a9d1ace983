package routing

import (
	"pathflow/topology"
)

// frontierEntry is one node on the Dijkstra frontier.
type frontierEntry struct {
	device string
	dist   int
}

// frontier is a min-heap of frontierEntry keyed by accumulated distance,
// ties broken by device ID so selection matches the graph's sorted neighbor
// order regardless of insertion timing.
type frontier []frontierEntry

func entryLess(a, b frontierEntry) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.device < b.device
}

func (h frontier) shiftDown(start, end int) {
	dad := start
	son := dad*2 + 1
	for son <= end {
		if son+1 <= end && entryLess(h[son+1], h[son]) {
			son++
		}
		if !entryLess(h[son], h[dad]) {
			break
		}
		h[dad], h[son] = h[son], h[dad]
		dad = son
		son = dad*2 + 1
	}
}

func (h frontier) shiftUp(start int) {
	son := start
	dad := (son - 1) / 2
	for dad >= 0 {
		if !entryLess(h[son], h[dad]) {
			break
		}
		h[dad], h[son] = h[son], h[dad]
		son = dad
		dad = (son - 1) / 2
	}
}

func (h *frontier) push(e frontierEntry) {
	*h = append(*h, e)
	h.shiftUp(len(*h) - 1)
}

func (h *frontier) pop() frontierEntry {
	top := (*h)[0]
	(*h)[0] = (*h)[len(*h)-1]
	*h = (*h)[:len(*h)-1]
	h.shiftDown(0, len(*h)-1)
	return top
}

// ShortestPath runs Dijkstra from start to end over the snapshot's sorted
// adjacency. All weights are expected to be >= 1; that is the caller's
// contract, not something recovered here. An unreachable end (or an unknown
// endpoint) yields *NoPathError carrying the partial distance table.
// start == end yields the single-node path with weight 0.
func ShortestPath(g *topology.Graph, start, end string) (Path, error) {
	if !g.HasDevice(start) || !g.HasDevice(end) {
		return Path{}, &NoPathError{Start: start, End: end}
	}
	if start == end {
		return Path{Devices: []string{start}, Weight: 0}, nil
	}
	return dijkstra(g, start, end, nil, nil)
}

// dijkstra is the shared core; bannedEdges and bannedNodes carve the spur
// graphs of Yen's algorithm out of the same snapshot.
func dijkstra(g *topology.Graph, start, end string, bannedEdges map[[2]string]bool, bannedNodes map[string]bool) (Path, error) {
	dist := map[string]int{start: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	pq := frontier{{device: start, dist: 0}}
	for len(pq) > 0 {
		cur := pq.pop()
		if visited[cur.device] {
			continue
		}
		visited[cur.device] = true
		if cur.device == end {
			break
		}
		for _, e := range g.Neighbors(cur.device) {
			if visited[e.Neighbor] || bannedNodes[e.Neighbor] {
				continue
			}
			if bannedEdges[[2]string{cur.device, e.Neighbor}] {
				continue
			}
			next := cur.dist + e.Weight
			if old, ok := dist[e.Neighbor]; !ok || next < old {
				dist[e.Neighbor] = next
				prev[e.Neighbor] = cur.device
				pq.push(frontierEntry{device: e.Neighbor, dist: next})
			}
		}
	}

	if !visited[end] {
		return Path{}, &NoPathError{Start: start, End: end, Distances: dist}
	}

	var devices []string
	for cur := end; ; {
		devices = append(devices, cur)
		if cur == start {
			break
		}
		cur = prev[cur]
	}
	for i, j := 0, len(devices)-1; i < j; i, j = i+1, j-1 {
		devices[i], devices[j] = devices[j], devices[i]
	}

	return Path{Devices: devices, Weight: dist[end]}, nil
}
