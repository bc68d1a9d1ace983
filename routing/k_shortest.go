package routing

import (
	"errors"
	"sort"

	"pathflow/topology"
)

// candidateHeap is a min-heap of candidate paths ordered by pathLess, the
// B set of Yen's algorithm.
type candidateHeap []Path

func (h candidateHeap) shiftDown(start, end int) {
	dad := start
	son := dad*2 + 1
	for son <= end {
		if son+1 <= end && pathLess(h[son+1], h[son]) {
			son++
		}
		if !pathLess(h[son], h[dad]) {
			break
		}
		h[dad], h[son] = h[son], h[dad]
		dad = son
		son = dad*2 + 1
	}
}

func (h candidateHeap) shiftUp(start int) {
	son := start
	dad := (son - 1) / 2
	for dad >= 0 {
		if !pathLess(h[son], h[dad]) {
			break
		}
		h[dad], h[son] = h[son], h[dad]
		son = dad
		dad = (son - 1) / 2
	}
}

func (h *candidateHeap) insert(p Path) {
	*h = append(*h, p)
	h.shiftUp(len(*h) - 1)
}

func (h *candidateHeap) pop() Path {
	top := (*h)[0]
	(*h)[0] = (*h)[len(*h)-1]
	*h = (*h)[:len(*h)-1]
	h.shiftDown(0, len(*h)-1)
	return top
}

func (h candidateHeap) contains(p Path) bool {
	for i := range h {
		if h[i].SameDevices(p) {
			return true
		}
	}
	return false
}

// KShortestPaths returns up to k distinct simple paths from start to end via
// Yen's algorithm, ordered by weight ascending with ties broken by the
// lexicographic device sequence. It terminates when the graph runs out of
// simple paths before k. No path at all yields the same *NoPathError as
// ShortestPath.
func KShortestPaths(g *topology.Graph, start, end string, k int) ([]Path, error) {
	if k <= 0 {
		return nil, nil
	}
	first, err := ShortestPath(g, start, end)
	if err != nil {
		return nil, err
	}

	found := []Path{first}
	var candidates candidateHeap

	for len(found) < k {
		prevPath := found[len(found)-1]
		// The spur node ranges from the first node to the next to last node
		// of the previously accepted path.
		for i := 0; i < len(prevPath.Devices)-1; i++ {
			spurNode := prevPath.Devices[i]
			rootPath := prevPath.Devices[:i+1]

			bannedEdges := make(map[[2]string]bool)
			for _, p := range found {
				if len(p.Devices) > i && sameSequence(p.Devices[:i+1], rootPath) {
					bannedEdges[[2]string{p.Devices[i], p.Devices[i+1]}] = true
				}
			}
			bannedNodes := make(map[string]bool)
			for _, d := range rootPath[:len(rootPath)-1] {
				bannedNodes[d] = true
			}

			spur, err := dijkstra(g, spurNode, end, bannedEdges, bannedNodes)
			if err != nil {
				var noPath *NoPathError
				if errors.As(err, &noPath) {
					continue
				}
				return nil, err
			}

			total := make([]string, 0, len(rootPath)-1+len(spur.Devices))
			total = append(total, rootPath[:len(rootPath)-1]...)
			total = append(total, spur.Devices...)
			weight, ok := pathWeight(g, total)
			if !ok {
				continue
			}
			candidate := Path{Devices: total, Weight: weight}
			if !candidates.contains(candidate) && !containsSequence(found, candidate) {
				candidates.insert(candidate)
			}
		}

		if len(candidates) == 0 {
			break
		}
		found = append(found, candidates.pop())
	}

	// Weights are already non-decreasing; this settles equal-weight ties into
	// lexicographic device order, which neither Dijkstra's heap nor the
	// acceptance order guarantees on its own.
	sort.Slice(found, func(i, j int) bool { return pathLess(found[i], found[j]) })
	return found, nil
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

func containsSequence(paths []Path, p Path) bool {
	for i := range paths {
		if paths[i].SameDevices(p) {
			return true
		}
	}
	return false
}

func pathWeight(g *topology.Graph, devices []string) (int, bool) {
	weight := 0
	for i := 0; i < len(devices)-1; i++ {
		w, ok := g.EdgeWeight(devices[i], devices[i+1])
		if !ok {
			return 0, false
		}
		weight += w
	}
	return weight, true
}
