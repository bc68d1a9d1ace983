package routing

import (
	"pathflow/topology"
)

// WalkSimplePaths enumerates every simple path from start to end depth-first
// and hands each one to visit. Returning false from visit stops the walk.
// A per-branch visited set keeps paths simple and the depth is additionally
// capped at the device count, so the walk terminates on any finite graph,
// cycles included.
func WalkSimplePaths(g *topology.Graph, start, end string, visit func(Path) bool) {
	if !g.HasDevice(start) || !g.HasDevice(end) {
		return
	}

	maxDepth := g.DeviceCount()
	visited := map[string]bool{start: true}
	stack := []string{start}
	weight := 0
	stopped := false

	var walk func(current string)
	walk = func(current string) {
		if stopped {
			return
		}
		if current == end {
			devices := make([]string, len(stack))
			copy(devices, stack)
			if !visit(Path{Devices: devices, Weight: weight}) {
				stopped = true
			}
			return
		}
		if len(stack) >= maxDepth {
			return
		}
		for _, e := range g.Neighbors(current) {
			if visited[e.Neighbor] {
				continue
			}
			visited[e.Neighbor] = true
			stack = append(stack, e.Neighbor)
			weight += e.Weight

			walk(e.Neighbor)

			weight -= e.Weight
			stack = stack[:len(stack)-1]
			delete(visited, e.Neighbor)
			if stopped {
				return
			}
		}
	}
	walk(start)
}

// AllPaths collects the full simple-path enumeration.
func AllPaths(g *topology.Graph, start, end string) []Path {
	var paths []Path
	WalkSimplePaths(g, start, end, func(p Path) bool {
		paths = append(paths, p)
		return true
	})
	return paths
}
