package routing

import (
	"testing"
)

func TestWalkSimplePaths(t *testing.T) {
	diamond := func() []edge {
		return []edge{
			{"s1", "s2", 1},
			{"s1", "s3", 2},
			{"s2", "s4", 1},
			{"s3", "s4", 1},
		}
	}

	t.Run("DiamondEnumeration", func(t *testing.T) {
		g := makeGraph(t, diamond()...)
		paths := AllPaths(g, "s1", "s4")
		if len(paths) != 2 {
			t.Fatalf("expected 2 simple paths, got %d", len(paths))
		}
		for _, p := range paths {
			switch {
			case p.SameDevices(Path{Devices: []string{"s1", "s2", "s4"}}):
				if p.Weight != 2 {
					t.Errorf("expected weight 2 via s2, got %d", p.Weight)
				}
			case p.SameDevices(Path{Devices: []string{"s1", "s3", "s4"}}):
				if p.Weight != 3 {
					t.Errorf("expected weight 3 via s3, got %d", p.Weight)
				}
			default:
				t.Errorf("unexpected path %v", p.Devices)
			}
		}
	})

	t.Run("EarlyStop", func(t *testing.T) {
		g := makeGraph(t, diamond()...)
		var visited []Path
		WalkSimplePaths(g, "s1", "s4", func(p Path) bool {
			visited = append(visited, p)
			return false
		})
		if len(visited) != 1 {
			t.Errorf("walk did not stop after visit returned false, saw %d paths", len(visited))
		}
	})

	t.Run("CyclicGraphTerminates", func(t *testing.T) {
		g := makeGraph(t,
			edge{"s1", "s2", 1},
			edge{"s2", "s3", 1},
			edge{"s3", "s1", 1}, // triangle
			edge{"s3", "s4", 1},
		)
		paths := AllPaths(g, "s1", "s4")
		// s1-s2-s3-s4 and s1-s3-s4; each visits every device at most once.
		if len(paths) != 2 {
			t.Errorf("expected 2 simple paths through the triangle, got %d", len(paths))
		}
	})

	t.Run("StartEqualsEnd", func(t *testing.T) {
		g := makeGraph(t, edge{"s1", "s2", 1})
		paths := AllPaths(g, "s1", "s1")
		if len(paths) != 1 || len(paths[0].Devices) != 1 {
			t.Errorf("expected the single-node path, got %v", paths)
		}
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		g := makeGraph(t, edge{"s1", "s2", 1})
		if paths := AllPaths(g, "s1", "s9"); len(paths) != 0 {
			t.Errorf("expected no paths to an unknown device, got %v", paths)
		}
	})
}
