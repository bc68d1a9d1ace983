package routing

import (
	"fmt"
	"strings"
)

// Path is an ordered, simple sequence of device identifiers plus the sum of
// traversed edge weights. Paths are produced fresh per request and never
// mutated.
type Path struct {
	Devices []string
	Weight  int
}

func (p Path) String() string {
	return fmt.Sprintf("%s (weight %d)", strings.Join(p.Devices, " -> "), p.Weight)
}

// SameDevices reports whether two paths traverse the identical ordered
// device sequence, ignoring weights.
func (p Path) SameDevices(o Path) bool {
	if len(p.Devices) != len(o.Devices) {
		return false
	}
	for i := range p.Devices {
		if p.Devices[i] != o.Devices[i] {
			return false
		}
	}
	return true
}

// NoPathError is the structural "host unreachable" outcome. It is a normal
// result, not a fault; the partial distance table is carried for diagnostics.
type NoPathError struct {
	Start     string
	End       string
	Distances map[string]int
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no path from %s to %s", e.Start, e.End)
}

// pathLess orders paths by weight ascending, ties broken by the device
// sequence compared lexicographically.
func pathLess(a, b Path) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	n := len(a.Devices)
	if len(b.Devices) < n {
		n = len(b.Devices)
	}
	for i := 0; i < n; i++ {
		if a.Devices[i] != b.Devices[i] {
			return a.Devices[i] < b.Devices[i]
		}
	}
	return len(a.Devices) < len(b.Devices)
}
