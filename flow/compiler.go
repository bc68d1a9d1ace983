package flow

import (
	"fmt"
	"strconv"

	"pathflow/controller"
	"pathflow/routing"
	"pathflow/topology"
)

const (
	// Host-pair rules share one fixed priority so that comparison and
	// cleanup never have to reason about counters.
	HostPairPriority = 40000
	// ARP and broadcast flooding sits below every host-pair rule.
	ARPPriority       = 30000
	BroadcastPriority = 30000

	// AppID tags every rule this application installs; removal filters on it
	// so foreign rules are never touched.
	AppID = "org.onosproject.rest"

	broadcastMAC = "ff:ff:ff:ff:ff:ff"
	arpEthType   = "0x0806"
)

type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// RuleInstallation is one rule install operation of a compiled unit, in the
// order it must be issued.
type RuleInstallation struct {
	DeviceID  string
	Direction Direction
	Hop       int
	Rule      controller.RuleSpec
}

// Compiler turns a device-level path into the ordered forwarding-rule set
// establishing both communication directions as one unit.
type Compiler struct{}

func NewCompiler() *Compiler { return &Compiler{} }

// Compile emits, for a path [d1..dn], one rule per hop in the forward
// direction (matching src->dst traffic, outputting toward the next hop)
// followed by the mirrored reverse set over the reversed device order. A
// single-device path emits one rule per direction outputting to the peer
// host's attachment port.
func (c *Compiler) Compile(g *topology.Graph, path routing.Path, src, dst topology.Host) ([]RuleInstallation, error) {
	devices := path.Devices
	if len(devices) == 0 {
		return nil, fmt.Errorf("empty path for %s -> %s", src.MAC, dst.MAC)
	}
	if devices[0] != src.DeviceID {
		return nil, fmt.Errorf("path starts at %s but host %s attaches to %s", devices[0], src.MAC, src.DeviceID)
	}
	if devices[len(devices)-1] != dst.DeviceID {
		return nil, fmt.Errorf("path ends at %s but host %s attaches to %s", devices[len(devices)-1], dst.MAC, dst.DeviceID)
	}

	if len(devices) == 1 {
		return []RuleInstallation{
			{DeviceID: devices[0], Direction: Forward, Hop: 0, Rule: hostPairRule(devices[0], src.MAC, dst.MAC, dst.Port)},
			{DeviceID: devices[0], Direction: Reverse, Hop: 0, Rule: hostPairRule(devices[0], dst.MAC, src.MAC, src.Port)},
		}, nil
	}

	forward, err := compileDirection(g, devices, src.MAC, dst.MAC, Forward)
	if err != nil {
		return nil, err
	}
	reversed := make([]string, len(devices))
	for i, d := range devices {
		reversed[len(devices)-1-i] = d
	}
	reverse, err := compileDirection(g, reversed, dst.MAC, src.MAC, Reverse)
	if err != nil {
		return nil, err
	}
	return append(forward, reverse...), nil
}

func compileDirection(g *topology.Graph, devices []string, srcMAC, dstMAC string, dir Direction) ([]RuleInstallation, error) {
	installs := make([]RuleInstallation, 0, len(devices)-1)
	for i := 0; i < len(devices)-1; i++ {
		port, ok := g.OutputPort(devices[i], devices[i+1])
		if !ok {
			return nil, fmt.Errorf("no link port from %s to %s", devices[i], devices[i+1])
		}
		installs = append(installs, RuleInstallation{
			DeviceID:  devices[i],
			Direction: dir,
			Hop:       i,
			Rule:      hostPairRule(devices[i], srcMAC, dstMAC, port),
		})
	}
	return installs, nil
}

func hostPairRule(deviceID, srcMAC, dstMAC string, outPort int) controller.RuleSpec {
	return controller.RuleSpec{
		Priority:    HostPairPriority,
		Timeout:     0,
		IsPermanent: true,
		DeviceID:    deviceID,
		AppID:       AppID,
		Treatment: controller.Treatment{
			Instructions: []controller.Instruction{{Type: "OUTPUT", Port: strconv.Itoa(outPort)}},
		},
		Selector: controller.Selector{
			Criteria: []controller.Criterion{
				{Type: "ETH_SRC", MAC: srcMAC},
				{Type: "ETH_DST", MAC: dstMAC},
			},
		},
	}
}

// IsHostPairRule reports whether an installed rule carries the ETH_SRC and
// ETH_DST match for the given pair, in either direction.
func IsHostPairRule(rule controller.RuleSpec, macA, macB string) bool {
	if rule.Priority != HostPairPriority {
		return false
	}
	var src, dst string
	for _, c := range rule.Selector.Criteria {
		switch c.Type {
		case "ETH_SRC":
			src = c.MAC
		case "ETH_DST":
			dst = c.MAC
		}
	}
	return (src == macA && dst == macB) || (src == macB && dst == macA)
}

// CompileARP emits one rule per device flooding ARP traffic to all enabled
// ports. Independent of any host pair and installed once per topology.
func (c *Compiler) CompileARP(g *topology.Graph) []RuleInstallation {
	var installs []RuleInstallation
	for i, id := range g.DeviceIDs() {
		dev, _ := g.Device(id)
		if len(dev.Ports) == 0 {
			continue
		}
		instructions := make([]controller.Instruction, 0, len(dev.Ports))
		for _, p := range dev.Ports {
			instructions = append(instructions, controller.Instruction{Type: "OUTPUT", Port: strconv.Itoa(p)})
		}
		installs = append(installs, RuleInstallation{
			DeviceID:  id,
			Direction: Forward,
			Hop:       i,
			Rule: controller.RuleSpec{
				Priority:    ARPPriority,
				Timeout:     0,
				IsPermanent: true,
				DeviceID:    id,
				AppID:       AppID,
				Treatment:   controller.Treatment{Instructions: instructions},
				Selector: controller.Selector{
					Criteria: []controller.Criterion{{Type: "ETH_TYPE", EthType: arpEthType}},
				},
			},
		})
	}
	return installs
}

// CompileBroadcast emits one rule per device flooding the broadcast MAC to
// its host-facing ports.
func (c *Compiler) CompileBroadcast(g *topology.Graph) []RuleInstallation {
	var installs []RuleInstallation
	for i, id := range g.DeviceIDs() {
		ports := g.HostPorts(id)
		if len(ports) == 0 {
			continue
		}
		instructions := make([]controller.Instruction, 0, len(ports))
		for _, p := range ports {
			instructions = append(instructions, controller.Instruction{Type: "OUTPUT", Port: strconv.Itoa(p)})
		}
		installs = append(installs, RuleInstallation{
			DeviceID:  id,
			Direction: Forward,
			Hop:       i,
			Rule: controller.RuleSpec{
				Priority:    BroadcastPriority,
				Timeout:     0,
				IsPermanent: true,
				DeviceID:    id,
				AppID:       AppID,
				Treatment:   controller.Treatment{Instructions: instructions},
				Selector: controller.Selector{
					Criteria: []controller.Criterion{{Type: "ETH_DST", MAC: broadcastMAC}},
				},
			},
		})
	}
	return installs
}
