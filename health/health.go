package health

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// Snapshot is a point-in-time view of the host running the orchestrator,
// surfaced through the status endpoint.
type Snapshot struct {
	Hostname       string    `json:"hostname"`
	Platform       string    `json:"platform"`
	UptimeSeconds  uint64    `json:"uptimeSeconds"`
	CPUPercent     float64   `json:"cpuPercent"`
	MemUsedPercent float64   `json:"memUsedPercent"`
	Load1          float64   `json:"load1"`
	CollectedAt    time.Time `json:"collectedAt"`
}

// Collect gathers what it can; individual probe failures are logged and the
// corresponding fields left zero.
func Collect() *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now()}

	if info, err := host.Info(); err == nil {
		snap.Hostname = info.Hostname
		snap.Platform = info.Platform
		snap.UptimeSeconds = info.Uptime
	} else {
		log.Warnf("host info probe failed: %v", err)
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		log.Warnf("cpu probe failed: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedPercent = vm.UsedPercent
	} else {
		log.Warnf("memory probe failed: %v", err)
	}

	if avg, err := load.Avg(); err == nil {
		snap.Load1 = avg.Load1
	} else {
		log.Warnf("load probe failed: %v", err)
	}

	return snap
}
