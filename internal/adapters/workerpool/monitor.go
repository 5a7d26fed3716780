package workerpool

import (
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// fallbackUsage is reported when a reading fails so the pool neither scales
// up nor down on missing data.
const fallbackUsage = 0.5

// LoadMonitor tracks system resource usage.
type LoadMonitor struct {
	cpuThreshold float64
	memThreshold float64
	readCPU      func() (float64, error)
	readMem      func() (float64, error)
	log          zerolog.Logger
}

// NewLoadMonitor creates a LoadMonitor backed by gopsutil readings.
func NewLoadMonitor(cpuThreshold, memThreshold float64, log zerolog.Logger) *LoadMonitor {
	return &LoadMonitor{
		cpuThreshold: cpuThreshold,
		memThreshold: memThreshold,
		readCPU:      hostCPU,
		readMem:      hostMem,
		log:          log,
	}
}

// hostCPU compares against the previous call, so it never blocks.
func hostCPU() (float64, error) {
	percent, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return fallbackUsage, nil
	}
	return percent[0] / 100.0, nil
}

func hostMem() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent / 100.0, nil
}

// GetCPUUsage returns the current CPU usage fraction (0.0 to 1.0).
func (lm *LoadMonitor) GetCPUUsage() float64 {
	v, err := lm.readCPU()
	if err != nil {
		lm.log.Debug().Err(err).Msg("cpu usage unavailable")
		return fallbackUsage
	}
	return v
}

// GetMemUsage returns the current memory usage fraction (0.0 to 1.0).
func (lm *LoadMonitor) GetMemUsage() float64 {
	v, err := lm.readMem()
	if err != nil {
		lm.log.Debug().Err(err).Msg("memory usage unavailable")
		return fallbackUsage
	}
	return v
}

// GetCPUThreshold returns the configured CPU threshold.
func (lm *LoadMonitor) GetCPUThreshold() float64 {
	return lm.cpuThreshold
}

// GetMemThreshold returns the configured Memory threshold.
func (lm *LoadMonitor) GetMemThreshold() float64 {
	return lm.memThreshold
}
