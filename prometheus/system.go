package plmxs

import (
	"runtime"

	"deckcap/util/timer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

const nb1024 = 1024

func (s *Monitor) system() {
	if s.opts.SystemInterval <= 0 {
		return
	}

	t := timer.NewTicker(s.opts.SystemInterval, s.getSys)

	s.Lock()
	s.ticker = t
	s.Unlock()
}

func (s *Monitor) getSys() {
	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)

	l := prometheus.Labels{"micro_name": s.ServiceName}

	s.MemoryUseGauge.With(l).Set(float64(m.Sys) / float64(nb1024*nb1024))

	if p, ok := GetMemPercent(); ok {
		s.MemoryPercent.With(l).Set(p)
	}

	if p, ok := GetCPUPercent(); ok {
		s.CPUPercent.With(l).Set(p)
	}
}

// GetCPUPercent is the usage since the previous call.
func GetCPUPercent() (float64, bool) {
	percent, err := cpu.Percent(0, false)
	if err != nil || len(percent) == 0 {
		return 0, false
	}

	return percent[0], true
}

func GetMemPercent() (float64, bool) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return 0, false
	}

	return memInfo.UsedPercent, true
}
