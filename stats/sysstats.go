/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/process"
)

// sysCollector exposes the daemon process's own resource usage
// alongside the PTP-specific gauges, grounded on sptp client's
// SysStats.CollectRuntimeStats (same process.Process/runtime.MemStats
// fields), reshaped from that client's periodic map-snapshot into a
// Prometheus collector sampled at scrape time instead.
type sysCollector struct {
	proc *process.Process
}

var (
	descCPUPercent  = prometheus.NewDesc("ptp_process_cpu_percent", "daemon process CPU utilization since the previous scrape", nil, nil)
	descRSS         = prometheus.NewDesc("ptp_process_rss_bytes", "daemon process resident set size", nil, nil)
	descNumFDs      = prometheus.NewDesc("ptp_process_open_fds", "daemon process open file descriptor count", nil, nil)
	descNumGoroutine = prometheus.NewDesc("ptp_process_goroutines", "runtime.NumGoroutine()", nil, nil)
	descHeapAlloc   = prometheus.NewDesc("ptp_process_heap_alloc_bytes", "runtime.MemStats.HeapAlloc", nil, nil)
)

func newSysCollector() *sysCollector {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// a Process handle on our own PID cannot fail in practice; fall
		// back to a nil proc and let Collect skip the fields that need it.
		proc = nil
	}
	return &sysCollector{proc: proc}
}

// Describe implements prometheus.Collector.
func (s *sysCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCPUPercent
	ch <- descRSS
	ch <- descNumFDs
	ch <- descNumGoroutine
	ch <- descHeapAlloc
}

// Collect implements prometheus.Collector.
func (s *sysCollector) Collect(ch chan<- prometheus.Metric) {
	if s.proc != nil {
		if pct, err := s.proc.Percent(0); err == nil {
			ch <- prometheus.MustNewConstMetric(descCPUPercent, prometheus.GaugeValue, pct)
		}
		if mem, err := s.proc.MemoryInfo(); err == nil {
			ch <- prometheus.MustNewConstMetric(descRSS, prometheus.GaugeValue, float64(mem.RSS))
		}
		if n, err := s.proc.NumFDs(); err == nil {
			ch <- prometheus.MustNewConstMetric(descNumFDs, prometheus.GaugeValue, float64(n))
		}
	}
	ch <- prometheus.MustNewConstMetric(descNumGoroutine, prometheus.GaugeValue, float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	ch <- prometheus.MustNewConstMetric(descHeapAlloc, prometheus.GaugeValue, float64(m.HeapAlloc))
}
