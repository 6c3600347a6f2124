// Package system reports information about the host the bot runs on.
package system

import (
	"path/filepath"
	"runtime"
	"time"

	"emperror.dev/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

var started = time.Now()

type Information struct {
	Version string  `json:"version"`
	System  System  `json:"system"`
	Process Process `json:"process"`
}

type System struct {
	Architecture  string `json:"architecture"`
	CPUThreads    int    `json:"cpu_threads"`
	MemoryBytes   uint64 `json:"memory_bytes"`
	KernelVersion string `json:"kernel_version"`
	OS            string `json:"os"`
	OSType        string `json:"os_type"`
}

type Process struct {
	GoVersion     string `json:"go_version"`
	Goroutines    int    `json:"goroutines"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type Utilization struct {
	MemoryTotal uint64  `json:"memory_total"`
	MemoryUsed  uint64  `json:"memory_used"`
	SwapTotal   uint64  `json:"swap_total"`
	SwapUsed    uint64  `json:"swap_used"`
	LoadAvg1    float64 `json:"load_average1"`
	LoadAvg5    float64 `json:"load_average5"`
	LoadAvg15   float64 `json:"load_average15"`
	CpuPercent  float64 `json:"cpu_percent"`
	// Disk usage of the volume holding the database.
	DiskTotal uint64 `json:"disk_total"`
	DiskUsed  uint64 `json:"disk_used"`
}

func GetSystemInformation() (*Information, error) {
	kernelVersion, err := host.KernelVersion()
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read kernel version")
	}
	m, err := mem.VirtualMemory()
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read memory")
	}

	return &Information{
		Version: Version,
		System: System{
			Architecture:  runtime.GOARCH,
			CPUThreads:    runtime.NumCPU(),
			MemoryBytes:   m.Total,
			KernelVersion: kernelVersion,
			OS:            getOperatingSystemName(),
			OSType:        runtime.GOOS,
		},
		Process: Process{
			GoVersion:     runtime.Version(),
			Goroutines:    runtime.NumGoroutine(),
			UptimeSeconds: int64(time.Since(started).Seconds()),
		},
	}, nil
}

// GetSystemUtilization returns the current load of the host. Disk figures are
// those of the volume holding dataPath; they are left empty when it cannot be
// read.
func GetSystemUtilization(dataPath string) (*Utilization, error) {
	c, err := cpu.Percent(0, false)
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read cpu usage")
	}
	m, err := mem.VirtualMemory()
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read memory")
	}
	s, err := mem.SwapMemory()
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read swap")
	}
	l, err := load.Avg()
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read load average")
	}

	u := &Utilization{
		MemoryTotal: m.Total,
		MemoryUsed:  m.Used,
		SwapTotal:   s.Total,
		SwapUsed:    s.Used,
		LoadAvg1:    l.Load1,
		LoadAvg5:    l.Load5,
		LoadAvg15:   l.Load15,
	}
	if len(c) > 0 {
		u.CpuPercent = c[0]
	}
	if dataPath != "" {
		if d, err := disk.Usage(filepath.Dir(dataPath)); err == nil {
			u.DiskTotal = d.Total
			u.DiskUsed = d.Used
		}
	}
	return u, nil
}
