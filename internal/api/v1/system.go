package api

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/potholewatch/potholewatch/internal/logger"
)

// SystemInfo is returned by GET /system.
type SystemInfo struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Architecture  string    `json:"architecture"`
	Platform      string    `json:"platform"`
	PlatformVer   string    `json:"platform_version"`
	KernelVersion string    `json:"kernel_version"`
	UpTime        uint64    `json:"uptime_seconds"`
	AppStart      time.Time `json:"app_start_time"`
	NumCPU        int       `json:"num_cpu"`
	GoVersion     string    `json:"go_version"`
	Goroutines    int       `json:"goroutines"`

	MemoryTotal uint64  `json:"memory_total"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryUsage float64 `json:"memory_usage_percent"`
	ProcessRSS  uint64  `json:"process_rss"`

	Storage *DiskInfo `json:"storage,omitempty"`
}

// DiskInfo describes the filesystem holding the persistent slot.
type DiskInfo struct {
	Path  string  `json:"path"`
	Total uint64  `json:"total"`
	Free  uint64  `json:"free"`
	Usage float64 `json:"usage_percent"`
}

// GetSystemInfo reports host and process resources. Individual probes that
// fail are logged and left zero; the endpoint still answers.
func (c *Controller) GetSystemInfo(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		AppStart:     c.startTime,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hi, err := host.InfoWithContext(rctx); err == nil {
		info.Platform = hi.Platform
		info.PlatformVer = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
		info.UpTime = hi.Uptime
	} else {
		c.logger.Debug("host info unavailable", logger.Error(err))
	}
	if vm, err := mem.VirtualMemoryWithContext(rctx); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
		info.MemoryUsage = vm.UsedPercent
	} else {
		c.logger.Debug("memory info unavailable", logger.Error(err))
	}
	if proc, err := process.NewProcessWithContext(rctx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(rctx); err == nil && mi != nil {
			info.ProcessRSS = mi.RSS
		}
	}

	if path := c.storagePath(); path != "" {
		if usage, err := disk.UsageWithContext(rctx, path); err == nil {
			info.Storage = &DiskInfo{
				Path:  path,
				Total: usage.Total,
				Free:  usage.Free,
				Usage: usage.UsedPercent,
			}
		} else {
			c.logger.Debug("disk usage unavailable", logger.String("path", path), logger.Error(err))
		}
	}

	return ctx.JSON(http.StatusOK, info)
}

// storagePath is the local directory backing the history, if any.
func (c *Controller) storagePath() string {
	switch c.settings.Storage.Backend {
	case "file":
		return c.settings.Storage.File.Dir
	case "database":
		if c.settings.Database.Type == "sqlite" && c.settings.Database.SQLite.Path != ":memory:" {
			return filepath.Dir(c.settings.Database.SQLite.Path)
		}
	}
	return ""
}
