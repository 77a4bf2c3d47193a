package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats はプロセスとホストのリソース状況
type SystemStats struct {
	Timestamp time.Time `json:"timestamp"`

	// Process specific
	NumGoroutine int    `json:"num_goroutine"`
	Alloc        uint64 `json:"alloc_bytes"`
	Sys          uint64 `json:"sys_bytes"`
	NumGC        uint32 `json:"num_gc"`

	// System wide
	TotalRAM        uint64  `json:"total_ram"`
	AvailableRAM    uint64  `json:"available_ram"`
	UsedRAMPercent  float64 `json:"used_ram_percent"`
	TotalCPUCores   int     `json:"total_cpu_cores"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
}

// CollectSystemStats は現在のリソース状況を集める
// ホスト情報が取れない環境ではその項目はゼロのまま返す
func CollectSystemStats() SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Timestamp:     time.Now(),
		NumGoroutine:  runtime.NumGoroutine(),
		Alloc:         memStats.Alloc,
		Sys:           memStats.Sys,
		NumGC:         memStats.NumGC,
		TotalCPUCores: runtime.NumCPU(),
	}

	if vMem, err := mem.VirtualMemory(); err == nil && vMem != nil {
		stats.TotalRAM = vMem.Total
		stats.AvailableRAM = vMem.Available
		stats.UsedRAMPercent = vMem.UsedPercent
	}

	// interval 0 は前回呼び出しからの使用率を返す
	if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
		stats.CPUUsagePercent = percent[0]
	}

	return stats
}

func (s *Server) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, CollectSystemStats())
}
