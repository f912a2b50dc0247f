package http

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/crazycatseven/Faster-whisper/pkg/util"
)

// processMemory reports resident memory of this process and of the host, or
// nil when the platform does not expose it.
func processMemory() gin.H {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return nil
	}
	out := gin.H{
		"rss_mb": util.Round(float64(info.RSS)/(1<<20), 1),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["system_total_mb"] = util.Round(float64(vm.Total)/(1<<20), 0)
		out["system_used_percent"] = util.Round(vm.UsedPercent, 1)
	}
	return out
}
