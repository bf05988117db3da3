package utils

import (
	"log"
	"runtime"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
)

// LogIfDev 仅在开发构建中输出
func LogIfDev(v ...any) {
	if config.IsDevelopment() {
		log.Println(v...)
	}
}

// LogIfDevf 仅在开发构建中输出（格式化）
func LogIfDevf(format string, v ...any) {
	if config.IsDevelopment() {
		log.Printf(format, v...)
	}
}

// MonitorMemory 记录一次操作前后的堆内存变化，仅开发构建生效
func MonitorMemory(operation string) func() {
	if !config.IsDevelopment() {
		return func() {}
	}
	start := time.Now()
	before := heapAllocMB()

	return func() {
		after := heapAllocMB()
		log.Printf("[Memory][%s] Delta=%+.2fMB (Before=%.2fMB, After=%.2fMB), Goroutines=%d, Took=%s",
			operation, after-before, before, after, runtime.NumGoroutine(), time.Since(start))
	}
}

func heapAllocMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / 1024 / 1024
}
