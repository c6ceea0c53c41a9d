package classifier

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// threadCount resolves the configured interpreter thread count. Zero picks
// the physical core count, which avoids oversubscribing SMT siblings.
func threadCount(configured int) int {
	available := runtime.NumCPU()
	if configured > 0 {
		return min(configured, available)
	}
	if cores := cpuid.CPU.PhysicalCores; cores > 0 {
		return min(cores, available)
	}
	if cores := cpuid.CPU.LogicalCores; cores > 0 {
		return min(cores, available)
	}
	return available
}
