package skills

import (
	"fmt"
	"strings"
)

// KernelLaunchOverhead measures the delay from runtime API call to kernel start,
// joining host calls to kernels through their correlation id.
var KernelLaunchOverhead = &Skill{
	Name:  "kernel_launch_overhead",
	Title: "Kernel Launch Overhead",
	Description: "Measures the gap between a CUDA Runtime API call (e.g. cudaLaunchKernel) " +
		"and the actual GPU kernel execution. High overhead indicates CPU-side " +
		"bottlenecks or excessive kernel launch latency.",
	Category: CategoryKernels,
	SQL: `SELECT s.value AS kernel_name,
       ROUND((r.[end] - r.start) / 1e6, 3) AS api_ms,
       ROUND((k.[end] - k.start) / 1e6, 3) AS kernel_ms,
       ROUND((k.start - r.start) / 1e3, 1) AS overhead_us
FROM CUPTI_ACTIVITY_KIND_RUNTIME r
JOIN CUPTI_ACTIVITY_KIND_KERNEL k ON r.correlationId = k.correlationId
JOIN StringIds s ON k.shortName = s.id
ORDER BY overhead_us DESC
LIMIT :limit`,
	Params: []Param{
		{Name: "limit", Description: "Max results", Type: TypeInt, Default: 20},
	},
	Format: formatKernelLaunchOverhead,
	Tags:   []string{"launch", "overhead", "latency", "cpu", "bottleneck"},
}

func formatKernelLaunchOverhead(rows []Row) string {
	if len(rows) == 0 {
		return "(No kernel launch overhead data found)"
	}
	lines := []string{
		heading("Kernel Launch Overhead"),
		fmt.Sprintf("%-50s  %8s  %9s  %13s", "Kernel", "API(ms)", "Kern(ms)", "Overhead(μs)"),
		rule(86),
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s  %8.3f  %9.3f  %13.1f",
			clip(r.String("kernel_name"), 48, 50),
			r.Float("api_ms"), r.Float("kernel_ms"), r.Float("overhead_us")))
	}
	return strings.Join(lines, "\n")
}
