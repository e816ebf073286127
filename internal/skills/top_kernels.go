package skills

import (
	"fmt"
	"strings"
)

// TopKernels ranks kernels by cumulative GPU time.
var TopKernels = &Skill{
	Name:  "top_kernels",
	Title: "Top GPU Kernels by Total Time",
	Description: "Lists the heaviest GPU kernels ranked by cumulative execution time. " +
		"Use this to identify hotspots, the kernels that dominate total GPU time.",
	Category: CategoryKernels,
	SQL: `SELECT s.value AS kernel_name,
       COUNT(*) AS invocations,
       ROUND(SUM(k.[end] - k.start) / 1e6, 2) AS total_ms,
       ROUND(AVG(k.[end] - k.start) / 1e6, 2) AS avg_ms,
       ROUND(MIN(k.[end] - k.start) / 1e6, 2) AS min_ms,
       ROUND(MAX(k.[end] - k.start) / 1e6, 2) AS max_ms
FROM CUPTI_ACTIVITY_KIND_KERNEL k
JOIN StringIds s ON k.demangledName = s.id
GROUP BY s.value
ORDER BY total_ms DESC
LIMIT :limit`,
	Params: []Param{
		{Name: "limit", Description: "Max number of kernels to return", Type: TypeInt, Default: 15},
	},
	Format: formatTopKernels,
	Tags:   []string{"hotspot", "kernel", "duration", "performance", "top"},
}

func formatTopKernels(rows []Row) string {
	if len(rows) == 0 {
		return "(No kernels found)"
	}
	lines := []string{
		heading("Top GPU Kernels by Total Time"),
		fmt.Sprintf("%-60s  %7s  %10s  %9s  %9s  %9s", "Kernel", "Count", "Total(ms)", "Avg(ms)", "Min(ms)", "Max(ms)"),
		rule(112),
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s  %7d  %10.2f  %9.2f  %9.2f  %9.2f",
			clip(r.String("kernel_name"), 58, 60), r.Int("invocations"),
			r.Float("total_ms"), r.Float("avg_ms"), r.Float("min_ms"), r.Float("max_ms")))
	}
	return strings.Join(lines, "\n")
}
