package skills

import (
	"fmt"
	"strings"
)

// NCCLBreakdown summarizes NCCL collective kernels by name.
var NCCLBreakdown = &Skill{
	Name:  "nccl_breakdown",
	Title: "NCCL Collective Breakdown",
	Description: "Summarizes NCCL collective operations (AllReduce, AllGather, ReduceScatter, etc.) " +
		"by type, showing count, total time, and variability. Use this to assess whether " +
		"communication is a bottleneck in distributed training.",
	Category: CategoryCommunication,
	SQL: `SELECT s.value AS kernel_name,
       COUNT(*) AS count,
       ROUND(SUM(k.[end] - k.start) / 1e6, 2) AS total_ms,
       ROUND(AVG(k.[end] - k.start) / 1e6, 2) AS avg_ms,
       ROUND(MAX(k.[end] - k.start) / 1e6, 2) AS max_ms
FROM CUPTI_ACTIVITY_KIND_KERNEL k
JOIN StringIds s ON k.shortName = s.id
WHERE s.value LIKE '%nccl%' OR s.value LIKE '%NCCL%'
GROUP BY s.value
ORDER BY total_ms DESC`,
	Format: formatNCCLBreakdown,
	Tags:   []string{"nccl", "collective", "allreduce", "communication", "distributed", "multi-gpu"},
}

func formatNCCLBreakdown(rows []Row) string {
	if len(rows) == 0 {
		return "(No NCCL operations found — is this a multi-GPU profile?)"
	}
	lines := []string{
		heading("NCCL Collective Breakdown"),
		fmt.Sprintf("%-40s  %7s  %10s  %9s  %9s", "Operation", "Count", "Total(ms)", "Avg(ms)", "Max(ms)"),
		rule(82),
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s  %7d  %10.2f  %9.2f  %9.2f",
			clip(r.String("kernel_name"), 38, 40), r.Int("count"),
			r.Float("total_ms"), r.Float("avg_ms"), r.Float("max_ms")))
	}
	return strings.Join(lines, "\n")
}
