package skills

import (
	"fmt"
	"strings"
)

// GPUIdleGaps finds bubbles between consecutive kernels on the same stream.
var GPUIdleGaps = &Skill{
	Name:  "gpu_idle_gaps",
	Title: "GPU Idle Gaps (Bubbles)",
	Description: "Finds idle gaps between consecutive GPU kernels on each stream, " +
		"the 'bubbles' in the pipeline. Large gaps indicate the GPU is waiting " +
		"for CPU, data transfer, or synchronization. These are prime optimization targets.",
	Category: CategoryKernels,
	SQL: `WITH ordered AS (
    SELECT k.streamId,
           k.start, k.[end],
           s.value AS kernel_name,
           LAG(k.[end]) OVER (PARTITION BY k.streamId ORDER BY k.start) AS prev_end,
           LAG(s.value) OVER (PARTITION BY k.streamId ORDER BY k.start) AS prev_kernel
    FROM CUPTI_ACTIVITY_KIND_KERNEL k
    JOIN StringIds s ON k.shortName = s.id
)
SELECT streamId,
       ROUND((start - prev_end) / 1e6, 3) AS gap_ms,
       prev_kernel AS before_kernel,
       kernel_name AS after_kernel
FROM ordered
WHERE prev_end IS NOT NULL AND (start - prev_end) > :min_gap_ns
ORDER BY gap_ms DESC
LIMIT :limit`,
	Params: []Param{
		{Name: "min_gap_ns", Description: "Minimum gap in nanoseconds to report", Type: TypeInt, Default: 1000000},
		{Name: "limit", Description: "Max results", Type: TypeInt, Default: 20},
	},
	Format: formatGPUIdleGaps,
	Tags:   []string{"bubble", "idle", "gap", "pipeline", "stall", "utilization"},
}

func formatGPUIdleGaps(rows []Row) string {
	if len(rows) == 0 {
		return "(No significant GPU idle gaps found — GPU is well-utilized)"
	}
	lines := []string{
		heading("GPU Idle Gaps (Bubbles)"),
		fmt.Sprintf("%7s  %9s  %-50s  %-50s", "Stream", "Gap(ms)", "Before Kernel", "After Kernel"),
		rule(122),
	}
	for _, r := range rows {
		before := clip(orDefault(r.String("before_kernel"), "?"), 48, 50)
		after := clip(orDefault(r.String("after_kernel"), "?"), 48, 50)
		lines = append(lines, fmt.Sprintf("%7d  %9.3f  %s  %s",
			r.Int("streamId"), r.Float("gap_ms"), before, after))
	}
	return strings.Join(lines, "\n")
}
