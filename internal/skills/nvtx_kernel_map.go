package skills

import (
	"fmt"
	"strings"
)

// nvtxPushPopRange is the NVTX_EVENTS eventType of push/pop ranges.
const nvtxPushPopRange = 59

// NVTXKernelMap attributes kernels to the NVTX range enclosing their launch call.
var NVTXKernelMap = &Skill{
	Name:  "nvtx_kernel_map",
	Title: "NVTX → Kernel Mapping",
	Description: "Maps NVTX annotation ranges to the GPU kernels that execute within them. " +
		"This is the core of source-code attribution: each NVTX range tells you " +
		"which code region launched which kernels.",
	Category: CategoryNVTX,
	SQL: fmt.Sprintf(`SELECT n.text AS nvtx_text,
       s.value AS kernel_name,
       ROUND(k.start / 1e6, 3) AS start_ms,
       ROUND(k.[end] / 1e6, 3) AS end_ms
FROM NVTX_EVENTS n
JOIN CUPTI_ACTIVITY_KIND_RUNTIME r
  ON n.eventType = %d
  AND n.globalTid = r.globalTid
  AND n.start <= r.start
  AND n.[end] >= r.[end]
JOIN CUPTI_ACTIVITY_KIND_KERNEL k
  ON r.correlationId = k.correlationId
JOIN StringIds s ON k.shortName = s.id
ORDER BY k.start
LIMIT :limit`, nvtxPushPopRange),
	Params: []Param{
		{Name: "limit", Description: "Max results", Type: TypeInt, Default: 50},
	},
	Format: formatNVTXKernelMap,
	Tags:   []string{"nvtx", "kernel", "source", "attribution", "mapping"},
}

func formatNVTXKernelMap(rows []Row) string {
	if len(rows) == 0 {
		return "(No NVTX-to-kernel mappings found — are NVTX annotations present?)"
	}
	lines := []string{
		heading("NVTX → Kernel Mapping"),
		fmt.Sprintf("%-50s  %-50s  %10s  %10s", "NVTX Range", "Kernel", "Start(ms)", "End(ms)"),
		rule(126),
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s  %s  %10.3f  %10.3f",
			clip(orDefault(r.String("nvtx_text"), "(unnamed)"), 48, 50),
			clip(r.String("kernel_name"), 48, 50),
			r.Float("start_ms"), r.Float("end_ms")))
	}
	return strings.Join(lines, "\n")
}
