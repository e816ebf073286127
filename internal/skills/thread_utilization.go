package skills

import (
	"fmt"
	"strings"
)

// ThreadUtilization ranks host threads by their share of sampled CPU cycles.
// Thread ids are the low 24 bits of globalTid.
var ThreadUtilization = &Skill{
	Name:  "thread_utilization",
	Title: "CPU Thread Utilization",
	Description: "Shows CPU utilization by thread. Helps identify whether a CPU-bound " +
		"thread is starving the GPU of work. Common in data loading, preprocessing, " +
		"or Python GIL contention scenarios.",
	Category: CategorySystem,
	SQL: `SELECT ce.globalTid % 16777216 AS tid,
       (SELECT s.value FROM StringIds s
        WHERE s.id = (SELECT tn.nameId FROM ThreadNames tn
                      WHERE tn.globalTid = ce.globalTid LIMIT 1)
       ) AS thread_name,
       ROUND(100.0 * SUM(ce.cpuCycles) / (
           SELECT MAX(1, SUM(cpuCycles)) FROM COMPOSITE_EVENTS
       ), 2) AS cpu_pct
FROM COMPOSITE_EVENTS ce
GROUP BY ce.globalTid
ORDER BY cpu_pct DESC
LIMIT :limit`,
	Params: []Param{
		{Name: "limit", Description: "Max threads to show", Type: TypeInt, Default: 10},
	},
	Format: formatThreadUtilization,
	Tags:   []string{"cpu", "thread", "utilization", "bottleneck", "GIL"},
}

func formatThreadUtilization(rows []Row) string {
	if len(rows) == 0 {
		return "(No CPU utilization data found — COMPOSITE_EVENTS table may be missing)"
	}
	lines := []string{
		heading("CPU Thread Utilization"),
		fmt.Sprintf("%8s  %-40s  %7s", "TID", "Thread Name", "CPU %"),
		rule(60),
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%8d  %s  %7.2f",
			r.Int("tid"), clip(orDefault(r.String("thread_name"), "(unnamed)"), 38, 40), r.Float("cpu_pct")))
	}
	return strings.Join(lines, "\n")
}
