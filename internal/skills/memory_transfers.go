package skills

import (
	"fmt"
	"strings"
)

// copyKinds maps CUPTI memcpy kinds to transfer directions.
var copyKinds = map[int64]string{1: "H2D", 2: "D2H", 8: "D2D", 10: "P2P"}

// MemoryTransfers summarizes memory copies by direction.
var MemoryTransfers = &Skill{
	Name:  "memory_transfers",
	Title: "Memory Transfer Summary",
	Description: "Breaks down memory copy operations by direction (Host→Device, Device→Host, " +
		"Device→Device, Peer-to-Peer). Excessive H2D transfers in the critical path " +
		"often indicate data not being pre-staged on GPU.",
	Category: CategoryMemory,
	SQL: `SELECT copyKind,
       COUNT(*) AS count,
       ROUND(SUM(bytes) / 1e6, 2) AS total_mb,
       ROUND(SUM([end] - start) / 1e6, 2) AS total_ms
FROM CUPTI_ACTIVITY_KIND_MEMCPY
GROUP BY copyKind
ORDER BY total_ms DESC`,
	Format: formatMemoryTransfers,
	Tags:   []string{"memory", "transfer", "H2D", "D2H", "copy", "bandwidth"},
}

// CopyDirection names a CUPTI copy kind, or "kind=N" for unmapped kinds.
func CopyDirection(kind int64) string {
	if d, ok := copyKinds[kind]; ok {
		return d
	}
	return fmt.Sprintf("kind=%d", kind)
}

func formatMemoryTransfers(rows []Row) string {
	if len(rows) == 0 {
		return "(No memory transfers found)"
	}
	lines := []string{
		heading("Memory Transfers Summary"),
		fmt.Sprintf("%-10s  %7s  %10s  %10s", "Direction", "Count", "Total(MB)", "Total(ms)"),
		rule(44),
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-10s  %7d  %10.2f  %10.2f",
			CopyDirection(r.Int("copyKind")), r.Int("count"), r.Float("total_mb"), r.Float("total_ms")))
	}
	return strings.Join(lines, "\n")
}
