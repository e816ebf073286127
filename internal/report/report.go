package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GindaChen/nsys-tui/internal/profile"
)

// regressionFactor marks iterations slower than this multiple of the median.
const regressionFactor = 1.5

// Data is an assembled report for one device window.
type Data struct {
	ProfilePath string           `json:"profile"`
	Device      int              `json:"device"`
	Window      *profile.Window  `json:"window,omitempty"`
	Summary     Summary          `json:"summary"`
	Hierarchy   string           `json:"nvtx_summary"`
	Overlap     OverlapResult    `json:"overlap"`
	NCCL        NCCLResult       `json:"nccl_breakdown"`
	Iterations  IterationsResult `json:"iterations"`
	Regressions []string         `json:"iterations_regression,omitempty"`
}

// Assemble runs the summary and every collaborator for device over w.
func Assemble(prof *profile.Profile, device int, w *profile.Window, c Collaborators) Data {
	if c == nil {
		c = Unavailable{}
	}
	d := Data{
		ProfilePath: prof.Path,
		Device:      device,
		Window:      w,
		Summary:     Summarize(prof, device, w),
		Overlap:     c.Overlap(prof, device, w),
		NCCL:        c.NCCL(prof, device, w),
		Iterations:  c.Iterations(prof, device, w),
	}
	d.Hierarchy = HierarchySummary(c.AnnotationTree(prof, device, w))
	if d.Iterations.Error == "" {
		d.Regressions = RegressionFlags(d.Iterations.Items)
	}
	return d
}

// HierarchySummary lists top-level annotation ranges with their durations
// and counts nodes by kind.
func HierarchySummary(roots []*Node, err error) string {
	if err != nil {
		return fmt.Sprintf("NVTX hierarchy: (%v)", err)
	}
	if len(roots) == 0 {
		return "NVTX hierarchy: (none or no kernels in window)"
	}
	lines := []string{"NVTX hierarchy (top-level regions)"}
	for _, n := range roots {
		lines = append(lines, fmt.Sprintf("  %s: %.1fms", n.Name, float64(n.End-n.Start)/1e6))
	}
	counts := map[string]int{}
	walk(roots, func(n *Node) { counts[n.Kind]++ })
	lines = append(lines, fmt.Sprintf("  (%d top-level, %d NVTX, %d kernels)",
		len(roots), counts[KindAnnotation], counts[KindKernel]))
	return strings.Join(lines, "\n")
}

func walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		walk(n.Children, fn)
	}
}

// RegressionFlags marks iterations slower than 1.5x the median duration.
// Fewer than two iterations, or a non-positive median, yield no flags.
func RegressionFlags(iters []Iteration) []string {
	if len(iters) < 2 {
		return nil
	}
	durs := make([]float64, len(iters))
	for i, it := range iters {
		durs[i] = it.DurationMS
	}
	med := median(durs)
	if med <= 0 {
		return nil
	}
	var flags []string
	for _, it := range iters {
		if it.DurationMS > regressionFactor*med {
			flags = append(flags, fmt.Sprintf("  ⚠ iter %d: %.1fms (~%.0f%% of median %.1fms)",
				it.Index, it.DurationMS, 100*it.DurationMS/med, med))
		}
	}
	return flags
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
