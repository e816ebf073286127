package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatTerminal renders d as plain text.
func FormatTerminal(d Data) string {
	var sections []string

	s := d.Summary
	if s.Error != "" {
		sections = append(sections, fmt.Sprintf("GPU %d: %s", s.Device, s.Error))
	} else {
		sections = append(sections, formatSummary(s), "", "Summary: "+Commentary(s), "")
	}

	sections = append(sections, d.Hierarchy, "")
	sections = append(sections, formatOverlap(d.Overlap), "")
	sections = append(sections, formatNCCL(d.NCCL), "")
	sections = append(sections, formatIterations(d.Iterations))
	if len(d.Regressions) > 0 {
		sections = append(sections, "", "Possible regression (slow iters):")
		sections = append(sections, d.Regressions...)
	}
	sections = append(sections, "")
	return strings.Join(sections, "\n")
}

// FormatMarkdown renders d as a markdown document.
func FormatMarkdown(d Data) string {
	s := d.Summary
	lines := []string{
		"# nsys-ai analyze report",
		"",
		fmt.Sprintf("- **Profile:** `%s`", d.ProfilePath),
		fmt.Sprintf("- **GPU:** %d", d.Device),
		fmt.Sprintf("- **Window:** %s", windowLabel(d)),
		"",
		"---",
		"",
		"## 1. Top bottlenecks & summary",
		"",
	}
	if s.Error != "" {
		lines = append(lines, fmt.Sprintf("GPU %d: %s", s.Device, s.Error))
	} else {
		lines = append(lines,
			fmt.Sprintf("**GPU %d:** %s", s.Device, hardwareLabel(s)),
			"",
			fmt.Sprintf("Span: %.1fms | Compute: %.1fms | Idle: %.1fms | Util: %.1f%%",
				s.SpanMS, s.ComputeMS, s.IdleMS, s.UtilizationPct),
			"",
			"| % | Total ms | Count | Kernel |",
			"|---|----------|-------|--------|",
		)
		for _, k := range s.TopKernels {
			lines = append(lines, fmt.Sprintf("| %.1f | %.1f | %d | %s |",
				k.Pct, k.TotalMS, k.Count, strings.ReplaceAll(displayName(k.Name), "|", `\|`)))
		}
		lines = append(lines, "", Commentary(s))
	}

	block := func(title, body string) {
		lines = append(lines, "", "---", "", title, "", "```", body, "```")
	}
	block("## 2. NVTX hierarchy (top-level)", d.Hierarchy)
	block("## 3. Compute vs NCCL overlap", formatOverlap(d.Overlap))
	block("## 4. NCCL collective breakdown", formatNCCL(d.NCCL))
	block("## 5. Iteration timings", formatIterations(d.Iterations))
	if len(d.Regressions) > 0 {
		lines = append(lines, "", "### Possible regression (slow iters)", "")
		lines = append(lines, d.Regressions...)
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func windowLabel(d Data) string {
	if d.Window == nil {
		return "full range"
	}
	return fmt.Sprintf("%.1fs – %.1fs", float64(d.Window.Start)/1e9, float64(d.Window.End)/1e9)
}

func hardwareLabel(s Summary) string {
	hw := s.Hardware
	name := hw.Name
	if name == "" {
		name = "unknown GPU"
	}
	label := name
	if hw.PCIBus != "" {
		label += " (" + hw.PCIBus + ")"
	}
	if hw.SMCount > 0 {
		label += fmt.Sprintf(" | %d SMs", hw.SMCount)
	}
	if hw.MemoryBytes > 0 {
		label += " | " + humanize.IBytes(uint64(hw.MemoryBytes))
	}
	return label
}

func formatSummary(s Summary) string {
	lines := []string{
		fmt.Sprintf("GPU %d: %s", s.Device, hardwareLabel(s)),
		fmt.Sprintf("  Kernels: %d | Span: %.1fms | Compute: %.1fms | Idle: %.1fms | Util: %.1f%%",
			s.KernelCount, s.SpanMS, s.ComputeMS, s.IdleMS, s.UtilizationPct),
		"",
		fmt.Sprintf("  %6s  %10s  %6s  %s", "%", "Total(ms)", "Count", "Kernel"),
	}
	for _, k := range s.TopKernels {
		lines = append(lines, fmt.Sprintf("  %6.1f  %10.1f  %6d  %s", k.Pct, k.TotalMS, k.Count, displayName(k.Name)))
	}
	return strings.Join(lines, "\n")
}

func formatOverlap(o OverlapResult) string {
	if o.Error != "" {
		return "Overlap: " + o.Error
	}
	pct := 0.0
	if o.NCCLMS > 0 {
		pct = 100 * o.OverlapMS / o.NCCLMS
	}
	return strings.Join([]string{
		"Compute vs NCCL overlap",
		fmt.Sprintf("  Span: %.1fms | Compute: %.1fms | NCCL: %.1fms", o.SpanMS, o.ComputeMS, o.NCCLMS),
		fmt.Sprintf("  Overlapped: %.1fms (%.0f%% of NCCL) | Exposed NCCL: %.1fms", o.OverlapMS, pct, o.NCCLMS-o.OverlapMS),
	}, "\n")
}

func formatNCCL(n NCCLResult) string {
	if n.Error != "" {
		return "NCCL breakdown: " + n.Error
	}
	if len(n.Ops) == 0 {
		return "NCCL breakdown: (no collectives in window)"
	}
	lines := []string{
		"NCCL collective breakdown",
		fmt.Sprintf("  %-40s  %6s  %10s  %8s  %8s", "Operation", "Count", "Total(ms)", "Avg(ms)", "Max(ms)"),
	}
	for _, op := range n.Ops {
		lines = append(lines, fmt.Sprintf("  %-40s  %6d  %10.2f  %8.2f  %8.2f",
			op.Name, op.Count, op.TotalMS, op.AvgMS, op.MaxMS))
	}
	return strings.Join(lines, "\n")
}

func formatIterations(it IterationsResult) string {
	if it.Error != "" {
		return "Iterations: " + it.Error
	}
	if len(it.Items) == 0 {
		return "Iterations: (none detected)"
	}
	lines := []string{
		fmt.Sprintf("Iterations (%d)", len(it.Items)),
		fmt.Sprintf("  %5s  %10s  %12s  %8s", "Iter", "Start(s)", "Duration(ms)", "Kernels"),
	}
	for _, i := range it.Items {
		lines = append(lines, fmt.Sprintf("  %5d  %10.3f  %12.1f  %8d",
			i.Index, float64(i.Start)/1e9, i.DurationMS, i.KernelCount))
	}
	return strings.Join(lines, "\n")
}
