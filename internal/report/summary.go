package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GindaChen/nsys-tui/internal/profile"
)

// topKernelCount bounds Summary.TopKernels.
const topKernelCount = 10

// KernelTotal is the aggregate time of one kernel name.
type KernelTotal struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
	Pct     float64 `json:"pct"`
}

// Summary is the kernel-level overview of one device.
type Summary struct {
	Device         int             `json:"device"`
	Hardware       profile.GPUInfo `json:"hardware"`
	KernelCount    int             `json:"kernel_count"`
	SpanMS         float64         `json:"span_ms"`
	ComputeMS      float64         `json:"compute_ms"`
	IdleMS         float64         `json:"idle_ms"`
	UtilizationPct float64         `json:"utilization_pct"`
	NCCLPct        float64         `json:"nccl_pct"`
	TopKernels     []KernelTotal   `json:"top_kernels"`
	Error          string          `json:"error,omitempty"`
}

// Summarize computes the device summary from the profile's kernels.
// Compute time is the union of kernel intervals, so concurrent streams are
// not double counted.
func Summarize(prof *profile.Profile, device int, w *profile.Window) Summary {
	s := Summary{Device: device}
	if prof.Meta != nil {
		s.Hardware = prof.Meta.GPUs[device]
	}

	kernels, err := prof.Kernels(device, w)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	if len(kernels) == 0 {
		s.Error = "no kernels on this device in the selected window"
		return s
	}
	s.KernelCount = len(kernels)

	first, last := kernels[0].Start, kernels[0].End
	curStart, curEnd := first, last
	var busy, total, nccl int64
	byName := map[string]*KernelTotal{}
	for _, k := range kernels {
		d := k.End - k.Start
		total += d
		if strings.Contains(strings.ToLower(k.Name), "nccl") {
			nccl += d
		}
		kt, ok := byName[k.Name]
		if !ok {
			kt = &KernelTotal{Name: k.Name}
			byName[k.Name] = kt
		}
		kt.Count++
		kt.TotalMS += float64(d) / 1e6

		if k.End > last {
			last = k.End
		}
		// kernels are ordered by start
		if k.Start > curEnd {
			busy += curEnd - curStart
			curStart, curEnd = k.Start, k.End
		} else if k.End > curEnd {
			curEnd = k.End
		}
	}
	busy += curEnd - curStart

	s.SpanMS = float64(last-first) / 1e6
	s.ComputeMS = float64(busy) / 1e6
	s.IdleMS = s.SpanMS - s.ComputeMS
	if last > first {
		s.UtilizationPct = 100 * float64(busy) / float64(last-first)
	}
	if total > 0 {
		s.NCCLPct = 100 * float64(nccl) / float64(total)
	}

	for _, kt := range byName {
		if total > 0 {
			kt.Pct = 100 * kt.TotalMS * 1e6 / float64(total)
		}
		s.TopKernels = append(s.TopKernels, *kt)
	}
	sort.Slice(s.TopKernels, func(i, j int) bool {
		a, b := s.TopKernels[i], s.TopKernels[j]
		if a.TotalMS != b.TotalMS {
			return a.TotalMS > b.TotalMS
		}
		return a.Name < b.Name
	})
	if len(s.TopKernels) > topKernelCount {
		s.TopKernels = s.TopKernels[:topKernelCount]
	}
	return s
}

// Commentary returns short observations about a summary.
func Commentary(s Summary) string {
	if s.Error != "" {
		return ""
	}
	var notes []string
	if s.UtilizationPct < 70 {
		notes = append(notes, fmt.Sprintf(
			"GPU %d is busy %.1f%% of the span with %.1fms idle; look for pipeline bubbles (gpu_idle_gaps).",
			s.Device, s.UtilizationPct, s.IdleMS))
	}
	if len(s.TopKernels) > 0 && s.TopKernels[0].Pct > 50 {
		notes = append(notes, fmt.Sprintf("%s accounts for %.1f%% of kernel time; it is the first optimization target.",
			displayName(s.TopKernels[0].Name), s.TopKernels[0].Pct))
	}
	if s.NCCLPct > 30 {
		notes = append(notes, fmt.Sprintf(
			"NCCL kernels take %.1f%% of kernel time; check whether communication overlaps compute.", s.NCCLPct))
	}
	if len(notes) == 0 {
		return fmt.Sprintf("GPU %d is busy %.1f%% of the span; no single kernel or collective dominates.",
			s.Device, s.UtilizationPct)
	}
	return strings.Join(notes, " ")
}

func displayName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
