package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GindaChen/nsys-tui/internal/profile"
)

// Trace event categories counted in export summaries.
const (
	CategoryKernel = "gpu_kernel"
	CategoryNVTX   = "nvtx_projected"
)

// TraceExport is the outcome of exporting one device's trace.
type TraceExport struct {
	Device  int    `json:"device"`
	Path    string `json:"path,omitempty"`
	Kernels int    `json:"kernels"`
	NVTX    int    `json:"nvtx"`
	Skipped string `json:"skipped,omitempty"`
}

// String renders the one-line summary printed per device.
func (t TraceExport) String() string {
	if t.Skipped != "" {
		return fmt.Sprintf("GPU %d: %s", t.Device, t.Skipped)
	}
	return fmt.Sprintf("GPU %d: %d kernels, %d NVTX → %s", t.Device, t.Kernels, t.NVTX, t.Path)
}

// ExportTraces writes dir/trace_gpu<N>.json for every device whose trace the
// collaborator can produce. A device the collaborator fails on, or one with no
// events, is reported as skipped and no file is written for it. Only failures
// to create dir or write a file are returned as errors.
func ExportTraces(prof *profile.Profile, devices []int, w *profile.Window, c Collaborators, dir string) ([]TraceExport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	out := make([]TraceExport, 0, len(devices))
	for _, device := range devices {
		res := TraceExport{Device: device}
		events, err := c.ExportTrace(prof, device, w)
		switch {
		case err != nil:
			res.Skipped = "trace export " + err.Error()
		case len(events) == 0:
			res.Skipped = "no kernels, skipped"
		default:
			res.Path = filepath.Join(dir, fmt.Sprintf("trace_gpu%d.json", device))
			if err := writeTrace(res.Path, events); err != nil {
				return out, err
			}
			counts := CountByCategory(events)
			res.Kernels, res.NVTX = counts[CategoryKernel], counts[CategoryNVTX]
		}
		out = append(out, res)
	}
	return out, nil
}

// writeTrace writes events as a JSON array, the form trace viewers load directly.
func writeTrace(path string, events []TraceEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(events); err != nil {
		f.Close()
		return fmt.Errorf("write trace file: %w", err)
	}
	return f.Close()
}
