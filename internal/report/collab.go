// Package report assembles the full per-GPU performance report from the
// built-in kernel summary and the analysis collaborators.
package report

import (
	stderrors "errors"

	"github.com/GindaChen/nsys-tui/internal/profile"
)

// NotAvailable is the error text carried by Unavailable results.
const NotAvailable = "not available in this build"

// ErrUnavailable is returned by Unavailable for contracts without an error field.
var ErrUnavailable = stderrors.New(NotAvailable)

// Node kinds in an annotation tree.
const (
	KindAnnotation = "annotation"
	KindKernel     = "kernel"
)

// Node is one entry of an annotation hierarchy: an NVTX range or a kernel
// attributed to it.
type Node struct {
	Name     string  `json:"name"`
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Kind     string  `json:"kind"`
	Children []*Node `json:"children,omitempty"`
}

// OverlapResult splits device time into compute, communication and their overlap.
type OverlapResult struct {
	ComputeMS float64 `json:"compute_ms"`
	NCCLMS    float64 `json:"nccl_ms"`
	OverlapMS float64 `json:"overlap_ms"`
	SpanMS    float64 `json:"span_ms"`
	Error     string  `json:"error,omitempty"`
}

// NCCLOp aggregates one collective kind.
type NCCLOp struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
	AvgMS   float64 `json:"avg_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// NCCLResult is the collective breakdown of a device window.
type NCCLResult struct {
	Ops   []NCCLOp `json:"ops"`
	Error string   `json:"error,omitempty"`
}

// Iteration is one detected training step.
type Iteration struct {
	Index       int     `json:"iteration"`
	Start       int64   `json:"start"`
	End         int64   `json:"end"`
	DurationMS  float64 `json:"duration_ms"`
	KernelCount int     `json:"kernel_count"`
}

// IterationsResult lists detected iterations in time order.
type IterationsResult struct {
	Items []Iteration `json:"iterations"`
	Error string      `json:"error,omitempty"`
}

// TraceEvent is one record of a portable trace export. Only Category is
// interpreted here.
type TraceEvent struct {
	Category string         `json:"cat"`
	Name     string         `json:"name"`
	Start    int64          `json:"ts"`
	Duration int64          `json:"dur"`
	Args     map[string]any `json:"args,omitempty"`
}

// Collaborators are the analyses consumed by report assembly. Result types
// with an Error field report failure there instead of returning an error.
type Collaborators interface {
	AnnotationTree(prof *profile.Profile, device int, w *profile.Window) ([]*Node, error)
	Overlap(prof *profile.Profile, device int, w *profile.Window) OverlapResult
	NCCL(prof *profile.Profile, device int, w *profile.Window) NCCLResult
	Iterations(prof *profile.Profile, device int, w *profile.Window) IterationsResult
	ExportTrace(prof *profile.Profile, device int, w *profile.Window) ([]TraceEvent, error)
}

// Unavailable implements Collaborators with every analysis marked unavailable.
type Unavailable struct{}

func (Unavailable) AnnotationTree(*profile.Profile, int, *profile.Window) ([]*Node, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Overlap(*profile.Profile, int, *profile.Window) OverlapResult {
	return OverlapResult{Error: NotAvailable}
}

func (Unavailable) NCCL(*profile.Profile, int, *profile.Window) NCCLResult {
	return NCCLResult{Error: NotAvailable}
}

func (Unavailable) Iterations(*profile.Profile, int, *profile.Window) IterationsResult {
	return IterationsResult{Error: NotAvailable}
}

func (Unavailable) ExportTrace(*profile.Profile, int, *profile.Window) ([]TraceEvent, error) {
	return nil, ErrUnavailable
}

// CountByCategory counts trace events per category.
func CountByCategory(events []TraceEvent) map[string]int {
	counts := map[string]int{}
	for _, e := range events {
		counts[e.Category]++
	}
	return counts
}
