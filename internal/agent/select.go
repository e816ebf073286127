package agent

import (
	"sort"
	"strings"
)

// DefaultSkills answer questions that match no keyword.
var DefaultSkills = []string{"gpu_idle_gaps", "top_kernels"}

var keywords = []struct {
	word   string
	skills []string
}{
	{"kernel", []string{"top_kernels", "kernel_launch_overhead"}},
	{"hotspot", []string{"top_kernels"}},
	{"slow", []string{"top_kernels", "gpu_idle_gaps"}},
	{"bubble", []string{"gpu_idle_gaps"}},
	{"idle", []string{"gpu_idle_gaps"}},
	{"gap", []string{"gpu_idle_gaps"}},
	{"stall", []string{"gpu_idle_gaps"}},
	{"memory", []string{"memory_transfers"}},
	{"transfer", []string{"memory_transfers"}},
	{"h2d", []string{"memory_transfers"}},
	{"copy", []string{"memory_transfers"}},
	{"nccl", []string{"nccl_breakdown"}},
	{"allreduce", []string{"nccl_breakdown"}},
	{"collective", []string{"nccl_breakdown"}},
	{"distributed", []string{"nccl_breakdown"}},
	{"multi-gpu", []string{"nccl_breakdown"}},
	{"nvtx", []string{"nvtx_kernel_map"}},
	{"source", []string{"nvtx_kernel_map"}},
	{"attribution", []string{"nvtx_kernel_map"}},
	{"mapping", []string{"nvtx_kernel_map"}},
	{"launch", []string{"kernel_launch_overhead"}},
	{"overhead", []string{"kernel_launch_overhead"}},
	{"cpu", []string{"thread_utilization"}},
	{"thread", []string{"thread_utilization"}},
	{"utilization", []string{"thread_utilization"}},
	{"schema", []string{"schema_inspect"}},
	{"table", []string{"schema_inspect"}},
	{"mfu", []string{"top_kernels"}},
	{"flops", []string{"top_kernels"}},
}

// SelectSkills maps a question to skill names by case-insensitive keyword
// substring match. The result is sorted and deduplicated; a question with no
// matching keyword gets DefaultSkills.
func SelectSkills(question string) []string {
	q := strings.ToLower(question)
	seen := map[string]bool{}
	var out []string
	for _, k := range keywords {
		if !strings.Contains(q, k.word) {
			continue
		}
		for _, s := range k.skills {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultSkills...)
	}
	sort.Strings(out)
	return out
}
