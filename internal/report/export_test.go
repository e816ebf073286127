package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GindaChen/nsys-tui/internal/profile"
)

// emptyTrace exports nothing for device 1.
type emptyTrace struct{ *fakeCollab }

func (emptyTrace) ExportTrace(_ *profile.Profile, device int, _ *profile.Window) ([]TraceEvent, error) {
	if device == 1 {
		return nil, nil
	}
	return []TraceEvent{{Category: CategoryKernel, Name: "gemm_kernel", Start: 1000, Duration: 500}}, nil
}

func TestExportTraces(t *testing.T) {
	prof := openProfile(t)
	dir := filepath.Join(t.TempDir(), "traces")

	got, err := ExportTraces(prof, prof.Meta.Devices, nil, &fakeCollab{}, dir)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, TraceExport{Device: 0, Path: filepath.Join(dir, "trace_gpu0.json"), Kernels: 2, NVTX: 1}, got[0])
	assert.Equal(t, "GPU 1: 2 kernels, 1 NVTX → "+filepath.Join(dir, "trace_gpu1.json"), got[1].String())

	data, err := os.ReadFile(got[0].Path)
	require.NoError(t, err)
	var events []TraceEvent
	require.NoError(t, json.Unmarshal(data, &events))
	assert.Len(t, events, 3)
}

func TestExportTraces_Skipped(t *testing.T) {
	prof := openProfile(t)
	dir := t.TempDir()

	got, err := ExportTraces(prof, []int{0, 1}, nil, emptyTrace{&fakeCollab{}}, dir)
	require.NoError(t, err)
	assert.Equal(t, "GPU 0: 1 kernels, 0 NVTX → "+filepath.Join(dir, "trace_gpu0.json"), got[0].String())
	assert.Equal(t, "GPU 1: no kernels, skipped", got[1].String())
	assert.NoFileExists(t, filepath.Join(dir, "trace_gpu1.json"))

	got, err = ExportTraces(prof, []int{0}, nil, Unavailable{}, dir)
	require.NoError(t, err)
	assert.Equal(t, "GPU 0: trace export "+NotAvailable, got[0].String())
}
