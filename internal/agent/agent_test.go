package agent

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GindaChen/nsys-tui/internal/errors"
	"github.com/GindaChen/nsys-tui/internal/profile"
	"github.com/GindaChen/nsys-tui/internal/skills"
	"github.com/GindaChen/nsys-tui/internal/snapshottest"
)

type fakeSynth struct {
	available bool
	answer    string
	err       error

	calls    int
	question string
	evidence string
}

func (f *fakeSynth) Available() bool { return f.available }

func (f *fakeSynth) Synthesize(_ context.Context, question, evidence string) (string, error) {
	f.calls++
	f.question = question
	f.evidence = evidence
	return f.answer, f.err
}

func newAgent(t *testing.T, snap []snapshottest.Option, opts ...Option) *Agent {
	t.Helper()
	reg, err := skills.NewRegistry()
	require.NoError(t, err)

	a, err := Open(context.Background(), snapshottest.Build(t, snap...), reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAnalyze(t *testing.T) {
	a := newAgent(t, nil)

	out := a.Analyze(context.Background())

	assert.True(t, strings.HasPrefix(out, ReportHeader+"\n"))
	assert.True(t, strings.HasSuffix(out, ReportFooter))
	assert.NotContains(t, out, "skipped")

	headings := []string{
		"── Top GPU Kernels by Total Time ──",
		"── GPU Idle Gaps (Bubbles) ──",
		"── Memory Transfers Summary ──",
		"── NCCL Collective Breakdown ──",
		"── Kernel Launch Overhead ──",
	}
	last := -1
	for _, h := range headings {
		i := strings.Index(out, h)
		require.GreaterOrEqual(t, i, 0, h)
		assert.Greater(t, i, last, "%s out of order", h)
		last = i
	}
}

func TestAnalyze_SkipsFailingSkill(t *testing.T) {
	a := newAgent(t, []snapshottest.Option{snapshottest.Without("CUPTI_ACTIVITY_KIND_MEMCPY")})

	out := a.Analyze(context.Background())

	assert.Equal(t, 1, strings.Count(out, "skipped"))
	assert.Contains(t, out, "(memory_transfers: skipped — ")
	assert.Contains(t, out, "── Top GPU Kernels by Total Time ──")
	assert.Contains(t, out, "── Kernel Launch Overhead ──")
	assert.True(t, strings.HasSuffix(out, ReportFooter))
}

func TestAnalyze_LogsSkippedSkill(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	a := newAgent(t, []snapshottest.Option{snapshottest.Without("CUPTI_ACTIVITY_KIND_MEMCPY")}, WithLogger(logger))

	a.Analyze(context.Background())

	assert.Contains(t, buf.String(), "skill skipped")
	assert.Contains(t, buf.String(), "skill=memory_transfers")
	assert.Contains(t, buf.String(), "session="+a.SessionID())
}

func TestAsk(t *testing.T) {
	synth := &fakeSynth{}
	a := newAgent(t, nil, WithSynthesizer(synth))

	out := a.Ask(context.Background(), "Where are the bubbles?")

	assert.True(t, strings.HasPrefix(out, "Question: Where are the bubbles?\n"))
	assert.Contains(t, out, "── GPU Idle Gaps (Bubbles) ──")
	assert.NotContains(t, out, AIHeading)
	assert.Zero(t, synth.calls)
}

func TestAsk_DefaultSkills(t *testing.T) {
	a := newAgent(t, nil)

	out := a.Ask(context.Background(), "what happened?")

	assert.Contains(t, out, "── GPU Idle Gaps (Bubbles) ──")
	assert.Contains(t, out, "── Top GPU Kernels by Total Time ──")
	assert.Less(t, strings.Index(out, "GPU Idle Gaps"), strings.Index(out, "Top GPU Kernels"))
}

func TestAsk_Synthesis(t *testing.T) {
	synth := &fakeSynth{available: true, answer: "The pipeline stalls for 5 ms on stream 7."}
	a := newAgent(t, nil, WithSynthesizer(synth))

	out := a.Ask(context.Background(), "is there an allreduce problem?")

	require.Equal(t, 1, synth.calls)
	assert.Equal(t, "is there an allreduce problem?", synth.question)
	assert.True(t, strings.HasPrefix(synth.evidence, "Question: is there an allreduce problem?"))
	assert.Contains(t, synth.evidence, "── NCCL Collective Breakdown ──")
	assert.True(t, strings.HasSuffix(out, "\n\n"+AIHeading+"\nThe pipeline stalls for 5 ms on stream 7."))
}

func TestAsk_SynthesisFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	synth := &fakeSynth{available: true, err: stderrors.New("rate limited")}
	a := newAgent(t, nil, WithSynthesizer(synth), WithLogger(logger))

	out := a.Ask(context.Background(), "why so slow?")

	assert.Equal(t, 1, synth.calls)
	assert.NotContains(t, out, AIHeading)
	assert.Contains(t, out, "── Top GPU Kernels by Total Time ──")
	assert.Contains(t, buf.String(), "synthesis failed")
	assert.Contains(t, buf.String(), "rate limited")
}

func TestAsk_EmptySynthesis(t *testing.T) {
	synth := &fakeSynth{available: true, answer: "  "}
	a := newAgent(t, nil, WithSynthesizer(synth))

	out := a.Ask(context.Background(), "kernels?")
	assert.NotContains(t, out, AIHeading)
}

func TestAsk_SkipsFailingSkill(t *testing.T) {
	a := newAgent(t, []snapshottest.Option{snapshottest.Without("CUPTI_ACTIVITY_KIND_MEMCPY")})

	out := a.Ask(context.Background(), "memory copies and kernel hotspots")

	assert.Equal(t, 1, strings.Count(out, "skipped"))
	assert.Contains(t, out, "(memory_transfers: skipped — ")
	assert.Contains(t, out, "── Top GPU Kernels by Total Time ──")
}

func TestRunSkill(t *testing.T) {
	a := newAgent(t, nil)

	out, err := a.RunSkill(context.Background(), "gpu_idle_gaps", map[string]any{"limit": 1})
	require.NoError(t, err)
	assert.Contains(t, out, "5.000")
	assert.NotContains(t, out, "2.000")

	_, err = a.RunSkill(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownSkill))
}

func TestClose(t *testing.T) {
	a := newAgent(t, nil)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.RunSkill(context.Background(), "top_kernels", nil)
	assert.ErrorIs(t, err, profile.ErrClosed)

	out := a.Analyze(context.Background())
	assert.Equal(t, len(AnalyzeSkills), strings.Count(out, "skipped"))
}

func TestSessionID(t *testing.T) {
	a := newAgent(t, nil)
	b := newAgent(t, nil)

	_, err := ulid.ParseStrict(a.SessionID())
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
}

func TestOpen_NotFound(t *testing.T) {
	reg, err := skills.NewRegistry()
	require.NoError(t, err)

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing.sqlite"), reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSelectSkills(t *testing.T) {
	tests := []struct {
		question string
		want     []string
	}{
		{"Where are the bubbles?", []string{"gpu_idle_gaps"}},
		{"Is the COLLECTIVE time high?", []string{"nccl_breakdown"}},
		{"hello there", DefaultSkills},
		{"", DefaultSkills},
		{"Why is this KERNEL slow?", []string{"gpu_idle_gaps", "kernel_launch_overhead", "top_kernels"}},
		{"multi-GPU allreduce", []string{"nccl_breakdown"}},
		{"H2D copy bandwidth", []string{"memory_transfers"}},
		{"which nvtx source range", []string{"nvtx_kernel_map"}},
		{"cpu thread", []string{"thread_utilization"}},
		{"what is our MFU", []string{"top_kernels"}},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectSkills(tt.question))
		})
	}
}

func TestSelectSkills_DefaultNotShared(t *testing.T) {
	got := SelectSkills("nothing relevant")
	got[0] = "mutated"
	assert.Equal(t, "gpu_idle_gaps", DefaultSkills[0])
}

func TestAnalyze_Cancelled(t *testing.T) {
	a := newAgent(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := a.Analyze(ctx)

	for _, name := range AnalyzeSkills {
		assert.Contains(t, out, "("+name+": skipped — interrupted)")
	}
	assert.NotContains(t, out, "── Top GPU Kernels by Total Time ──")
	assert.True(t, strings.HasSuffix(out, ReportFooter))
}

func TestAsk_CancelledSkipsSynthesis(t *testing.T) {
	synth := &fakeSynth{available: true, answer: "look at nccl"}
	a := newAgent(t, nil, WithSynthesizer(synth))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := a.Ask(ctx, "nccl?")

	assert.Contains(t, out, "(nccl_breakdown: skipped — interrupted)")
	assert.Equal(t, 0, synth.calls)
	assert.NotContains(t, out, AIHeading)
}
