package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/GindaChen/nsys-tui/internal/agent"
	"github.com/GindaChen/nsys-tui/internal/config"
	"github.com/GindaChen/nsys-tui/internal/profile"
	"github.com/GindaChen/nsys-tui/internal/report"
	"github.com/GindaChen/nsys-tui/internal/snapshottest"
)

type stubSynth struct {
	answer string
	calls  int
}

func (s *stubSynth) Available() bool { return true }

func (s *stubSynth) Synthesize(context.Context, string, string) (string, error) {
	s.calls++
	return s.answer, nil
}

// setupEnv builds a command environment writing to a buffer.
func setupEnv(t *testing.T) (*env, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	var out bytes.Buffer
	return &env{cfg: cfg, reg: reg, logger: logger, out: &out}, &out
}

// run executes the CLI with args and returns its output.
func run(t *testing.T, e *env, args ...string) error {
	t.Helper()
	return newCLIApp(e).Run(append([]string{"nsys-ai"}, args...))
}

// exitMessage returns the message and code of a cli.Exit error.
func exitMessage(t *testing.T, err error) (string, int) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	exitErr, ok := err.(cli.ExitCoder)
	if !ok {
		t.Fatalf("expected cli.ExitCoder, got %T: %v", err, err)
	}
	return exitErr.Error(), exitErr.ExitCode()
}

func TestInfo(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)

	if err := run(t, e, "info", path); err != nil {
		t.Fatalf("info: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Profile:  " + path,
		"Nsight:   " + snapshottest.Version,
		"Kernels:  6 (CUPTI_ACTIVITY_KIND_KERNEL)",
		"GPU 0: NVIDIA H100 80GB HBM3 (0000:18:00.0)",
		"  132 SMs | 80 GiB",
		"  4 kernels on streams 7, 13",
		"GPU 1: NVIDIA H100 80GB HBM3 (0000:2a:00.0)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("info output missing %q:\n%s", want, got)
		}
	}
}

func TestInfo_JSON(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)

	if err := run(t, e, "info", "--json", path); err != nil {
		t.Fatalf("info: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["kernel_table"] != "CUPTI_ACTIVITY_KIND_KERNEL" {
		t.Errorf("kernel_table = %v", payload["kernel_table"])
	}
}

func TestInfo_Errors(t *testing.T) {
	e, _ := setupEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no profile", args: []string{"info"}, want: "[INVALID_REQUEST] profile path is required"},
		{name: "missing file", args: []string{"info", filepath.Join(t.TempDir(), "none.sqlite")}, want: "[NOT_FOUND] profile not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, code := exitMessage(t, run(t, e, tt.args...))
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.HasPrefix(msg, tt.want) {
				t.Errorf("message = %q, want prefix %q", msg, tt.want)
			}
		})
	}
}

func TestInfo_MissingTool(t *testing.T) {
	e, _ := setupEnv(t)
	e.cfg.NsysPath = "nsys-not-installed-anywhere"

	rep := filepath.Join(t.TempDir(), "run.nsys-rep")
	if err := os.WriteFile(rep, []byte("capture"), 0o644); err != nil {
		t.Fatal(err)
	}

	msg, _ := exitMessage(t, run(t, e, "info", rep))
	if !strings.HasPrefix(msg, "[EXTERNAL_TOOL_MISSING]") {
		t.Errorf("message = %q", msg)
	}
}

func TestSkills(t *testing.T) {
	e, out := setupEnv(t)

	if err := run(t, e, "skills"); err != nil {
		t.Fatalf("skills: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 8 {
		t.Fatalf("skills lines = %d, want 8:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "gpu_idle_gaps") {
		t.Errorf("first line = %q, want gpu_idle_gaps", lines[0])
	}

	out.Reset()
	if err := run(t, e, "skills", "--category", "memory"); err != nil {
		t.Fatalf("skills: %v", err)
	}
	if got := strings.TrimSpace(out.String()); !strings.HasPrefix(got, "memory_transfers") || strings.Contains(got, "\n") {
		t.Errorf("memory skills = %q", got)
	}

	msg, _ := exitMessage(t, run(t, e, "skills", "--category", "graphics"))
	if !strings.HasPrefix(msg, "[INVALID_REQUEST] unknown category") {
		t.Errorf("message = %q", msg)
	}
}

func TestCatalog(t *testing.T) {
	e, out := setupEnv(t)

	if err := run(t, e, "catalog"); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if !strings.HasPrefix(out.String(), "## Available Skills\n\n[gpu_idle_gaps]") {
		t.Errorf("catalog = %.80q", out.String())
	}
}

func TestSkill(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)

	if err := run(t, e, "skill", "gpu_idle_gaps", path); err != nil {
		t.Fatalf("skill: %v", err)
	}
	if !strings.Contains(out.String(), "5.000") {
		t.Errorf("expected the 5ms gap:\n%s", out.String())
	}

	out.Reset()
	if err := run(t, e, "skill", "--json", "-p", "min_gap_ns=50000", "-p", "limit=2", "gpu_idle_gaps", path); err != nil {
		t.Fatalf("skill: %v", err)
	}
	var payload struct {
		Skill string           `json:"skill"`
		Rows  []map[string]any `json:"rows"`
	}
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Skill != "gpu_idle_gaps" || len(payload.Rows) != 2 {
		t.Errorf("payload = %+v, want 2 gpu_idle_gaps rows", payload)
	}
}

func TestSkill_Errors(t *testing.T) {
	e, _ := setupEnv(t)
	path := snapshottest.Build(t)
	noMemcpy := snapshottest.Build(t, snapshottest.Without("CUPTI_ACTIVITY_KIND_MEMCPY"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing args", args: []string{"skill", "top_kernels"}, want: "[INVALID_REQUEST] usage"},
		{name: "unknown skill", args: []string{"skill", "flame_graph", path}, want: "[UNKNOWN_SKILL]"},
		{name: "bad param syntax", args: []string{"skill", "-p", "limit", "top_kernels", path}, want: "[INVALID_REQUEST] invalid parameter"},
		{name: "bad param value", args: []string{"skill", "-p", "limit=lots", "top_kernels", path}, want: "[INVALID_REQUEST]"},
		{name: "missing table", args: []string{"skill", "memory_transfers", noMemcpy}, want: "[QUERY_FAILED] skill \"memory_transfers\" query failed: no such table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, _ := exitMessage(t, run(t, e, tt.args...))
			if !strings.Contains(msg, tt.want) {
				t.Errorf("message = %q, want %q", msg, tt.want)
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)

	if err := run(t, e, "analyze", path); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, agent.ReportHeader) {
		t.Errorf("analyze output should start with the header: %.80q", got)
	}
	if !strings.Contains(got, agent.ReportFooter) {
		t.Error("analyze output should end with the footer")
	}
}

func TestAsk(t *testing.T) {
	e, out := setupEnv(t)
	synth := &stubSynth{answer: "Communication dominates."}
	e.synth = synth
	path := snapshottest.Build(t)

	if err := run(t, e, "ask", path, "why", "is", "nccl", "slow?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "Question: why is nccl slow?\n") {
		t.Errorf("unexpected answer start: %.80q", got)
	}
	if !strings.Contains(got, agent.AIHeading+"\nCommunication dominates.") {
		t.Errorf("expected synthesis section:\n%s", got)
	}

	out.Reset()
	if err := run(t, e, "ask", "--no-ai", path, "nccl"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if synth.calls != 1 {
		t.Errorf("synthesizer calls = %d, want 1", synth.calls)
	}
	if strings.Contains(out.String(), agent.AIHeading) {
		t.Error("--no-ai should skip synthesis")
	}

	msg, _ := exitMessage(t, run(t, e, "ask", path))
	if !strings.HasPrefix(msg, "[INVALID_REQUEST]") {
		t.Errorf("message = %q", msg)
	}
}

func TestReport(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)

	if err := run(t, e, "report", path); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.HasPrefix(out.String(), "GPU 0: NVIDIA H100 80GB HBM3") {
		t.Errorf("report = %.80q", out.String())
	}

	out.Reset()
	if err := run(t, e, "report", "--format", "markdown", "--device", "1", "--start", "0", "--end", "0.005", path); err != nil {
		t.Fatalf("report: %v", err)
	}
	md := out.String()
	if !strings.HasPrefix(md, "# nsys-ai analyze report\n") || !strings.Contains(md, "**GPU 1:**") {
		t.Errorf("markdown report = %.120q", md)
	}

	out.Reset()
	if err := run(t, e, "report", "-f", "json", path); err != nil {
		t.Fatalf("report: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["device"] != float64(0) {
		t.Errorf("device = %v", payload["device"])
	}
}

func TestReport_Errors(t *testing.T) {
	e, _ := setupEnv(t)
	path := snapshottest.Build(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad format", args: []string{"report", "-f", "pdf", path}},
		{name: "start only", args: []string{"report", "--start", "1", path}},
		{name: "end before start", args: []string{"report", "--start", "2", "--end", "1", path}},
		{name: "unknown device", args: []string{"report", "--device", "9", path}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, _ := exitMessage(t, run(t, e, tt.args...))
			if !strings.HasPrefix(msg, "[INVALID_REQUEST]") {
				t.Errorf("message = %q", msg)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"limit=5", " name = a=b"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if params["limit"] != "5" {
		t.Errorf("limit = %v", params["limit"])
	}
	if params["name"] != " a=b" {
		t.Errorf("name = %q", params["name"])
	}

	for _, bad := range []string{"limit", "=5"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) expected error", bad)
		}
	}
}

func TestBuildRegistry_SkillFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "skills.yaml")
	yaml := `skills:
  - name: top_kernels
    title: Shadowed
    sql: SELECT 1 AS one
`
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	cfg := config.DefaultConfig()
	cfg.SkillFiles = []string{file}
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		t.Fatalf("buildRegistry: %v", err)
	}
	if s, _ := reg.Get("top_kernels"); s.Title != "Shadowed" {
		t.Errorf("title = %q, want user skill to replace builtin", s.Title)
	}

	cfg.SkillConflict = config.ConflictReject
	if _, err := buildRegistry(cfg, logger); err == nil {
		t.Error("expected conflict error under reject policy")
	}

	cfg.SkillFiles = []string{filepath.Join(dir, "missing.yaml")}
	if _, err := buildRegistry(cfg, logger); err == nil {
		t.Error("expected error for missing skill file")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.LogFormat = "json"
	cfg.LogLevel = "info"

	logger := newLogger(cfg, &buf)
	logger.Debug("hidden")
	logger.Info("shown", "component", "cli")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Error("debug records should be filtered at info level")
	}
	if !strings.Contains(got, `"msg":"shown"`) || !strings.Contains(got, `"component":"cli"`) {
		t.Errorf("unexpected json log: %s", got)
	}
}

func TestMCPDeps_WarnsUnknownNames(t *testing.T) {
	e, _ := setupEnv(t)
	var logs bytes.Buffer
	e.logger = slog.New(slog.NewTextHandler(&logs, nil))
	e.cfg.DisabledSkills = []string{"top_kernels", "flame_graph"}
	e.cfg.DisabledCategories = []string{"graphics"}

	deps := e.mcpDeps("/tmp/run.sqlite")
	if deps.Profile != "/tmp/run.sqlite" || deps.Registry != e.reg {
		t.Errorf("deps = %+v", deps)
	}
	if !strings.Contains(logs.String(), "skills=flame_graph") {
		t.Errorf("expected unknown skill warning: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "categories=graphics") {
		t.Errorf("expected unknown category warning: %s", logs.String())
	}
}

// traceCollab exports one kernel per device and is otherwise unavailable.
type traceCollab struct{ report.Unavailable }

func (traceCollab) ExportTrace(_ *profile.Profile, device int, _ *profile.Window) ([]report.TraceEvent, error) {
	return []report.TraceEvent{
		{Category: report.CategoryKernel, Name: "gemm_kernel"},
		{Category: report.CategoryNVTX, Name: "step"},
	}, nil
}

func TestExport(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)
	dir := t.TempDir()

	if err := run(t, e, "export", "-o", dir, path); err != nil {
		t.Fatalf("export: %v", err)
	}
	want := "GPU 0: trace export not available in this build\nGPU 1: trace export not available in this build\n"
	if out.String() != want {
		t.Errorf("export = %q, want %q", out.String(), want)
	}

	e.collab = traceCollab{}
	out.Reset()
	if err := run(t, e, "export", "-o", dir, "-d", "1", path); err != nil {
		t.Fatalf("export: %v", err)
	}
	trace := filepath.Join(dir, "trace_gpu1.json")
	if got := out.String(); got != "GPU 1: 1 kernels, 1 NVTX → "+trace+"\n" {
		t.Errorf("export = %q", got)
	}
	if _, err := os.Stat(trace); err != nil {
		t.Errorf("trace file not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "trace_gpu0.json")); err == nil {
		t.Error("only the selected device should be exported")
	}

	msg, _ := exitMessage(t, run(t, e, "export", "-o", dir, "-d", "9", path))
	if !strings.Contains(msg, "[INVALID_REQUEST] unknown device 9") {
		t.Errorf("message = %q", msg)
	}
}

func TestAnalyze_Interrupted(t *testing.T) {
	e, out := setupEnv(t)
	path := snapshottest.Build(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newCLIApp(e).RunContext(ctx, []string{"nsys-ai", "analyze", path})
	msg, code := exitMessage(t, err)
	if msg != "interrupted" || code != 130 {
		t.Errorf("exit = %q/%d, want interrupted/130", msg, code)
	}
	if !strings.Contains(out.String(), "(top_kernels: skipped — interrupted)") {
		t.Errorf("output = %.200q", out.String())
	}
	if exitCode(err) != 130 {
		t.Errorf("exitCode() = %d, want 130", exitCode(err))
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(cli.Exit("boom", 3)); got != 3 {
		t.Errorf("exitCode(cli.Exit) = %d, want 3", got)
	}
	if got := exitCode(fmt.Errorf("plain")); got != 1 {
		t.Errorf("exitCode(plain) = %d, want 1", got)
	}
}
