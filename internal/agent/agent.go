// Package agent orchestrates skills over one profile: a fixed auto-analysis
// sweep, keyword-driven question answering and optional narrative synthesis.
package agent

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/GindaChen/nsys-tui/internal/profile"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

// Report banners.
const (
	ReportHeader = "═══ nsys-ai Auto-Analysis Report ═══"
	ReportFooter = "═══ End of Report ═══"
	AIHeading    = "── AI Analysis ──"
)

// Interrupted is the skip reason for skills cut short by cancellation.
const Interrupted = "interrupted"

// AnalyzeSkills are run by Analyze, in this order.
var AnalyzeSkills = []string{
	"top_kernels",
	"gpu_idle_gaps",
	"memory_transfers",
	"nccl_breakdown",
	"kernel_launch_overhead",
}

// Agent runs skills against a single open profile. It owns the profile and
// must be closed.
type Agent struct {
	prof      *profile.Profile
	reg       *skills.Registry
	synth     Synthesizer
	logger    *slog.Logger
	sessionID string
}

type options struct {
	synth       Synthesizer
	logger      *slog.Logger
	profileOpts []profile.Option
}

// Option configures an Agent.
type Option func(*options)

// WithSynthesizer sets the narrative synthesizer used by Ask.
func WithSynthesizer(s Synthesizer) Option {
	return func(o *options) { o.synth = s }
}

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProfileOptions passes options to profile.OpenContext. Only Open uses them.
func WithProfileOptions(opts ...profile.Option) Option {
	return func(o *options) { o.profileOpts = append(o.profileOpts, opts...) }
}

// Open opens the profile at path and wraps it in an Agent.
func Open(ctx context.Context, path string, reg *skills.Registry, opts ...Option) (*Agent, error) {
	o := collect(opts)
	popts := append([]profile.Option{profile.WithLogger(o.logger)}, o.profileOpts...)
	prof, err := profile.OpenContext(ctx, path, popts...)
	if err != nil {
		return nil, err
	}
	a, err := New(prof, reg, opts...)
	if err != nil {
		prof.Close()
		return nil, err
	}
	return a, nil
}

// New wraps an already open profile. The Agent takes ownership of prof.
func New(prof *profile.Profile, reg *skills.Registry, opts ...Option) (*Agent, error) {
	o := collect(opts)
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	return &Agent{
		prof:      prof,
		reg:       reg,
		synth:     o.synth,
		logger:    o.logger.With("component", "agent", "session", id),
		sessionID: id,
	}, nil
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.synth == nil {
		o.synth = NullSynthesizer{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func newSessionID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SessionID identifies this agent in logs.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// Profile returns the profile the agent analyzes.
func (a *Agent) Profile() *profile.Profile {
	return a.prof
}

// Close closes the profile. Safe to call more than once.
func (a *Agent) Close() error {
	return a.prof.Close()
}

// RunSkill runs one registered skill against the profile. Cancelling ctx
// interrupts its query.
func (a *Agent) RunSkill(ctx context.Context, name string, params map[string]any) (string, error) {
	conn := a.prof.DB()
	if conn == nil {
		return "", profile.ErrClosed
	}
	return a.reg.RunContext(ctx, conn, name, params)
}

// Analyze runs the AnalyzeSkills sweep. A failing skill leaves a one-line
// skip marker in its place and the sweep continues. Once ctx is done the
// remaining skills are marked interrupted instead of run.
func (a *Agent) Analyze(ctx context.Context) string {
	sections := []string{ReportHeader + "\n"}
	sections = a.runAll(ctx, sections, AnalyzeSkills)
	sections = append(sections, ReportFooter)
	return strings.Join(sections, "\n")
}

// Ask runs the skills selected for question and, when the synthesizer is
// available, appends its answer. Synthesis failures are logged and leave the
// skill output unchanged.
func (a *Agent) Ask(ctx context.Context, question string) string {
	selected := SelectSkills(question)
	a.logger.Debug("skills selected", "question", question, "skills", selected)

	sections := []string{fmt.Sprintf("Question: %s\n", question)}
	sections = a.runAll(ctx, sections, selected)

	if ctx.Err() != nil || !a.synth.Available() {
		return strings.Join(sections, "\n")
	}
	answer, err := a.synth.Synthesize(ctx, question, strings.Join(sections, "\n"))
	if err != nil {
		a.logger.Warn("synthesis failed", "error", err)
		return strings.Join(sections, "\n")
	}
	if strings.TrimSpace(answer) != "" {
		sections = append(sections, "\n"+AIHeading, answer)
	}
	return strings.Join(sections, "\n")
}

func (a *Agent) runAll(ctx context.Context, sections []string, names []string) []string {
	for _, name := range names {
		if ctx.Err() != nil {
			sections = append(sections, fmt.Sprintf("(%s: skipped — %s)\n", name, Interrupted))
			continue
		}
		out, err := a.RunSkill(ctx, name, nil)
		if err != nil && ctx.Err() != nil {
			a.logger.Info("skill interrupted", "skill", name)
			sections = append(sections, fmt.Sprintf("(%s: skipped — %s)\n", name, Interrupted))
			continue
		}
		if err != nil {
			a.logger.Warn("skill skipped", "skill", name, "error", err)
			sections = append(sections, fmt.Sprintf("(%s: skipped — %v)\n", name, err))
			continue
		}
		sections = append(sections, out, "")
	}
	return sections
}
