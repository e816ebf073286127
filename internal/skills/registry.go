package skills

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/GindaChen/nsys-tui/internal/config"
	"github.com/GindaChen/nsys-tui/internal/db"
	"github.com/GindaChen/nsys-tui/internal/errors"
)

// Builtins returns the skills shipped with nsys-ai, in registration order.
func Builtins() []*Skill {
	return []*Skill{
		TopKernels,
		GPUIdleGaps,
		MemoryTransfers,
		NCCLBreakdown,
		KernelLaunchOverhead,
		NVTXKernelMap,
		ThreadUtilization,
		SchemaInspect,
	}
}

// Registry stores skills by name and dispatches runs to them.
// It is built once by the composition root and passed to its consumers.
type Registry struct {
	skills     map[string]*Skill
	policy     string
	extra      []*Skill
	logger     *slog.Logger
	discovered bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithConflictPolicy sets how duplicate names are handled: config.ConflictReplace
// (last registration wins), config.ConflictWarn (replace and log) or
// config.ConflictReject.
func WithConflictPolicy(policy string) Option {
	return func(r *Registry) { r.policy = policy }
}

// WithSkills adds skills registered after the builtins during discovery.
func WithSkills(skills ...*Skill) Option {
	return func(r *Registry) { r.extra = append(r.extra, skills...) }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry builds a registry and runs discovery.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		skills: map[string]*Skill{},
		policy: config.ConflictReplace,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if !config.ValidConflictPolicy(r.policy) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown skill conflict policy %q", r.policy))
	}
	r.logger = r.logger.With("component", "skills")

	if err := r.Discover(); err != nil {
		return nil, err
	}
	return r, nil
}

// Discover registers the builtins followed by any extra skills. Only the
// first call has an effect.
func (r *Registry) Discover() error {
	if r.discovered {
		return nil
	}
	for _, s := range Builtins() {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	for _, s := range r.extra {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	r.discovered = true
	r.logger.Debug("skills discovered", "count", len(r.skills))
	return nil
}

// Register validates s and stores it under its name, applying the conflict
// policy when the name is taken.
func (r *Registry) Register(s *Skill) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, exists := r.skills[s.Name]; exists {
		switch r.policy {
		case config.ConflictReject:
			return errors.NewSkillConflict(s.Name)
		case config.ConflictWarn:
			r.logger.Warn("skill replaced by later registration", "skill", s.Name)
		}
	}
	r.skills[s.Name] = s
	return nil
}

// List returns all skill names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up a skill by name.
func (r *Registry) Get(name string) (*Skill, bool) {
	s, ok := r.skills[name]
	return s, ok
}

// All returns every skill sorted by name.
func (r *Registry) All() []*Skill {
	names := r.List()
	out := make([]*Skill, len(names))
	for i, name := range names {
		out[i] = r.skills[name]
	}
	return out
}

// Categories returns the distinct categories of registered skills, sorted.
func (r *Registry) Categories() []string {
	var cats []string
	for _, s := range r.skills {
		if !slices.Contains(cats, s.Category) {
			cats = append(cats, s.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

// Run looks up name and runs it against q. An unregistered name fails with
// UNKNOWN_SKILL listing every registered name.
func (r *Registry) Run(q db.Querier, name string, params map[string]any) (string, error) {
	return r.RunContext(context.Background(), q, name, params)
}

// RunContext is Run bound to ctx.
func (r *Registry) RunContext(ctx context.Context, q db.Querier, name string, params map[string]any) (string, error) {
	s, ok := r.Get(name)
	if !ok {
		return "", errors.NewUnknownSkill(name, r.List())
	}
	return s.RunContext(ctx, q, params)
}

// Catalog renders every skill's Describe line in name order under a heading.
func (r *Registry) Catalog() string {
	lines := []string{"## Available Skills", ""}
	for _, s := range r.All() {
		lines = append(lines, s.Describe())
	}
	return strings.Join(lines, "\n")
}
