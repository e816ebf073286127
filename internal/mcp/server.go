package mcp

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GindaChen/nsys-tui/internal/agent"
	"github.com/GindaChen/nsys-tui/internal/config"
	"github.com/GindaChen/nsys-tui/internal/report"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

// SkillToolPrefix prefixes the tool name of every skill.
const SkillToolPrefix = "skill_"

// Deps are the collaborators shared by every tool handler.
type Deps struct {
	Registry *skills.Registry
	Config   *config.Config

	// Profile is used when a call does not name one.
	Profile string

	Synthesizer   agent.Synthesizer
	Collaborators report.Collaborators
	Logger        *slog.Logger
}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// profileTools are registered regardless of skill configuration.
var profileTools = map[string]toolEntry{
	"profile_info": {
		def:     infoToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleInfo },
	},
	"profile_analyze": {
		def:     analyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalyze },
	},
	"profile_ask": {
		def:     askToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAsk },
	},
	"profile_report": {
		def:     reportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReport },
	},
	"skills_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListSkills },
	},
}

var profileArg = mcp.WithString("profile",
	mcp.Description("Path to a .sqlite export or .nsys-rep capture. Defaults to the profile the server was started with."))

var (
	infoToolDef = mcp.NewTool("profile_info",
		mcp.WithDescription("Show GPU hardware, streams, time range and detected schema of a profile."),
		mcp.WithReadOnlyHintAnnotation(true),
		profileArg,
	)
	analyzeToolDef = mcp.NewTool("profile_analyze",
		mcp.WithDescription("Run the standard auto-analysis sweep (top kernels, idle gaps, memory transfers, NCCL, launch overhead)."),
		mcp.WithReadOnlyHintAnnotation(true),
		profileArg,
	)
	askToolDef = mcp.NewTool("profile_ask",
		mcp.WithDescription("Answer a free-text question by running the skills whose keywords it mentions."),
		mcp.WithReadOnlyHintAnnotation(true),
		profileArg,
		mcp.WithString("question", mcp.Required(), mcp.Description("Question about the profile")),
	)
	reportToolDef = mcp.NewTool("profile_report",
		mcp.WithDescription("Assemble the per-GPU markdown report: summary, NVTX hierarchy, overlap, NCCL and iterations."),
		mcp.WithReadOnlyHintAnnotation(true),
		profileArg,
		mcp.WithNumber("device", mcp.Description("GPU device id. Defaults to the first device.")),
		mcp.WithNumber("start_s", mcp.Description("Window start in seconds")),
		mcp.WithNumber("end_s", mcp.Description("Window end in seconds")),
	)
	listToolDef = mcp.NewTool("skills_list",
		mcp.WithDescription("List the enabled analysis skills with their parameters."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
)

// SkillToolName returns the tool name of a skill.
func SkillToolName(name string) string {
	return SkillToolPrefix + name
}

// skillToolDef describes a skill as a tool. Skill parameters become tool
// arguments next to profile and format.
func skillToolDef(s *skills.Skill) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(s.Describe()),
		mcp.WithReadOnlyHintAnnotation(true),
		profileArg,
		mcp.WithString("format", mcp.Enum("text", "json"),
			mcp.Description("text renders the skill's table, json returns rows")),
	}
	for _, p := range s.Params {
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case skills.TypeInt, skills.TypeFloat:
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(SkillToolName(s.Name), opts...)
}

// EnabledSkills returns the registered skills not excluded by name or
// category in cfg, sorted by name.
func EnabledSkills(reg *skills.Registry, cfg *config.Config) []*skills.Skill {
	var out []*skills.Skill
	for _, s := range reg.All() {
		if slices.Contains(cfg.DisabledSkills, s.Name) || slices.Contains(cfg.DisabledCategories, s.Category) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ValidateDisabledSkills returns the names in cfg.DisabledSkills that are not registered.
func ValidateDisabledSkills(reg *skills.Registry, names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := reg.Get(name); !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledCategories returns the categories no registered skill belongs to.
func ValidateDisabledCategories(reg *skills.Registry, names []string) []string {
	known := reg.Categories()
	unknown := make([]string, 0)
	for _, name := range names {
		if !slices.Contains(known, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ToolNames returns the names of every tool NewServer registers for deps, sorted.
func ToolNames(reg *skills.Registry, cfg *config.Config) []string {
	names := make([]string, 0, len(profileTools))
	for name := range profileTools {
		names = append(names, name)
	}
	for _, s := range EnabledSkills(reg, cfg) {
		names = append(names, SkillToolName(s.Name))
	}
	sort.Strings(names)
	return names
}

// NewServer creates an MCP server exposing the profile tools and one tool
// per enabled skill.
func NewServer(d Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"nsys-ai",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)
	for _, entry := range profileTools {
		s.AddTool(entry.def, entry.handler(h))
	}
	for _, sk := range EnabledSkills(d.Registry, d.Config) {
		s.AddTool(skillToolDef(sk), h.skillHandler(sk))
	}

	h.logger.Debug("mcp tools registered", "tools", strings.Join(ToolNames(d.Registry, d.Config), ","))
	return s
}

// Run starts the MCP server using stdio transport.
func Run(d Deps, version string) error {
	if d.Registry == nil || d.Config == nil {
		return fmt.Errorf("mcp: registry and config are required")
	}
	return server.ServeStdio(NewServer(d, version))
}
