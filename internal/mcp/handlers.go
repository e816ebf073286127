package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/GindaChen/nsys-tui/internal/agent"
	"github.com/GindaChen/nsys-tui/internal/errors"
	"github.com/GindaChen/nsys-tui/internal/profile"
	"github.com/GindaChen/nsys-tui/internal/report"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

// Handlers holds dependencies for MCP tool handlers. Every call opens its own
// profile and closes it before returning.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	if d.Synthesizer == nil {
		d.Synthesizer = agent.NullSynthesizer{}
	}
	if d.Collaborators == nil {
		d.Collaborators = report.Unavailable{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{deps: d, logger: d.Logger.With("component", "mcp")}
}

// Request types for each tool

// ProfileRequest is the argument shared by every profile tool.
type ProfileRequest struct {
	Profile string `json:"profile,omitempty"`
}

// AskRequest represents the arguments for profile_ask.
type AskRequest struct {
	Profile  string `json:"profile,omitempty"`
	Question string `json:"question"`
}

// ReportRequest represents the arguments for profile_report.
type ReportRequest struct {
	Profile string   `json:"profile,omitempty"`
	Device  *int     `json:"device,omitempty"`
	StartS  *float64 `json:"start_s,omitempty"`
	EndS    *float64 `json:"end_s,omitempty"`
}

// InfoOutput is the profile_info result.
type InfoOutput struct {
	Path        string        `json:"path"`
	Version     string        `json:"version,omitempty"`
	KernelTable string        `json:"kernel_table"`
	Meta        *profile.Meta `json:"meta"`
}

// SkillInfo describes one skill in skills_list.
type SkillInfo struct {
	Name        string         `json:"name"`
	Tool        string         `json:"tool"`
	Title       string         `json:"title"`
	Category    string         `json:"category"`
	Description string         `json:"description"`
	Params      []skills.Param `json:"params,omitempty"`
}

// SkillOutput is the json form of a skill result.
type SkillOutput struct {
	Skill string       `json:"skill"`
	Rows  []skills.Row `json:"rows"`
}

// Handler implementations

// HandleInfo handles the profile_info tool call.
func (h *Handlers) HandleInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProfileRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	a, err := h.open(ctx, input.Profile)
	if err != nil {
		return errorResult(err), nil
	}
	defer a.Close()

	p := a.Profile()
	return successResult(InfoOutput{
		Path:        p.Path,
		Version:     p.Schema.Version,
		KernelTable: p.Schema.KernelTable,
		Meta:        p.Meta,
	})
}

// HandleAnalyze handles the profile_analyze tool call.
func (h *Handlers) HandleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProfileRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	a, err := h.open(ctx, input.Profile)
	if err != nil {
		return errorResult(err), nil
	}
	defer a.Close()

	return mcp.NewToolResultText(a.Analyze(ctx)), nil
}

// HandleAsk handles the profile_ask tool call.
func (h *Handlers) HandleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AskRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Question) == "" {
		return errorResult(errors.NewInvalidRequest("question is required")), nil
	}

	a, err := h.open(ctx, input.Profile)
	if err != nil {
		return errorResult(err), nil
	}
	defer a.Close()

	return mcp.NewToolResultText(a.Ask(ctx, input.Question)), nil
}

// HandleReport handles the profile_report tool call.
func (h *Handlers) HandleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	w, err := window(input.StartS, input.EndS)
	if err != nil {
		return errorResult(err), nil
	}

	a, err := h.open(ctx, input.Profile)
	if err != nil {
		return errorResult(err), nil
	}
	defer a.Close()

	p := a.Profile()
	device := p.Meta.Devices[0]
	if input.Device != nil {
		device = *input.Device
	}
	if !slices.Contains(p.Meta.Devices, device) {
		return errorResult(errors.NewInvalidRequest(
			fmt.Sprintf("unknown device %d (devices: %v)", device, p.Meta.Devices))), nil
	}
	d := report.Assemble(p, device, w, h.deps.Collaborators)
	return mcp.NewToolResultText(report.FormatMarkdown(d)), nil
}

// HandleListSkills handles the skills_list tool call.
func (h *Handlers) HandleListSkills(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabled := EnabledSkills(h.deps.Registry, h.deps.Config)
	out := make([]SkillInfo, len(enabled))
	for i, s := range enabled {
		out[i] = SkillInfo{
			Name:        s.Name,
			Tool:        SkillToolName(s.Name),
			Title:       s.Title,
			Category:    s.Category,
			Description: s.Description,
			Params:      s.Params,
		}
	}
	return successResult(map[string]any{"skills": out})
}

// skillHandler runs s. Arguments other than profile and format are passed
// to the skill as parameters.
func (h *Handlers) skillHandler(s *skills.Skill) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := map[string]any{}
		var path, format string
		for k, v := range req.GetArguments() {
			switch k {
			case "profile":
				path, _ = v.(string)
			case "format":
				format, _ = v.(string)
			default:
				params[k] = v
			}
		}
		if format != "" && format != "text" && format != "json" {
			return errorResult(errors.NewInvalidRequest("format must be text or json")), nil
		}

		a, err := h.open(ctx, path)
		if err != nil {
			return errorResult(err), nil
		}
		defer a.Close()

		conn := a.Profile().DB()
		if format == "json" {
			rows, err := s.ExecuteContext(ctx, conn, params)
			if err != nil {
				return h.skillError(s, err), nil
			}
			if rows == nil {
				rows = []skills.Row{}
			}
			return successResult(SkillOutput{Skill: s.Name, Rows: rows})
		}

		out, err := s.RunContext(ctx, conn, params)
		if err != nil {
			return h.skillError(s, err), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

// skillError reports a failed skill. Query errors keep the driver message
// so a snapshot missing a table says which one.
func (h *Handlers) skillError(s *skills.Skill, err error) *mcp.CallToolResult {
	var nErr *errors.NsysError
	if !stderrors.As(err, &nErr) {
		h.logger.Warn("skill failed", "skill", s.Name, "error", err)
	}
	return errorResult(skills.Failure(s, err))
}

// open resolves the profile path and opens an agent on it.
func (h *Handlers) open(ctx context.Context, path string) (*agent.Agent, error) {
	if path == "" {
		path = h.deps.Profile
	}
	if path == "" {
		return nil, errors.NewInvalidRequest("profile is required")
	}

	cfg := h.deps.Config
	conv := profile.NewConverter(cfg.NsysPath, time.Duration(cfg.ConvertTimeoutSecs)*time.Second)
	return agent.Open(ctx, path, h.deps.Registry,
		agent.WithSynthesizer(h.deps.Synthesizer),
		agent.WithLogger(h.deps.Logger),
		agent.WithProfileOptions(profile.WithConverter(conv)),
	)
}

// window converts optional second bounds to a nanosecond window.
func window(start, end *float64) (*profile.Window, error) {
	if start == nil && end == nil {
		return nil, nil
	}
	if start == nil || end == nil {
		return nil, errors.NewInvalidRequest("start_s and end_s must be given together")
	}
	if *end < *start {
		return nil, errors.NewInvalidRequest("end_s must not be before start_s")
	}
	return &profile.Window{Start: int64(*start * 1e9), End: int64(*end * 1e9)}, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var nErr *errors.NsysError
	if stderrors.As(err, &nErr) {
		msg := nErr.Message
		if err != error(nErr) {
			// keep wrapper context such as "skills[2]: "
			msg = strings.Replace(err.Error(), nErr.Error(), nErr.Message, 1)
		}
		errorObj := map[string]any{
			"code":    nErr.Code,
			"message": msg,
			"status":  nErr.Status,
		}
		if nErr.Code != errors.ErrInternal && nErr.Details != nil {
			errorObj["details"] = nErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
