package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/GindaChen/nsys-tui/internal/agent"
	"github.com/GindaChen/nsys-tui/internal/errors"
	"github.com/GindaChen/nsys-tui/internal/profile"
	"github.com/GindaChen/nsys-tui/internal/report"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

// Handlers contains HTTP route handlers for the report preview.
type Handlers struct {
	// mu serializes use of the agent; a profile is not safe for concurrent use.
	mu       sync.Mutex
	agent    *agent.Agent
	reg      *skills.Registry
	collab   report.Collaborators
	renderer *Renderer
	logger   *slog.Logger
}

func (h *Handlers) page(title, nav string) PageData {
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		Profile: h.agent.Profile().Path,
	}
}

// HandleReport handles GET /report, the per-device report rendered from markdown.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	page := h.page("Report", "report")
	prof := h.agent.Profile()

	device := prof.Meta.Devices[0]
	if s := r.URL.Query().Get("device"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil {
			h.renderer.renderError(w, r, page, errors.NewInvalidRequest("device must be an integer"))
			return
		}
		if !slices.Contains(prof.Meta.Devices, d) {
			h.renderer.renderError(w, r, page, errors.NewInvalidRequest(
				fmt.Sprintf("unknown device %d (devices: %v)", d, prof.Meta.Devices)))
			return
		}
		device = d
	}

	startS, endS := r.URL.Query().Get("start_s"), r.URL.Query().Get("end_s")
	win, err := parseWindow(startS, endS)
	if err != nil {
		h.renderer.renderError(w, r, page, err)
		return
	}

	h.mu.Lock()
	data := report.Assemble(prof, device, win, h.collab)
	h.mu.Unlock()

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, data)
		return
	}

	h.renderer.renderPage(w, "report", ReportPageData{
		PageData: page,
		Devices:  prof.Meta.Devices,
		Device:   device,
		StartS:   startS,
		EndS:     endS,
		Body:     h.renderer.renderMarkdown(report.FormatMarkdown(data)),
	})
}

// HandleAnalyze handles GET /analyze, the auto-analysis sweep.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := h.agent.Analyze(r.Context())
	h.mu.Unlock()

	h.renderer.renderPage(w, "text", TextPageData{
		PageData: h.page("Analyze", "analyze"),
		Heading:  "Auto-analysis",
		Body:     out,
	})
}

// HandleSkills handles GET /skills, the skill catalog.
func (h *Handlers) HandleSkills(w http.ResponseWriter, r *http.Request) {
	all := h.reg.All()
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"skills": all})
		return
	}
	h.renderer.renderPage(w, "skills", SkillsPageData{
		PageData: h.page("Skills", "skills"),
		Skills:   all,
	})
}

// HandleSkill handles GET /skills/{name} by running one skill. Query parameters
// other than format are passed to the skill and coerced to the declared
// types.
func (h *Handlers) HandleSkill(w http.ResponseWriter, r *http.Request) {
	page := h.page("Skills", "skills")
	name := r.PathValue("name")

	s, ok := h.reg.Get(name)
	if !ok {
		h.renderer.renderError(w, r, page, errors.NewUnknownSkill(name, h.reg.List()))
		return
	}

	params := map[string]any{}
	for k, v := range r.URL.Query() {
		if k != "format" && len(v) > 0 {
			params[k] = v[0]
		}
	}

	h.logger.Debug("run skill", "skill", s.Name, "params", len(params))

	h.mu.Lock()
	defer h.mu.Unlock()

	conn := h.agent.Profile().DB()
	if conn == nil {
		h.renderer.renderError(w, r, page, profile.ErrClosed)
		return
	}

	if wantsJSON(r) {
		rows, err := s.ExecuteContext(r.Context(), conn, params)
		if err != nil {
			h.renderer.renderError(w, r, page, skills.Failure(s, err))
			return
		}
		if rows == nil {
			rows = []skills.Row{}
		}
		renderJSON(w, http.StatusOK, map[string]any{"skill": s.Name, "rows": rows})
		return
	}

	out, err := s.RunContext(r.Context(), conn, params)
	if err != nil {
		h.renderer.renderError(w, r, page, skills.Failure(s, err))
		return
	}
	page.Title = s.Title
	h.renderer.renderPage(w, "text", TextPageData{
		PageData:    page,
		Heading:     s.Title,
		Description: s.Description,
		Body:        out,
	})
}

// parseWindow reads an optional window given in seconds.
func parseWindow(startS, endS string) (*profile.Window, error) {
	if startS == "" && endS == "" {
		return nil, nil
	}
	if startS == "" || endS == "" {
		return nil, errors.NewInvalidRequest("start_s and end_s must be given together")
	}
	start, err := strconv.ParseFloat(startS, 64)
	if err != nil {
		return nil, errors.NewInvalidRequest("start_s must be a number")
	}
	end, err := strconv.ParseFloat(endS, 64)
	if err != nil {
		return nil, errors.NewInvalidRequest("end_s must be a number")
	}
	if end < start {
		return nil, errors.NewInvalidRequest("end_s must not be before start_s")
	}
	return &profile.Window{Start: int64(start * 1e9), End: int64(end * 1e9)}, nil
}
