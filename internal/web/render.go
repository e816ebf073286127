package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/GindaChen/nsys-tui/internal/errors"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

const layoutFile = "layout.html"

// PageData is embedded in every page's template data.
type PageData struct {
	Title   string
	Version string
	Nav     string // report, analyze or skills
	Profile string
}

type ReportPageData struct {
	PageData
	Devices []int
	Device  int
	StartS  string
	EndS    string
	Body    template.HTML
}

// TextPageData shows preformatted skill or analysis output.
type TextPageData struct {
	PageData
	Heading     string
	Description string
	Body        string
}

type SkillsPageData struct {
	PageData
	Skills []*skills.Skill
}

type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

var funcs = template.FuncMap{
	"params": paramSummary,
}

// paramSummary lists parameters as "name (type, required)".
func paramSummary(params []skills.Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		if p.Required {
			parts[i] = fmt.Sprintf("%s (%s, required)", p.Name, p.Type)
		} else {
			parts[i] = fmt.Sprintf("%s (%s)", p.Name, p.Type)
		}
	}
	return strings.Join(parts, ", ")
}

// Renderer executes page templates. Every page file is parsed on top of its
// own copy of the layout so that each can define "content".
type Renderer struct {
	pages    map[string]*template.Template
	version  string
	logger   *slog.Logger
	markdown goldmark.Markdown
}

// NewRenderer parses layout.html and every other *.html file in tfs. A page
// is addressed by its file name without the extension.
func NewRenderer(tfs fs.FS, version string, logger *slog.Logger) (*Renderer, error) {
	base, err := template.New("layout").Funcs(funcs).ParseFS(tfs, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	files, err := fs.Glob(tfs, "*.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template)
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		t := template.Must(base.Clone())
		if _, err := t.ParseFS(tfs, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		pages[strings.TrimSuffix(file, path.Ext(file))] = t
	}

	return &Renderer{
		pages:    pages,
		version:  version,
		logger:   logger,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus buffers the page so a template failure still yields a
// clean 500 instead of a half-written body.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	t := r.pages[name]
	if t == nil {
		r.logger.Error("unknown page", "page", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError answers with the error's status, as JSON when the client asks
// for it and as the error page otherwise. Errors without a code are logged
// and reported as INTERNAL.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, page PageData, err error) {
	var nErr *errors.NsysError
	if !stderrors.As(err, &nErr) {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		nErr = errors.NewInternal(err)
	}

	if wantsJSON(req) {
		renderJSON(w, nErr.Status, map[string]any{"error": map[string]any{
			"code":    nErr.Code,
			"message": nErr.Message,
			"status":  nErr.Status,
		}})
		return
	}

	page.Title = fmt.Sprintf("Error %d", nErr.Status)
	r.renderPageStatus(w, nErr.Status, "error", ErrorPageData{
		PageData:   page,
		StatusCode: nErr.Status,
		Message:    nErr.Message,
	})
}

// renderMarkdown converts a markdown report to HTML. Raw HTML in the
// source is dropped by goldmark's default renderer.
func (r *Renderer) renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(md), &buf); err != nil {
		r.logger.Warn("markdown conversion failed", "error", err)
		return template.HTML("<pre>" + template.HTMLEscapeString(md) + "</pre>")
	}
	return template.HTML(buf.String())
}

func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
