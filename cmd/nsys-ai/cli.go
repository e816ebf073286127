package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/GindaChen/nsys-tui/internal/agent"
	"github.com/GindaChen/nsys-tui/internal/config"
	"github.com/GindaChen/nsys-tui/internal/errors"
	"github.com/GindaChen/nsys-tui/internal/mcp"
	"github.com/GindaChen/nsys-tui/internal/profile"
	"github.com/GindaChen/nsys-tui/internal/report"
	"github.com/GindaChen/nsys-tui/internal/skills"
	"github.com/GindaChen/nsys-tui/internal/web"
)

// env holds what every command shares. It is built once by main.
type env struct {
	cfg    *config.Config
	reg    *skills.Registry
	logger *slog.Logger
	out    io.Writer

	// synth overrides the configured synthesizer; tests set it.
	synth agent.Synthesizer
	// collab supplies the report analyses; nil means report.Unavailable.
	collab report.Collaborators
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "nsys-ai",
		Usage:   "Analyze Nsight Systems profiles with SQL skills",
		Version: Version,
		Writer:  e.out,
		Commands: []*cli.Command{
			infoCmd(e),
			skillsCmd(e),
			catalogCmd(e),
			skillCmd(e),
			analyzeCmd(e),
			askCmd(e),
			reportCmd(e),
			exportCmd(e),
			serveCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// openAgent opens the profile named by argument i.
func (e *env) openAgent(c *cli.Context, i int, synth agent.Synthesizer) (*agent.Agent, error) {
	if c.NArg() <= i {
		return nil, errors.NewInvalidRequest("profile path is required")
	}
	conv := profile.NewConverter(e.cfg.NsysPath, time.Duration(e.cfg.ConvertTimeoutSecs)*time.Second)
	opts := []agent.Option{
		agent.WithLogger(e.logger),
		agent.WithProfileOptions(profile.WithConverter(conv)),
	}
	if synth != nil {
		opts = append(opts, agent.WithSynthesizer(synth))
	}
	return agent.Open(c.Context, c.Args().Get(i), e.reg, opts...)
}

// synthesizer returns the synthesizer used by ask and the MCP server. It
// reports itself unavailable when no API key is configured.
func (e *env) synthesizer() agent.Synthesizer {
	if e.synth != nil {
		return e.synth
	}
	return agent.NewAnthropicSynthesizer(e.cfg.Synthesis, agent.SystemPrompt(e.reg.Catalog()))
}

func (e *env) collaborators() report.Collaborators {
	if e.collab != nil {
		return e.collab
	}
	return report.Unavailable{}
}

// infoCmd creates the info command.
func infoCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show GPU hardware, streams, time range and schema of a profile",
		ArgsUsage: "<profile>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Output JSON"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.openAgent(c, 0, nil)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			p := a.Profile()
			if c.Bool("json") {
				return e.outputJSON(map[string]any{
					"path":         p.Path,
					"version":      p.Schema.Version,
					"kernel_table": p.Schema.KernelTable,
					"meta":         p.Meta,
				})
			}
			fmt.Fprint(e.out, formatInfo(p))
			return nil
		},
	}
}

// formatInfo renders the profile overview for the terminal.
func formatInfo(p *profile.Profile) string {
	m := p.Meta
	var b strings.Builder
	fmt.Fprintf(&b, "Profile:  %s\n", p.Path)
	version := p.Schema.Version
	if version == "" {
		version = "unknown"
	}
	fmt.Fprintf(&b, "Nsight:   %s\n", version)
	fmt.Fprintf(&b, "Kernels:  %s (%s)\n", humanize.Comma(int64(m.KernelCount)), p.Schema.KernelTable)
	fmt.Fprintf(&b, "NVTX:     %s ranges\n", humanize.Comma(int64(m.AnnotationCount)))
	fmt.Fprintf(&b, "Span:     %.3fs – %.3fs (%.1fms)\n",
		float64(m.TimeRange[0])/1e9, float64(m.TimeRange[1])/1e9, float64(m.TimeRange[1]-m.TimeRange[0])/1e6)
	fmt.Fprintf(&b, "Tables:   %d\n", len(m.Tables))
	b.WriteString("\n")

	for _, dev := range m.Devices {
		g := m.GPUs[dev]
		name := g.Name
		if name == "" {
			name = "unknown GPU"
		}
		fmt.Fprintf(&b, "GPU %d: %s", dev, name)
		if g.PCIBus != "" {
			fmt.Fprintf(&b, " (%s)", g.PCIBus)
		}
		b.WriteString("\n")
		if g.SMCount > 0 || g.MemoryBytes > 0 {
			fmt.Fprintf(&b, "  %d SMs | %s\n", g.SMCount, humanize.IBytes(uint64(g.MemoryBytes)))
		}
		streams := make([]string, len(m.Streams[dev]))
		for i, s := range m.Streams[dev] {
			streams[i] = fmt.Sprint(s)
		}
		fmt.Fprintf(&b, "  %d kernels on streams %s\n", g.KernelCount, strings.Join(streams, ", "))
	}
	return b.String()
}

// skillsCmd creates the skills command.
func skillsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "skills",
		Usage: "List the registered analysis skills",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Only list skills of this category"},
			&cli.BoolFlag{Name: "json", Usage: "Output JSON"},
		},
		Action: func(c *cli.Context) error {
			category := c.String("category")
			if category != "" && !slices.Contains(e.reg.Categories(), category) {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf(
					"unknown category %q. Available: %s", category, strings.Join(e.reg.Categories(), ", "))))
			}

			var list []*skills.Skill
			for _, s := range e.reg.All() {
				if category == "" || s.Category == category {
					list = append(list, s)
				}
			}

			if c.Bool("json") {
				return e.outputJSON(map[string]any{"skills": list})
			}
			for _, s := range list {
				fmt.Fprintf(e.out, "%-24s  %-14s  %s\n", s.Name, s.Category, s.Title)
			}
			return nil
		},
	}
}

// catalogCmd creates the catalog command.
func catalogCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Print the skill catalog given to the language model",
		Action: func(c *cli.Context) error {
			fmt.Fprintln(e.out, e.reg.Catalog())
			return nil
		},
	}
}

// skillCmd creates the skill command.
func skillCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "skill",
		Usage:     "Run one skill against a profile",
		ArgsUsage: "<name> <profile>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "Skill parameter as name=value (repeatable)"},
			&cli.BoolFlag{Name: "json", Usage: "Output rows as JSON"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: nsys-ai skill <name> <profile>"))
			}
			name := c.Args().Get(0)
			s, ok := e.reg.Get(name)
			if !ok {
				return outputError(errors.NewUnknownSkill(name, e.reg.List()))
			}
			params, err := parseParams(c.StringSlice("param"))
			if err != nil {
				return outputError(err)
			}

			a, err := e.openAgent(c, 1, nil)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			if c.Bool("json") {
				rows, err := s.ExecuteContext(c.Context, a.Profile().DB(), params)
				if err != nil {
					return outputError(skills.Failure(s, interrupted(c.Context, err)))
				}
				if rows == nil {
					rows = []skills.Row{}
				}
				return e.outputJSON(map[string]any{"skill": s.Name, "rows": rows})
			}

			out, err := a.RunSkill(c.Context, name, params)
			if err != nil {
				return outputError(skills.Failure(s, interrupted(c.Context, err)))
			}
			fmt.Fprintln(e.out, out)
			return nil
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Run the standard auto-analysis sweep",
		ArgsUsage: "<profile>",
		Action: func(c *cli.Context) error {
			a, err := e.openAgent(c, 0, nil)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			fmt.Fprintln(e.out, a.Analyze(c.Context))
			if err := c.Context.Err(); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// askCmd creates the ask command.
func askCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question by running the skills it mentions",
		ArgsUsage: "<profile> <question...>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-ai", Usage: "Skip the language model synthesis"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("usage: nsys-ai ask <profile> <question...>"))
			}
			question := strings.Join(c.Args().Slice()[1:], " ")
			if strings.TrimSpace(question) == "" {
				return outputError(errors.NewInvalidRequest("question is required"))
			}

			var synth agent.Synthesizer
			if !c.Bool("no-ai") {
				synth = e.synthesizer()
			}
			a, err := e.openAgent(c, 0, synth)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			fmt.Fprintln(e.out, a.Ask(c.Context, question))
			if err := c.Context.Err(); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// reportCmd creates the report command.
func reportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Assemble the per-GPU report",
		ArgsUsage: "<profile>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Value: -1, Usage: "GPU device id (default: first device)"},
			&cli.Float64Flag{Name: "start", Usage: "Window start in seconds"},
			&cli.Float64Flag{Name: "end", Usage: "Window end in seconds"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "Output format: text|markdown|json"},
		},
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != "text" && format != "markdown" && format != "json" {
				return outputError(errors.NewInvalidRequest("format must be text, markdown or json"))
			}
			win, err := windowFlags(c)
			if err != nil {
				return outputError(err)
			}

			a, err := e.openAgent(c, 0, nil)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			p := a.Profile()
			device := c.Int("device")
			if device < 0 {
				device = p.Meta.Devices[0]
			}
			if !slices.Contains(p.Meta.Devices, device) {
				return outputError(errors.NewInvalidRequest(
					fmt.Sprintf("unknown device %d (devices: %v)", device, p.Meta.Devices)))
			}

			d := report.Assemble(p, device, win, e.collaborators())
			switch format {
			case "json":
				return e.outputJSON(d)
			case "markdown":
				fmt.Fprint(e.out, report.FormatMarkdown(d))
			default:
				fmt.Fprint(e.out, report.FormatTerminal(d))
			}
			return nil
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write a portable trace file per GPU",
		ArgsUsage: "<profile>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Value: -1, Usage: "GPU device id (default: every device)"},
			&cli.Float64Flag{Name: "start", Usage: "Window start in seconds"},
			&cli.Float64Flag{Name: "end", Usage: "Window end in seconds"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "traces", Usage: "Output directory"},
			&cli.BoolFlag{Name: "json", Usage: "Output the per-device summary as JSON"},
		},
		Action: func(c *cli.Context) error {
			win, err := windowFlags(c)
			if err != nil {
				return outputError(err)
			}

			a, err := e.openAgent(c, 0, nil)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			p := a.Profile()
			devices := p.Meta.Devices
			if d := c.Int("device"); d >= 0 {
				if !slices.Contains(devices, d) {
					return outputError(errors.NewInvalidRequest(
						fmt.Sprintf("unknown device %d (devices: %v)", d, devices)))
				}
				devices = []int{d}
			}

			results, err := report.ExportTraces(p, devices, win, e.collaborators(), c.String("output"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if c.Bool("json") {
				return e.outputJSON(map[string]any{"exports": results})
			}
			for _, r := range results {
				fmt.Fprintln(e.out, r)
			}
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve a local HTML preview of the report",
		ArgsUsage: "<profile>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8321, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			a, err := e.openAgent(c, 0, nil)
			if err != nil {
				return outputError(err)
			}
			defer a.Close()

			srv, err := web.NewServer(a, e.reg, web.Options{
				Bind:          c.String("bind"),
				Port:          c.Int("port"),
				Version:       Version,
				Collaborators: e.collaborators(),
				Logger:        e.logger,
			})
			if err != nil {
				return outputError(err)
			}
			fmt.Fprintf(e.out, "nsys-ai preview running at http://%s\n", srv.Addr)
			if err := web.Run(c.Context, srv, e.logger); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the skills and agent as MCP tools over stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Usage: "Profile used when a tool call does not name one"},
		},
		Action: func(c *cli.Context) error {
			deps := e.mcpDeps(c.String("profile"))
			if err := mcp.Run(deps, Version); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// mcpDeps builds the MCP server dependencies and warns about disabled names
// that match nothing.
func (e *env) mcpDeps(defaultProfile string) mcp.Deps {
	if unknown := mcp.ValidateDisabledSkills(e.reg, e.cfg.DisabledSkills); len(unknown) > 0 {
		e.logger.Warn("unknown skills in disabled_skills", "skills", strings.Join(unknown, ","))
	}
	if unknown := mcp.ValidateDisabledCategories(e.reg, e.cfg.DisabledCategories); len(unknown) > 0 {
		e.logger.Warn("unknown categories in disabled_categories", "categories", strings.Join(unknown, ","))
	}
	return mcp.Deps{
		Registry:    e.reg,
		Config:      e.cfg,
		Profile:     defaultProfile,
		Synthesizer: e.synthesizer(),
		Logger:      e.logger,
	}
}

// parseParams turns name=value pairs into skill parameters. Values stay
// strings; the skill coerces them to the declared types.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid parameter %q: want name=value", pair))
		}
		params[name] = value
	}
	return params, nil
}

// windowFlags reads the optional --start/--end window in seconds.
func windowFlags(c *cli.Context) (*profile.Window, error) {
	hasStart, hasEnd := c.IsSet("start"), c.IsSet("end")
	if !hasStart && !hasEnd {
		return nil, nil
	}
	if hasStart != hasEnd {
		return nil, errors.NewInvalidRequest("--start and --end must be given together")
	}
	start, end := c.Float64("start"), c.Float64("end")
	if end < start {
		return nil, errors.NewInvalidRequest("--end must not be before --start")
	}
	return &profile.Window{Start: int64(start * 1e9), End: int64(end * 1e9)}, nil
}

// outputJSON marshals v to the command output as indented JSON.
func (e *env) outputJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return outputError(errors.NewInternal(err))
	}
	return nil
}

// interrupted prefers the context's error over the query error it caused.
func interrupted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// outputError formats error for CLI.
func outputError(err error) error {
	var nErr *errors.NsysError
	if stderrors.As(err, &nErr) {
		if nErr.Code == errors.ErrInternal {
			return cli.Exit(fmt.Sprintf("[%s] %s: %v", nErr.Code, nErr.Message, nErr.Details["internal_error"]), 1)
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", nErr.Code, nErr.Message), 1)
	}
	if stderrors.Is(err, context.Canceled) {
		return cli.Exit("interrupted", 130)
	}
	return cli.Exit(err.Error(), 1)
}
