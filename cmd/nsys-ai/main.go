package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/GindaChen/nsys-tui/internal/config"
	"github.com/GindaChen/nsys-tui/internal/skills"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  nsys-ai: Nsight Systems profile analysis

  Usage: nsys-ai <command> [options] <profile.sqlite|profile.nsys-rep>
         nsys-ai --help

  Run 'nsys-ai mcp' to serve the analysis skills to an MCP client.`)
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// buildRegistry registers the builtin skills plus those of every configured
// skill file, applying the configured conflict policy.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*skills.Registry, error) {
	var extra []*skills.Skill
	for _, path := range cfg.SkillFiles {
		loaded, err := skills.LoadFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded skill file", "path", path, "skills", len(loaded))
		extra = append(extra, loaded...)
	}
	return skills.NewRegistry(
		skills.WithConflictPolicy(cfg.SkillConflict),
		skills.WithSkills(extra...),
		skills.WithLogger(logger),
	)
}

// exitCode is the process status for a failed command: the code carried by
// a cli.Exit error, otherwise 1.
func exitCode(err error) int {
	var coder cli.ExitCoder
	if stderrors.As(err, &coder) && coder.ExitCode() != 0 {
		return coder.ExitCode()
	}
	return 1
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine working directory: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadWithRepo(filepath.Join(homeDir, config.DirName), cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLIApp(&env{cfg: cfg, reg: reg, logger: logger, out: os.Stdout})
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}
