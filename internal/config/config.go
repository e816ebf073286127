package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirName is the per-user and per-repo configuration directory name.
const DirName = ".nsys-ai"

const configFile = "config.json"

// Skill conflict policies for duplicate skill registrations.
const (
	ConflictReplace = "replace"
	ConflictWarn    = "warn"
	ConflictReject  = "reject"
)

// Config holds application configuration.
type Config struct {
	// NsysPath is the Nsight Systems CLI used to convert .nsys-rep captures.
	// Resolved through PATH when not absolute.
	NsysPath string `json:"nsys_path,omitempty"`

	// ConvertTimeoutSecs bounds a single `nsys export` run.
	ConvertTimeoutSecs int `json:"convert_timeout_secs,omitempty"`

	// SkillFiles lists YAML files with user-contributed skill definitions.
	// Relative paths are resolved against the directory of the config file
	// that declared them.
	SkillFiles []string `json:"skill_files,omitempty"`

	// SkillConflict decides what happens when a skill name is registered twice:
	// "replace" (last registration wins), "warn" (replace and log), or "reject".
	SkillConflict string `json:"skill_conflict,omitempty"`

	// DisabledSkills is a list of skill names to exclude from the MCP tool set.
	// Unknown skill names are logged as warnings.
	DisabledSkills []string `json:"disabled_skills,omitempty"`

	// DisabledCategories disables every skill of the listed categories
	// (e.g. "system", "utility") in the MCP tool set.
	DisabledCategories []string `json:"disabled_categories,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format,omitempty"`

	// Synthesis configures the optional natural-language analysis layer.
	Synthesis SynthesisConfig `json:"synthesis,omitempty"`
}

// SynthesisConfig configures the narrative synthesizer used by ask.
type SynthesisConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	// Synthesis is disabled when the variable is unset or empty.
	APIKeyEnv string `json:"api_key_env,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		NsysPath:           "nsys",
		ConvertTimeoutSecs: 300,
		SkillConflict:      ConflictReplace,
		LogLevel:           "warn",
		LogFormat:          "text",
		Synthesis: SynthesisConfig{
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Endpoint:  "https://api.anthropic.com",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2048,
		},
	}
}

// Load reads baseDir/config.json over the defaults. A missing file is not
// an error.
func Load(baseDir string) (*Config, error) {
	cfg, err := readFile(filepath.Join(baseDir, configFile))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo layers three sources: defaults, globalDir/config.json and the
// nearest .nsys-ai/config.json at or above startDir. Either file may be absent.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	cfg := DefaultConfig()
	for _, path := range []string{filepath.Join(globalDir, configFile), FindRepoConfig(startDir)} {
		layer, err := readFile(path)
		if err != nil {
			return nil, err
		}
		cfg = Merge(cfg, layer)
	}
	return cfg, nil
}

// FindRepoConfig returns the path of the nearest .nsys-ai/config.json at or
// above startDir, or "" at the filesystem root.
func FindRepoConfig(startDir string) string {
	for dir := startDir; ; {
		candidate := filepath.Join(dir, DirName, configFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// readFile decodes one config file without applying defaults. An empty path
// or a missing file yields an empty Config. Relative skill files are
// anchored at the file's directory.
func readFile(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for i, f := range cfg.SkillFiles {
		if f != "" && !filepath.IsAbs(f) {
			cfg.SkillFiles[i] = filepath.Join(filepath.Dir(path), f)
		}
	}
	return cfg, nil
}

// Merge overlays one config on another. Non-empty overlay scalars win;
// lists are concatenated with blanks and duplicates dropped.
func Merge(base, overlay *Config) *Config {
	return &Config{
		NsysPath:           pick(strings.TrimSpace(overlay.NsysPath), base.NsysPath),
		ConvertTimeoutSecs: pick(overlay.ConvertTimeoutSecs, base.ConvertTimeoutSecs),
		SkillFiles:         union(base.SkillFiles, overlay.SkillFiles),
		SkillConflict:      pick(strings.TrimSpace(overlay.SkillConflict), base.SkillConflict),
		DisabledSkills:     union(base.DisabledSkills, overlay.DisabledSkills),
		DisabledCategories: union(base.DisabledCategories, overlay.DisabledCategories),
		LogLevel:           pick(strings.TrimSpace(overlay.LogLevel), base.LogLevel),
		LogFormat:          pick(strings.TrimSpace(overlay.LogFormat), base.LogFormat),
		Synthesis: SynthesisConfig{
			APIKeyEnv: pick(strings.TrimSpace(overlay.Synthesis.APIKeyEnv), base.Synthesis.APIKeyEnv),
			Endpoint:  pick(strings.TrimSpace(overlay.Synthesis.Endpoint), base.Synthesis.Endpoint),
			Model:     pick(strings.TrimSpace(overlay.Synthesis.Model), base.Synthesis.Model),
			MaxTokens: pick(overlay.Synthesis.MaxTokens, base.Synthesis.MaxTokens),
		},
	}
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	var errs []error
	if !ValidConflictPolicy(c.SkillConflict) {
		errs = append(errs, fmt.Errorf("skill_conflict: unknown policy %q (want replace, warn or reject)", c.SkillConflict))
	}
	if c.ConvertTimeoutSecs < 0 {
		errs = append(errs, fmt.Errorf("convert_timeout_secs: must not be negative, got %d", c.ConvertTimeoutSecs))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	if c.Synthesis.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_tokens: must not be negative, got %d", c.Synthesis.MaxTokens))
	}
	return errors.Join(errs...)
}

// ValidConflictPolicy reports whether p is a known skill conflict policy.
func ValidConflictPolicy(p string) bool {
	switch p {
	case ConflictReplace, ConflictWarn, ConflictReject:
		return true
	}
	return false
}

func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// union returns the trimmed, non-empty entries of lists in first-seen order,
// or nil when there are none.
func union(lists ...[]string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, s := range slices.Concat(lists...) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
