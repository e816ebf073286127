package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return p
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.NsysPath != def.NsysPath {
		t.Errorf("NsysPath = %q, want %q", cfg.NsysPath, def.NsysPath)
	}
	if cfg.ConvertTimeoutSecs != 300 {
		t.Errorf("ConvertTimeoutSecs = %d, want 300", cfg.ConvertTimeoutSecs)
	}
	if cfg.SkillConflict != ConflictReplace {
		t.Errorf("SkillConflict = %q, want %q", cfg.SkillConflict, ConflictReplace)
	}
	if cfg.Synthesis.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("Synthesis.APIKeyEnv = %q, want ANTHROPIC_API_KEY", cfg.Synthesis.APIKeyEnv)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"nsys_path": "/opt/nsys/bin/nsys", "convert_timeout_secs": 60, "synthesis": {"max_tokens": 512}}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NsysPath != "/opt/nsys/bin/nsys" {
		t.Errorf("NsysPath = %q, want /opt/nsys/bin/nsys", cfg.NsysPath)
	}
	if cfg.ConvertTimeoutSecs != 60 {
		t.Errorf("ConvertTimeoutSecs = %d, want 60", cfg.ConvertTimeoutSecs)
	}
	if cfg.Synthesis.MaxTokens != 512 {
		t.Errorf("Synthesis.MaxTokens = %d, want 512", cfg.Synthesis.MaxTokens)
	}
	// Untouched nested fields keep defaults
	if cfg.Synthesis.Model != DefaultConfig().Synthesis.Model {
		t.Errorf("Synthesis.Model = %q, want default", cfg.Synthesis.Model)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{not json}`)

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_SkillFilesResolvedRelativeToConfig(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"skill_files": ["skills/extra.yaml", "/abs/other.yaml"]}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.SkillFiles) != 2 {
		t.Fatalf("SkillFiles = %v, want 2 entries", cfg.SkillFiles)
	}
	if want := filepath.Join(tmpDir, "skills", "extra.yaml"); cfg.SkillFiles[0] != want {
		t.Errorf("SkillFiles[0] = %q, want %q", cfg.SkillFiles[0], want)
	}
	if cfg.SkillFiles[1] != "/abs/other.yaml" {
		t.Errorf("SkillFiles[1] = %q, want /abs/other.yaml", cfg.SkillFiles[1])
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	writeConfig(t, globalDir, `{"log_level": "info", "disabled_skills": ["schema_inspect"]}`)
	writeConfig(t, filepath.Join(repoRoot, DirName), `{"log_level": "debug", "disabled_skills": ["thread_utilization"]}`)

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug (repo override)", cfg.LogLevel)
	}
	if len(cfg.DisabledSkills) != 2 {
		t.Errorf("DisabledSkills = %v, want 2 merged entries", cfg.DisabledSkills)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.LogLevel != DefaultConfig().LogLevel {
		t.Errorf("LogLevel = %q, want default", cfg.LogLevel)
	}
	if len(cfg.DisabledSkills) != 0 {
		t.Errorf("DisabledSkills = %v, want empty", cfg.DisabledSkills)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, filepath.Join(tmpDir, DirName), `{"skill_conflict": "reject"}`)

	subdir := filepath.Join(tmpDir, "runs", "2024-10")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(t.TempDir(), subdir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.SkillConflict != ConflictReject {
		t.Errorf("SkillConflict = %q, want reject", cfg.SkillConflict)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{NsysPath: "nsys", ConvertTimeoutSecs: 300}
	overlay := &Config{NsysPath: "/usr/local/bin/nsys"}

	result := Merge(base, overlay)

	if result.NsysPath != "/usr/local/bin/nsys" {
		t.Errorf("NsysPath = %q, want overlay", result.NsysPath)
	}
	if result.ConvertTimeoutSecs != 300 {
		t.Errorf("ConvertTimeoutSecs = %d, want 300 (base, overlay is zero)", result.ConvertTimeoutSecs)
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledCategories: []string{"system", "utility"}}
	overlay := &Config{DisabledCategories: []string{"utility", " nvtx "}}

	result := Merge(base, overlay)

	want := []string{"system", "utility", "nvtx"}
	if len(result.DisabledCategories) != len(want) {
		t.Fatalf("DisabledCategories = %v, want %v", result.DisabledCategories, want)
	}
	for i := range want {
		if result.DisabledCategories[i] != want[i] {
			t.Errorf("DisabledCategories[%d] = %q, want %q", i, result.DisabledCategories[i], want[i])
		}
	}
}

func TestFindRepoConfig(t *testing.T) {
	t.Run("in parent dir", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := writeConfig(t, filepath.Join(tmpDir, DirName), `{}`)

		subdir := filepath.Join(tmpDir, "subdir", "deeper")
		if err := os.MkdirAll(subdir, 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}

		if found := FindRepoConfig(subdir); found != configPath {
			t.Errorf("FindRepoConfig() = %q, want %q", found, configPath)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if found := FindRepoConfig(t.TempDir()); found != "" {
			t.Errorf("FindRepoConfig() = %q, want empty string", found)
		}
	})
}

func TestValidConflictPolicy(t *testing.T) {
	for _, p := range []string{ConflictReplace, ConflictWarn, ConflictReject} {
		if !ValidConflictPolicy(p) {
			t.Errorf("ValidConflictPolicy(%q) = false, want true", p)
		}
	}
	if ValidConflictPolicy("merge") {
		t.Error("ValidConflictPolicy(merge) = true, want false")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}

	cfg := DefaultConfig()
	cfg.SkillConflict = "merge"
	cfg.LogFormat = "yaml"
	cfg.ConvertTimeoutSecs = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, field := range []string{"skill_conflict", "log_format", "convert_timeout_secs"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() error %q does not mention %s", err, field)
		}
	}
	if strings.Contains(err.Error(), "log_level") {
		t.Errorf("Validate() error %q should not mention log_level", err)
	}
}
