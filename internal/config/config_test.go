package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const sampleSettings = `
global_profile: BALANCED
ace:
  max_files_per_run: 8
  auto_merge_threshold: 3
fers:
  safe_file_token_limit: 3000
profiles:
  FAST_SAFE:
    ace:
      max_files_per_run: 2
    fers:
      safe_file_token_limit: 1500
  BALANCED: {}
  DEEP:
    ace:
      max_files_per_run: 0
      allow_auto_apply: true
    fers:
      max_functions: 6
`

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config", "settings.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestConfig(t *testing.T, path, override string, env Env) *ProfileConfig {
	t.Helper()
	cfg, err := New(path, override, WithLogger(quietLogger()), WithEnv(env))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	ace := DefaultACE()
	if ace.MaxFilesPerRun != 8 {
		t.Errorf("MaxFilesPerRun = %d, want 8", ace.MaxFilesPerRun)
	}
	if ace.AutoMergeThreshold != 3 {
		t.Errorf("AutoMergeThreshold = %d, want 3", ace.AutoMergeThreshold)
	}
	if ace.AllowAutoApply {
		t.Error("AllowAutoApply = true, want false")
	}
	fers := DefaultFERS()
	if fers.WholeFileTokenLimit != 600 || fers.SafeFileTokenLimit != 3000 {
		t.Errorf("token limits = %d/%d, want 600/3000", fers.WholeFileTokenLimit, fers.SafeFileTokenLimit)
	}
}

func TestNew_ProfilePrecedence(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		override    string
		env         Env
		wantProfile string
		wantSource  Source
	}{
		{"flag wins", sampleSettings + "fers_profile: DEEP\n", "fast", Env{Profile: "DEEP"}, "FAST_SAFE", SourceFlag},
		{"env over document", sampleSettings + "fers_profile: DEEP\n", "", Env{Profile: "fast"}, "FAST_SAFE", SourceEnv},
		{"fers_profile over global", sampleSettings + "fers_profile: DEEP\n", "", Env{}, "DEEP", SourceFERSProfile},
		{"global_profile", sampleSettings, "", Env{}, "BALANCED", SourceGlobalProfile},
		{"default", "ace: {}\nfers: {}\nprofiles: {}\n", "", Env{}, "BALANCED", SourceDefault},
		{"unknown falls back", sampleSettings, "turbo", Env{}, "BALANCED", SourceDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t, writeSettings(t, tt.doc), tt.override, tt.env)
			if cfg.Profile() != tt.wantProfile {
				t.Errorf("Profile() = %q, want %q", cfg.Profile(), tt.wantProfile)
			}
			if cfg.ProfileSource() != tt.wantSource {
				t.Errorf("ProfileSource() = %q, want %q", cfg.ProfileSource(), tt.wantSource)
			}
		})
	}
}

func TestApplyProfile_OverlayMerge(t *testing.T) {
	cfg := newTestConfig(t, writeSettings(t, sampleSettings), "FAST_SAFE", Env{})

	s := cfg.Settings()
	if s.ACE.MaxFilesPerRun != 2 {
		t.Errorf("MaxFilesPerRun = %d, want 2", s.ACE.MaxFilesPerRun)
	}
	if s.ACE.AutoMergeThreshold != 3 {
		t.Errorf("AutoMergeThreshold = %d, want base value 3", s.ACE.AutoMergeThreshold)
	}
	if s.FERS.SafeFileTokenLimit != 1500 {
		t.Errorf("SafeFileTokenLimit = %d, want 1500", s.FERS.SafeFileTokenLimit)
	}
	if s.FERS.ChunkSize != 1000 {
		t.Errorf("ChunkSize = %d, want default 1000", s.FERS.ChunkSize)
	}
}

func TestApplyProfile_ZeroValueOverride(t *testing.T) {
	cfg := newTestConfig(t, writeSettings(t, sampleSettings), "deep", Env{})

	s := cfg.Settings()
	if s.ACE.MaxFilesPerRun != 0 {
		t.Errorf("MaxFilesPerRun = %d, want 0 from overlay", s.ACE.MaxFilesPerRun)
	}
	if !s.ACE.AllowAutoApply {
		t.Error("AllowAutoApply = false, want true from overlay")
	}
	if s.FERS.MaxFunctions != 6 {
		t.Errorf("MaxFunctions = %d, want 6", s.FERS.MaxFunctions)
	}
}

func TestApplyProfile_Idempotent(t *testing.T) {
	cfg := newTestConfig(t, writeSettings(t, sampleSettings), "fast", Env{})
	first := cfg.Settings()

	if err := cfg.ApplyProfile("fast"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.ApplyProfile("balanced"); err != nil {
		t.Fatal(err)
	}
	if got := cfg.Settings().ACE.MaxFilesPerRun; got != 8 {
		t.Errorf("after switching to BALANCED MaxFilesPerRun = %d, want 8", got)
	}
	if err := cfg.ApplyProfile("fast"); err != nil {
		t.Fatal(err)
	}
	if got := cfg.Settings(); got.ACE.MaxFilesPerRun != first.ACE.MaxFilesPerRun {
		t.Errorf("reapplied MaxFilesPerRun = %d, want %d", got.ACE.MaxFilesPerRun, first.ACE.MaxFilesPerRun)
	}
}

func TestEnvAutoApplyWins(t *testing.T) {
	path := writeSettings(t, sampleSettings)

	cfg := newTestConfig(t, path, "", Env{AllowAutoApply: "YES"})
	if !cfg.Settings().ACE.AllowAutoApply {
		t.Error("ACE_ALLOW_AUTO_APPLY=YES should enable auto-apply")
	}

	cfg = newTestConfig(t, path, "deep", Env{AllowAutoApply: "0"})
	if cfg.Settings().ACE.AllowAutoApply {
		t.Error("ACE_ALLOW_AUTO_APPLY=0 should disable auto-apply over the document")
	}
}

func TestEnv_AutoApply(t *testing.T) {
	tests := []struct {
		value     string
		wantAllow bool
		wantSet   bool
	}{
		{"", false, false},
		{"1", true, true},
		{"true", true, true},
		{"Yes", true, true},
		{"on", false, true},
		{"false", false, true},
	}
	for _, tt := range tests {
		allow, set := Env{AllowAutoApply: tt.value}.AutoApply()
		if allow != tt.wantAllow || set != tt.wantSet {
			t.Errorf("AutoApply(%q) = %v,%v want %v,%v", tt.value, allow, set, tt.wantAllow, tt.wantSet)
		}
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("ACE_PROFILE", "deep")
	t.Setenv("LLAMA_MAX_RETRIES", "5")

	e, err := ParseEnv()
	if err != nil {
		t.Fatalf("ParseEnv() error = %v", err)
	}
	if e.Profile != "deep" {
		t.Errorf("Profile = %q, want deep", e.Profile)
	}
	if e.LlamaMaxRetries != 5 {
		t.Errorf("LlamaMaxRetries = %d, want 5", e.LlamaMaxRetries)
	}
	if e.LlamaCtxLimit != 4096 {
		t.Errorf("LlamaCtxLimit = %d, want default 4096", e.LlamaCtxLimit)
	}
}

func TestNew_MissingDocument(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"), "", WithLogger(quietLogger()), WithEnv(Env{}))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("error = %v, want ErrConfigNotFound", err)
	}
}

func TestNew_InvalidYAML(t *testing.T) {
	path := writeSettings(t, "ace: [unclosed\n")
	_, err := New(path, "", WithLogger(quietLogger()), WithEnv(Env{}))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("error = %v, want ErrConfigInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := newTestConfig(t, writeSettings(t, "global_profile: TURBO\nace: {}\n"), "", Env{})

	warnings := cfg.Validate()
	if len(warnings) != 3 {
		t.Fatalf("Validate() returned %d warnings, want 3: %v", len(warnings), warnings)
	}
	if cfg.Profile() != DefaultProfile {
		t.Errorf("Profile() = %q, want %q", cfg.Profile(), DefaultProfile)
	}
}

func TestValidateAcceptsDocumentProfiles(t *testing.T) {
	doc := `
global_profile: fast
fers_profile: NIGHTLY
ace: {}
fers: {}
profiles:
  NIGHTLY:
    ace:
      max_files_per_run: 1
`
	cfg := newTestConfig(t, writeSettings(t, doc), "", Env{})
	if cfg.Profile() != "NIGHTLY" || cfg.Settings().ACE.MaxFilesPerRun != 1 {
		t.Fatalf("profile = %s max_files = %d, want NIGHTLY/1", cfg.Profile(), cfg.Settings().ACE.MaxFilesPerRun)
	}
	if warnings := cfg.Validate(); len(warnings) != 0 {
		t.Errorf("Validate() = %v, want no warnings", warnings)
	}

	cfg = newTestConfig(t, writeSettings(t, `fers_profile: WEEKLY
ace: {}
fers: {}
profiles:
  NIGHTLY: {}
`), "", Env{})
	warnings := cfg.Validate()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "NIGHTLY") || !strings.Contains(warnings[0], "WEEKLY") {
		t.Errorf("Validate() = %v, want one warning naming WEEKLY and listing NIGHTLY", warnings)
	}
}

func TestAutoSync(t *testing.T) {
	path := writeSettings(t, sampleSettings)
	cfg := newTestConfig(t, path, "fast", Env{})

	changed, err := cfg.AutoSync()
	if err != nil || changed {
		t.Fatalf("AutoSync() on unchanged file = %v, %v; want false, nil", changed, err)
	}

	updated := `
ace: {}
fers: {}
profiles:
  FAST_SAFE:
    ace:
      max_files_per_run: 4
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	changed, err = cfg.AutoSync()
	if err != nil || !changed {
		t.Fatalf("AutoSync() after edit = %v, %v; want true, nil", changed, err)
	}
	if cfg.Profile() != "FAST_SAFE" {
		t.Errorf("override lost on reload: Profile() = %q", cfg.Profile())
	}
	if got := cfg.Settings().ACE.MaxFilesPerRun; got != 4 {
		t.Errorf("MaxFilesPerRun = %d, want 4", got)
	}
}

func TestAutoSync_BrokenReloadKeepsSettings(t *testing.T) {
	path := writeSettings(t, sampleSettings)
	cfg := newTestConfig(t, path, "fast", Env{})

	if err := os.WriteFile(path, []byte("ace: [broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if _, err := cfg.AutoSync(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := cfg.Settings().ACE.MaxFilesPerRun; got != 2 {
		t.Errorf("MaxFilesPerRun = %d, want previous value 2", got)
	}
}

func TestNormalizeProfile(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"fast":      "FAST_SAFE",
		"BALANCED":  "BALANCED",
		" Deep ":    "DEEP",
		"fast_safe": "FAST_SAFE",
	}
	for in, want := range tests {
		if got := NormalizeProfile(in); got != want {
			t.Errorf("NormalizeProfile(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("ACE_CONFIG", "")
	if got := ResolvePath("/proj", ""); got != filepath.Join("/proj", "config", "settings.yaml") {
		t.Errorf("ResolvePath default = %q", got)
	}
	if got := ResolvePath("/proj", "/x.yaml"); got != "/x.yaml" {
		t.Errorf("ResolvePath flag = %q", got)
	}
	t.Setenv("ACE_CONFIG", "/env.yaml")
	if got := ResolvePath("/proj", ""); got != "/env.yaml" {
		t.Errorf("ResolvePath env = %q", got)
	}
}
