// Package config loads the pipeline's settings document and resolves the
// active profile. The working configuration is built (highest to lowest
// priority) from:
// 1. Command-line profile override
// 2. Environment variables (ACE_*, LLAMA_*)
// 3. Profile overlay (profiles.<NAME>.ace / profiles.<NAME>.fers)
// 4. Base blocks (ace / fers)
// 5. Defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSettingsPath is the settings document location relative to the project root.
	DefaultSettingsPath = "config/settings.yaml"

	// DefaultProfile is used when no selector names a profile, or names an unknown one.
	DefaultProfile = "BALANCED"

	keyACE           = "ace"
	keyFERS          = "fers"
	keyProfiles      = "profiles"
	keyFERSProfile   = "fers_profile"
	keyGlobalProfile = "global_profile"
)

// KnownProfiles lists the profile names the pipeline ships overlays for.
var KnownProfiles = []string{"FAST_SAFE", "BALANCED", "DEEP"}

// profileAliases maps the short CLI names onto document profile names.
var profileAliases = map[string]string{
	"fast":     "FAST_SAFE",
	"balanced": "BALANCED",
	"deep":     "DEEP",
}

// ACESettings holds executor settings (sandbox, selection, promotion).
type ACESettings struct {
	// SourceDir is the directory, relative to the project root, that is scanned for candidates.
	SourceDir string `yaml:"source_dir" json:"source_dir"`

	// SandboxDir is the ephemeral copy location, relative to the project root.
	SandboxDir string `yaml:"sandbox_dir" json:"sandbox_dir"`

	// MaxFilesPerRun caps candidates per cycle (<= 0 = no cap).
	MaxFilesPerRun int `yaml:"max_files_per_run" json:"max_files_per_run"`

	// AutoMergeThreshold is the consecutive-success count that marks auto-merge readiness.
	AutoMergeThreshold int `yaml:"auto_merge_threshold" json:"auto_merge_threshold"`

	// MaxTestRuntimeSec bounds the sandboxed test run.
	MaxTestRuntimeSec int `yaml:"max_test_runtime_sec" json:"max_test_runtime_sec"`

	// LlamaTimeoutSec bounds each rewrite collaborator call.
	LlamaTimeoutSec int `yaml:"llama_timeout_sec" json:"llama_timeout_sec"`

	// TestCommand is the argv run inside the sandbox.
	TestCommand []string `yaml:"test_command" json:"test_command"`

	// AllowAutoApply lets validated patches reach the main tree without approval.
	AllowAutoApply bool `yaml:"allow_auto_apply" json:"allow_auto_apply"`

	// IncludeExt restricts candidates to these extensions (empty = all files).
	IncludeExt []string `yaml:"include_ext" json:"include_ext"`

	// ExcludeDirs are path segments that disqualify a candidate.
	ExcludeDirs []string `yaml:"exclude_dirs" json:"exclude_dirs"`

	// StateFile holds the auto-merge state.
	StateFile string `yaml:"state_file" json:"state_file"`

	// ProcessedLog is the append-only record of attempted files.
	ProcessedLog string `yaml:"processed_log" json:"processed_log"`

	// RefReport is the reference-integrity report that supplies evolution weights.
	RefReport string `yaml:"ref_report" json:"ref_report"`

	// ApprovalDB is the proposal store.
	ApprovalDB string `yaml:"approval_db" json:"approval_db"`
}

// FERSSettings holds planner budgets.
type FERSSettings struct {
	// WholeFileTokenLimit is T1: files at or below it get a whole-file rewrite.
	WholeFileTokenLimit int `yaml:"whole_file_token_limit" json:"whole_file_token_limit"`

	// SafeFileTokenLimit is T2: the file-level budget, above it files are split.
	SafeFileTokenLimit int `yaml:"safe_file_token_limit" json:"safe_file_token_limit"`

	// SafeFnTokenLimit is the per-function (and per-chunk) budget.
	SafeFnTokenLimit int `yaml:"safe_fn_token_limit" json:"safe_fn_token_limit"`

	// MaxFunctions is K: how many leading functions are rewritten.
	MaxFunctions int `yaml:"max_functions" json:"max_functions"`

	// ChunkSize and ChunkOverlap are measured in characters.
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// MaxRewriteTokens is the output budget for whole-file rewrites.
	MaxRewriteTokens int `yaml:"max_rewrite_tokens" json:"max_rewrite_tokens"`

	// SmallPatchTokens is the output budget for small-patch rewrites.
	SmallPatchTokens int `yaml:"small_patch_tokens" json:"small_patch_tokens"`

	// FunctionTokens is the output budget for function and chunk rewrites.
	FunctionTokens int `yaml:"function_tokens" json:"function_tokens"`

	// MemoryPath is the evolution memory document.
	MemoryPath string `yaml:"memory_path" json:"memory_path"`
}

// Settings is the working configuration for one cycle.
type Settings struct {
	Profile string       `json:"profile"`
	ACE     ACESettings  `json:"ace"`
	FERS    FERSSettings `json:"fers"`
}

// DefaultACE returns the executor defaults.
func DefaultACE() ACESettings {
	return ACESettings{
		SourceDir:          "src",
		SandboxDir:         "sandbox_repo",
		MaxFilesPerRun:     8,
		AutoMergeThreshold: 3,
		MaxTestRuntimeSec:  180,
		LlamaTimeoutSec:    40,
		TestCommand:        []string{"pytest", "-q"},
		AllowAutoApply:     false,
		IncludeExt:         []string{".py"},
		ExcludeDirs:        []string{"tests", ".venv", "venv", "__pycache__", ".git"},
		StateFile:          ".ace_state.json",
		ProcessedLog:       "logs/ace/processed_files.jsonl",
		RefReport:          "logs/workspace-ref-report.json",
		ApprovalDB:         "logs/ace/approvals.db",
	}
}

// DefaultFERS returns the planner defaults.
func DefaultFERS() FERSSettings {
	return FERSSettings{
		WholeFileTokenLimit: 600,
		SafeFileTokenLimit:  3000,
		SafeFnTokenLimit:    1200,
		MaxFunctions:        3,
		ChunkSize:           1000,
		ChunkOverlap:        100,
		MaxRewriteTokens:    800,
		SmallPatchTokens:    600,
		FunctionTokens:      400,
		MemoryPath:          "logs/refactor/evolution_memory.json",
	}
}

// Source records which selector chose the active profile.
type Source string

const (
	SourceDefault       Source = "default"
	SourceGlobalProfile Source = "global_profile"
	SourceFERSProfile   Source = "fers_profile"
	SourceEnv           Source = "environment"
	SourceFlag          Source = "flag"
)

// ProfileConfig owns the settings document and the resolved working configuration.
type ProfileConfig struct {
	path     string
	raw      map[string]any
	modTime  time.Time
	override string
	env      Env
	envSet   bool

	settings Settings
	source   Source

	logger logrus.FieldLogger
}

// Option configures a ProfileConfig.
type Option func(*ProfileConfig)

// WithLogger sets the logger used for warnings and reload notices.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *ProfileConfig) {
		c.logger = logger
	}
}

// WithEnv replaces the environment overrides parsed from the process environment.
func WithEnv(env Env) Option {
	return func(c *ProfileConfig) {
		c.env = env
		c.envSet = true
	}
}

// New loads the document at path, resolves the profile with the given
// override and runs the soft validation. A missing or unparsable document is fatal.
func New(path, override string, opts ...Option) (*ProfileConfig, error) {
	c := &ProfileConfig{
		path:   path,
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.envSet {
		env, err := ParseEnv()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		c.env = env
	}

	if err := c.Load(); err != nil {
		return nil, err
	}
	if err := c.ApplyProfile(override); err != nil {
		return nil, err
	}
	c.Validate()
	return c, nil
}

// ResolvePath returns the settings path for a project: explicit flag, then
// ACE_CONFIG, then DefaultSettingsPath under projectRoot.
func ResolvePath(projectRoot, flagPath string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("ACE_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(projectRoot, filepath.FromSlash(DefaultSettingsPath))
}

// Load parses the settings document.
func (c *ProfileConfig) Load() error {
	raw, modTime, err := readDocument(c.path)
	if err != nil {
		return err
	}
	c.raw = raw
	c.modTime = modTime
	c.logger.WithField("path", c.path).Debug("settings loaded")
	return nil
}

// readDocument reads and parses the YAML document, returning its modification time.
func readDocument(path string) (map[string]any, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s: %w", path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, info.ModTime(), nil
}

// ApplyProfile resolves the active profile and rebuilds the working settings.
// The override is remembered so later reloads keep honoring it.
func (c *ProfileConfig) ApplyProfile(override string) error {
	c.override = strings.TrimSpace(override)

	selected, source := c.selectProfile()
	profiles := mapping(c.raw[keyProfiles])
	if _, ok := profiles[selected]; !ok && selected != DefaultProfile {
		c.logger.WithFields(logrus.Fields{
			"profile":  selected,
			"fallback": DefaultProfile,
		}).Warn("unknown profile, falling back to default")
		selected = DefaultProfile
		source = SourceDefault
	}
	overlay := mapping(profiles[selected])

	ace := DefaultACE()
	if err := decodeBlock(mergeBlocks(mapping(c.raw[keyACE]), mapping(overlay[keyACE])), &ace); err != nil {
		return fmt.Errorf("%w: ace block: %v", ErrConfigInvalid, err)
	}
	fers := DefaultFERS()
	if err := decodeBlock(mergeBlocks(mapping(c.raw[keyFERS]), mapping(overlay[keyFERS])), &fers); err != nil {
		return fmt.Errorf("%w: fers block: %v", ErrConfigInvalid, err)
	}

	if allow, ok := c.env.AutoApply(); ok {
		ace.AllowAutoApply = allow
	}

	c.settings = Settings{Profile: selected, ACE: ace, FERS: fers}
	c.source = source
	c.logger.WithFields(logrus.Fields{
		"profile": selected,
		"source":  source,
	}).Info("using merged profile")
	return nil
}

// selectProfile applies flag > env > fers_profile > global_profile > default.
func (c *ProfileConfig) selectProfile() (string, Source) {
	if name := NormalizeProfile(c.override); name != "" {
		return name, SourceFlag
	}
	if name := NormalizeProfile(c.env.Profile); name != "" {
		return name, SourceEnv
	}
	if name := NormalizeProfile(stringValue(c.raw[keyFERSProfile])); name != "" {
		return name, SourceFERSProfile
	}
	if name := NormalizeProfile(stringValue(c.raw[keyGlobalProfile])); name != "" {
		return name, SourceGlobalProfile
	}
	return DefaultProfile, SourceDefault
}

// NormalizeProfile maps CLI aliases (fast, balanced, deep) and any casing
// onto document profile names. Empty input yields "".
func NormalizeProfile(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if mapped, ok := profileAliases[strings.ToLower(name)]; ok {
		return mapped
	}
	return strings.ToUpper(name)
}

// AutoSync reloads the document when its modification time advanced past
// the last successful load. A failed reload keeps the previous settings.
func (c *ProfileConfig) AutoSync() (bool, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		// The document vanished mid-run; keep what we have.
		c.logger.WithError(err).Warn("settings not readable during auto-sync, keeping current settings")
		return false, nil
	}
	if !info.ModTime().After(c.modTime) {
		return false, nil
	}

	c.logger.WithField("path", c.path).Info("settings changed, reloading")
	raw, modTime, err := readDocument(c.path)
	if err != nil {
		c.logger.WithError(err).Warn("settings reload failed, keeping current settings")
		return false, err
	}

	prevRaw, prevMod := c.raw, c.modTime
	c.raw, c.modTime = raw, modTime
	if err := c.ApplyProfile(c.override); err != nil {
		c.raw, c.modTime = prevRaw, prevMod
		c.logger.WithError(err).Warn("profile re-apply failed, keeping current settings")
		return false, err
	}
	c.Validate()
	return true, nil
}

// Validate performs soft checks and logs each warning. It never fails.
func (c *ProfileConfig) Validate() []string {
	var warnings []string
	for _, key := range []string{keyProfiles, keyFERS, keyACE} {
		if _, ok := c.raw[key]; !ok {
			warnings = append(warnings, fmt.Sprintf("%s block missing in settings", key))
		}
	}
	for _, key := range []string{keyGlobalProfile, keyFERSProfile} {
		v, ok := c.raw[key]
		if !ok {
			continue
		}
		if name := stringValue(v); !c.isValidProfile(name) {
			warnings = append(warnings, fmt.Sprintf("invalid %s: %q (valid: %s)", key, name, strings.Join(c.validProfiles(), ", ")))
		}
	}
	for _, w := range warnings {
		c.logger.WithField("path", c.path).Warn(w)
	}
	return warnings
}

// Settings returns the working configuration.
func (c *ProfileConfig) Settings() Settings {
	return c.settings
}

// Profile returns the active profile name.
func (c *ProfileConfig) Profile() string {
	return c.settings.Profile
}

// ProfileSource returns which selector chose the active profile.
func (c *ProfileConfig) ProfileSource() Source {
	return c.source
}

// Path returns the settings document path.
func (c *ProfileConfig) Path() string {
	return c.path
}

// Env returns the environment overrides in effect.
func (c *ProfileConfig) Env() Env {
	return c.env
}

// Profiles returns the profile names defined in the document, sorted.
func (c *ProfileConfig) Profiles() []string {
	profiles := mapping(c.raw[keyProfiles])
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isValidProfile reports whether name, after alias normalization, is a
// built-in profile or one defined under profiles.
func (c *ProfileConfig) isValidProfile(name string) bool {
	name = NormalizeProfile(name)
	if _, ok := mapping(c.raw[keyProfiles])[name]; ok {
		return true
	}
	return slices.Contains(KnownProfiles, name)
}

// validProfiles returns the built-in profiles followed by any other
// profiles the document defines.
func (c *ProfileConfig) validProfiles() []string {
	names := append([]string{}, KnownProfiles...)
	for _, name := range c.Profiles() {
		if !slices.Contains(KnownProfiles, name) {
			names = append(names, name)
		}
	}
	return names
}

// mergeBlocks shallow-merges overlay onto a copy of base; overlay keys win.
func mergeBlocks(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// decodeBlock decodes a generic mapping into a typed struct that already
// holds defaults; keys absent from the mapping keep their default.
func decodeBlock(block map[string]any, out any) error {
	if len(block) == 0 {
		return nil
	}
	data, err := yaml.Marshal(block)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func mapping(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
