package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai4ohs/ace/internal/config"
	"github.com/ai4ohs/ace/internal/formatter"
)

var (
	configShow    bool
	configProfile string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `View the working configuration after profile resolution.

Profile precedence (highest to lowest):
  1. --profile
  2. ACE_PROFILE
  3. fers_profile in the settings file
  4. global_profile in the settings file
  5. BALANCED

Environment variables:
  ACE_CONFIG            - Settings file path (overridden by --config)
  ACE_PROFILE           - Profile override
  ACE_ALLOW_AUTO_APPLY  - 1/true/yes allows applying without approval
  LLAMA_SERVER_URL      - Rewrite server completion endpoint
  LLAMA_REQUEST_TIMEOUT - Per-request timeout in seconds
  LLAMA_CTX_LIMIT       - Server context window in tokens
  LLAMA_MAX_RETRIES     - Retries after the first attempt

Examples:
  ace config --show
  ace config --show --profile deep -o yaml`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show resolved configuration with its profile source")
	configCmd.Flags().StringVar(&configProfile, "profile", "", "Profile override")
}

type configView struct {
	Path          string          `json:"path" yaml:"path"`
	Profile       string          `json:"profile" yaml:"profile"`
	ProfileSource config.Source   `json:"profile_source" yaml:"profile_source"`
	Profiles      []string        `json:"profiles" yaml:"profiles"`
	Settings      config.Settings `json:"settings" yaml:"settings"`
	Warnings      []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runConfig(cmd *cobra.Command, args []string) error {
	if !configShow {
		// Show help if no flags
		return cmd.Help()
	}
	root, err := GetProjectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root, configProfile, newLogger())
	if err != nil {
		return err
	}
	view := configView{
		Path:          cfg.Path(),
		Profile:       cfg.Profile(),
		ProfileSource: cfg.ProfileSource(),
		Profiles:      cfg.Profiles(),
		Settings:      cfg.Settings(),
		Warnings:      cfg.Validate(),
	}
	return formatter.Write(os.Stdout, GetOutput(), view, func(w io.Writer) error {
		return outputConfigTable(w, view)
	})
}

func outputConfigTable(w io.Writer, v configView) error {
	fprintf(w, "ACE Configuration\n")
	fprintf(w, "=================\n\n")
	fprintf(w, "Settings file: %s\n", v.Path)
	fprintf(w, "Profile:       %s  (from %s)\n", v.Profile, v.ProfileSource)
	if len(v.Profiles) > 0 {
		fprintf(w, "Defined:       %s\n", strings.Join(v.Profiles, ", "))
	}

	a := v.Settings.ACE
	fprintf(w, "\nExecutor:\n")
	fprintf(w, "  source_dir:           %s\n", a.SourceDir)
	fprintf(w, "  sandbox_dir:          %s\n", a.SandboxDir)
	fprintf(w, "  max_files_per_run:    %d\n", a.MaxFilesPerRun)
	fprintf(w, "  auto_merge_threshold: %d\n", a.AutoMergeThreshold)
	fprintf(w, "  max_test_runtime_sec: %d\n", a.MaxTestRuntimeSec)
	fprintf(w, "  test_command:         %s\n", strings.Join(a.TestCommand, " "))
	fprintf(w, "  allow_auto_apply:     %t\n", a.AllowAutoApply)

	f := v.Settings.FERS
	fprintf(w, "\nPlanner:\n")
	fprintf(w, "  whole_file_token_limit: %d\n", f.WholeFileTokenLimit)
	fprintf(w, "  safe_file_token_limit:  %d\n", f.SafeFileTokenLimit)
	fprintf(w, "  safe_fn_token_limit:    %d\n", f.SafeFnTokenLimit)
	fprintf(w, "  max_functions:          %d\n", f.MaxFunctions)
	fprintf(w, "  chunk_size/overlap:     %d/%d\n", f.ChunkSize, f.ChunkOverlap)

	if len(v.Warnings) > 0 {
		fprintf(w, "\nWarnings:\n")
		for _, msg := range v.Warnings {
			fprintf(w, "  ! %s\n", msg)
		}
	}
	return nil
}
