package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ai4ohs/ace/internal/approval"
	"github.com/ai4ohs/ace/internal/config"
	"github.com/ai4ohs/ace/internal/formatter"
	"github.com/ai4ohs/ace/internal/pipeline"
	"github.com/ai4ohs/ace/internal/rewrite"
)

var (
	runProfile string
	runDryRun  bool
	runOffline bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one patch cycle",
	Long: `Run one cycle: discover candidates, plan patches, validate them in
the sandbox and then stop at the first terminal state.

Terminal states:
  NO_FILES                  no candidate files
  NO_CHANGES                nothing to apply
  FAIL_TESTS                the sandboxed test command failed
  DRY_RUN_OK                validated, --dry-run stops here
  AWAITING_APPROVAL         registered as a proposal for review
  APPLIED                   written to the project tree
  APPLIED_AUTO_MERGE_READY  written, and the success streak reached the threshold

Profile precedence (highest to lowest):
  1. --profile
  2. ACE_PROFILE
  3. fers_profile in the settings file
  4. global_profile in the settings file
  5. BALANCED

Examples:
  ace run --dry-run
  ace run --profile deep -o json
  ace run --offline`,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runProfile, "profile", "", "Profile override (FAST_SAFE|BALANCED|DEEP or fast|balanced|deep)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate in the sandbox without touching the project tree")
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "Skip the rewrite server and use the deterministic minimal patch")
}

func runCycle(cmd *cobra.Command, args []string) error {
	root, err := GetProjectRoot()
	if err != nil {
		return err
	}
	logger := newLogger()

	cfg, err := loadConfig(root, runProfile, logger)
	if err != nil {
		return err
	}
	s := cfg.Settings()

	store, err := approval.Open(resolveUnder(root, s.ACE.ApprovalDB))
	if err != nil {
		return fmt.Errorf("open approval store: %w", err)
	}
	defer store.Close() //nolint:errcheck // read-mostly handle, nothing to flush

	p := pipeline.New(root, cfg,
		pipeline.WithRewriter(newRewriter(cfg.Env(), runOffline, logger)),
		pipeline.WithGateway(store),
		pipeline.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := p.Run(ctx, runDryRun)
	if err != nil {
		return fmt.Errorf("run cycle: %w", err)
	}
	return formatter.Write(os.Stdout, GetOutput(), res, func(w io.Writer) error {
		return outputResultTable(w, res)
	})
}

// loadConfig resolves the settings path and builds the profile configuration.
func loadConfig(root, profile string, logger logrus.FieldLogger) (*config.ProfileConfig, error) {
	path := config.ResolvePath(root, GetConfigFile())
	VerbosePrintf("Using settings %s\n", path)
	cfg, err := config.New(path, profile, config.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return cfg, nil
}

// newRewriter returns the llama client configured from the environment, or
// an always-unavailable rewriter when offline.
func newRewriter(e config.Env, offline bool, logger logrus.FieldLogger) rewrite.Rewriter {
	if offline {
		return rewrite.Func(func(context.Context, string, int) (string, error) {
			return "", rewrite.ErrUnavailable
		})
	}
	return rewrite.NewLlamaClient(
		rewrite.WithURL(e.LlamaURL),
		rewrite.WithContextLimit(e.LlamaCtxLimit),
		rewrite.WithMaxRetries(e.LlamaMaxRetries),
		rewrite.WithTimeout(time.Duration(e.LlamaTimeoutSec)*time.Second),
		rewrite.WithLogger(logger),
	)
}

func outputResultTable(w io.Writer, res pipeline.Result) error {
	fprintf(w, "Status:   %s\n", res.Status)
	if res.Profile != "" {
		fprintf(w, "Profile:  %s\n", res.Profile)
	}
	fprintf(w, "Applied:  %d\n", res.AppliedPatchCount)
	if len(res.Files) > 0 {
		fprintf(w, "Files:    %s\n", strings.Join(res.Files, ", "))
	}
	if res.ProposalID != "" {
		fprintf(w, "Proposal: %s\n", res.ProposalID)
	}
	if res.MergeState != nil {
		fprintf(w, "Streak:   %d (auto-merge ready: %t)\n", res.MergeState.MergeSuccessCount, res.MergeState.AutoMergeReady)
	}
	for _, f := range res.Failures {
		fprintf(w, "  ! %s: %s\n", f.Path, f.Reason)
	}
	if res.Errors != "" {
		fprintf(w, "\nErrors:\n%s\n", res.Errors)
	}
	if res.Status == pipeline.StatusAwaitingApproval && res.ProposalID != "" {
		fprintf(w, "\nTo review: ace proposals show %s\n", res.ProposalID)
	}
	return nil
}
