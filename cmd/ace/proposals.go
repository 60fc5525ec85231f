package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai4ohs/ace/internal/approval"
	"github.com/ai4ohs/ace/internal/formatter"
)

var (
	proposalsStatus   string
	proposalsNote     string
	proposalsReason   string
	proposalsReviewer string
)

var proposalsCmd = &cobra.Command{
	Use:     "proposals",
	Aliases: []string{"proposal"},
	Short:   "Review registered patch proposals",
	Long: `Manage proposals registered by cycles that stopped at AWAITING_APPROVAL.

A proposal moves from pending to approved or rejected exactly once. Every
transition is recorded in the proposal's event trail.

Examples:
  ace proposals list
  ace proposals show <id>
  ace proposals approve <id> --note="Reviewed diff"
  ace proposals reject <id> --reason="Breaks public API"`,
}

var proposalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
	Long: `List proposals, oldest first.

Examples:
  ace proposals list
  ace proposals list --status all -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *approval.SQLiteStore) error {
			return listProposals(ctx, os.Stdout, store, proposalsStatus)
		})
	},
}

var proposalsShowCmd = &cobra.Command{
	Use:   "show <proposal-id>",
	Short: "Show one proposal and its events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *approval.SQLiteStore) error {
			return showProposal(ctx, os.Stdout, store, args[0])
		})
	},
}

var proposalsApproveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *approval.SQLiteStore) error {
			return reviewProposal(ctx, os.Stdout, store, args[0], true, reviewer(), proposalsNote)
		})
	},
}

var proposalsRejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *approval.SQLiteStore) error {
			return reviewProposal(ctx, os.Stdout, store, args[0], false, reviewer(), proposalsReason)
		})
	},
}

func init() {
	rootCmd.AddCommand(proposalsCmd)
	proposalsCmd.AddCommand(proposalsListCmd, proposalsShowCmd, proposalsApproveCmd, proposalsRejectCmd)

	proposalsListCmd.Flags().StringVar(&proposalsStatus, "status", string(approval.StatusPending), "Filter by status (pending, approved, rejected, all)")
	proposalsApproveCmd.Flags().StringVar(&proposalsNote, "note", "", "Optional approval note")
	proposalsRejectCmd.Flags().StringVar(&proposalsReason, "reason", "", "Reason for rejection")
	proposalsCmd.PersistentFlags().StringVar(&proposalsReviewer, "reviewer", "", "Reviewer name (default: current system user)")
}

func reviewer() string {
	if proposalsReviewer != "" {
		return proposalsReviewer
	}
	return GetCurrentUser()
}

// withStore opens the approval store named by the resolved settings.
func withStore(ctx context.Context, fn func(context.Context, *approval.SQLiteStore) error) error {
	root, err := GetProjectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root, "", newLogger())
	if err != nil {
		return err
	}
	store, err := approval.Open(resolveUnder(root, cfg.Settings().ACE.ApprovalDB))
	if err != nil {
		return fmt.Errorf("open approval store: %w", err)
	}
	defer store.Close() //nolint:errcheck // writes are committed per transaction
	return fn(ctx, store)
}

func listProposals(ctx context.Context, w io.Writer, store *approval.SQLiteStore, status string) error {
	filter := approval.Status(status)
	if status == "all" {
		filter = ""
	}
	proposals, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list proposals: %w", err)
	}
	return formatter.Write(w, GetOutput(), proposals, func(w io.Writer) error {
		return outputProposalsTable(w, proposals)
	})
}

func outputProposalsTable(w io.Writer, proposals []approval.Proposal) error {
	if len(proposals) == 0 {
		fprintf(w, "No proposals\n")
		return nil
	}
	fprintf(w, "Proposals (%d)\n", len(proposals))
	fprintf(w, "=============\n\n")

	tbl := formatter.NewTable(w, "ID", "KIND", "STATUS", "FILES", "AGE").SetMaxWidth(1, 16)
	for _, p := range proposals {
		tbl.AddRow(truncateID(p.ID, 13), p.Kind, p.Status, patchCount(p.Content), formatAge(time.Since(p.CreatedAt)))
	}
	return tbl.Render()
}

// proposalDetail decodes the stored content so YAML renders structure, not bytes.
type proposalDetail struct {
	ID         string           `json:"id" yaml:"id"`
	Kind       string           `json:"kind" yaml:"kind"`
	Status     approval.Status  `json:"status" yaml:"status"`
	CreatedAt  time.Time        `json:"created_at" yaml:"created_at"`
	Reviewer   string           `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty"`
	Note       string           `json:"note,omitempty" yaml:"note,omitempty"`
	Content    any              `json:"content" yaml:"content"`
	Events     []approval.Event `json:"events" yaml:"events"`
}

func showProposal(ctx context.Context, w io.Writer, store *approval.SQLiteStore, id string) error {
	p, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get proposal: %w", err)
	}
	events, err := store.Events(ctx, id)
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}
	var content any
	if err := json.Unmarshal(p.Content, &content); err != nil {
		return fmt.Errorf("decode proposal content: %w", err)
	}
	detail := proposalDetail{
		ID:         p.ID,
		Kind:       p.Kind,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		Reviewer:   p.Reviewer,
		ReviewedAt: p.ReviewedAt,
		Note:       p.Note,
		Content:    content,
		Events:     events,
	}
	return formatter.Write(w, GetOutput(), detail, func(w io.Writer) error {
		return outputProposalDetail(w, p, events)
	})
}

func outputProposalDetail(w io.Writer, p *approval.Proposal, events []approval.Event) error {
	fprintf(w, "ID:      %s\n", p.ID)
	fprintf(w, "Kind:    %s\n", p.Kind)
	fprintf(w, "Status:  %s\n", p.Status)
	fprintf(w, "Created: %s\n", p.CreatedAt.Format(time.RFC3339))
	if p.Reviewer != "" {
		fprintf(w, "Reviewer: %s\n", p.Reviewer)
	}
	if p.Note != "" {
		fprintf(w, "Note:    %s\n", p.Note)
	}

	var content struct {
		Patches []struct {
			File     string `json:"file"`
			NewCode  string `json:"new_code"`
			Strategy string `json:"strategy"`
		} `json:"patches"`
	}
	if err := json.Unmarshal(p.Content, &content); err == nil && len(content.Patches) > 0 {
		fprintf(w, "\nPatches:\n")
		for _, patch := range content.Patches {
			fprintf(w, "  %s  (%s, %d bytes)\n", patch.File, patch.Strategy, len(patch.NewCode))
		}
	}

	fprintf(w, "\nEvents:\n")
	for _, e := range events {
		fprintf(w, "  %s  %-8s %s -> %s", e.CreatedAt.Format(time.RFC3339), e.Operation, e.FromStatus, e.ToStatus)
		if e.Reviewer != "" {
			fprintf(w, "  by %s", e.Reviewer)
		}
		fprintf(w, "\n")
	}
	return nil
}

func reviewProposal(ctx context.Context, w io.Writer, store *approval.SQLiteStore, id string, approve bool, who, note string) error {
	if approve {
		if err := store.Approve(ctx, id, who, note); err != nil {
			return fmt.Errorf("approve proposal: %w", err)
		}
		fprintf(w, "Approved: %s\n", id)
	} else {
		if err := store.Reject(ctx, id, who, note); err != nil {
			return fmt.Errorf("reject proposal: %w", err)
		}
		fprintf(w, "Rejected: %s\n", id)
	}
	fprintf(w, "Reviewer: %s\n", who)
	if note != "" {
		fprintf(w, "Note: %s\n", note)
	}
	return nil
}

// patchCount returns how many patches an ACE_PATCHES payload carries.
func patchCount(content json.RawMessage) int {
	var c struct {
		Patches []json.RawMessage `json:"patches"`
	}
	if err := json.Unmarshal(content, &c); err != nil {
		return 0
	}
	return len(c.Patches)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
