package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ai4ohs/ace/internal/formatter"
	"github.com/ai4ohs/ace/internal/memory"
	"github.com/ai4ohs/ace/internal/mergestate"
	"github.com/ai4ohs/ace/internal/processed"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show auto-merge state and evolution memory",
	Long: `Show the consecutive-success streak, evolution memory totals and the
most recent processed-log entry.

Examples:
  ace status
  ace status -o json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusInfo struct {
	Profile            string           `json:"profile" yaml:"profile"`
	AutoMergeThreshold int              `json:"auto_merge_threshold" yaml:"auto_merge_threshold"`
	MergeState         mergestate.State `json:"merge_state" yaml:"merge_state"`
	MemoryFiles        int              `json:"memory_files" yaml:"memory_files"`
	MemorySuccesses    int              `json:"memory_successes" yaml:"memory_successes"`
	MemoryFailures     int              `json:"memory_failures" yaml:"memory_failures"`
	FunctionSkips      int              `json:"function_skips" yaml:"function_skips"`
	Attempted          int              `json:"attempted" yaml:"attempted"`
	LastRun            *processed.Entry `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := GetProjectRoot()
	if err != nil {
		return err
	}
	logger := newLogger()
	cfg, err := loadConfig(root, "", logger)
	if err != nil {
		return err
	}
	s := cfg.Settings()
	info, err := collectStatus(s.Profile, s.ACE.AutoMergeThreshold, statusPaths{
		state:     resolveUnder(root, s.ACE.StateFile),
		memory:    resolveUnder(root, s.FERS.MemoryPath),
		processed: resolveUnder(root, s.ACE.ProcessedLog),
	}, logger)
	if err != nil {
		return err
	}
	return formatter.Write(os.Stdout, GetOutput(), info, func(w io.Writer) error {
		return outputStatusTable(w, info)
	})
}

type statusPaths struct {
	state, memory, processed string
}

// collectStatus reads the bookkeeping files without modifying them.
func collectStatus(profile string, threshold int, paths statusPaths, logger logrus.FieldLogger) (statusInfo, error) {
	info := statusInfo{Profile: profile, AutoMergeThreshold: threshold}
	info.MergeState = mergestate.New(paths.state, threshold, mergestate.WithLogger(logger)).Load()

	totals := memory.Open(paths.memory, logger).Totals()
	info.MemoryFiles = totals.Files
	info.MemorySuccesses = totals.Successes
	info.MemoryFailures = totals.Failures
	info.FunctionSkips = totals.FunctionSkips

	entries, err := processed.New(paths.processed).Entries()
	if err != nil {
		return info, fmt.Errorf("read processed log: %w", err)
	}
	attempted := make(map[string]struct{})
	for _, e := range entries {
		for _, f := range e.Files {
			attempted[f] = struct{}{}
		}
	}
	info.Attempted = len(attempted)
	if n := len(entries); n > 0 {
		last := entries[n-1]
		info.LastRun = &last
	}
	return info, nil
}

func outputStatusTable(w io.Writer, info statusInfo) error {
	fprintf(w, "ACE Status\n")
	fprintf(w, "==========\n\n")
	fprintf(w, "Profile:          %s\n", info.Profile)
	fprintf(w, "Success streak:   %d / %d\n", info.MergeState.MergeSuccessCount, info.AutoMergeThreshold)
	fprintf(w, "Auto-merge ready: %t\n", info.MergeState.AutoMergeReady)
	if ts := info.MergeState.LastUpdate(); !ts.IsZero() {
		fprintf(w, "Last update:      %s\n", ts.Format(time.RFC3339))
	}
	fprintf(w, "\nMemory: %d files, %d successes, %d failures, %d function skips\n",
		info.MemoryFiles, info.MemorySuccesses, info.MemoryFailures, info.FunctionSkips)
	fprintf(w, "Attempted files: %d\n", info.Attempted)
	if info.LastRun != nil {
		fprintf(w, "Last run: %s %s (%d files)\n", info.LastRun.Time().Format(time.RFC3339), info.LastRun.Status, len(info.LastRun.Files))
	}
	return nil
}
