package main

import (
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ai4ohs/ace/internal/formatter"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the ace build version and the Go runtime it was built with.

Examples:
  ace version
  ace version -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), GetOutput())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func currentVersion() versionInfo {
	return versionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func writeVersion(w io.Writer, format string) error {
	info := currentVersion()
	return formatter.Write(w, format, info, func(w io.Writer) error {
		fprintf(w, "ace %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
		return nil
	})
}
