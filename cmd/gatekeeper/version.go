package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"modelbench/gatekeeper/pkg/telemetry/health"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print detailed version information including Git commit and build date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printResult(cmd.OutOrStdout(), versionInfo{health.NewVersionInfo(Version, GitCommit, BuildDate)})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionInfo renders the build information served on /version.
type versionInfo struct {
	health.VersionInfo
}

func (v versionInfo) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Gatekeeper %s\nGit Commit: %s\nBuild Date: %s\nGo Version: %s\nOS/Arch: %s/%s\n",
		v.Version, v.Commit, v.BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return err
}
