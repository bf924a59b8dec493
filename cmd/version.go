package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/alantheprice/webforge/cmd.version=..."
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = ""
)

var versionJSON bool

// buildInfo describes the running binary.
type buildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
	Platform  string `json:"platform"`
}

func currentBuildInfo() buildInfo {
	info := buildInfo{
		Version:   version,
		GitCommit: gitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if buildDate != "unknown" {
		info.BuildDate = buildDate
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Module = bi.Main.Path
		// go install stamps the module version when ldflags did not
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	return info
}

// String is the one-line form logged by servers at startup.
func (b buildInfo) String() string {
	s := "webforge " + b.Version
	if b.GitCommit != "" {
		s += " (" + b.GitCommit + ")"
	}
	return s
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the webforge version, build date, git commit, Go runtime and platform.
The same information is available through the --version / -v flag.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(currentBuildInfo())
		}
		printVersionInfo()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version information as JSON")
}

func printVersionInfo() {
	info := currentBuildInfo()
	fmt.Printf("webforge version %s\n", info.Version)
	if info.BuildDate != "" {
		fmt.Printf("Build date: %s\n", info.BuildDate)
	}
	if info.GitCommit != "" {
		fmt.Printf("Git commit: %s\n", info.GitCommit)
	}
	fmt.Printf("Go version: %s\n", info.GoVersion)
	if info.Module != "" {
		fmt.Printf("Module: %s\n", info.Module)
	}
	fmt.Printf("Platform: %s\n", info.Platform)
}
