package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/dreampipe/internal/logger"
)

var (
	// Version info set by main package
	Version = "0.1.0-dev"
	Commit  = "none"
	Date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Infof("dreampipe %s", Version)
		logger.Infof("commit: %s", Commit)
		logger.Infof("built: %s", Date)
	},
}

// SetVersionInfo records build information from the main package
func SetVersionInfo(version, commit, date string) {
	Version, Commit, Date = version, commit, date
	rootCmd.Version = version
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
