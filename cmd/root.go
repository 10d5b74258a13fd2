package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/ccglmproxy/pkg/logutil"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "ccglmd",
	Short: "cc-glm proxy server",
	Long:  "Loopback reverse proxy that routes code-assistant requests between an Anthropic-compatible upstream and a GLM-family upstream, normalizing thinking blocks between them.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: running as root")
		}
		return logutil.Configure(logLevel)
	}
}
