// Command judgectl is an operator CLI for exercising a running dispatcher
// directly: list its language catalog, submit an ad-hoc Judgement or
// RunCached job, and watch the result stream. It is ops tooling, not a
// substitute for the host application.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arbiter-oj/judge/cmd/judgectl/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "judgectl",
		Short: "Operator CLI for the judge dispatcher",
		Long:  `judgectl talks to a running judge dispatcher's admin HTTP surface.`,
	}

	rootCmd.PersistentFlags().StringP("url", "u", "http://localhost:8080", "dispatcher admin URL")

	rootCmd.AddCommand(
		cmd.NewLanguagesCommand(),
		cmd.NewSubmitCommand(),
		cmd.NewWatchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
