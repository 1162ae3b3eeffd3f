package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arbiter-oj/judge/internal/job"
)

// NewWatchCommand streams the dispatcher's result broadcast to stdout,
// coloring verdicts the way the original execute command colors run
// outcomes (green for Accepted and for a RunCached Ok, red for everything
// else).
func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream JobResults as workers submit them",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")

			resp, err := http.Get(url + "/results")
			if err != nil {
				return fmt.Errorf("failed to reach dispatcher: %w", err)
			}
			defer resp.Body.Close()

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				var result job.JobResult
				if err := json.Unmarshal(scanner.Bytes(), &result); err != nil {
					continue
				}
				printResult(result)
			}
			return scanner.Err()
		},
	}
}

func printResult(result job.JobResult) {
	if result.Code == job.CodeInvalidLanguage {
		color.Red("%s  InvalidLanguage", result.UUID)
		return
	}

	switch {
	case result.Judgement != nil:
		printVerdict(result.UUID, string(result.Judgement.Verdict))
	case result.RunCached != nil:
		printVerdict(result.UUID, string(result.RunCached.Result))
	}
}

func printVerdict(uuid, verdict string) {
	if verdict == "Accepted" || verdict == "Ok" {
		color.Green("%s  %s", uuid, verdict)
		return
	}
	color.Red("%s  %s", uuid, verdict)
}
