package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arbiter-oj/judge/internal/job"
)

// NewSubmitCommand posts a Job read from a JSON file (or stdin with "-") to
// the dispatcher's /jobs endpoint, for manual testing of the judging core.
func NewSubmitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <job.json>",
		Short: "Submit an ad-hoc Judgement or RunCached job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")

			var raw []byte
			var err error
			if args[0] == "-" {
				raw, err = readAll(os.Stdin)
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read job definition: %w", err)
			}

			var j job.Job
			if err := json.Unmarshal(raw, &j); err != nil {
				return fmt.Errorf("failed to parse job definition: %w", err)
			}

			resp, err := http.Post(url+"/jobs", "application/json", bytes.NewReader(raw))
			if err != nil {
				return fmt.Errorf("failed to reach dispatcher: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusAccepted {
				var errBody map[string]string
				_ = json.NewDecoder(resp.Body).Decode(&errBody)
				return fmt.Errorf("dispatcher rejected job: %s", errBody["message"])
			}

			color.Green("submitted %s", j.UUID)
			return nil
		},
	}
}

func readAll(f *os.File) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(f)
	return buf.Bytes(), err
}
