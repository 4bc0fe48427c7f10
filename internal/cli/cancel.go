package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	var jobID bool

	cmd := &cobra.Command{
		Use:   "cancel <workflow_id>",
		Short: "Cancel a workflow (or a single PENDING job with --job)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			path := "/api/v1/workflows/" + id + "/cancel"
			if jobID {
				path = "/api/v1/jobs/" + id + "/cancel"
			}

			resp, err := client.Post(path, nil)
			if err != nil {
				return fmt.Errorf("cancel: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			status, _ := data["status"].(string)
			if jobID {
				fmt.Printf("Job %s: %s\n", id, status)
				return nil
			}

			cancelled, _ := data["cancelled_jobs"].(float64)
			running, _ := data["running_jobs"].(float64)
			succeeded, _ := data["succeeded_jobs"].(float64)

			fmt.Printf("Workflow %s: %s\n", id, status)
			fmt.Printf("  Jobs cancelled: %d\n", int(cancelled))
			if running > 0 {
				fmt.Printf("  Jobs still draining: %d\n", int(running))
			}
			fmt.Printf("  Jobs already succeeded: %d\n", int(succeeded))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jobID, "job", false, "Treat the argument as a job id instead of a workflow id")
	return cmd
}
