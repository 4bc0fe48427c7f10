package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var showJobs bool

	cmd := &cobra.Command{
		Use:   "status <workflow_id>",
		Short: "Check the status of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			resp, err := client.Get("/api/v1/workflows/" + id)
			if err != nil {
				return fmt.Errorf("get workflow: %w", err)
			}

			var wf map[string]any
			if err := json.Unmarshal(resp.Data, &wf); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			name, _ := wf["name"].(string)
			status, _ := wf["status"].(string)
			progress, _ := wf["progress_percent"].(float64)

			fmt.Printf("Workflow: %s\n", id)
			fmt.Printf("  Name:     %s\n", name)
			fmt.Printf("  Status:   %s\n", status)
			fmt.Printf("  Progress: %.1f%%\n", progress)

			total, _ := wf["total_jobs"].(float64)
			pending, _ := wf["pending_jobs"].(float64)
			running, _ := wf["running_jobs"].(float64)
			succeeded, _ := wf["succeeded_jobs"].(float64)
			failed, _ := wf["failed_jobs"].(float64)
			cancelled, _ := wf["cancelled_jobs"].(float64)

			fmt.Printf("  Jobs:     %d total", int(total))
			if succeeded > 0 {
				fmt.Printf(", %d succeeded", int(succeeded))
			}
			if running > 0 {
				fmt.Printf(", %d running", int(running))
			}
			if pending > 0 {
				fmt.Printf(", %d pending", int(pending))
			}
			if failed > 0 {
				fmt.Printf(", %d failed", int(failed))
			}
			if cancelled > 0 {
				fmt.Printf(", %d cancelled", int(cancelled))
			}
			fmt.Println()

			if createdAt, ok := wf["created_at"].(string); ok {
				fmt.Printf("  Created:  %s\n", createdAt)
			}

			if !showJobs {
				return nil
			}

			jobsResp, err := client.Get("/api/v1/workflows/" + id + "/jobs")
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			var jobs []map[string]any
			if err := json.Unmarshal(jobsResp.Data, &jobs); err != nil {
				return fmt.Errorf("parse jobs response: %w", err)
			}

			fmt.Println("  Jobs:")
			for _, job := range jobs {
				jobID, _ := job["id"].(string)
				branch, _ := job["branch_id"].(string)
				jobType, _ := job["type"].(string)
				jobStatus, _ := job["status"].(string)
				jobProgress, _ := job["progress_percent"].(float64)
				fmt.Printf("    - %s [%s] %s: %s (%.1f%%)", jobID, branch, jobType, jobStatus, jobProgress)
				if msg, ok := job["error_message"].(string); ok && msg != "" {
					fmt.Printf(" %s", msg)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showJobs, "jobs", false, "Also list the workflow's jobs")
	return cmd
}
