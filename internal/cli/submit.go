package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/me/slideflow/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "submit <workflow.yaml>",
		Short: "Submit a workflow of slide inference jobs",
		Long:  "Read a workflow description (YAML or JSON) with named branches of jobs and submit it to the slideflow server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workflow: %w", err)
			}

			// Decode YAML generically, then re-decode through JSON so the
			// snake_case field names in the file line up with the API types.
			var raw any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}
			jsonData, err := json.Marshal(raw)
			if err != nil {
				return fmt.Errorf("encode workflow: %w", err)
			}
			var req model.SubmitRequest
			if err := json.Unmarshal(jsonData, &req); err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}
			if name != "" {
				req.Name = name
			}
			logger.Debug("parsed workflow", "name", req.Name, "branches", len(req.DAG.Branches))

			resp, err := client.Post("/api/v1/workflows", req)
			if err != nil {
				return fmt.Errorf("submit workflow: %w", err)
			}

			var wf map[string]any
			if err := json.Unmarshal(resp.Data, &wf); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			id, ok := wf["id"].(string)
			if !ok {
				return fmt.Errorf("workflow response missing 'id' field")
			}
			status, _ := wf["status"].(string)
			total, _ := wf["total_jobs"].(float64)

			fmt.Printf("Workflow submitted: %s\n", id)
			fmt.Printf("  Status: %s\n", status)
			fmt.Printf("  Jobs:   %d\n", int(total))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Override the workflow name from the file")
	return cmd
}
