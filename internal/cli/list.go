package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/workflows")
			if err != nil {
				return fmt.Errorf("list workflows: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No workflows found.")
				return nil
			}

			fmt.Printf("%-36s  %-10s  %-24s  %8s  %s\n", "ID", "STATUS", "NAME", "PROGRESS", "CREATED")
			fmt.Printf("%-36s  %-10s  %-24s  %8s  %s\n", "----", "------", "----", "--------", "-------")
			for _, wf := range data {
				id, _ := wf["id"].(string)
				status, _ := wf["status"].(string)
				name, _ := wf["name"].(string)
				progress, _ := wf["progress_percent"].(float64)
				createdAt, _ := wf["created_at"].(string)
				fmt.Printf("%-36s  %-10s  %-24s  %7.1f%%  %s\n", id, status, name, progress, createdAt)
			}
			return nil
		},
	}
}
