package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newServerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server-status",
		Short: "Show scheduler and tenant capacity usage on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/status")
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if sched, ok := data["scheduler"].(map[string]any); ok {
				running, _ := sched["running_jobs"].(float64)
				maxWorkers, _ := sched["max_workers"].(float64)
				fmt.Printf("Scheduler: %d/%d workers busy\n", int(running), int(maxWorkers))
			}
			if tenants, ok := data["tenant_manager"].(map[string]any); ok {
				active, _ := tenants["active_users"].(float64)
				maxActive, _ := tenants["max_active_users"].(float64)
				queued, _ := tenants["queued_users"].(float64)
				fmt.Printf("Tenants:   %d/%d slots active, %d queued\n", int(active), int(maxActive), int(queued))
			}
			return nil
		},
	}
}
