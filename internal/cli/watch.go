package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var job bool

	cmd := &cobra.Command{
		Use:   "watch <workflow_id>",
		Short: "Stream live progress events for a workflow",
		Long:  "Open a WebSocket to the server and print progress events as they arrive, starting from the current snapshot. Exits when the workflow reaches a terminal status.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			path := "/ws/workflows/" + id
			if job {
				path = "/ws/jobs/" + id
			}
			url := wsURL(client.BaseURL) + path

			header := http.Header{}
			if client.UserID != "" {
				header.Set("X-User-ID", client.UserID)
			}

			logger.Debug("dialing", "url", url)
			conn, _, err := websocket.DefaultDialer.Dial(url, header)
			if err != nil {
				return fmt.Errorf("dial %s: %w", url, err)
			}
			defer conn.Close()

			for {
				var event map[string]any
				if err := conn.ReadJSON(&event); err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}
				printEvent(event)
				if isTerminalEvent(event) {
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVar(&job, "job", false, "Watch a single job instead of a workflow")
	return cmd
}

// wsURL converts an http(s) base URL into its ws(s) counterpart.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func printEvent(event map[string]any) {
	kind, _ := event["type"].(string)
	switch kind {
	case "progress":
		jobID, _ := event["job_id"].(string)
		status, _ := event["status"].(string)
		percent, _ := event["progress_percent"].(float64)
		done, _ := event["tiles_processed"].(float64)
		total, _ := event["tiles_total"].(float64)
		fmt.Printf("job %s  %-9s  %5.1f%%  (%d/%d tiles)", jobID, status, percent, int(done), int(total))
		if msg, ok := event["error_message"].(string); ok && msg != "" {
			fmt.Printf("  %s", msg)
		}
		fmt.Println()
	case "workflow_progress":
		wfID, _ := event["workflow_id"].(string)
		status, _ := event["status"].(string)
		percent, _ := event["progress_percent"].(float64)
		completed, _ := event["completed_jobs"].(float64)
		total, _ := event["total_jobs"].(float64)
		fmt.Printf("workflow %s  %-9s  %5.1f%%  (%d/%d jobs)\n", wfID, status, percent, int(completed), int(total))
	case "overflow":
		dropped, _ := event["dropped"].(float64)
		fmt.Printf("(connection fell behind, %d events dropped; rerun watch to resubscribe)\n", int(dropped))
	default:
		raw, _ := json.Marshal(event)
		fmt.Println(string(raw))
	}
}

func isTerminalEvent(event map[string]any) bool {
	status, _ := event["status"].(string)
	switch status {
	case "SUCCEEDED", "FAILED", "CANCELLED":
		return true
	}
	return false
}
