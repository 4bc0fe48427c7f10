package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newResultCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "result <job_id>",
		Short: "Fetch the result artifact of a succeeded job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			contentType, data, err := client.GetRaw("/api/v1/jobs/" + id + "/result")
			if err != nil {
				return fmt.Errorf("get result: %w", err)
			}
			logger.Debug("fetched result", "job", id, "content_type", contentType, "bytes", len(data))

			if output == "" || output == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			fmt.Printf("Wrote %d bytes (%s) to %s\n", len(data), contentType, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the artifact to a file instead of stdout")
	return cmd
}
