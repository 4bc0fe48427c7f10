package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/slideflow/internal/logging"
)

var (
	flagServer    string
	flagUser      string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking SLIDEFLOW_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("SLIDEFLOW_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// defaultUser returns the default user id, checking SLIDEFLOW_USER env var first.
func defaultUser() string {
	if u := os.Getenv("SLIDEFLOW_USER"); u != "" {
		return u
	}
	return ""
}

// NewRootCmd creates the root cobra command for the slideflow CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "slideflow",
		Short: "Client for whole-slide image inference workflows",
		Long:  "slideflow submits, monitors, and cancels slide inference workflows on a slideflow server.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
			client = NewClient(flagServer, flagUser, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "slideflow server URL (or SLIDEFLOW_SERVER env)")
	root.PersistentFlags().StringVarP(&flagUser, "user", "u", defaultUser(), "User id sent as X-User-ID (or SLIDEFLOW_USER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newCancelCmd(),
		newResultCmd(),
		newWatchCmd(),
		newServerStatusCmd(),
	)

	return root
}
