package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zlnvch/pageboard/discovery"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List relays advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			servers, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				logger.Info("No relays found", "waited", timeout)
				return nil
			}
			for _, s := range servers {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Name, s.WebsocketURL())
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to listen for answers")
	return cmd
}
