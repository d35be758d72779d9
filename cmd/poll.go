package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjcormack/lighting7-sub001/internal/dmx"
)

var (
	pollTimeout   time.Duration
	pollBroadcast string
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Find Art-Net nodes on the network",
	Long: `Broadcast an ArtPoll and list the nodes that reply.

The local Art-Net port (6454) must be free, so stop any running show first.`,
	RunE: runPoll,
}

func init() {
	pollCmd.Flags().DurationVarP(&pollTimeout, "timeout", "t", 3*time.Second, "How long to wait for replies")
	pollCmd.Flags().StringVar(&pollBroadcast, "broadcast", "", "Broadcast address (default: picked from the interfaces)")
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	bcast := dmx.BroadcastAddr()
	if pollBroadcast != "" {
		if bcast = net.ParseIP(pollBroadcast); bcast == nil {
			return fmt.Errorf("invalid broadcast address %q", pollBroadcast)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Broadcasting ArtPoll to %s ...\n", bcast)

	ctx, cancel := context.WithTimeout(cmd.Context(), pollTimeout)
	defer cancel()
	nodes, err := dmx.Poll(ctx, bcast)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(out, "No Art-Net nodes replied.")
		return nil
	}
	for _, n := range nodes {
		fmt.Fprintf(out, "Node: %-18s  IP: %s\n", n.Name, n.IP)
	}
	return nil
}
