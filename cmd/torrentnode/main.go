// Command torrentnode runs the block-indexing node described in this
// repository: it tails a block source, links and persists everything it
// sees, and answers the §6.5 query surface over HTTP. Subcommands follow
// the teacher's cmd/synnergy cobra layout (one root command, one
// subcommand per operating mode) generalized from its testnet/tokens
// mock commands to this node's serve/replay/query/version surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "torrentnode",
		Short: "Block-indexing and query node",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(replayCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
