package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "gatelift",
		Short:   "Gatelift — challenge-clearing forward proxy for gated origins",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newSolveCmd(),
		newCacheCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
