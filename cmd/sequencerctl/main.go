package main

import (
	"log"

	"github.com/spf13/cobra"

	sequencercli "github.com/latticehq/sequencer/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "sequencerctl",
		Short:         "sequencer node management CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	sequencercli.AddAll(root)
	return root
}
