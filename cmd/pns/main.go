package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "pns",
		Short:   "Personal Network Storage tracker, daemon, and shell",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newDaemonCmd())
	root.AddCommand(newLnCmd())
	root.AddCommand(newLsCmd())
	root.AddCommand(newMdCmd())
	root.AddCommand(newRmCmd())
	root.AddCommand(newCpCmd())
	root.AddCommand(newMvCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
