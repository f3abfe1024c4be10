package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pns-project/pns/internal/config"
	"github.com/pns-project/pns/internal/logging"
	"github.com/pns-project/pns/internal/shell"
)

// newShellClient loads configPath and returns a shell.Client authenticated
// as that host, the way every shell subcommand below starts.
func newShellClient(configPath string) (*shell.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return shell.New(cfg, logging.New(cfg.Name)), nil
}

// withConfigFlag adds the --config flag shared by every shell subcommand.
func withConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", "", "path to this host's YAML config file")
	cmd.MarkFlagRequired("config")
}

func newLnCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "ln <src> <dst>",
		Short: "Link a local path into the namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := newShellClient(configPath)
			if err != nil {
				return err
			}
			return c.Ln(args[0], args[1])
		},
	}
	withConfigFlag(cmd, &configPath)
	return cmd
}

func newLsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List a logical or physical path",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := newShellClient(configPath)
			if err != nil {
				return err
			}
			out, err := c.FormatLs(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, out)
			return nil
		},
	}
	withConfigFlag(cmd, &configPath)
	return cmd
}

func newMdCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "md <path>",
		Short: "Create a logical directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := newShellClient(configPath)
			if err != nil {
				return err
			}
			return c.Md(args[0])
		},
	}
	withConfigFlag(cmd, &configPath)
	return cmd
}

func newRmCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove or detach a logical or physical path",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := newShellClient(configPath)
			if err != nil {
				return err
			}
			return c.Rm(args[0])
		},
	}
	withConfigFlag(cmd, &configPath)
	return cmd
}

func newCpCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file across or within hosts",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := newShellClient(configPath)
			if err != nil {
				return err
			}
			return c.Cp(args[0], args[1], false)
		},
	}
	withConfigFlag(cmd, &configPath)
	return cmd
}

func newMvCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move a file across or within hosts",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := newShellClient(configPath)
			if err != nil {
				return err
			}
			return c.Mv(args[0], args[1])
		},
	}
	withConfigFlag(cmd, &configPath)
	return cmd
}
