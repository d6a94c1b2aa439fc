package main

import (
	"github.com/spf13/cobra"

	"github.com/lattice-substrate/e32-torture/harness"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

func (a *app) listCommand() *cobra.Command {
	var suites []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print every combination with its verdict and classes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			names := suites
			if len(names) == 0 {
				names = allSuites(cfg)
			}
			built, err := harness.BuildSuites(cfg, names, harness.BuildOptions{})
			if err != nil {
				return err
			}
			for i, s := range built {
				if i > 0 {
					if err := writeLine(a.stdout, ""); err != nil {
						return err
					}
				}
				if err := harness.WritePlan(a.stdout, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addSuiteFlag(cmd.Flags(), &suites, "suite to list (repeatable, default all)")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective run configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			data, err := harness.MarshalConfig(cfg)
			if err != nil {
				return tortureerr.Wrap(tortureerr.InternalIO, "", "marshal config", err)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}
