package main

import (
	"fmt"

	"github.com/odvcencio/resources/pkg/collate"
	"github.com/odvcencio/resources/pkg/drift"
	"github.com/odvcencio/resources/pkg/report"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		pkg          string
		resourceRoot string
		showDiff     bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report collated resources that are missing or out of date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, consumer, err := openWorkspace(pkg)
			if err != nil {
				return err
			}
			logger, _ := commandLogger(cmd)

			plan, err := collate.Prepare(cmd.Context(), w, consumer, collate.Options{
				ResourceRoot: resourceRoot,
				Reporter:     report.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr()),
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			rep, err := drift.Check(plan.ResourceRoot, plan.Selected)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range rep.Entries {
				fmt.Fprintf(out, "%-8s %s %s\n", e.State, e.Name, e.Destination)
				if showDiff && e.Diff != "" {
					fmt.Fprint(out, e.Diff)
				}
			}
			if rep.Clean() {
				fmt.Fprintf(out, "ok: %d resource(s) up to date\n", len(rep.Entries))
				return nil
			}
			return fmt.Errorf("%d stale and %d missing resource(s) in %s",
				rep.Count(drift.Stale), rep.Count(drift.Missing), rep.Root)
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "consumer package directory or name (default: the package in the current directory)")
	cmd.Flags().StringVar(&resourceRoot, "resource-root", "", "override the resource root")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff for stale text resources")
	return cmd
}
