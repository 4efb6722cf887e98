package main

import (
	"fmt"

	"github.com/odvcencio/resources/pkg/collate"
	"github.com/odvcencio/resources/pkg/report"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		pkg          string
		resourceRoot string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show which resources would be collated, without copying",
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

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s selection, %d node(s)) -> %s\n", plan.Consumer, plan.Mode, len(plan.Nodes), plan.ResourceRoot)
			if len(plan.Selected) == 0 {
				fmt.Fprintln(out, "no resources")
				return nil
			}
			for _, s := range plan.Selected {
				pin := ""
				if s.RequiredSHA != "" {
					pin = " pinned"
				}
				fmt.Fprintf(out, "%-24s %-8s %-16s %s <- %s%s\n", s.Name, s.Encoding, s.Node, s.OutputPath, s.Source, pin)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "consumer package directory or name (default: the package in the current directory)")
	cmd.Flags().StringVar(&resourceRoot, "resource-root", "", "override the resource root")
	return cmd
}
