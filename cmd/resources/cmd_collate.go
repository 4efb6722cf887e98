package main

import (
	"fmt"

	"github.com/odvcencio/resources/pkg/bundle"
	"github.com/odvcencio/resources/pkg/collate"
	"github.com/odvcencio/resources/pkg/record"
	"github.com/odvcencio/resources/pkg/report"
	"github.com/spf13/cobra"
)

func newCollateCmd() *cobra.Command {
	var (
		pkg          string
		resourceRoot string
		workers      int
		strict       bool
		recordFile   string
		sign         bool
		signKey      string
		bundlePath   string
	)

	cmd := &cobra.Command{
		Use:   "collate",
		Short: "Copy the resources a package needs into its resource root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, consumer, err := openWorkspace(pkg)
			if err != nil {
				return err
			}
			logger, jsonLogs := commandLogger(cmd)

			var reporter report.Reporter = report.NewConsole(cmd.OutOrStdout(), cmd.ErrOrStderr())
			if jsonLogs {
				reporter = report.Multi{reporter, report.Log{Logger: logger}}
			}

			opts := collate.DefaultOptions()
			opts.ResourceRoot = resourceRoot
			opts.Workers = workers
			opts.Strict = strict
			opts.RecordFile = recordFile
			opts.Reporter = reporter
			opts.Logger = logger

			if sign || signKey != "" {
				if recordFile == "" {
					return fmt.Errorf("--sign needs a record file")
				}
				signer, keyPath, err := record.NewSSHSigner(signKey)
				if err != nil {
					return err
				}
				logger.Debug("signing record", "key", keyPath)
				opts.Signer = signer
			}

			res, err := collate.Run(cmd.Context(), w, consumer, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "collated %d resource(s) for %s into %s\n", len(res.Summary.Files), res.Plan.Consumer, res.Plan.ResourceRoot)

			if bundlePath != "" {
				paths := make([]string, 0, len(res.Summary.Files)+1)
				for _, f := range res.Summary.Files {
					paths = append(paths, f.OutputPath)
				}
				if res.RecordPath != "" {
					paths = append(paths, recordFile)
				}
				if err := bundle.WriteFile(bundlePath, res.Plan.ResourceRoot, paths); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote bundle %s\n", bundlePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "consumer package directory or name (default: the package in the current directory)")
	cmd.Flags().StringVar(&resourceRoot, "resource-root", "", "override the resource root")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent copies (default: one per CPU)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on duplicate resource names")
	cmd.Flags().StringVar(&recordFile, "record", record.DefaultFileName, "record file written inside the resource root (empty disables)")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the record with the default SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "sign the record with this SSH private key")
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "also write a zstd tar bundle of the collated files")
	return cmd
}
