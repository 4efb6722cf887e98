package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/resources/pkg/bundle"
	"github.com/odvcencio/resources/pkg/collate"
	"github.com/odvcencio/resources/pkg/record"
	"github.com/spf13/cobra"
)

func newBundleCmd() *cobra.Command {
	var (
		pkg          string
		resourceRoot string
		recordFile   string
		list         bool
	)

	cmd := &cobra.Command{
		Use:   "bundle <file>",
		Short: "Pack the recorded resources into a zstd tar bundle, or list one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				files, err := bundle.Read(f)
				if err != nil {
					return err
				}
				for _, bf := range files {
					fmt.Fprintf(out, "%04o %8d %s\n", bf.Mode, len(bf.Data), bf.Path)
				}
				return nil
			}

			w, consumer, err := openWorkspace(pkg)
			if err != nil {
				return err
			}
			root, err := collate.ResourceRoot(w, consumer, resourceRoot)
			if err != nil {
				return err
			}
			rec, err := record.Read(filepath.Join(root, filepath.FromSlash(recordFile)))
			if err != nil {
				return fmt.Errorf("bundle: %w (run collate first)", err)
			}

			paths := make([]string, 0, len(rec.Resources)+1)
			for _, e := range rec.Resources {
				paths = append(paths, e.OutputPath)
			}
			if recordFile != "" {
				paths = append(paths, recordFile)
			}
			if err := bundle.WriteFile(args[0], root, paths); err != nil {
				return err
			}
			fmt.Fprintf(out, "bundled %d resource(s) into %s\n", len(rec.Resources), args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "consumer package directory or name (default: the package in the current directory)")
	cmd.Flags().StringVar(&resourceRoot, "resource-root", "", "override the resource root")
	cmd.Flags().StringVar(&recordFile, "record", record.DefaultFileName, "record file inside the resource root")
	cmd.Flags().BoolVar(&list, "list", false, "list the contents of an existing bundle")
	return cmd
}
