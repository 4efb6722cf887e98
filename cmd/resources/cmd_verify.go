package main

import (
	"fmt"
	"path/filepath"

	"github.com/odvcencio/resources/pkg/collate"
	"github.com/odvcencio/resources/pkg/record"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
)

func newVerifyCmd() *cobra.Command {
	var (
		pkg          string
		resourceRoot string
		recordFile   string
		trustedKey   string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the record signature and the hashes of the recorded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
				return err
			}

			out := cmd.OutOrStdout()
			var trusted ssh.PublicKey
			if trustedKey != "" {
				trusted, err = record.LoadAuthorizedKey(trustedKey)
				if err != nil {
					return err
				}
			}
			switch {
			case rec.Signature != "" || trusted != nil:
				pub, err := record.Verify(rec, trusted)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "signature: good (%s %s)\n", pub.Type(), ssh.FingerprintSHA256(pub))
			default:
				fmt.Fprintln(out, "signature: none")
			}

			mismatches, err := record.VerifyFiles(root, rec)
			if err != nil {
				return err
			}
			for _, m := range mismatches {
				if m.Err != nil {
					fmt.Fprintf(out, "bad: %s %s: %v\n", m.Name, m.OutputPath, m.Err)
					continue
				}
				fmt.Fprintf(out, "bad: %s %s: sha256 %s, want %s\n", m.Name, m.OutputPath, m.Got, m.Want)
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d of %d recorded resource(s) do not match", len(mismatches), len(rec.Resources))
			}
			fmt.Fprintf(out, "ok: verified %d resource(s) in %s\n", len(rec.Resources), root)
			return nil
		},
	}

	cmd.Flags().StringVarP(&pkg, "package", "p", "", "consumer package directory or name (default: the package in the current directory)")
	cmd.Flags().StringVar(&resourceRoot, "resource-root", "", "override the resource root")
	cmd.Flags().StringVar(&recordFile, "record", record.DefaultFileName, "record file inside the resource root")
	cmd.Flags().StringVar(&trustedKey, "trusted-key", "", "require a signature by this public key (authorized_keys format)")
	return cmd
}
