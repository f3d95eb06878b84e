package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/animus-labs/mlpipe/internal/samples"
)

func newSampleCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "sample [NAME [FILE]]",
		Short: "List, print or extract the bundled sample manifests",
		Long: `Without arguments, list the samples. With NAME, list its files, or write them
under --out. With NAME and FILE, print that file.`,
		Args: rangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				for _, name := range samples.Names() {
					fmt.Fprintln(a.stdout, name)
				}
				return nil
			case 2:
				data, err := samples.Get(args[0], args[1])
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(data)
				return err
			}

			files, err := samples.Files(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				for _, f := range files {
					fmt.Fprintln(a.stdout, f)
				}
				return nil
			}
			for _, f := range files {
				data, err := samples.Get(args[0], f)
				if err != nil {
					return err
				}
				dest := filepath.Join(out, filepath.FromSlash(f))
				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, dest)
			}
			a.logger.Info("sample extracted", "sample", args[0], "dir", out, "files", len(files))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory to write the sample files to")
	return cmd
}
