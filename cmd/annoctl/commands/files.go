package commands

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (a *app) fileCmd() *cobra.Command {
	file := &cobra.Command{
		Use:   "file",
		Short: "Fetch and inspect stored sequence files",
	}

	var output string
	get := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Write the content of a stored file to stdout or --output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			rc, err := b.download(ctx, args[0])
			if err != nil {
				return err
			}
			defer rc.Close()

			w := cmd.OutOrStdout()
			if output != "" {
				f, cerr := os.Create(output)
				if cerr != nil {
					return errors.Wrapf(cerr, "create %s", output)
				}
				defer func() {
					if cerr := f.Close(); err == nil {
						err = cerr
					}
				}()
				w = f
			}
			_, err = io.Copy(w, rc)
			return errors.Wrapf(err, "copy file %s", args[0])
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of stdout")

	url := &cobra.Command{
		Use:   "url <file-id>",
		Short: "Print a direct download URL when the blob backend can sign one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			u, err := b.fileURL(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), u+"\n")
			return err
		},
	}

	orphans := &cobra.Command{
		Use:   "orphans",
		Short: "List file blobs without a file record (local storage only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Server.URL != "" {
				return errors.New("file orphans inspects local storage and cannot run against --server")
			}
			ctx := cmd.Context()
			l, err := a.openLocal(ctx)
			if err != nil {
				return err
			}
			defer l.close()
			infos, err := l.files.Orphans(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(infos))
			for _, info := range infos {
				keys = append(keys, info.Key)
			}
			return printJSON(cmd.OutOrStdout(), keys)
		},
	}

	file.AddCommand(get, url, orphans)
	return file
}
