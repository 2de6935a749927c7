package commands

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"annocore/internal/core"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (a *app) uploadCmd() *cobra.Command {
	var (
		name     string
		fileType string
		refSeqs  []string
	)
	cmd := &cobra.Command{
		Use:   "upload-file <path>",
		Short: "Store a sequence file for AddAssemblyFromFileChange",
		Long: `upload-file stores a sequence file together with its refSeq index. The
index is given as repeated --refseq name:length flags; the file itself is
not parsed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseRefSeqs(refSeqs)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[0])
			}

			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			stored, err := b.upload(ctx, f, core.FileUpload{Name: name, Type: fileType, RefSeqs: index})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stored)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "file name (defaults to the base name of path)")
	cmd.Flags().StringVar(&fileType, "type", "text/x-fasta", "file type")
	cmd.Flags().StringArrayVar(&refSeqs, "refseq", nil, "refSeq index entry as name:length (repeatable)")
	return cmd
}

// parseRefSeqs turns name:length pairs into refSeq summaries.
func parseRefSeqs(entries []string) ([]domain.RefSeqSummary, error) {
	out := make([]domain.RefSeqSummary, 0, len(entries))
	for _, e := range entries {
		i := strings.LastIndexByte(e, ':')
		if i <= 0 {
			return nil, errors.Newf("refseq %q is not name:length", e)
		}
		n, err := strconv.ParseInt(e[i+1:], 10, 64)
		if err != nil || n < 0 {
			return nil, errors.Newf("refseq %q has an invalid length", e)
		}
		out = append(out, domain.RefSeqSummary{Name: e[:i], Length: n})
	}
	return out, nil
}

func (a *app) checksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checks <assembly-id>",
		Short: "List the check results of an assembly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			results, err := b.checks(ctx, args[0])
			if err != nil {
				return err
			}
			if results == nil {
				results = []domain.CheckResult{}
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
}

func (a *app) featureCmd() *cobra.Command {
	feature := &cobra.Command{
		Use:   "feature",
		Short: "Inspect features",
	}
	feature.AddCommand(&cobra.Command{
		Use:   "get <feature-id>",
		Short: "Show one feature with its children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			f, assemblyID, err := b.feature(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"assembly": assemblyID, "feature": f})
		},
	})
	return feature
}

func (a *app) assembliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assemblies",
		Short: "List assemblies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			list, err := b.assemblies(ctx)
			if err != nil {
				return err
			}
			if list == nil {
				list = []domain.Assembly{}
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
}
