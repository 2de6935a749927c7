package commands

import (
	"io"
	"os"

	"annocore/internal/clientstore"
	"annocore/internal/core"
	"annocore/pkg/changes"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func (a *app) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit [change.json|-]",
		Short: "Submit one serialized change",
		Long: `Submit reads a change in its JSON wire form from a file or stdin and
submits it through a change manager. Feature changes are checked against a
freshly loaded copy of their assembly before they are sent.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			c, err := changes.Decode(raw)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := a.backend(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			m := core.NewManager(clientstore.New(), b.dispatcher, a.coreOptions()...)
			if c.Kind() == changes.KindFeature {
				if err := m.Open(ctx, c.AssemblyID()); err != nil {
					return errors.Wrapf(err, "load assembly %s", c.AssemblyID())
				}
			}
			ack, err := m.Submit(ctx, c)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", args[0])
	}
	return data, nil
}
