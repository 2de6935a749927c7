// Package commands holds the annoctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"io"

	"annocore/internal/adapters/changeshttp"
	"annocore/internal/blob"
	"annocore/internal/checks"
	"annocore/internal/config"
	"annocore/internal/core"
	"annocore/internal/logger"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	serverURL  string
	cfg        *config.Config
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "annoctl",
		Short: "annoctl - genome annotation change server and client",
		Long: `annoctl serves and edits genome annotations.

Commands run against the local store named by the configuration, or against a
remote server when --server (or ANNOCORE_SERVER_URL) is set.

Examples:
  annoctl serve                          # Start the HTTP change endpoint
  annoctl submit change.json             # Submit a serialized change
  annoctl upload-file hg38.fa --refseq chr1:248956422
  annoctl file get <file-id> -o hg38.fa  # Download a stored file
  annoctl checks <assembly-id>           # List check results
  annoctl feature get <feature-id>       # Show one feature`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.serverURL != "" {
				cfg.Server.URL = a.serverURL
			}
			a.cfg = cfg
			if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
				return errors.Wrap(err, "initialize logger")
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Cleanup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "TOML configuration file")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "base URL of a running annoctl server")

	root.AddCommand(
		a.serveCmd(),
		a.submitCmd(),
		a.uploadCmd(),
		a.fileCmd(),
		a.checksCmd(),
		a.featureCmd(),
		a.assembliesCmd(),
	)
	return root
}

// local is an opened local backend. close releases the store.
type local struct {
	store domain.PersistentStore
	svc   *core.Service
	files *core.FileService
}

func (l *local) close() {
	if err := core.CloseStore(l.store); err != nil {
		logger.Logger.Warnw("close store", "error", err)
	}
}

func (a *app) coreOptions(extra ...core.Option) []core.Option {
	opts := []core.Option{
		core.WithLogger(core.NewZapLogger(logger.Named("core"))),
		core.WithSubmitTimeout(a.cfg.Changes.SubmitTimeout),
	}
	return append(opts, extra...)
}

func (a *app) openLocal(ctx context.Context, extra ...core.Option) (*local, error) {
	store, err := core.OpenPersistentStore(a.cfg.StorageConfig(), checks.NewDefaultPipeline())
	if err != nil {
		return nil, err
	}
	blobs, err := blob.Open(ctx, a.cfg.BlobConfig())
	if err != nil {
		_ = core.CloseStore(store)
		return nil, errors.Wrap(err, "open blob store")
	}
	opts := a.coreOptions(extra...)
	return &local{
		store: store,
		svc:   core.NewService(store, opts...),
		files: core.NewFileService(blobs, store, opts...),
	}, nil
}

func (a *app) remote() *changeshttp.Client {
	return changeshttp.NewClient(a.cfg.Server.URL)
}

// backend is what the read and submit commands need, locally or remotely.
type backend struct {
	dispatcher core.Dispatcher
	feature    func(ctx context.Context, id string) (domain.Feature, string, error)
	checks     func(ctx context.Context, assemblyID string) ([]domain.CheckResult, error)
	assemblies func(ctx context.Context) ([]domain.Assembly, error)
	upload     func(ctx context.Context, r io.Reader, up core.FileUpload) (domain.File, error)
	download   func(ctx context.Context, fileID string) (io.ReadCloser, error)
	fileURL    func(ctx context.Context, fileID string) (string, error)
	close      func()
}

func (a *app) backend(ctx context.Context) (*backend, error) {
	if a.cfg.Server.URL != "" {
		c := a.remote()
		return &backend{
			dispatcher: c,
			feature:    c.Feature,
			checks:     c.CheckResults,
			assemblies: c.Assemblies,
			upload:     c.Upload,
			download:   c.Download,
			fileURL:    c.FileURL,
			close:      func() {},
		}, nil
	}
	l, err := a.openLocal(ctx)
	if err != nil {
		return nil, err
	}
	return &backend{
		dispatcher: core.NewLocalDispatcher(l.svc),
		feature: func(_ context.Context, id string) (domain.Feature, string, error) {
			return l.svc.Feature(id)
		},
		checks: func(_ context.Context, id string) ([]domain.CheckResult, error) {
			return l.svc.CheckResults(id)
		},
		assemblies: func(context.Context) ([]domain.Assembly, error) {
			return l.svc.Assemblies(), nil
		},
		upload: l.files.Upload,
		download: func(ctx context.Context, id string) (io.ReadCloser, error) {
			_, rc, err := l.files.Open(ctx, id)
			return rc, err
		},
		fileURL: l.files.URL,
		close:   l.close,
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
