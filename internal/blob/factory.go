package blob

import (
	"context"
	"path"

	infraS3 "annocore/internal/infra/blob/s3"

	"github.com/cockroachdb/errors"
)

// S3Config configures the s3 driver.
type S3Config = infraS3.Config

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver
	// FSRoot is the directory used by the fs driver (default ./blobdata).
	FSRoot string
	S3     S3Config
}

// Open constructs the Store named by cfg.Driver. An empty driver selects the
// filesystem backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unknown blob driver %q", cfg.Driver)
	}
}

// FileKey is the blob key under which an uploaded sequence file is stored.
func FileKey(fileID string) string {
	return path.Join("files", fileID)
}

// NewMockS3ForTests returns an s3 Store over an in-process fake bucket.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
