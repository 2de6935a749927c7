package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	"annocore/internal/blob"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// FileUpload describes a sequence file being registered. RefSeqs is the
// index produced by whoever parsed the file.
type FileUpload struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	ContentType string                 `json:"contentType,omitempty"`
	RefSeqs     []domain.RefSeqSummary `json:"refSeqs"`
}

// FileService stores uploaded sequence files in a blob store and registers
// their File records so AddAssemblyFromFileChange can reference them.
type FileService struct {
	blobs blob.Store
	store domain.PersistentStore
	opts  options
}

// NewFileService wires a blob store to a persistent store.
func NewFileService(blobs blob.Store, store domain.PersistentStore, opts ...Option) *FileService {
	return &FileService{blobs: blobs, store: store, opts: buildOptions(opts)}
}

// Upload streams r into the blob store and registers the File record. The
// checksum is the hex sha256 of the content.
func (s *FileService) Upload(ctx context.Context, r io.Reader, up FileUpload) (f domain.File, err error) {
	start := s.opts.clock.Now()
	defer func() { s.opts.metrics.Observe(ctx, "file.upload", err == nil, s.opts.clock.Now().Sub(start)) }()

	if strings.TrimSpace(up.Name) == "" {
		return domain.File{}, errors.Wrap(domain.ErrMalformedChange, "file name is required")
	}
	if len(up.RefSeqs) == 0 {
		return domain.File{}, errors.Wrap(domain.ErrMalformedChange, "file has no reference sequences")
	}
	for _, rs := range up.RefSeqs {
		if err := rs.Validate(); err != nil {
			return domain.File{}, err
		}
	}
	id := uuid.NewString()
	key := blob.FileKey(id)
	h := sha256.New()
	info, err := s.blobs.Put(ctx, key, io.TeeReader(r, h), blob.PutOptions{
		ContentType: up.ContentType,
		Metadata:    map[string]string{"name": up.Name, "type": up.Type},
	})
	if err != nil {
		return domain.File{}, errors.Wrapf(err, "store file %q", up.Name)
	}
	f = domain.File{
		ID:       id,
		Name:     up.Name,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		Type:     up.Type,
		BlobKey:  key,
		Size:     info.Size,
		RefSeqs:  up.RefSeqs,
	}
	if err := s.store.PutFile(f); err != nil {
		if _, derr := s.blobs.Delete(ctx, key); derr != nil {
			s.opts.logger.Error("orphaned file blob", "key", key, "error", derr)
		}
		return domain.File{}, err
	}
	s.opts.logger.Info("file uploaded", "file", id, "name", up.Name, "size", f.Size, "driver", string(s.blobs.Driver()))
	return f, nil
}

// Open returns the File record and a reader over its content.
func (s *FileService) Open(ctx context.Context, fileID string) (domain.File, io.ReadCloser, error) {
	f, err := s.file(fileID)
	if err != nil {
		return domain.File{}, nil, err
	}
	_, rc, err := s.blobs.Get(ctx, f.BlobKey)
	if err != nil {
		return domain.File{}, nil, blobError(err, f)
	}
	return f, rc, nil
}

// Stat returns the File record and the stored blob's info without reading
// the content.
func (s *FileService) Stat(ctx context.Context, fileID string) (domain.File, blob.Info, error) {
	f, err := s.file(fileID)
	if err != nil {
		return domain.File{}, blob.Info{}, err
	}
	info, err := s.blobs.Head(ctx, f.BlobKey)
	if err != nil {
		return domain.File{}, blob.Info{}, blobError(err, f)
	}
	return f, info, nil
}

// URL returns a download URL for a file when the blob backend supports it.
func (s *FileService) URL(ctx context.Context, fileID string) (string, error) {
	f, err := s.file(fileID)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignURL(ctx, f.BlobKey, blob.SignedURLOptions{})
}

// Orphans lists file blobs that no File record points at, such as leftovers
// of an upload whose record could not be written.
func (s *FileService) Orphans(ctx context.Context) ([]blob.Info, error) {
	infos, err := s.blobs.List(ctx, blob.FileKey("")+"/")
	if err != nil {
		return nil, errors.Wrap(err, "list file blobs")
	}
	var out []blob.Info
	for _, info := range infos {
		f, ok := s.store.GetFile(path.Base(info.Key))
		if ok && f.BlobKey == info.Key {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *FileService) file(fileID string) (domain.File, error) {
	f, ok := s.store.GetFile(fileID)
	if !ok {
		return domain.File{}, errors.Wrapf(domain.ErrFileNotFound, "file %q", fileID)
	}
	return f, nil
}

// blobError reports a record whose blob is gone as a missing file.
func blobError(err error, f domain.File) error {
	if errors.Is(err, blob.ErrNotFound) {
		return errors.Mark(errors.Wrapf(err, "content of file %q", f.ID), domain.ErrFileNotFound)
	}
	return err
}
