// Package blob is the only entry point to the blob backends. Callers depend on
// the Store interface; the infra packages stay private to this package.
package blob

import (
	"annocore/internal/blob/core"
	"annocore/internal/infra/blob/fs"
	memorystore "annocore/internal/infra/blob/memory"
)

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
)

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a Store rooted at root.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }
