package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/chainfs/pkg/file"
	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// Volume ties a block driver and a catalog together under a name. The two
// describe the same storage: the catalog's entries point at chains the
// driver can read.
//
// A volume owns its stores. Closing the volume closes both, so the same
// driver or catalog instance must not be shared across volumes.
type Volume struct {
	// Name identifies the volume in the registry and the CLI.
	Name string

	// Driver provides block access to the volume's chunk chains.
	Driver block.Driver

	// Catalog maps the volume's paths to chains.
	Catalog catalog.Catalog

	// ReadOnly refuses write-mode opens regardless of what the driver
	// would allow.
	ReadOnly bool
}

// OpenFile opens the file at path on this volume.
//
// Opening for writing on a read-only volume fails with file.ErrReadOnly
// before any storage is touched. Everything else (missing paths, resolver
// failures, allocation failures) surfaces exactly as file.Open reports it.
func (v *Volume) OpenFile(ctx context.Context, path string, mode file.Mode) (*file.File, error) {
	if mode == file.ReadWrite && v.ReadOnly {
		return nil, fmt.Errorf("volume %q: %w", v.Name, file.ErrReadOnly)
	}

	f := file.New(v.Driver)
	if err := f.Open(ctx, v.Catalog, path, mode); err != nil {
		return nil, err
	}
	return f, nil
}

// Close closes the volume's catalog and driver. Both are attempted even if
// the first fails, and the errors are joined.
func (v *Volume) Close() error {
	var errs []error
	if v.Catalog != nil {
		if err := v.Catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog of %q: %w", v.Name, err))
		}
	}
	if v.Driver != nil {
		if err := v.Driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close driver of %q: %w", v.Name, err))
		}
	}
	return errors.Join(errs...)
}
