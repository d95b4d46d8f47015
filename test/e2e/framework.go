package e2e

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/marmos91/chainfs/pkg/file"
	"github.com/marmos91/chainfs/pkg/registry"
	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// TestContext provides a complete testing environment: a registered volume
// and helpers for the operations the chainfs commands perform.
type TestContext struct {
	T      *testing.T
	Config *TestConfig
	Volume *registry.Volume

	ctx      context.Context
	registry *registry.Registry
}

// NewTestContext builds a fresh volume for the given configuration.
func NewTestContext(t *testing.T, config *TestConfig) *TestContext {
	t.Helper()
	ctx := context.Background()

	driver, err := config.CreateDriver(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create %s driver: %v", config.Driver, err)
	}

	cat, err := config.CreateCatalog(ctx, t.TempDir())
	if err != nil {
		driver.Close()
		t.Fatalf("Failed to create %s catalog: %v", config.Catalog, err)
	}

	reg := registry.New()
	vol := &registry.Volume{
		Name:    config.Name,
		Driver:  driver,
		Catalog: cat,
	}
	if err := reg.AddVolume(vol); err != nil {
		t.Fatalf("Failed to register volume: %v", err)
	}

	return &TestContext{
		T:        t,
		Config:   config,
		Volume:   vol,
		ctx:      ctx,
		registry: reg,
	}
}

// Cleanup closes the volume's stores.
func (tc *TestContext) Cleanup() {
	if err := tc.registry.CloseAll(); err != nil {
		tc.T.Errorf("Failed to close volume: %v", err)
	}
}

// Import stores data under path the way the import command does: chain
// first, catalog entry second.
func (tc *TestContext) Import(path string, data []byte) catalog.Entry {
	tc.T.Helper()

	alloc, ok := tc.Volume.Driver.(block.Allocator)
	if !ok {
		tc.T.Fatalf("Driver %s cannot allocate chains", tc.Config.Driver)
	}
	writable, ok := tc.Volume.Catalog.(catalog.WritableCatalog)
	if !ok {
		tc.T.Fatalf("Catalog %s is not writable", tc.Config.Catalog)
	}

	start, size, err := block.WriteChain(tc.ctx, alloc, bytes.NewReader(data))
	if err != nil {
		tc.T.Fatalf("Failed to write chain for %s: %v", path, err)
	}

	entry := catalog.Entry{Path: path, Start: start, Size: size}
	if err := writable.Put(tc.ctx, entry); err != nil {
		tc.T.Fatalf("Failed to publish %s: %v", path, err)
	}
	return entry
}

// ReadBack reads the whole stored file at path.
func (tc *TestContext) ReadBack(path string) []byte {
	tc.T.Helper()

	f, err := tc.Volume.OpenFile(tc.ctx, path, file.ReadOnly)
	if err != nil {
		tc.T.Fatalf("Failed to open %s: %v", path, err)
	}
	data, err := io.ReadAll(f.Reader(tc.ctx))
	if err != nil {
		tc.T.Fatalf("Failed to read %s: %v", path, err)
	}
	if err := f.Close(tc.ctx); err != nil {
		tc.T.Fatalf("Failed to close %s: %v", path, err)
	}
	return data
}

// Pattern produces n bytes of deterministic position-dependent content, so
// a read from the wrong offset never matches.
func Pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
