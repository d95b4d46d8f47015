package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// CatalogTestSuite is a test suite for catalog implementations. It tests the
// interface contract, not implementation details, so every backend (memory,
// badger) runs the same suite.
//
// Usage:
//
//	func TestMyCatalog(t *testing.T) {
//	    suite := &testing.CatalogTestSuite{
//	        NewCatalog: func() catalog.Catalog {
//	            return mycatalog.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
//
// Mutation tests skip automatically when the catalog does not implement
// catalog.WritableCatalog.
type CatalogTestSuite struct {
	// NewCatalog is a factory function that creates a fresh catalog for
	// each test. This ensures test isolation.
	NewCatalog func() catalog.Catalog
}

// Run executes all tests in the suite.
func (suite *CatalogTestSuite) Run(t *testing.T) {
	t.Run("Resolve", suite.RunResolveTests)
	t.Run("Mutation", suite.RunMutationTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// RunResolveTests executes the read-side tests.
func (suite *CatalogTestSuite) RunResolveTests(t *testing.T) {
	t.Run("Resolve_NotFound", suite.testResolveNotFound)
	t.Run("Resolve_InvalidPath", suite.testResolveInvalidPath)
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("Count_Empty", suite.testCountEmpty)
}

func (suite *CatalogTestSuite) testResolveNotFound(t *testing.T) {
	c := suite.NewCatalog()

	_, err := c.Resolve(testContext(), "/nope")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func (suite *CatalogTestSuite) testResolveInvalidPath(t *testing.T) {
	c := suite.NewCatalog()

	_, err := c.Resolve(testContext(), "")
	require.ErrorIs(t, err, catalog.ErrInvalidPath)

	_, err = c.Resolve(testContext(), "   ")
	require.ErrorIs(t, err, catalog.ErrInvalidPath)
}

func (suite *CatalogTestSuite) testListEmpty(t *testing.T) {
	c := suite.NewCatalog()

	entries, err := c.List(testContext(), "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func (suite *CatalogTestSuite) testCountEmpty(t *testing.T) {
	c := suite.NewCatalog()

	count, err := c.Count(testContext())
	require.NoError(t, err)
	assert.Zero(t, count)
}

// RunMutationTests executes the write-side tests.
func (suite *CatalogTestSuite) RunMutationTests(t *testing.T) {
	t.Run("Put_Resolve_Roundtrip", suite.testPutResolveRoundtrip)
	t.Run("Put_NormalizesPath", suite.testPutNormalizesPath)
	t.Run("Put_Overwrite", suite.testPutOverwrite)
	t.Run("Remove_ReturnsEntry", suite.testRemoveReturnsEntry)
	t.Run("Remove_NotFound", suite.testRemoveNotFound)
	t.Run("List_Prefix", suite.testListPrefix)
	t.Run("Count", suite.testCount)
}

func (suite *CatalogTestSuite) testPutResolveRoundtrip(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	want := catalog.Entry{Path: "/docs/readme.md", Start: 7, Size: 1234}
	require.NoError(t, writable.Put(testContext(), want))

	got, err := c.Resolve(testContext(), "/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func (suite *CatalogTestSuite) testPutNormalizesPath(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	require.NoError(t, writable.Put(testContext(), catalog.Entry{Path: "docs/a/../readme.md", Start: 1, Size: 10}))

	// Every spelling of the same path hits the same entry.
	for _, path := range []string{"/docs/readme.md", "docs/readme.md", "/docs/./readme.md"} {
		got, err := c.Resolve(testContext(), path)
		require.NoError(t, err, "path %q", path)
		assert.Equal(t, "/docs/readme.md", got.Path)
	}
}

func (suite *CatalogTestSuite) testPutOverwrite(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	require.NoError(t, writable.Put(testContext(), catalog.Entry{Path: "/a", Start: 1, Size: 10}))
	require.NoError(t, writable.Put(testContext(), catalog.Entry{Path: "/a", Start: 9, Size: 99}))

	got, err := c.Resolve(testContext(), "/a")
	require.NoError(t, err)
	assert.EqualValues(t, 9, got.Start)
	assert.EqualValues(t, 99, got.Size)

	count, err := c.Count(testContext())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func (suite *CatalogTestSuite) testRemoveReturnsEntry(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	want := catalog.Entry{Path: "/gone", Start: 3, Size: 42}
	require.NoError(t, writable.Put(testContext(), want))

	got, err := writable.Remove(testContext(), "/gone")
	require.NoError(t, err)
	assert.Equal(t, want, got, "Remove returns the entry so the caller can free its chain")

	_, err = c.Resolve(testContext(), "/gone")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func (suite *CatalogTestSuite) testRemoveNotFound(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	_, err := writable.Remove(testContext(), "/never-there")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func (suite *CatalogTestSuite) testListPrefix(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	for i, path := range []string{"/a.txt", "/docs/two.md", "/docs/one.md", "/docsy"} {
		require.NoError(t, writable.Put(testContext(), catalog.Entry{Path: path, Start: 0, Size: int64(i)}))
	}

	// "/docsy" shares the byte prefix with "/docs" but is not under it.
	entries, err := c.List(testContext(), "/docs")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/docs/one.md", entries[0].Path, "listings are sorted by path")
	assert.Equal(t, "/docs/two.md", entries[1].Path)

	all, err := c.List(testContext(), "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func (suite *CatalogTestSuite) testCount(t *testing.T) {
	c := suite.NewCatalog()
	writable, ok := c.(catalog.WritableCatalog)
	if !ok {
		t.Skip("Catalog does not implement WritableCatalog")
	}

	for _, path := range []string{"/a", "/b", "/c"} {
		require.NoError(t, writable.Put(testContext(), catalog.Entry{Path: path}))
	}

	count, err := c.Count(testContext())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
