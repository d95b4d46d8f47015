package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/catalog"
	catalogtesting "github.com/marmos91/chainfs/pkg/store/catalog/testing"
)

// TestMemoryCatalog runs the complete catalog test suite against the memory
// implementation.
func TestMemoryCatalog(t *testing.T) {
	suite := &catalogtesting.CatalogTestSuite{
		NewCatalog: func() catalog.Catalog {
			c, err := New(context.Background())
			if err != nil {
				t.Fatalf("Failed to create memory catalog: %v", err)
			}
			return c
		},
	}

	suite.Run(t)
}

func TestMemoryCatalogClosed(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, catalog.Entry{Path: "/a", Size: 1}))
	require.NoError(t, c.Close())

	_, err = c.Resolve(ctx, "/a")
	require.ErrorIs(t, err, catalog.ErrCatalogClosed)
	err = c.Put(ctx, catalog.Entry{Path: "/b"})
	require.ErrorIs(t, err, catalog.ErrCatalogClosed)
}
