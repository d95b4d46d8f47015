package testing

import (
	"context"
	"testing"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// DriverTestSuite is a test suite for block.Driver implementations. It tests
// the interface contract, not implementation details, so every backend
// (memory, image, badger, s3) runs the same suite.
//
// Usage:
//
//	func TestMyDriver(t *testing.T) {
//	    suite := &testing.DriverTestSuite{
//	        NewDriver: func() block.Driver {
//	            return mydriver.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
//
// Tests that need allocation skip automatically when the driver does not
// implement block.Allocator. NewDriver may register cleanup through the
// testing.T it closes over.
type DriverTestSuite struct {
	// NewDriver is a factory function that creates a fresh driver for each
	// test. This ensures test isolation.
	NewDriver func() block.Driver
}

// Run executes all tests in the suite.
func (suite *DriverTestSuite) Run(t *testing.T) {
	t.Run("Geometry", suite.RunGeometryTests)
	t.Run("BlockIO", suite.RunBlockIOTests)
	t.Run("Chains", suite.RunChainTests)
	t.Run("Enumeration", suite.RunEnumerationTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
