package file

import (
	"context"
	"fmt"
	"io"
)

// Reader adapts the file to io.Reader, reading from the current position
// onward. The end of the data surfaces as io.EOF, matching what io.Copy and
// friends expect; driver failures pass through unchanged. A chain that ends
// before the file's declared size surfaces as ErrTruncatedChain rather than
// a silent short stream.
//
// The adapter shares the file's cursor, so interleaving adapter reads with
// direct File operations advances the same position. ctx applies to every
// Read issued through the adapter.
func (f *File) Reader(ctx context.Context) io.Reader {
	return &fileReader{ctx: ctx, f: f}
}

type fileReader struct {
	ctx context.Context
	f   *File
}

func (r *fileReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(r.ctx, p)
	if err != nil || n > 0 || len(p) == 0 {
		return n, err
	}
	if r.f.buf != nil && r.f.pos() < r.f.size {
		return 0, fmt.Errorf("file %q ends at %d of %d: %w", r.f.name, r.f.pos(), r.f.size, ErrTruncatedChain)
	}
	return 0, io.EOF
}
