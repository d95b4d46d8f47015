// Package throttle limits the byte rate of bulk transfers.
//
// An import moves whole files through the block driver, and an unthrottled
// one will happily saturate a disk shared with live volumes or burn through
// an S3 request budget. The throttle wraps a token bucket in byte units and
// hands out an io.Reader that pauses a transfer whenever it runs ahead of
// the configured rate.
package throttle

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxRate is the rate at and above which limiting is pointless; such
// limiters become pass-throughs. It also bounds the bucket so the burst
// fits in an int on every platform.
const maxRate = 1 << 30

// Limiter enforces a sustained byte rate using the token bucket algorithm.
//
// The bucket holds one second of budget, so a transfer can burst up to the
// full rate after an idle stretch but averages out to bytesPerSecond over
// time.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter allowing bytesPerSecond of sustained throughput.
//
// A rate of zero (or one beyond any real storage backend) disables limiting
// entirely; the limiter then costs nothing per byte.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 || bytesPerSecond >= maxRate {
		return &Limiter{}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond)),
	}
}

// WaitN blocks until n bytes of budget are available or ctx is cancelled.
//
// n may exceed the bucket size; the wait is then served in bucket-sized
// slices, so callers can charge any transfer size in one call.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if l.limiter == nil {
		return ctx.Err()
	}

	burst := l.limiter.Burst()
	for n > 0 {
		slice := n
		if slice > burst {
			slice = burst
		}
		if err := l.limiter.WaitN(ctx, slice); err != nil {
			return err
		}
		n -= slice
	}
	return nil
}

// Reader wraps r so that reading from the result proceeds at the limiter's
// rate. Oversized reads are trimmed to one second of budget per call, which
// keeps individual pauses short. An unlimited Limiter returns r unchanged.
func (l *Limiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if l.limiter == nil {
		return r
	}
	return &throttledReader{ctx: ctx, limiter: l, src: r}
}

type throttledReader struct {
	ctx     context.Context
	limiter *Limiter
	src     io.Reader
}

// Read charges the budget after the bytes are in hand, so a short read only
// pays for what it got.
func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := t.src.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
