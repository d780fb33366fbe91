package ingest

import (
	"io"
	"sync/atomic"
)

// CountingReader tracks how many bytes have been read through it.
type CountingReader struct {
	r io.Reader
	n atomic.Int64
}

func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{r: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the running total.
func (c *CountingReader) BytesRead() int64 { return c.n.Load() }

// Fraction reports progress through a source of the given total size, in [0,1].
func (c *CountingReader) Fraction(total int64) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(c.BytesRead()) / float64(total)
	if f > 1 {
		f = 1
	}
	return f
}
