package compress

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipCompressor compresses a stream on a background goroutine so callers
// never hold more than one buffered block in memory.
type GzipCompressor struct {
	level int
}

func NewGzipCompressor() *GzipCompressor {
	return &GzipCompressor{level: gzip.DefaultCompression}
}

// NewGzipCompressorLevel accepts gzip.HuffmanOnly through gzip.BestCompression.
func NewGzipCompressorLevel(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

func (c *GzipCompressor) Compress(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		gw, err := gzip.NewWriterLevel(pw, c.level)
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		if _, err := io.Copy(gw, r); err != nil {
			gw.Close()
			pw.CloseWithError(err)
			return
		}

		if err := gw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}

		pw.Close()
	}()

	return pr
}
