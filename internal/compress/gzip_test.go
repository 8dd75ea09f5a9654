package compress

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"io"
	"strings"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip compresses data and decodes it with the standard library reader
// to prove the output is plain gzip.
func roundTrip(t *testing.T, c *GzipCompressor, data []byte) (compressed, decompressed []byte) {
	t.Helper()

	reader := c.Compress(bytes.NewReader(data))
	defer reader.Close()

	compressed, err := io.ReadAll(reader)
	require.NoError(t, err)

	gzReader, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer gzReader.Close()

	decompressed, err = io.ReadAll(gzReader)
	require.NoError(t, err)
	return compressed, decompressed
}

func TestNewGzipCompressor(t *testing.T) {
	t.Parallel()

	compressor := NewGzipCompressor()
	require.NotNil(t, compressor)
	assert.Equal(t, kgzip.DefaultCompression, compressor.level)

	assert.Equal(t, kgzip.BestSpeed, NewGzipCompressorLevel(kgzip.BestSpeed).level)
}

func TestGzipCompressor_RoundTrip(t *testing.T) {
	t.Parallel()

	random := make([]byte, 10*1024)
	_, err := rand.Read(random)
	require.NoError(t, err)

	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"small", []byte("Hello, World! This is a test of gzip compression.")},
		{"empty", []byte{}},
		{"random", random},
		{"binary", binary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, decompressed := roundTrip(t, NewGzipCompressor(), tt.data)
			assert.Equal(t, tt.data, decompressed)
		})
	}
}

func TestGzipCompressor_ShrinksRepetitiveData(t *testing.T) {
	t.Parallel()

	var builder strings.Builder
	for builder.Len() < 1024*1024 {
		builder.WriteString("This is a test pattern that will repeat. ")
	}
	original := []byte(builder.String())

	compressed, decompressed := roundTrip(t, NewGzipCompressorLevel(kgzip.BestCompression), original)
	assert.Less(t, len(compressed), len(original))
	assert.Equal(t, original, decompressed)
}

func TestGzipCompressor_InvalidLevel(t *testing.T) {
	t.Parallel()

	reader := NewGzipCompressorLevel(42).Compress(strings.NewReader("data"))
	defer reader.Close()

	_, err := io.ReadAll(reader)
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestGzipCompressor_SourceError(t *testing.T) {
	t.Parallel()

	reader := NewGzipCompressor().Compress(failingReader{})
	defer reader.Close()

	_, err := io.ReadAll(reader)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestGzipCompressor_CloseReader(t *testing.T) {
	t.Parallel()

	reader := NewGzipCompressor().Compress(strings.NewReader("Test data"))
	require.NoError(t, reader.Close())

	_, err := reader.Read(make([]byte, 10))
	assert.Error(t, err)
}

func TestGzipCompressor_OutputIsValidGzipHeader(t *testing.T) {
	t.Parallel()

	compressed, _ := roundTrip(t, NewGzipCompressor(), []byte("Test data"))

	require.GreaterOrEqual(t, len(compressed), 10)
	assert.Equal(t, byte(0x1f), compressed[0])
	assert.Equal(t, byte(0x8b), compressed[1])
	assert.Equal(t, byte(0x08), compressed[2])
}

func BenchmarkGzipCompressor_LargeData(b *testing.B) {
	compressor := NewGzipCompressor()

	var builder strings.Builder
	for builder.Len() < 1024*1024 {
		builder.WriteString("Benchmark pattern that repeats many times. ")
	}
	data := []byte(builder.String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reader := compressor.Compress(bytes.NewReader(data))
		io.ReadAll(reader)
		reader.Close()
	}
}
