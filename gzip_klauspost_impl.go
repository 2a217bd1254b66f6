//go:build !standard_gzip || klauspost_gzip
// +build !standard_gzip klauspost_gzip

package warc

import (
	"io"

	gzip "github.com/klauspost/compress/gzip"
)

const gzipDefaultCompression = gzip.DefaultCompression

func newGzipWriter(w io.Writer, level int) (GzipWriterInterface, error) {
	return gzip.NewWriterLevel(w, level)
}

// klauspostGzipReader wraps the klauspost gzip.Reader
type klauspostGzipReader struct {
	*gzip.Reader
}

func (r *klauspostGzipReader) Multistream(enable bool) {
	r.Reader.Multistream(enable)
}

func newGzipReader(reader io.Reader) (GzipReaderInterface, error) {
	r, err := gzip.NewReader(reader)
	if err != nil {
		return nil, err
	}
	return &klauspostGzipReader{r}, nil
}
