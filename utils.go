package warc

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// maxLineSize bounds a single header line; anything longer is treated as a
// malformed stream rather than buffered indefinitely.
const maxLineSize = 1 << 20

var errLineTooLong = errors.New("line exceeds maximum size")

var intermediateBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// readUntilDelim reads from r until the multi-byte delimiter delim is found.
// It returns a copy of the bytes BEFORE the delimiter, the total number of
// bytes consumed from r (including the delimiter), and an error. If EOF occurs
// before the delimiter, it returns the data read and io.EOF.
func readUntilDelim(r *bufio.Reader, delim []byte) (line []byte, n int64, err error) {
	if len(delim) == 0 {
		return nil, 0, errors.New("empty delimiter")
	}

	bufp := intermediateBufPool.Get().(*[]byte)
	buf := (*bufp)[:0]
	defer func() {
		*bufp = buf[:0]
		intermediateBufPool.Put(bufp)
	}()
	last := delim[len(delim)-1]

	for {
		chunk, e := r.ReadSlice(last)
		n += int64(len(chunk))
		buf = append(buf, chunk...)

		// Search from a position that accounts for a delimiter split across chunks
		start := max(len(buf)-len(chunk)-(len(delim)-1), 0)
		if i := bytes.Index(buf[start:], delim); i >= 0 {
			i += start
			return bytes.Clone(buf[:i]), n, nil
		}

		if len(buf) > maxLineSize {
			return bytes.Clone(buf), n, errLineTooLong
		}

		if e != nil {
			if e == bufio.ErrBufferFull {
				continue
			}
			return bytes.Clone(buf), n, e
		}
	}
}

// discardN skips exactly n bytes from a bufio.Reader.
func discardN(r *bufio.Reader, n int64) error {
	for n > 0 {
		// Discard takes int; chunk to avoid int overflow on 32-bit.
		chunk := int(min(n, int64(int(^uint(0)>>1))))
		d, err := r.Discard(chunk)
		n -= int64(d)
		if err != nil {
			return err
		}
	}
	return nil
}

// splitKeyValue parses a "Name: value" header line. ok is false when the line
// has no colon or the name is not a valid field token.
func splitKeyValue(line string) (key, value string, ok bool) {
	key, value, found := strings.Cut(line, ":")
	if !found || !isToken(key) {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// isToken reports whether s is a non-empty token as defined by RFC 7230:
// visible ASCII excluding separators.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f || strings.IndexByte("()<>@,;:\\\"/[]?={}", c) >= 0 {
			return false
		}
	}
	return true
}

func isHTTPRequest(line string) bool {
	httpMethods := []string{"GET ", "HEAD ", "POST ", "PUT ", "DELETE ", "CONNECT ", "OPTIONS ", "TRACE ", "PATCH "}
	protocols := []string{"HTTP/1.0", "HTTP/1.1"}

	for _, method := range httpMethods {
		if strings.HasPrefix(line, method) {
			for _, protocol := range protocols {
				if strings.HasSuffix(line, protocol) {
					return true
				}
			}
		}
	}
	return false
}

// countingReader counts bytes read from the underlying compressed stream.
// It must sit *above* the bufio.Reader used for the decompressor to avoid
// counting upstream prefetch.
type countingReader struct {
	r   io.Reader
	n   int64
	tmp [1]byte
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) Tell() int64 { return c.n }

// ReadByte lets flate decoders consume the stream byte-wise without wrapping
// it in their own bufio.Reader, so member boundaries are never overrun.
func (c *countingReader) ReadByte() (byte, error) {
	if br, ok := c.r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		c.n++
		return b, nil
	}
	n, err := c.r.Read(c.tmp[:])
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return 0, err
	}
	c.n += int64(n)
	return c.tmp[0], nil
}

// countingWriter counts bytes written to the underlying sink.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Tell() int64 { return c.n }
