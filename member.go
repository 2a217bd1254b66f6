package warc

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how a Writer frames records on disk.
type Compression int

const (
	CompressionNone Compression = iota
	// CompressionGzip writes every record as its own gzip member, so each
	// record can be located and decompressed on its own.
	CompressionGzip
	// CompressionZstd writes every record as its own zstd frame.
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	}
	return "none"
}

// ParseCompression parses "", "none", "gzip" or "zstd", case-insensitively.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	}
	return CompressionNone, newConfigurationErrorf("invalid compression algorithm %q", s)
}

// memberEncoder is satisfied by both gzip writers and *zstd.Encoder.
type memberEncoder interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// MemberWriter writes a stream of independently compressed members. A member
// is opened by the first Write after the previous one was closed, and
// CloseMember flushes it and writes its trailer.
type MemberWriter struct {
	out         *countingWriter
	compression Compression
	level       int
	enc         memberEncoder
	open        bool
	start       int64
	members     int64
}

// NewMemberWriter returns a MemberWriter emitting gzip members or zstd
// frames. level is a gzip level (-1 for default); for zstd it is mapped to
// the nearest zstd encoder level.
func NewMemberWriter(w io.Writer, compression Compression, level int) (*MemberWriter, error) {
	if compression != CompressionGzip && compression != CompressionZstd {
		return nil, newConfigurationErrorf("member compression must be gzip or zstd, got %s", compression)
	}
	return &MemberWriter{
		out:         &countingWriter{w: w},
		compression: compression,
		level:       level,
	}, nil
}

func (m *MemberWriter) newEncoder() (memberEncoder, error) {
	if m.compression == CompressionZstd {
		level := zstd.SpeedDefault
		if m.level > 0 {
			level = zstd.EncoderLevelFromZstd(m.level)
		}
		return zstd.NewWriter(m.out, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	}
	return newGzipWriter(m.out, m.level)
}

func (m *MemberWriter) Write(p []byte) (int, error) {
	if !m.open {
		if m.enc == nil {
			enc, err := m.newEncoder()
			if err != nil {
				return 0, fmt.Errorf("creating %s encoder: %w", m.compression, err)
			}
			m.enc = enc
		} else {
			m.enc.Reset(m.out)
		}
		m.open = true
		m.start = m.out.Tell()
	}
	return m.enc.Write(p)
}

// CloseMember finishes the open member and returns its compressed offset and
// size. Without an open member it does nothing and returns the current
// offset with a zero size.
func (m *MemberWriter) CloseMember() (offset, size int64, err error) {
	if !m.open {
		return m.out.Tell(), 0, nil
	}
	m.open = false
	if err := m.enc.Close(); err != nil {
		return m.start, m.out.Tell() - m.start, fmt.Errorf("closing %s member: %w", m.compression, err)
	}
	m.members++
	return m.start, m.out.Tell() - m.start, nil
}

// Offset returns the number of compressed bytes written so far.
func (m *MemberWriter) Offset() int64 { return m.out.Tell() }

// Members returns the number of members closed so far.
func (m *MemberWriter) Members() int64 { return m.members }

// Close closes the open member, if any. The underlying writer is not closed.
func (m *MemberWriter) Close() error {
	_, _, err := m.CloseMember()
	return err
}

// MemberReader reads a concatenation of gzip members one member at a time.
type MemberReader struct {
	cr   *countingReader
	base int64
	gz   GzipReaderInterface
	cur  *Member
}

// Member reads the decompressed bytes of a single gzip member. Read returns
// io.EOF at the member boundary and never consumes bytes of the next member.
type Member struct {
	m *MemberReader
	// Offset is the position of the member in the compressed stream.
	Offset int64
	size   int64
	eof    bool
}

// NewMemberReader returns a MemberReader over r. Offsets are counted from
// base, the position of r in its file.
func NewMemberReader(r io.Reader, base int64) *MemberReader {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	return &MemberReader{cr: &countingReader{r: r}, base: base}
}

// Tell returns the position of the next unread compressed byte.
func (m *MemberReader) Tell() int64 { return m.base + m.cr.Tell() }

// NextMember drains whatever is left of the current member and positions
// the reader on the next one. It returns io.EOF when no member remains.
func (m *MemberReader) NextMember() (*Member, error) {
	if m.cur != nil && !m.cur.eof {
		if _, err := io.Copy(io.Discard, m.cur); err != nil {
			return nil, fmt.Errorf("draining gzip member at %d: %w", m.cur.Offset, err)
		}
	}

	offset := m.Tell()
	var err error
	if m.gz == nil {
		m.gz, err = newGzipReader(m.cr)
	} else {
		err = m.gz.Reset(m.cr)
	}
	if err == io.EOF {
		m.cur = nil
		return nil, io.EOF
	}
	if err != nil {
		return nil, wrapFormatError(offset, "reading gzip member header", err)
	}
	m.gz.Multistream(false)

	m.cur = &Member{m: m, Offset: offset, size: -1}
	return m.cur, nil
}

func (mb *Member) Read(p []byte) (int, error) {
	if mb.eof {
		return 0, io.EOF
	}
	if mb.m.cur != mb {
		return 0, io.EOF
	}
	n, err := mb.m.gz.Read(p)
	if err == io.EOF {
		mb.eof = true
		mb.size = mb.m.Tell() - mb.Offset
	} else if err != nil {
		err = wrapFormatError(mb.Offset, "decompressing gzip member", err)
	}
	return n, err
}

// Size returns the compressed size of the member once it has been read to
// the end, and -1 before that.
func (mb *Member) Size() int64 { return mb.size }

// Close releases the decompressor.
func (m *MemberReader) Close() error {
	if m.gz == nil {
		return nil
	}
	return m.gz.Close()
}
