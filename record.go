package warc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/internetarchive/warcio/pkg/spool"
)

// Format identifies the container format of a record or stream.
type Format int

const (
	FormatUnknown Format = iota
	FormatWARC
	FormatARC
)

func (f Format) String() string {
	switch f {
	case FormatWARC:
		return "warc"
	case FormatARC:
		return "arc"
	}
	return "unknown"
}

// RecordHeader is the header of a record in either format. Implementations
// are *WARCHeader and *ARCHeader.
type RecordHeader interface {
	Format() Format
	// Version is "1.0", "1.1" or "0.18" for WARC and "1" or "2" for ARC.
	Version() string
	Fields() *Header
	ContentLength() (int64, error)
	SetContentLength(n int64)
	WriteTo(w io.Writer) (int64, error)

	hasContentLength() bool
	trailer() []byte
}

// Record is a header plus exactly ContentLength bytes of payload.
//
// Records returned by a Reader stream their payload straight from the
// underlying file: the payload can only be read until the next call to
// ReadRecord. Records built with NewRecord or NewRecordFromReader own their
// payload and must be closed to release spooled storage.
type Record struct {
	Header RecordHeader

	// Offset and Size locate the compressed member holding the record, or
	// are -1 when the record was not read from a multi-member file.
	Offset int64
	Size   int64

	body    []byte
	spooled *spool.File
	stream  *BoundedReader
	payload *BoundedReader
}

// RecordOption configures NewRecord and NewRecordFromReader.
type RecordOption func(*recordOptions)

type recordOptions struct {
	digest     DigestAlgorithm
	skipDigest bool
	spoolDir   string
	threshold  int
}

// WithDigestAlgorithm selects the algorithm of a computed WARC-Payload-Digest.
func WithDigestAlgorithm(alg DigestAlgorithm) RecordOption {
	return func(o *recordOptions) { o.digest = alg }
}

// WithoutDigest disables WARC-Payload-Digest computation.
func WithoutDigest() RecordOption {
	return func(o *recordOptions) { o.skipDigest = true }
}

// WithSpoolDir sets the directory for temporary files of large payloads.
func WithSpoolDir(dir string) RecordOption {
	return func(o *recordOptions) { o.spoolDir = dir }
}

// WithSpoolThreshold sets how many payload bytes are kept in memory before
// spooling to disk.
func WithSpoolThreshold(n int) RecordOption {
	return func(o *recordOptions) { o.threshold = n }
}

func newRecordOptions(opts []RecordOption) (*recordOptions, error) {
	threshold, err := envInt(envMaxInMemSize, spool.DefaultThreshold)
	if err != nil {
		return nil, err
	}
	o := &recordOptions{digest: SHA1, threshold: threshold}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// NewRecord builds a record around an in-memory payload. A missing length
// field is set from len(payload); a present one must match it. WARC records
// without a WARC-Payload-Digest get one computed over the payload.
func NewRecord(header RecordHeader, payload []byte, opts ...RecordOption) (*Record, error) {
	if header == nil {
		return nil, errors.New("warc: record needs a header")
	}
	o, err := newRecordOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := settleLength(header, int64(len(payload))); err != nil {
		return nil, err
	}
	if needsDigest(header, o) {
		digest, err := GetDigest(bytes.NewReader(payload), o.digest)
		if err != nil {
			return nil, fmt.Errorf("computing payload digest: %w", err)
		}
		header.Fields().Set("WARC-Payload-Digest", digest)
	}
	return &Record{Header: header, Offset: -1, Size: -1, body: payload}, nil
}

// NewRecordFromReader builds a record by reading r to the end once. The
// payload is spooled to memory or disk while its length and digest are
// computed in the same pass.
func NewRecordFromReader(header RecordHeader, r io.Reader, opts ...RecordOption) (*Record, error) {
	if header == nil {
		return nil, errors.New("warc: record needs a header")
	}
	o, err := newRecordOptions(opts)
	if err != nil {
		return nil, err
	}

	buf := spool.New(o.spoolDir, o.threshold)
	var (
		dst      io.Writer = buf
		digester *Digester
	)
	if needsDigest(header, o) {
		if digester, err = NewDigester(o.digest); err != nil {
			buf.Close()
			return nil, err
		}
		dst = io.MultiWriter(buf, digester)
	}

	if _, err := io.Copy(dst, r); err != nil {
		buf.Close()
		return nil, fmt.Errorf("spooling payload: %w", err)
	}
	if err := settleLength(header, buf.Size()); err != nil {
		buf.Close()
		return nil, err
	}
	if digester != nil {
		header.Fields().Set("WARC-Payload-Digest", digester.Sum())
	}
	return &Record{Header: header, Offset: -1, Size: -1, spooled: buf}, nil
}

func needsDigest(h RecordHeader, o *recordOptions) bool {
	return !o.skipDigest && h.Format() == FormatWARC && !h.Fields().Has("WARC-Payload-Digest")
}

func settleLength(h RecordHeader, size int64) error {
	if !h.hasContentLength() {
		h.SetContentLength(size)
		return nil
	}
	declared, err := h.ContentLength()
	if err != nil {
		return err
	}
	if declared != size {
		return wrapFormatError(-1, fmt.Sprintf("declared length %d, payload has %d bytes", declared, size), ErrLengthMismatch)
	}
	return nil
}

// Payload returns the reader over the record payload. Successive calls
// return the same reader, so reads continue where the previous ones stopped.
func (r *Record) Payload() *BoundedReader {
	if r.payload != nil {
		return r.payload
	}
	switch {
	case r.stream != nil:
		r.payload = r.stream
	case r.spooled != nil:
		src, err := r.spooled.NewReader()
		if err != nil {
			r.payload = NewBoundedReader(bytes.NewReader(nil), r.spooled.Size())
			r.payload.guard = func() error { return err }
			break
		}
		r.payload = NewBoundedReader(src, r.spooled.Size())
	default:
		r.payload = NewBoundedReader(bytes.NewReader(r.body), int64(len(r.body)))
	}
	return r.payload
}

// payloadSource returns a reader over the full payload and its size. Owned
// payloads are read independently of Payload; streamed ones must not have
// been read from yet.
func (r *Record) payloadSource() (io.Reader, int64, error) {
	switch {
	case r.stream != nil:
		if err := r.stream.check(); err != nil {
			return nil, 0, err
		}
		if r.stream.Consumed() > 0 {
			return nil, 0, wrapFormatError(-1, "streamed payload was partially read", ErrLengthMismatch)
		}
		return r.stream, r.stream.Remaining(), nil
	case r.spooled != nil:
		src, err := r.spooled.NewReader()
		if err != nil {
			return nil, 0, err
		}
		return src, r.spooled.Size(), nil
	}
	return bytes.NewReader(r.body), int64(len(r.body)), nil
}

// WriteTo serializes the header, exactly ContentLength payload bytes and the
// format's trailer. A payload of the wrong size is rejected before anything
// is written.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	length, err := r.Header.ContentLength()
	if err != nil {
		return 0, err
	}
	src, size, err := r.payloadSource()
	if err != nil {
		return 0, err
	}
	if size != length {
		return 0, wrapFormatError(-1, fmt.Sprintf("declared length %d, payload has %d bytes", length, size), ErrLengthMismatch)
	}

	n, err := r.Header.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("writing record header: %w", err)
	}
	c, err := io.CopyN(w, src, length)
	n += c
	if err != nil {
		return n, fmt.Errorf("writing record payload: %w", unexpected(err))
	}
	t, err := w.Write(r.Header.trailer())
	n += int64(t)
	if err != nil {
		return n, fmt.Errorf("writing record trailer: %w", err)
	}
	return n, nil
}

// Close releases spooled payload storage. It is a no-op for records read
// from a Reader.
func (r *Record) Close() error {
	if r.spooled != nil {
		return r.spooled.Close()
	}
	return nil
}

// Format returns the format of the record header.
func (r *Record) Format() Format { return r.Header.Format() }

// Version returns the header version.
func (r *Record) Version() string { return r.Header.Version() }

// Get returns a header field by case-insensitive name.
func (r *Record) Get(name string) string { return r.Header.Fields().Get(name) }

// WARCHeader returns the header as a *WARCHeader, or nil for ARC records.
func (r *Record) WARCHeader() *WARCHeader {
	h, _ := r.Header.(*WARCHeader)
	return h
}

// ARCHeader returns the header as an *ARCHeader, or nil for WARC records.
func (r *Record) ARCHeader() *ARCHeader {
	h, _ := r.Header.(*ARCHeader)
	return h
}

// Type returns WARC-Type. ARC records have no type and return "".
func (r *Record) Type() string {
	if h := r.WARCHeader(); h != nil {
		return h.Type()
	}
	return ""
}

// TargetURI returns WARC-Target-URI, or the url column of an ARC record.
func (r *Record) TargetURI() string {
	if h := r.WARCHeader(); h != nil {
		return h.TargetURI()
	}
	return r.ARCHeader().URL()
}

// IPAddress returns WARC-IP-Address, or the ip_address column of an ARC
// record.
func (r *Record) IPAddress() string {
	if h := r.WARCHeader(); h != nil {
		return h.IPAddress()
	}
	return r.ARCHeader().IPAddress()
}

// Date returns the capture date of the record.
func (r *Record) Date() (time.Time, error) {
	if h := r.WARCHeader(); h != nil {
		return h.Date()
	}
	return r.ARCHeader().Date()
}

// Digest returns WARC-Payload-Digest, or the checksum column of an ARC v2
// record ("" when absent).
func (r *Record) Digest() string {
	if h := r.WARCHeader(); h != nil {
		return h.PayloadDigest()
	}
	if c := r.ARCHeader().Checksum(); c != "-" {
		return c
	}
	return ""
}

// Length returns the declared payload length, or -1 if it cannot be parsed.
func (r *Record) Length() int64 {
	n, err := r.Header.ContentLength()
	if err != nil {
		return -1
	}
	return n
}
