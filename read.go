package warc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

var errReaderClosed = errors.New("warc: reader closed")

// ReaderSettings configures a Reader. The zero value detects everything from
// the input.
type ReaderSettings struct {
	// Format forces the expected container format. A stream of the other
	// format is rejected with a ConfigurationError.
	Format Format
	// WARCVersion, when set, must match the version of the first record.
	WARCVersion string
	// ARCVersion, when set, must match the version in the ARC descriptor. It
	// is required to read a bare ARC record with ReadRecordAt.
	ARCVersion ARCVersion
	Logger     LogBackend
	Stats      StatsRegistry
	// BufferSize is the size of the read buffers; 0 selects the
	// WARCDecompressedBufSize environment value or 256 KiB.
	BufferSize int
	// BaseOffset is the position of the input within its file. It is added
	// to every offset the Reader reports.
	BaseOffset int64
}

func (s ReaderSettings) validate() error {
	if s.WARCVersion != "" && !IsSupportedWARCVersion(s.WARCVersion) {
		return newConfigurationErrorf("unsupported WARC version %q", s.WARCVersion)
	}
	if s.ARCVersion != 0 && !s.ARCVersion.valid() {
		return newConfigurationErrorf("ARC version has to be 1 or 2, got %d", s.ARCVersion)
	}
	switch {
	case s.Format == FormatWARC && s.ARCVersion != 0:
		return newConfigurationErrorf("ARC version requested for a WARC stream")
	case s.Format == FormatARC && s.WARCVersion != "":
		return newConfigurationErrorf("WARC version requested for an ARC stream")
	}
	return nil
}

type readerState int

const (
	stateIdle readerState = iota
	statePayloadOpen
)

// Reader reads records from a WARC or ARC stream, plain, member-per-record
// gzip, or whole-stream zstd/xz/bzip2 compressed.
//
// Records are returned with a lazy payload that reads straight from the
// input. Calling ReadRecord again skips what is left of the previous payload,
// checks its trailer and invalidates it.
type Reader struct {
	settings ReaderSettings
	logger   LogBackend
	stats    readerStats
	bufSize  int

	src      *bufio.Reader // raw input
	members  *MemberReader // set for gzip input
	member   *Member
	text     *bufio.Reader // decompressed bytes of the current member or stream
	dec      io.ReadCloser // whole-stream decompressor
	compType decReaderType

	inited   bool
	atRecord bool // positioned on a record, not at the start of a file
	closed   bool
	err      error

	format      Format
	warcVersion string
	arcVersion  ARCVersion
	arcFile     *ARCFileHeader

	state   readerState
	current *Record
	gen     uint64

	pos           int64 // decompressed bytes consumed
	memberContent bool  // whether record bytes were consumed from the current member
}

// NewReader returns a Reader that detects compression, format and version
// from the input.
func NewReader(reader io.Reader) (*Reader, error) {
	return NewReaderWithSettings(reader, ReaderSettings{})
}

// NewReaderWithSettings returns a Reader configured by settings.
func NewReaderWithSettings(reader io.Reader, settings ReaderSettings) (*Reader, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	size := settings.BufferSize
	if size <= 0 {
		var err error
		if size, err = decompressedBufSize(); err != nil {
			return nil, err
		}
	}

	return &Reader{
		settings: settings,
		logger:   loggerOrNoop(settings.Logger),
		stats:    newReaderStats(settings.Stats),
		bufSize:  size,
		src:      bufio.NewReaderSize(reader, size), // buffer the source reader (mainly to avoid small syscalls)
	}, nil
}

// ReadRecordAt reads the single record starting at offset, which must be a
// member or record boundary as reported in Record.Offset. ARC records need
// settings.Format and settings.ARCVersion unless offset points at the file
// descriptor.
func ReadRecordAt(rs io.ReadSeeker, offset int64, settings ReaderSettings) (*Record, error) {
	if _, err := rs.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking to record at %d: %w", offset, err)
	}
	settings.BaseOffset = offset
	r, err := NewReaderWithSettings(rs, settings)
	if err != nil {
		return nil, err
	}
	r.atRecord = true
	return r.ReadRecord()
}

// Format returns the detected format, FormatUnknown before the first read.
func (r *Reader) Format() Format { return r.format }

// WARCVersion returns the version of a WARC stream once a record was read.
func (r *Reader) WARCVersion() string { return r.warcVersion }

// ARCVersion returns the version of an ARC stream once its descriptor was read.
func (r *Reader) ARCVersion() ARCVersion { return r.arcVersion }

// ARCFileHeader returns the descriptor of an ARC stream, or nil.
func (r *Reader) ARCFileHeader() *ARCFileHeader { return r.arcFile }

// ReadRecord returns the next record, or io.EOF at the end of the stream.
// Errors are sticky: once ReadRecord fails, it keeps returning that error.
func (r *Reader) ReadRecord() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	rec, err := r.readRecord()
	if err != nil {
		r.err = err
		return nil, err
	}
	r.stats.records.Inc()
	r.stats.payloadSize.Observe(rec.Length())
	return rec, nil
}

// All returns an iterator over the remaining records. It stops after the
// first error, which is yielded.
func (r *Reader) All() iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := r.ReadRecord()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (r *Reader) readRecord() (*Record, error) {
	if r.closed {
		return nil, errReaderClosed
	}

	if r.state == statePayloadOpen {
		err := r.finishRecord()
		r.gen++
		if err != nil {
			return nil, err
		}
	}

	if !r.inited {
		if err := r.init(); err != nil {
			return nil, err
		}
	}

	switch r.format {
	case FormatWARC:
		return r.readWARCRecord()
	case FormatARC:
		return r.readARCRecord()
	}
	return nil, io.EOF
}

func (r *Reader) init() error {
	r.inited = true

	t, ok, err := detectCompression(r.src)
	if err != nil {
		return fmt.Errorf("init decompression reader: %w", err)
	}
	if !ok {
		// clean EOF at start
		return nil
	}
	r.compType = t

	switch t {
	case decReaderGZip:
		r.members = NewMemberReader(r.src, r.settings.BaseOffset)
	case decReaderNone:
		r.text = r.src
	default:
		r.dec, err = newWholeStreamReader(t, r.src)
		if err != nil {
			return wrapFormatError(r.settings.BaseOffset, "opening compressed stream", err)
		}
		r.text = bufio.NewReaderSize(r.dec, r.bufSize)
		r.logger.Debug("reading whole-stream compressed input, record offsets unavailable", "compression", t.String())
	}

	if err := r.ensureData(); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return r.detectFormat()
}

func (r *Reader) detectFormat() error {
	peek, _ := r.text.Peek(len(arcDescriptorScheme))

	detected := FormatUnknown
	switch {
	case bytes.HasPrefix(peek, []byte(warcMagic)):
		detected = FormatWARC
	case bytes.HasPrefix(peek, []byte(arcDescriptorScheme)):
		detected = FormatARC
	case r.atRecord && r.settings.Format == FormatARC:
		detected = FormatARC
	}

	if detected == FormatUnknown {
		return newFormatErrorf(r.pos, "unrecognized record format, stream starts with %q", truncateForError(peek))
	}
	if r.settings.Format != FormatUnknown && detected != r.settings.Format {
		return newConfigurationErrorf("requested %s but stream is %s", r.settings.Format, detected)
	}
	r.format = detected

	if detected != FormatARC {
		return nil
	}
	if bytes.HasPrefix(peek, []byte(arcDescriptorScheme)) {
		return r.readARCDescriptor()
	}
	if r.settings.ARCVersion == 0 {
		return newConfigurationErrorf("reading a bare ARC record needs an explicit ARC version")
	}
	r.arcVersion = r.settings.ARCVersion
	return nil
}

// ensureData makes sure at least one byte is available from r.text,
// advancing to the next gzip member when the current one is exhausted. It
// returns io.EOF at the end of the stream.
func (r *Reader) ensureData() error {
	for {
		if r.text != nil {
			_, err := r.text.Peek(1)
			if err == nil {
				return nil
			}
			if err != io.EOF {
				return err
			}
		}
		if r.members == nil {
			return io.EOF
		}

		m, err := r.members.NextMember()
		if err != nil {
			return err
		}
		r.member = m
		r.memberContent = false
		if r.text == nil {
			r.text = bufio.NewReaderSize(m, r.bufSize)
		} else {
			r.text.Reset(m) // reuse buffer; avoids allocation per member
		}
	}
}

func (r *Reader) newRecord(h RecordHeader, length, start int64, startsMember bool) *Record {
	gen := r.gen
	stream := NewBoundedReader(r.text, length)
	stream.guard = func() error {
		if r.gen != gen {
			return ErrStaleRecord
		}
		return nil
	}

	rec := &Record{Header: h, Offset: -1, Size: -1, stream: stream}
	switch {
	case r.members != nil:
		if startsMember {
			rec.Offset = r.member.Offset
		}
	case r.dec == nil:
		rec.Offset = r.settings.BaseOffset + start
	}

	r.current = rec
	r.state = statePayloadOpen
	return rec
}

// finishRecord skips the unread part of the current payload and checks the
// record trailer. It also fills in the record Size when it is known.
func (r *Reader) finishRecord() error {
	rec := r.current
	r.current = nil
	r.state = stateIdle

	stream := rec.stream
	if _, err := stream.Drain(); err != nil {
		return wrapFormatError(r.pos, "payload shorter than its declared length", err)
	}
	r.pos += stream.Len()

	if err := r.readTrailer(rec.Header.trailer()); err != nil {
		return err
	}

	switch {
	case r.members != nil:
		if rec.Offset >= 0 {
			if _, err := r.text.Peek(1); err == io.EOF {
				rec.Size = r.member.Size()
			}
		}
	case r.dec == nil:
		rec.Size = r.settings.BaseOffset + r.pos - rec.Offset
	}
	return nil
}

func (r *Reader) readTrailer(want []byte) error {
	buf := make([]byte, len(want))
	n, err := io.ReadFull(r.text, buf)
	r.pos += int64(n)
	if err != nil {
		if r.format == FormatARC && n == 0 && err == io.EOF {
			r.logger.Debug("ARC record without trailing newline at end of input", "offset", r.pos)
			return nil
		}
		return wrapFormatError(r.pos, "reading record trailer", unexpected(err))
	}
	if !bytes.Equal(buf, want) {
		return newFormatErrorf(r.pos-int64(n), "expected record trailer %q, got %q", want, buf)
	}
	return nil
}

func (r *Reader) readWARCRecord() (*Record, error) {
	if err := r.ensureData(); err != nil {
		return nil, err
	}

	start := r.pos
	startsMember := r.members != nil && !r.memberContent
	h, n, err := parseWARCHeader(r.text, start)
	r.pos += n
	r.memberContent = true
	if err != nil {
		return nil, err
	}

	if r.warcVersion == "" {
		if want := r.settings.WARCVersion; want != "" && want != h.version {
			return nil, newConfigurationErrorf("requested WARC/%s but stream is WARC/%s", want, h.version)
		}
		r.warcVersion = h.version
	} else if h.version != r.warcVersion {
		return nil, newFormatErrorf(start, "WARC/%s record in a WARC/%s stream", h.version, r.warcVersion)
	}

	length, err := h.ContentLength()
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Offset = start
		}
		return nil, err
	}

	return r.newRecord(h, length, start, startsMember), nil
}

// Close invalidates any outstanding payload and releases decompressors. The
// underlying reader is not closed.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.gen++
	r.current = nil
	r.state = stateIdle

	var errs []error
	if r.dec != nil {
		if err := r.dec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close decompressor: %w", err))
		}
		r.dec = nil
	}
	if r.members != nil {
		if err := r.members.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gzip reader: %w", err))
		}
	}
	return errors.Join(errs...)
}
