package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var errWriterClosed = errors.New("warc: writer closed")

const writeBufferSize = 64 << 10

// WriterSettings configures a Writer.
type WriterSettings struct {
	// Format of the output; FormatUnknown means WARC.
	Format Format
	// WARCVersion, when set, is the only version records may carry.
	// Otherwise the first record fixes it.
	WARCVersion string
	// ARCVersion of the output; 0 means ARCv2.
	ARCVersion ARCVersion
	// ARCFileHeader describes the file in the filedesc:// record written
	// before the first ARC record. Empty fields fall back to defaults.
	ARCFileHeader ARCFileHeader
	// Compression selects plain output or one gzip member / zstd frame per
	// record.
	Compression Compression
	// CompressionLevel is passed to the encoder; 0 selects its default.
	CompressionLevel int
	Logger           LogBackend
	Stats            StatsRegistry
}

// WriteResult locates a written record in the output.
type WriteResult struct {
	// Offset and Size of the record in the output file, in compressed bytes
	// when writing members.
	Offset int64
	Size   int64
	// Written is the number of uncompressed bytes of the record.
	Written int64
}

// Writer writes records to a WARC or ARC stream.
type Writer struct {
	settings WriterSettings
	logger   LogBackend
	stats    writerStats

	out     *countingWriter
	members *MemberWriter
	buf     *bufio.Writer

	warcVersion       string
	descriptorWritten bool
	closed            bool
	err               error
}

// NewWriter returns a Writer on w. The Writer does not close w.
func NewWriter(w io.Writer, settings WriterSettings) (*Writer, error) {
	if settings.Format == FormatUnknown {
		settings.Format = FormatWARC
	}
	switch settings.Format {
	case FormatWARC:
		if settings.ARCVersion != 0 {
			return nil, newConfigurationErrorf("ARC version requested for a WARC stream")
		}
		if settings.WARCVersion != "" && !IsSupportedWARCVersion(settings.WARCVersion) {
			return nil, newConfigurationErrorf("unsupported WARC version %q", settings.WARCVersion)
		}
	case FormatARC:
		if settings.WARCVersion != "" {
			return nil, newConfigurationErrorf("WARC version requested for an ARC stream")
		}
		if settings.ARCVersion == 0 {
			settings.ARCVersion = ARCv2
		}
		if !settings.ARCVersion.valid() {
			return nil, newConfigurationErrorf("ARC version has to be 1 or 2, got %d", settings.ARCVersion)
		}
	default:
		return nil, newConfigurationErrorf("unknown format %d", settings.Format)
	}

	wr := &Writer{
		settings:    settings,
		logger:      loggerOrNoop(settings.Logger),
		stats:       newWriterStats(settings.Stats),
		out:         &countingWriter{w: w},
		warcVersion: settings.WARCVersion,
	}

	var dst io.Writer = wr.out
	if settings.Compression != CompressionNone {
		level := settings.CompressionLevel
		if level == 0 && settings.Compression == CompressionGzip {
			level = gzipDefaultCompression
		}
		members, err := NewMemberWriter(wr.out, settings.Compression, level)
		if err != nil {
			return nil, err
		}
		wr.members = members
		dst = members
	}
	wr.buf = bufio.NewWriterSize(dst, writeBufferSize)
	return wr, nil
}

// WriteRecord writes rec, preceded by the ARC file descriptor for the first
// record of an ARC stream. With compression enabled the record is written as
// its own member.
func (w *Writer) WriteRecord(rec *Record) (WriteResult, error) {
	if w.closed {
		return WriteResult{}, errWriterClosed
	}
	if w.err != nil {
		return WriteResult{}, w.err
	}
	if err := w.checkRecord(rec); err != nil {
		return WriteResult{}, err
	}

	if w.settings.Format == FormatARC && !w.descriptorWritten {
		if err := w.writeARCDescriptor(); err != nil {
			w.err = err
			return WriteResult{}, err
		}
	}

	res, err := w.writeOne(rec)
	if err != nil {
		var fe *FormatError
		if !(errors.As(err, &fe) && res.Written == 0) {
			// the output holds a partial record
			w.err = err
		}
		return res, err
	}
	return res, nil
}

func (w *Writer) checkRecord(rec *Record) error {
	if rec == nil || rec.Header == nil {
		return errors.New("warc: cannot write a record without a header")
	}
	if rec.Format() != w.settings.Format {
		return newConfigurationErrorf("cannot write a %s record to a %s stream", rec.Format(), w.settings.Format)
	}
	switch h := rec.Header.(type) {
	case *WARCHeader:
		if w.warcVersion == "" {
			w.warcVersion = h.Version()
		} else if h.Version() != w.warcVersion {
			return newConfigurationErrorf("cannot write a WARC/%s record to a WARC/%s stream", h.Version(), w.warcVersion)
		}
	case *ARCHeader:
		if h.ARCVersion() != w.settings.ARCVersion {
			return newConfigurationErrorf("cannot write an ARC v%d record to an ARC v%d stream", h.ARCVersion(), w.settings.ARCVersion)
		}
	}
	return nil
}

func (w *Writer) writeARCDescriptor() error {
	fh := w.settings.ARCFileHeader.withDefaults(func(field, value string) {
		w.logger.Warn("ARC file descriptor field missing, using default", "field", field, "value", value)
		w.stats.arcDefaults.Inc()
	})
	h, payload, err := fh.descriptor(w.settings.ARCVersion, w.out.Tell())
	if err != nil {
		return err
	}
	rec, err := NewRecord(h, payload)
	if err != nil {
		return err
	}
	if _, err := w.writeOne(rec); err != nil {
		return fmt.Errorf("writing ARC file descriptor: %w", err)
	}
	w.descriptorWritten = true
	return nil
}

func (w *Writer) writeOne(rec *Record) (WriteResult, error) {
	start := w.out.Tell()

	n, err := rec.WriteTo(w.buf)
	res := WriteResult{Offset: start, Written: n}
	if err != nil {
		return res, err
	}
	if err := w.buf.Flush(); err != nil {
		return res, fmt.Errorf("flushing record: %w", err)
	}

	if w.members != nil {
		offset, size, err := w.members.CloseMember()
		if err != nil {
			return res, err
		}
		res.Offset, res.Size = offset, size
		w.stats.members.Inc()
	} else {
		res.Size = w.out.Tell() - start
	}

	w.stats.records.Inc()
	w.stats.bytes.Add(n)
	w.stats.payloadSize.Observe(rec.Length())
	w.stats.offset.Set(w.out.Tell())
	w.logger.Debug("wrote record", "format", rec.Format().String(), "offset", res.Offset, "size", res.Size)
	return res, nil
}

// Offset returns the number of bytes written to the output so far.
func (w *Writer) Offset() int64 { return w.out.Tell() }

// Close flushes buffered data and closes any open member. The underlying
// writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.members != nil {
		return w.members.Close()
	}
	return nil
}
