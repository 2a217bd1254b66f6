package warc

import (
	"errors"
	"io"
	"strings"
)

var newline = []byte("\n")

// readARCLine reads one '\n' terminated line, without the line terminator.
// eol is false when the input ended first.
func (r *Reader) readARCLine() (line string, eol bool, err error) {
	b, n, err := readUntilDelim(r.text, newline)
	r.pos += n
	if err != nil && err != io.EOF {
		return "", false, wrapFormatError(r.pos, "reading ARC line", err)
	}
	return strings.TrimSuffix(string(b), "\r"), err == nil, nil
}

// readARCDescriptor reads the filedesc:// record at the start of an ARC file
// and fixes the stream version from it.
func (r *Reader) readARCDescriptor() error {
	start := r.pos
	line, eol, err := r.readARCLine()
	r.memberContent = true
	if err != nil {
		return err
	}
	if !eol {
		return newFormatError(start, "truncated ARC file descriptor")
	}

	var colVersion ARCVersion
	switch len(strings.Fields(line)) {
	case len(arcColumns[ARCv1]):
		colVersion = ARCv1
	case len(arcColumns[ARCv2]):
		colVersion = ARCv2
	default:
		return newFormatErrorf(start, "ARC file descriptor has %d fields", len(strings.Fields(line)))
	}

	hdr, err := ParseARCHeader(line, colVersion)
	if err != nil {
		return wrapFormatError(start, "parsing ARC file descriptor", err)
	}
	length, _ := hdr.ContentLength()

	payload := NewBoundedReader(r.text, length)
	first, err := payload.ReadLine()
	if err != nil {
		return wrapFormatError(r.pos, "reading ARC descriptor version line", unexpected(err))
	}
	version, org, err := parseARCDescriptorPayload(string(first))
	if err != nil {
		return wrapFormatError(r.pos, "parsing ARC descriptor", err)
	}
	if version != colVersion {
		return newFormatErrorf(start, "ARC descriptor declares version %d but has a v%d header", version, colVersion)
	}
	if want := r.settings.ARCVersion; want != 0 && want != version {
		return newConfigurationErrorf("requested ARC version %d but file is version %d", want, version)
	}

	// column titles, then any extra metadata
	if _, err := payload.ReadLine(); err != nil && err != io.EOF {
		return wrapFormatError(r.pos, "reading ARC descriptor", err)
	}
	meta, err := io.ReadAll(payload)
	if err != nil {
		return wrapFormatError(r.pos, "reading ARC descriptor", err)
	}
	r.pos += length

	if err := r.readTrailer(newline); err != nil {
		return err
	}

	date, _ := hdr.Date()
	r.arcVersion = version
	r.arcFile = &ARCFileHeader{
		Filename:  strings.TrimPrefix(hdr.URL(), arcDescriptorScheme),
		IPAddress: hdr.IPAddress(),
		Date:      date,
		Org:       org,
		Meta:      meta,
	}
	r.logger.Debug("read ARC file descriptor", "version", int(version), "org", org, "filename", r.arcFile.Filename)
	return nil
}

// skipARCMetadata skips an <arcmetadata> block some ARC writers place between
// the descriptor and the first record.
func (r *Reader) skipARCMetadata(first string) error {
	start := r.pos
	line := first
	for !strings.HasSuffix(strings.TrimSpace(line), "</arcmetadata>") {
		var (
			eol bool
			err error
		)
		line, eol, err = r.readARCLine()
		if err != nil {
			return err
		}
		if !eol && line == "" {
			return newFormatError(start, "unterminated <arcmetadata> block")
		}
	}
	r.logger.Debug("skipped <arcmetadata> block", "offset", start, "bytes", r.pos-start)
	return nil
}

func (r *Reader) readARCRecord() (*Record, error) {
	for {
		if err := r.ensureData(); err != nil {
			return nil, err
		}

		start := r.pos
		startsMember := r.members != nil && !r.memberContent
		line, eol, err := r.readARCLine()
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "<arcmetadata") {
			if err := r.skipARCMetadata(line); err != nil {
				return nil, err
			}
			continue
		}

		r.memberContent = true
		if !eol {
			return nil, newFormatError(start, "truncated ARC record header")
		}

		h, err := ParseARCHeader(line, r.arcVersion)
		if err != nil {
			var fe *FormatError
			if errors.As(err, &fe) {
				fe.Offset = start
			}
			return nil, err
		}
		length, _ := h.ContentLength()
		return r.newRecord(h, length, start, startsMember), nil
	}
}
