package warc

import (
	"bytes"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
)

// ARCVersion selects one of the two ARC header grammars.
type ARCVersion int

const (
	ARCv1 ARCVersion = 1
	ARCv2 ARCVersion = 2
)

func (v ARCVersion) valid() bool { return v == ARCv1 || v == ARCv2 }

// ARCDateLayout is the time layout of ARC date columns.
const ARCDateLayout = "20060102150405"

const arcDescriptorScheme = "filedesc://"

// Field keys of an ARCHeader.
const (
	ARCFieldURL         = "url"
	ARCFieldIPAddress   = "ip_address"
	ARCFieldDate        = "date"
	ARCFieldContentType = "content_type"
	ARCFieldResultCode  = "result_code"
	ARCFieldChecksum    = "checksum"
	ARCFieldLocation    = "location"
	ARCFieldOffset      = "offset"
	ARCFieldFilename    = "filename"
	ARCFieldLength      = "length"
)

var arcColumns = map[ARCVersion][]string{
	ARCv1: {ARCFieldURL, ARCFieldIPAddress, ARCFieldDate, ARCFieldContentType, ARCFieldLength},
	ARCv2: {ARCFieldURL, ARCFieldIPAddress, ARCFieldDate, ARCFieldContentType, ARCFieldResultCode,
		ARCFieldChecksum, ARCFieldLocation, ARCFieldOffset, ARCFieldFilename, ARCFieldLength},
}

// Column descriptions written in the file descriptor of each version.
var arcColumnTitles = map[ARCVersion]string{
	ARCv1: "URL IP-address Archive-date Content-type Archive-length",
	ARCv2: "URL IP-address Archive-date Content-type Result-code Checksum Location Offset Filename Archive-length",
}

// ARCFields is the typed form of an ARC record header line.
type ARCFields struct {
	URL         string
	IPAddress   string
	Date        time.Time
	ContentType string
	ResultCode  string
	Checksum    string
	Location    string
	Offset      int64
	Filename    string
	Length      int64
}

// ARCHeader is the one-line header of an ARC record. Its version is fixed at
// construction and decides which columns are parsed and written.
type ARCHeader struct {
	*Header
	version ARCVersion
}

// NewARCHeader builds a header of the given version from typed fields. A zero
// Date is replaced by the current UTC time.
func NewARCHeader(version ARCVersion, f ARCFields) (*ARCHeader, error) {
	if !version.valid() {
		return nil, newConfigurationErrorf("ARC version has to be 1 or 2, got %d", version)
	}
	if f.Date.IsZero() {
		f.Date = time.Now().UTC()
	}
	h := &ARCHeader{Header: NewHeader(), version: version}
	h.Set(ARCFieldURL, f.URL)
	h.Set(ARCFieldIPAddress, f.IPAddress)
	h.Set(ARCFieldDate, f.Date.UTC().Format(ARCDateLayout))
	h.Set(ARCFieldContentType, f.ContentType)
	if version == ARCv2 {
		h.Set(ARCFieldResultCode, f.ResultCode)
		h.Set(ARCFieldChecksum, f.Checksum)
		h.Set(ARCFieldLocation, f.Location)
		h.Set(ARCFieldOffset, strconv.FormatInt(f.Offset, 10))
		h.Set(ARCFieldFilename, f.Filename)
	}
	h.Set(ARCFieldLength, strconv.FormatInt(f.Length, 10))
	return h, nil
}

// ParseARCHeader parses a record header line (without its newline) using the
// grammar of version.
func ParseARCHeader(line string, version ARCVersion) (*ARCHeader, error) {
	if !version.valid() {
		return nil, newConfigurationErrorf("ARC version has to be 1 or 2, got %d", version)
	}
	cols := arcColumns[version]
	fields := strings.Fields(line)
	if len(fields) != len(cols) {
		return nil, newFormatErrorf(-1, "ARC v%d header needs %d fields, got %d in %q",
			version, len(cols), len(fields), truncateForError([]byte(line)))
	}

	h := &ARCHeader{Header: NewHeader(), version: version}
	for i, name := range cols {
		h.Set(name, fields[i])
	}

	if _, err := time.Parse(ARCDateLayout, h.Get(ARCFieldDate)); err != nil {
		return nil, wrapFormatError(-1, "invalid ARC date", err)
	}
	if n, err := strconv.ParseInt(h.Get(ARCFieldLength), 10, 64); err != nil || n < 0 {
		return nil, newFormatErrorf(-1, "invalid ARC length %q", h.Get(ARCFieldLength))
	}
	// descriptors written by some tools carry "-" as offset
	if off := h.Get(ARCFieldOffset); version == ARCv2 && off != "-" {
		if _, err := strconv.ParseInt(off, 10, 64); err != nil {
			return nil, newFormatErrorf(-1, "invalid ARC offset %q", h.Get(ARCFieldOffset))
		}
	}
	return h, nil
}

// Format implements RecordHeader.
func (h *ARCHeader) Format() Format { return FormatARC }

// ARCVersion returns the grammar version of the header.
func (h *ARCHeader) ARCVersion() ARCVersion { return h.version }

// Version implements RecordHeader.
func (h *ARCHeader) Version() string { return strconv.Itoa(int(h.version)) }

// Fields implements RecordHeader.
func (h *ARCHeader) Fields() *Header { return h.Header }

func (h *ARCHeader) URL() string         { return h.Get(ARCFieldURL) }
func (h *ARCHeader) IPAddress() string   { return h.Get(ARCFieldIPAddress) }
func (h *ARCHeader) ContentType() string { return h.Get(ARCFieldContentType) }
func (h *ARCHeader) ResultCode() string  { return h.Get(ARCFieldResultCode) }
func (h *ARCHeader) Checksum() string    { return h.Get(ARCFieldChecksum) }
func (h *ARCHeader) Location() string    { return h.Get(ARCFieldLocation) }
func (h *ARCHeader) Filename() string    { return h.Get(ARCFieldFilename) }

// Date parses the date column.
func (h *ARCHeader) Date() (time.Time, error) {
	return time.Parse(ARCDateLayout, h.Get(ARCFieldDate))
}

// Offset parses the v2 offset column.
func (h *ARCHeader) Offset() (int64, error) {
	return strconv.ParseInt(h.Get(ARCFieldOffset), 10, 64)
}

// ContentLength implements RecordHeader by parsing the length column.
func (h *ARCHeader) ContentLength() (int64, error) {
	v, ok := h.Lookup(ARCFieldLength)
	if !ok {
		return 0, newFormatError(-1, "missing ARC length")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, newFormatErrorf(-1, "invalid ARC length %q", v)
	}
	return n, nil
}

// SetContentLength implements RecordHeader.
func (h *ARCHeader) SetContentLength(n int64) {
	h.Set(ARCFieldLength, strconv.FormatInt(n, 10))
}

func (h *ARCHeader) hasContentLength() bool { return h.Has(ARCFieldLength) }

func (h *ARCHeader) trailer() []byte { return []byte("\n") }

// WriteTo writes the columns of the header's version separated by single
// spaces, followed by a newline. Empty columns are written as "-".
func (h *ARCHeader) WriteTo(w io.Writer) (int64, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for i, name := range arcColumns[h.version] {
		if i > 0 {
			buf.WriteByte(' ')
		}
		v := h.Get(name)
		if v == "" {
			v = "-"
		}
		buf.WriteString(v)
	}
	buf.WriteByte('\n')

	n, err := w.Write(buf.B)
	return int64(n), err
}

func (h *ARCHeader) String() string {
	var sb strings.Builder
	h.WriteTo(&sb)
	return sb.String()
}

// ARCFileHeader describes an ARC file as recorded in its leading filedesc://
// pseudo-record.
type ARCFileHeader struct {
	Filename  string
	IPAddress string
	Date      time.Time
	Org       string
	// Meta holds descriptor payload lines past the column description, such
	// as an <arcmetadata> block.
	Meta []byte
}

// Fallbacks for descriptor fields the caller leaves empty.
const (
	DefaultARCOrg       = "Unknown"
	DefaultARCIPAddress = "127.0.0.1"
)

// withDefaults fills empty descriptor fields. Each fallback is reported to
// warn, since the resulting file no longer says who archived it or when.
func (fh ARCFileHeader) withDefaults(warn func(field, value string)) ARCFileHeader {
	if fh.Org == "" {
		fh.Org = DefaultARCOrg
		warn("org", fh.Org)
	}
	if fh.Date.IsZero() {
		fh.Date = time.Now().UTC()
		warn("date", fh.Date.Format(ARCDateLayout))
	}
	if fh.IPAddress == "" {
		fh.IPAddress = DefaultARCIPAddress
		warn("ip_address", fh.IPAddress)
	}
	return fh
}

// descriptor renders the filedesc:// record of fh. offset is the position of
// the descriptor in the file (always 0 for a fresh file).
func (fh ARCFileHeader) descriptor(version ARCVersion, offset int64) (*ARCHeader, []byte, error) {
	var payload bytes.Buffer
	payload.WriteString(strconv.Itoa(int(version)))
	payload.WriteString(" 0 ")
	payload.WriteString(fh.Org)
	payload.WriteByte('\n')
	payload.WriteString(arcColumnTitles[version])
	payload.WriteByte('\n')
	payload.Write(fh.Meta)

	name := filepath.Base(fh.Filename)
	if fh.Filename == "" {
		name = "-"
	}
	h, err := NewARCHeader(version, ARCFields{
		URL:         arcDescriptorScheme + name,
		IPAddress:   fh.IPAddress,
		Date:        fh.Date,
		ContentType: "text/plain",
		ResultCode:  "200",
		Checksum:    "-",
		Location:    "-",
		Offset:      offset,
		Filename:    name,
		Length:      int64(payload.Len()),
	})
	if err != nil {
		return nil, nil, err
	}
	return h, payload.Bytes(), nil
}

// parseARCDescriptorPayload extracts the version and organisation from the
// first descriptor payload line, e.g. "1 0 Internet Archive".
func parseARCDescriptorPayload(line string) (ARCVersion, string, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return 0, "", newFormatErrorf(-1, "malformed ARC descriptor line %q", truncateForError([]byte(line)))
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", newFormatErrorf(-1, "malformed ARC version %q", parts[0])
	}
	version := ARCVersion(v)
	if !version.valid() {
		return 0, "", newFormatErrorf(-1, "unsupported ARC version %d", v)
	}
	org := ""
	if len(parts) == 3 {
		org = strings.TrimSpace(parts[2])
	}
	return version, org, nil
}
