package warc

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
)

// Accepted WARC versions.
const (
	WARCVersion10  = "1.0"
	WARCVersion11  = "1.1"
	WARCVersion018 = "0.18"
)

// DefaultWARCVersion is used for headers built without an explicit version.
const DefaultWARCVersion = WARCVersion10

const warcMagic = "WARC/"

var crlf = []byte("\r\n")

// IsSupportedWARCVersion reports whether v is one of the accepted versions.
func IsSupportedWARCVersion(v string) bool {
	switch v {
	case WARCVersion10, WARCVersion11, WARCVersion018:
		return true
	}
	return false
}

var contentTypes = map[string]string{
	"warcinfo": "application/warc-fields",
	"metadata": "application/warc-fields",
	"response": "application/http; msgtype=response",
	"request":  "application/http; msgtype=request",
}

// DefaultContentType returns the Content-Type used for records of the given
// WARC-Type when the caller does not provide one.
func DefaultContentType(recordType string) string {
	if ct, ok := contentTypes[strings.ToLower(recordType)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// WARCHeader is the header block of a WARC record: a version and a set of
// named fields.
type WARCHeader struct {
	*Header
	version string
}

// NewWARCHeader wraps fields (which may be nil) in a WARCHeader of the
// default version. Defaults are not applied; call SetDefaults for that.
func NewWARCHeader(fields *Header) *WARCHeader {
	if fields == nil {
		fields = NewHeader()
	}
	return &WARCHeader{Header: fields, version: DefaultWARCVersion}
}

// Format implements RecordHeader.
func (h *WARCHeader) Format() Format { return FormatWARC }

// Version returns the WARC version, e.g. "1.0".
func (h *WARCHeader) Version() string { return h.version }

// SetVersion changes the WARC version.
func (h *WARCHeader) SetVersion(v string) error {
	if !IsSupportedWARCVersion(v) {
		return newConfigurationErrorf("unsupported WARC version %q", v)
	}
	h.version = v
	return nil
}

// Fields implements RecordHeader.
func (h *WARCHeader) Fields() *Header { return h.Header }

// SetDefaults fills in the fields every record needs when they are absent:
// a fresh record id, the current UTC date, a Content-Type derived from the
// record type and a zero Content-Length.
func (h *WARCHeader) SetDefaults() {
	if !h.Has("WARC-Record-ID") {
		h.Set("WARC-Record-ID", "<urn:uuid:"+uuid.NewString()+">")
	}
	if !h.Has("WARC-Date") {
		h.Set("WARC-Date", time.Now().UTC().Format(time.RFC3339))
	}
	if !h.Has("Content-Type") {
		h.Set("Content-Type", DefaultContentType(h.Get("WARC-Type")))
	}
	if !h.Has("Content-Length") {
		h.Set("Content-Length", "0")
	}
}

// Accessors for the named fields; each returns "" when the field is absent.
func (h *WARCHeader) Type() string          { return h.Get("WARC-Type") }
func (h *WARCHeader) RecordID() string      { return h.Get("WARC-Record-ID") }
func (h *WARCHeader) ContentType() string   { return h.Get("Content-Type") }
func (h *WARCHeader) TargetURI() string     { return h.Get("WARC-Target-URI") }
func (h *WARCHeader) IPAddress() string     { return h.Get("WARC-IP-Address") }
func (h *WARCHeader) PayloadDigest() string { return h.Get("WARC-Payload-Digest") }
func (h *WARCHeader) WarcinfoID() string    { return h.Get("WARC-Warcinfo-ID") }

// Date parses WARC-Date. Second and sub-second precision are both accepted.
func (h *WARCHeader) Date() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, h.Get("WARC-Date"))
}

// ContentLength parses the Content-Length field.
func (h *WARCHeader) ContentLength() (int64, error) {
	v, ok := h.Lookup("Content-Length")
	if !ok {
		return 0, newFormatError(-1, "missing Content-Length")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, newFormatErrorf(-1, "invalid Content-Length %q", v)
	}
	return n, nil
}

// SetContentLength implements RecordHeader.
func (h *WARCHeader) SetContentLength(n int64) {
	h.Set("Content-Length", strconv.FormatInt(n, 10))
}

func (h *WARCHeader) hasContentLength() bool { return h.Has("Content-Length") }

func (h *WARCHeader) trailer() []byte { return []byte("\r\n\r\n") }

// WriteTo writes the version line, every field as "Canonical-Name: value"
// in insertion order and the terminating blank line.
func (h *WARCHeader) WriteTo(w io.Writer) (int64, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(warcMagic)
	buf.WriteString(h.version)
	buf.Write(crlf)
	h.Range(func(name, value string) bool {
		buf.WriteString(CanonicalName(name))
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.Write(crlf)
		return true
	})
	buf.Write(crlf)

	n, err := w.Write(buf.B)
	return int64(n), err
}

// String returns the serialized header block.
func (h *WARCHeader) String() string {
	var sb strings.Builder
	h.WriteTo(&sb)
	return sb.String()
}

// ParseWARCHeader reads one WARC header block from r. It returns io.EOF when
// r is exhausted before the first byte of a version line.
func ParseWARCHeader(r *bufio.Reader) (*WARCHeader, error) {
	h, _, err := parseWARCHeader(r, 0)
	return h, err
}

// parseWARCHeader is ParseWARCHeader that also returns the number of bytes
// consumed. offset is only used to position errors.
func parseWARCHeader(r *bufio.Reader, offset int64) (*WARCHeader, int64, error) {
	line, consumed, err := readUntilDelim(r, crlf)
	if err != nil {
		if err == io.EOF && consumed == 0 {
			return nil, 0, io.EOF
		}
		return nil, consumed, wrapFormatError(offset, "reading WARC version line", unexpected(err))
	}

	version, err := parseVersionLine(string(line))
	if err != nil {
		return nil, consumed, wrapFormatError(offset, "bad version line", err)
	}

	h := &WARCHeader{Header: NewHeader(), version: version}
	for {
		line, n, err := readUntilDelim(r, crlf)
		if err != nil {
			return nil, consumed + n, wrapFormatError(offset+consumed, "reading header field", unexpected(err))
		}
		if len(line) == 0 {
			consumed += n
			break
		}
		key, value, ok := splitKeyValue(string(line))
		if !ok {
			return nil, consumed + n, newFormatErrorf(offset+consumed, "malformed header line %q", truncateForError(line))
		}
		h.Set(key, value)
		consumed += n
	}

	return h, consumed, nil
}

func parseVersionLine(line string) (string, error) {
	version, ok := strings.CutPrefix(line, warcMagic)
	if !ok {
		return "", newFormatErrorf(-1, "expected %q, got %q", warcMagic, truncateForError([]byte(line)))
	}
	major, minor, ok := strings.Cut(version, ".")
	if !ok || !isDigits(major) || !isDigits(minor) {
		return "", newFormatErrorf(-1, "malformed WARC version %q", version)
	}
	if !IsSupportedWARCVersion(version) {
		return "", newFormatErrorf(-1, "unsupported WARC version %q", version)
	}
	return version, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// unexpected maps a premature io.EOF to io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func truncateForError(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
