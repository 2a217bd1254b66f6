package warc

import (
	"strings"
	"testing"
	"time"
)

const (
	arcV1Line = "http://www.archive.org/ 207.241.224.11 19970101000000 text/html 1024"
	arcV2Line = "http://www.archive.org/ 207.241.224.11 19970101000000 text/html 200 - - 3456 IA-001.arc.gz 1024"
)

func TestParseARCHeader(t *testing.T) {
	v1, err := ParseARCHeader(arcV1Line, ARCv1)
	if err != nil {
		t.Fatalf("failed to parse v1 line: %v", err)
	}
	if v1.URL() != "http://www.archive.org/" || v1.IPAddress() != "207.241.224.11" || v1.ContentType() != "text/html" {
		t.Fatalf("unexpected v1 fields %v", v1.Names())
	}
	if n, _ := v1.ContentLength(); n != 1024 {
		t.Fatalf("expected length 1024, got %d", n)
	}
	date, err := v1.Date()
	if err != nil || !date.Equal(time.Date(1997, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v (%v)", date, err)
	}

	v2, err := ParseARCHeader(arcV2Line, ARCv2)
	if err != nil {
		t.Fatalf("failed to parse v2 line: %v", err)
	}
	if v2.ResultCode() != "200" || v2.Filename() != "IA-001.arc.gz" {
		t.Fatalf("unexpected v2 fields %v", v2.Names())
	}
	if off, _ := v2.Offset(); off != 3456 {
		t.Fatalf("expected offset 3456, got %d", off)
	}
	if v2.Version() != "2" || v2.ARCVersion() != ARCv2 {
		t.Fatalf("unexpected version %s", v2.Version())
	}
}

func TestParseARCHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		version ARCVersion
	}{
		{"v2 line with v1 grammar", arcV2Line, ARCv1},
		{"v1 line with v2 grammar", arcV1Line, ARCv2},
		{"bad date", "http://a/ 1.2.3.4 1997-01-01 text/html 10", ARCv1},
		{"bad length", "http://a/ 1.2.3.4 19970101000000 text/html ten", ARCv1},
		{"negative length", "http://a/ 1.2.3.4 19970101000000 text/html -1", ARCv1},
		{"bad offset", "http://a/ 1.2.3.4 19970101000000 text/html 200 - - x f.arc 10", ARCv2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseARCHeader(tt.line, tt.version); !IsFormatError(err) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}

	if _, err := ParseARCHeader(arcV1Line, ARCVersion(3)); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for version 3, got %v", err)
	}
}

func TestARCHeaderWriteRoundTrip(t *testing.T) {
	for _, tt := range []struct {
		line    string
		version ARCVersion
	}{{arcV1Line, ARCv1}, {arcV2Line, ARCv2}} {
		h, err := ParseARCHeader(tt.line, tt.version)
		if err != nil {
			t.Fatal(err)
		}
		if got := h.String(); got != tt.line+"\n" {
			t.Errorf("expected %q, got %q", tt.line+"\n", got)
		}
	}
}

func TestNewARCHeader(t *testing.T) {
	date := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	h, err := NewARCHeader(ARCv2, ARCFields{
		URL:         "http://example.com/",
		IPAddress:   "10.0.0.1",
		Date:        date,
		ContentType: "text/plain",
		ResultCode:  "200",
		Length:      5,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "http://example.com/ 10.0.0.1 20010203040506 text/plain 200 - - 0 - 5\n"
	if got := h.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	if _, err := NewARCHeader(0, ARCFields{}); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}

	v1, _ := NewARCHeader(ARCv1, ARCFields{URL: "http://example.com/", ResultCode: "200"})
	if v1.Has(ARCFieldResultCode) || len(strings.Fields(v1.String())) != 5 {
		t.Fatalf("v1 header carries v2 columns: %q", v1.String())
	}
}

func TestARCFileHeaderDefaults(t *testing.T) {
	var warned []string
	fh := ARCFileHeader{Filename: "x.arc"}.withDefaults(func(field, _ string) {
		warned = append(warned, field)
	})
	if fh.Org != DefaultARCOrg || fh.IPAddress != DefaultARCIPAddress || fh.Date.IsZero() {
		t.Fatalf("defaults not applied: %+v", fh)
	}
	if strings.Join(warned, ",") != "org,date,ip_address" {
		t.Fatalf("unexpected warnings %v", warned)
	}

	warned = nil
	ARCFileHeader{Org: "IA", IPAddress: "1.1.1.1", Date: time.Now()}.withDefaults(func(field, _ string) {
		warned = append(warned, field)
	})
	if len(warned) != 0 {
		t.Fatalf("expected no warnings for a complete descriptor, got %v", warned)
	}
}

func TestARCDescriptor(t *testing.T) {
	fh := ARCFileHeader{
		Filename:  "/tmp/IA-001.arc",
		IPAddress: "127.0.0.1",
		Date:      time.Date(1997, 1, 1, 0, 0, 0, 0, time.UTC),
		Org:       "Internet Archive",
	}
	h, payload, err := fh.descriptor(ARCv1, 0)
	if err != nil {
		t.Fatal(err)
	}
	wantHeader := "filedesc://IA-001.arc 127.0.0.1 19970101000000 text/plain 77\n"
	if got := h.String(); got != wantHeader {
		t.Fatalf("expected %q, got %q", wantHeader, got)
	}
	wantPayload := "1 0 Internet Archive\nURL IP-address Archive-date Content-type Archive-length\n"
	if string(payload) != wantPayload {
		t.Fatalf("expected payload %q, got %q", wantPayload, payload)
	}

	version, org, err := parseARCDescriptorPayload("1 0 Internet Archive\n")
	if err != nil || version != ARCv1 || org != "Internet Archive" {
		t.Fatalf("unexpected parse result %d %q %v", version, org, err)
	}
	if _, _, err := parseARCDescriptorPayload("9 0 x"); !IsFormatError(err) {
		t.Fatalf("expected FormatError for version 9, got %v", err)
	}
}
