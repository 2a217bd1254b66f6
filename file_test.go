package warc

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestGenerateFileName(t *testing.T) {
	serial := &atomic.Uint64{}
	serial.Store(5)
	fname1, err := GenerateFileName("youtube", FormatWARC, CompressionGzip, serial)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(fname1, ".warc.gz") {
		t.Errorf("expected filename suffix: .warc.gz, got: %v", fname1)
	}
	if !strings.HasPrefix(fname1, "youtube-") {
		t.Errorf("expected filename prefix: youtube-, got: %v", fname1)
	}
	if !strings.Contains(fname1, "-00006-") {
		t.Errorf("expected filename containing serial+1: -00006-, got: %v", fname1)
	}

	serial.Store(99999)
	fname2, _ := GenerateFileName("crawl", FormatARC, CompressionNone, serial)
	if !strings.Contains(fname2, "-00001-") || !strings.HasSuffix(fname2, ".arc") {
		t.Errorf("expected serial to wrap and an .arc suffix, got: %v", fname2)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		format      Format
		compression Compression
	}{
		{"a.warc", FormatWARC, CompressionNone},
		{"a.warc.gz", FormatWARC, CompressionGzip},
		{"A.WARC.GZ", FormatWARC, CompressionGzip},
		{"a.warc.zst", FormatWARC, CompressionZstd},
		{"a.arc", FormatARC, CompressionNone},
		{"a.arc.gz", FormatARC, CompressionGzip},
		{"a.warc.gz.open", FormatWARC, CompressionGzip},
		{"notes.txt", FormatUnknown, CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, compression := DetectFormat(tt.name)
			if format != tt.format || compression != tt.compression {
				t.Errorf("DetectFormat(%q) = %v, %v; want %v, %v", tt.name, format, compression, tt.format, tt.compression)
			}
		})
	}
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.arc.gz")

	fw, err := Create(path, WriterSettings{ARCFileHeader: ARCFileHeader{Org: "Test", IPAddress: "10.0.0.1"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := os.Stat(path + OpenSuffix); err != nil {
		t.Fatalf("expected %s%s while writing: %v", path, OpenSuffix, err)
	}

	h, _ := NewARCHeader(ARCv2, ARCFields{URL: "http://example.com/", IPAddress: "1.2.3.4", ContentType: "text/plain", Length: 5})
	rec, err := NewRecord(h, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(path + OpenSuffix); !os.IsNotExist(err) {
		t.Errorf("expected %s%s to be renamed", path, OpenSuffix)
	}

	fr, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer fr.Close()

	got, err := fr.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if fr.Format() != FormatARC || fr.ARCVersion() != ARCv2 {
		t.Errorf("unexpected format %v version %v", fr.Format(), fr.ARCVersion())
	}
	if fh := fr.ARCFileHeader(); fh.Org != "Test" || fh.Filename != "test.arc.gz" {
		t.Errorf("unexpected descriptor %+v", fh)
	}
	if got.TargetURI() != "http://example.com/" {
		t.Errorf("unexpected url %q", got.TargetURI())
	}
}

func TestCreateKeepsOpenSuffixAfterFailedWrite(t *testing.T) {
	const truncated = "WARC/1.0\r\nWARC-Type: resource\r\nContent-Length: 100\r\n\r\nhello"
	r, err := NewReader(strings.NewReader(truncated))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rec, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "x.warc")
	fw, err := Create(path, WriterSettings{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := fw.WriteRecord(rec)
	if err == nil {
		t.Fatal("expected WriteRecord to fail on a short payload")
	}
	if res.Written == 0 {
		t.Fatalf("expected a partial record, got %+v", res)
	}
	if err := fw.Close(); err == nil {
		t.Fatal("expected Close to report the failed write")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s not to exist, got %v", path, err)
	}
	if _, err := os.Stat(path + OpenSuffix); err != nil {
		t.Errorf("expected %s%s to be kept: %v", path, OpenSuffix, err)
	}
}
