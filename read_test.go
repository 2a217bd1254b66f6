package warc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

const (
	arcV1Descriptor = "filedesc://IA-001.arc 0.0.0.0 19960923142103 text/plain 77\n" +
		"1 0 Internet Archive\n" +
		"URL IP-address Archive-date Content-type Archive-length\n" +
		"\n"
	arcV1File = arcV1Descriptor +
		"\n" +
		"http://www.archive.org/ 207.241.224.11 19970101000000 text/html 5\n" +
		"hello\n" +
		"http://b.example/ 1.1.1.1 19970101000000 text/plain 3\n" +
		"abc"
)

func readAllRecords(t *testing.T, r *Reader) ([]*Record, [][]byte) {
	t.Helper()
	var (
		recs     []*Record
		payloads [][]byte
	)
	for rec, err := range r.All() {
		if err != nil {
			t.Fatalf("failed to read record %d: %v", len(recs), err)
		}
		payload, err := io.ReadAll(rec.Payload())
		if err != nil {
			t.Fatalf("failed to read payload %d: %v", len(recs), err)
		}
		recs = append(recs, rec)
		payloads = append(payloads, payload)
	}
	return recs, payloads
}

func testRoundTrip(t *testing.T, compression Compression) {
	payloads := []string{"software: test\r\n", "", strings.Repeat("payload\r\n\r\n", 5000), "last"}
	var recs []*Record
	for i, p := range payloads {
		typ := "resource"
		if i == 0 {
			typ = "warcinfo"
		}
		recs = append(recs, newTestWARCRecord(t, typ, "http://example.com/"+string(rune('a'+i)), p))
	}
	data, results := writeTestRecords(t, WriterSettings{Compression: compression}, recs...)

	stats := newLocalRegistry()
	r, err := NewReaderWithSettings(bytes.NewReader(data), ReaderSettings{Stats: stats})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, gotPayloads := readAllRecords(t, r)
	if len(got) != len(recs) {
		t.Fatalf("expected %d records, got %d", len(recs), len(got))
	}
	for i, rec := range got {
		if !rec.Header.Fields().Equal(recs[i].Header.Fields()) {
			t.Errorf("record %d: header differs\n%v\n%v", i, rec.Header, recs[i].Header)
		}
		if string(gotPayloads[i]) != payloads[i] || rec.Length() != int64(len(payloads[i])) {
			t.Errorf("record %d: payload differs", i)
		}
		if compression == CompressionZstd {
			if rec.Offset != -1 || rec.Size != -1 {
				t.Errorf("record %d: expected no offsets in a whole-stream read, got %d/%d", i, rec.Offset, rec.Size)
			}
			continue
		}
		if rec.Offset != results[i].Offset || rec.Size != results[i].Size {
			t.Errorf("record %d: expected offset/size %d/%d, got %d/%d", i, results[i].Offset, results[i].Size, rec.Offset, rec.Size)
		}
	}
	if r.Format() != FormatWARC || r.WARCVersion() != WARCVersion10 {
		t.Errorf("unexpected format %s version %s", r.Format(), r.WARCVersion())
	}
	if n := stats.RegisterCounter(recordsReadTotal, "").Get(); n != int64(len(recs)) {
		t.Errorf("expected %d records counted, got %d", len(recs), n)
	}
}

func TestReaderRoundTrip(t *testing.T) {
	t.Run("plain", func(t *testing.T) { testRoundTrip(t, CompressionNone) })
	t.Run("gzip", func(t *testing.T) { testRoundTrip(t, CompressionGzip) })
	t.Run("zstd", func(t *testing.T) { testRoundTrip(t, CompressionZstd) })
}

func TestReaderWholeStreamXZ(t *testing.T) {
	data, _ := writeTestRecords(t, WriterSettings{},
		newTestWARCRecord(t, "resource", "http://example.com/1", "one"),
		newTestWARCRecord(t, "resource", "http://example.com/2", "two"))

	var compressed bytes.Buffer
	xw, err := xz.NewWriter(&compressed)
	if err != nil {
		t.Fatal(err)
	}
	xw.Write(data)
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(&compressed)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	recs, payloads := readAllRecords(t, r)
	if len(recs) != 2 || string(payloads[1]) != "two" || recs[1].Offset != -1 {
		t.Fatalf("unexpected xz read: %d records", len(recs))
	}
}

func TestReaderWholeStreamZstd(t *testing.T) {
	data, _ := writeTestRecords(t, WriterSettings{}, newTestWARCRecord(t, "resource", "http://example.com/", "zstd payload"))

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		t.Fatal(err)
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()

	r, err := NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, payloads := readAllRecords(t, r)
	if len(payloads) != 1 || string(payloads[0]) != "zstd payload" {
		t.Fatalf("unexpected zstd read %q", payloads)
	}
}

func TestReaderStalePayload(t *testing.T) {
	data, _ := writeTestRecords(t, WriterSettings{},
		newTestWARCRecord(t, "resource", "http://example.com/1", "first payload"),
		newTestWARCRecord(t, "resource", "http://example.com/2", "second payload"))

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	first, err := r.ReadRecord()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(first.Payload(), buf); err != nil || string(buf) != "first" {
		t.Fatalf("unexpected partial payload %q (%v)", buf, err)
	}

	second, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("failed to skip a partially read payload: %v", err)
	}
	if _, err := first.Payload().Read(buf); !errors.Is(err, ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord, got %v", err)
	}
	if _, err := first.WriteTo(io.Discard); !errors.Is(err, ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord writing a stale record, got %v", err)
	}

	payload, err := io.ReadAll(second.Payload())
	if err != nil || string(payload) != "second payload" {
		t.Fatalf("unexpected second payload %q (%v)", payload, err)
	}

	if _, err := r.ReadRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF to be sticky, got %v", err)
	}
}

func TestReaderFramingErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"trailer mismatch", "WARC/1.0\r\nContent-Length: 5\r\n\r\nhelloXX\r\n\r\n"},
		{"missing trailer", "WARC/1.0\r\nContent-Length: 5\r\n\r\nhello"},
		{"payload shorter than declared", "WARC/1.0\r\nContent-Length: 50\r\n\r\nshort"},
		{"mixed versions", "WARC/1.0\r\nContent-Length: 1\r\n\r\na\r\n\r\nWARC/1.1\r\nContent-Length: 1\r\n\r\nb\r\n\r\n"},
		{"garbage after record", "WARC/1.0\r\nContent-Length: 1\r\n\r\na\r\n\r\nGARBAGE\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReader(strings.NewReader(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			if _, err := r.ReadRecord(); err != nil {
				t.Fatalf("first record should parse: %v", err)
			}
			_, err = r.ReadRecord()
			if !IsFormatError(err) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if _, again := r.ReadRecord(); again != err {
				t.Fatalf("expected the error to be sticky, got %v", again)
			}
		})
	}
}

func TestReaderMissingContentLength(t *testing.T) {
	r, err := NewReader(strings.NewReader("WARC/1.0\r\nWARC-Type: resource\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = r.ReadRecord()
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Offset != 0 {
		t.Fatalf("expected FormatError at offset 0, got %v", err)
	}
}

func TestReaderDetection(t *testing.T) {
	r, err := NewReader(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF for empty input, got %v", err)
	}
	r.Close()

	r, _ = NewReader(strings.NewReader("this is not an archive\n"))
	if _, err := r.ReadRecord(); !IsFormatError(err) {
		t.Fatalf("expected FormatError for unknown input, got %v", err)
	}
	r.Close()
}

func TestReaderSettings(t *testing.T) {
	warc := "WARC/1.0\r\nContent-Length: 0\r\n\r\n\r\n\r\n"

	tests := []struct {
		name     string
		settings ReaderSettings
		input    string
		atInit   bool
	}{
		{"invalid WARC version", ReaderSettings{WARCVersion: "9.9"}, warc, true},
		{"invalid ARC version", ReaderSettings{ARCVersion: 7}, warc, true},
		{"ARC version for WARC format", ReaderSettings{Format: FormatWARC, ARCVersion: ARCv1}, warc, true},
		{"WARC version for ARC format", ReaderSettings{Format: FormatARC, WARCVersion: "1.0"}, warc, true},
		{"requested WARC version differs", ReaderSettings{WARCVersion: WARCVersion11}, warc, false},
		{"requested format differs", ReaderSettings{Format: FormatARC}, warc, false},
		{"requested ARC version differs", ReaderSettings{ARCVersion: ARCv2}, arcV1File, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReaderWithSettings(strings.NewReader(tt.input), tt.settings)
			if tt.atInit {
				if !IsConfigurationError(err) {
					t.Fatalf("expected ConfigurationError at construction, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if _, err := r.ReadRecord(); !IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestReaderWARC018(t *testing.T) {
	input := "WARC/0.18\r\nWARC-Type: response\r\nContent-Length: 40\r\n\r\n" +
		"HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok" +
		"\r\n\r\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rec, err := r.ReadRecord()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version() != WARCVersion018 {
		t.Fatalf("expected version 0.18, got %s", rec.Version())
	}
	msg, err := ReadHTTPMessage(rec.Payload())
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(msg.Body)
	if msg.StatusCode() != 200 || string(body) != "ok" {
		t.Fatalf("unexpected HTTP message %d %q", msg.StatusCode(), body)
	}
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderARCv1(t *testing.T) {
	logger := NewTestLogger()
	r, err := NewReaderWithSettings(strings.NewReader(arcV1File), ReaderSettings{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	recs, payloads := readAllRecords(t, r)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if r.Format() != FormatARC || r.ARCVersion() != ARCv1 {
		t.Fatalf("unexpected format %s v%d", r.Format(), r.ARCVersion())
	}
	fh := r.ARCFileHeader()
	if fh == nil || fh.Org != "Internet Archive" || fh.Filename != "IA-001.arc" || fh.IPAddress != "0.0.0.0" {
		t.Fatalf("unexpected descriptor %+v", fh)
	}
	if !fh.Date.Equal(time.Date(1996, 9, 23, 14, 21, 3, 0, time.UTC)) {
		t.Fatalf("unexpected descriptor date %v", fh.Date)
	}

	if recs[0].TargetURI() != "http://www.archive.org/" || string(payloads[0]) != "hello" {
		t.Fatalf("unexpected first record %q %q", recs[0].TargetURI(), payloads[0])
	}
	if recs[1].ARCHeader().ContentType() != "text/plain" || string(payloads[1]) != "abc" {
		t.Fatalf("unexpected second record %q", payloads[1])
	}
	if recs[0].Offset != int64(len(arcV1Descriptor)+1) {
		t.Fatalf("expected first record at %d, got %d", len(arcV1Descriptor)+1, recs[0].Offset)
	}
	if len(logger.FindByMessage("ARC record without trailing newline at end of input")) != 1 {
		t.Fatal("expected the missing final newline to be logged")
	}
}

func TestReaderARCv2DashOffset(t *testing.T) {
	descPayload := "2 0 Test Org\n" +
		"URL IP-address Archive-date Content-type Result-code Checksum Location Offset Filename Archive-length\n"
	input := fmt.Sprintf("filedesc://x.arc 127.0.0.1 20120302193210 text/plain 200 - - - x.arc %d\n", len(descPayload)) +
		descPayload + "\n" +
		"http://a.example/ 1.1.1.1 20120302193210 text/plain 200 - - - x.arc 2\nhi\n"

	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	recs, payloads := readAllRecords(t, r)
	if len(recs) != 1 || string(payloads[0]) != "hi" {
		t.Fatalf("unexpected records: %d", len(recs))
	}
	if r.ARCVersion() != ARCv2 || r.ARCFileHeader().Org != "Test Org" {
		t.Fatalf("unexpected descriptor v%d %+v", r.ARCVersion(), r.ARCFileHeader())
	}
	if _, err := recs[0].ARCHeader().Offset(); err == nil {
		t.Error("expected Offset to fail on a \"-\" column")
	}
}

func TestReaderARCMetadataBlock(t *testing.T) {
	input := arcV1Descriptor +
		"<arcmetadata>\n<arc:software>test</arc:software>\n</arcmetadata>\n" +
		"http://a.example/ 1.1.1.1 19970101000000 text/plain 2\nhi\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	recs, payloads := readAllRecords(t, r)
	if len(recs) != 1 || string(payloads[0]) != "hi" {
		t.Fatalf("unexpected records %d %q", len(recs), payloads)
	}
}

func TestReaderARCBadRecord(t *testing.T) {
	input := arcV1Descriptor + "http://a.example/ 1.1.1.1 19970101000000 text/plain 200 - - 0 f.arc 2\nhi\n"
	r, err := NewReader(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	_, err = r.ReadRecord()
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Offset != int64(len(arcV1Descriptor)) {
		t.Fatalf("expected FormatError at %d for a v2 line in a v1 file, got %v", len(arcV1Descriptor), err)
	}
}

func TestARCRoundTrip(t *testing.T) {
	for _, version := range []ARCVersion{ARCv1, ARCv2} {
		for _, compression := range []Compression{CompressionNone, CompressionGzip} {
			t.Run(fmt.Sprintf("v%d/%s", version, compression), func(t *testing.T) {
				fh := ARCFileHeader{
					Filename:  "test.arc",
					IPAddress: "10.1.1.1",
					Date:      time.Date(2010, 5, 6, 7, 8, 9, 0, time.UTC),
					Org:       "Test Org",
					Meta:      []byte("<arcmetadata/>\n"),
				}
				recs := []*Record{
					newTestARCRecord(t, version, "http://example.com/1", "one"),
					newTestARCRecord(t, version, "http://example.com/2", "line\nline\n"),
				}
				data, results := writeTestRecords(t, WriterSettings{
					Format:        FormatARC,
					ARCVersion:    version,
					ARCFileHeader: fh,
					Compression:   compression,
				}, recs...)

				r, err := NewReader(bytes.NewReader(data))
				if err != nil {
					t.Fatal(err)
				}
				defer r.Close()
				got, payloads := readAllRecords(t, r)

				if r.ARCVersion() != version {
					t.Fatalf("expected version %d, got %d", version, r.ARCVersion())
				}
				desc := r.ARCFileHeader()
				if desc.Org != fh.Org || desc.Filename != fh.Filename || !desc.Date.Equal(fh.Date) || string(desc.Meta) != string(fh.Meta) {
					t.Fatalf("descriptor differs: %+v", desc)
				}
				if len(got) != 2 || string(payloads[1]) != "line\nline\n" {
					t.Fatalf("unexpected records %d", len(got))
				}
				for i, rec := range got {
					if rec.ARCHeader().String() != recs[i].ARCHeader().String() {
						t.Errorf("record %d header differs: %s vs %s", i, rec.ARCHeader(), recs[i].ARCHeader())
					}
					if rec.Offset != results[i].Offset {
						t.Errorf("record %d: expected offset %d, got %d", i, results[i].Offset, rec.Offset)
					}
				}
			})
		}
	}
}

func TestReadRecordAt(t *testing.T) {
	recs := []*Record{
		newTestWARCRecord(t, "warcinfo", "", "info"),
		newTestWARCRecord(t, "resource", "http://example.com/target", "target payload"),
		newTestWARCRecord(t, "resource", "http://example.com/after", "after"),
	}
	for _, compression := range []Compression{CompressionNone, CompressionGzip} {
		t.Run(compression.String(), func(t *testing.T) {
			data, results := writeTestRecords(t, WriterSettings{Compression: compression}, recs...)

			rec, err := ReadRecordAt(bytes.NewReader(data), results[1].Offset, ReaderSettings{})
			if err != nil {
				t.Fatal(err)
			}
			if rec.TargetURI() != "http://example.com/target" || rec.Offset != results[1].Offset {
				t.Fatalf("unexpected record %q at %d", rec.TargetURI(), rec.Offset)
			}
			payload, err := io.ReadAll(rec.Payload())
			if err != nil || string(payload) != "target payload" {
				t.Fatalf("unexpected payload %q (%v)", payload, err)
			}
		})
	}
}

func TestReadRecordAtARC(t *testing.T) {
	data, results := writeTestRecords(t, WriterSettings{
		Format:        FormatARC,
		Compression:   CompressionGzip,
		ARCFileHeader: ARCFileHeader{Org: "o", IPAddress: "1.1.1.1", Date: time.Now()},
	}, newTestARCRecord(t, ARCv2, "http://example.com/1", "one"), newTestARCRecord(t, ARCv2, "http://example.com/2", "two"))

	if _, err := ReadRecordAt(bytes.NewReader(data), results[1].Offset, ReaderSettings{}); err == nil {
		t.Fatal("expected an error reading a bare ARC record without settings")
	}

	rec, err := ReadRecordAt(bytes.NewReader(data), results[1].Offset, ReaderSettings{Format: FormatARC, ARCVersion: ARCv2})
	if err != nil {
		t.Fatal(err)
	}
	if rec.TargetURI() != "http://example.com/2" {
		t.Fatalf("unexpected record %q", rec.TargetURI())
	}

	desc, err := ReadRecordAt(bytes.NewReader(data), 0, ReaderSettings{})
	if err != nil {
		t.Fatal(err)
	}
	if desc.TargetURI() != "http://example.com/1" {
		t.Fatalf("expected the first record after the descriptor, got %q", desc.TargetURI())
	}
}

func TestReaderClose(t *testing.T) {
	data, _ := writeTestRecords(t, WriterSettings{Compression: CompressionGzip}, newTestWARCRecord(t, "resource", "", "payload"))
	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := r.ReadRecord()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Payload().Read(make([]byte, 1)); !errors.Is(err, ErrStaleRecord) {
		t.Fatalf("expected ErrStaleRecord after Close, got %v", err)
	}
	if _, err := r.ReadRecord(); err == nil {
		t.Fatal("expected an error reading from a closed reader")
	}
}

func TestReaderCopiesToWriter(t *testing.T) {
	data, _ := writeTestRecords(t, WriterSettings{},
		newTestWARCRecord(t, "resource", "http://example.com/1", "one"),
		newTestWARCRecord(t, "resource", "http://example.com/2", "two"))

	r, err := NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var out bytes.Buffer
	w, err := NewWriter(&out, WriterSettings{Compression: CompressionGzip})
	if err != nil {
		t.Fatal(err)
	}
	for rec, err := range r.All() {
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.WriteRecord(rec); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	r2, err := NewReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	_, payloads := readAllRecords(t, r2)
	if len(payloads) != 2 || string(payloads[0]) != "one" || string(payloads[1]) != "two" {
		t.Fatalf("unexpected copy %q", payloads)
	}
}
