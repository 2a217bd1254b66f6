package warc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// OpenSuffix marks files that are still being written by a FileWriter.
const OpenSuffix = ".open"

// GenerateFileName returns a file name following the WARC naming
// recommendation, Prefix-Timestamp-Serial-Crawlhost.warc.gz, with the
// extension matching format and compression. serial is shared by all
// writers naming files in the same place and wraps after 99999.
func GenerateFileName(prefix string, format Format, compression Compression, serial *atomic.Uint64) (string, error) {
	hostName, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("getting host name: %w", err)
	}

	var fileName strings.Builder
	fileName.WriteString(prefix)
	fileName.WriteString("-")

	now := time.Now().UTC()
	fileName.WriteString(now.Format("20060102150405") + fmt.Sprintf("%03d", now.Nanosecond()/1e6))
	fileName.WriteString("-")

	var newSerial uint64
	for {
		oldSerial := serial.Load()
		next := oldSerial + 1
		if oldSerial >= 99999 {
			next = 1
		}
		if serial.CompareAndSwap(oldSerial, next) {
			newSerial = next
			break
		}
	}
	fileName.WriteString(formatSerial(newSerial, 5))
	fileName.WriteString("-")
	fileName.WriteString(hostName)
	fileName.WriteString(Extension(format, compression))

	return fileName.String(), nil
}

// formatSerial add the correct padding to the serial
// E.g. with serial = 23 and width = 5:
// formatSerial return 00023
func formatSerial(serial uint64, width int) string {
	return fmt.Sprintf("%0"+strconv.Itoa(width)+"d", serial)
}

// Extension returns the file extension for format and compression, e.g.
// ".warc.gz".
func Extension(format Format, compression Compression) string {
	ext := ".warc"
	if format == FormatARC {
		ext = ".arc"
	}
	switch compression {
	case CompressionGzip:
		ext += ".gz"
	case CompressionZstd:
		ext += ".zst"
	}
	return ext
}

// DetectFormat guesses format and compression from a file name such as
// "x.warc.gz", "x.arc" or "x.warc.zst.open". Unknown names yield
// FormatUnknown.
func DetectFormat(name string) (Format, Compression) {
	name = strings.ToLower(strings.TrimSuffix(name, OpenSuffix))

	compression := CompressionNone
	switch {
	case strings.HasSuffix(name, ".gz"):
		compression = CompressionGzip
		name = strings.TrimSuffix(name, ".gz")
	case strings.HasSuffix(name, ".zst"):
		compression = CompressionZstd
		name = strings.TrimSuffix(name, ".zst")
	}

	switch {
	case strings.HasSuffix(name, ".warc"):
		return FormatWARC, compression
	case strings.HasSuffix(name, ".arc"):
		return FormatARC, compression
	}
	return FormatUnknown, compression
}

// FileReader is a Reader over a file it owns.
type FileReader struct {
	*Reader
	file *os.File
}

// Open opens a WARC or ARC file for reading. Compression, format and version
// are detected from the contents.
func Open(path string) (*FileReader, error) {
	return OpenWithSettings(path, ReaderSettings{})
}

// OpenWithSettings is Open with explicit reader settings.
func OpenWithSettings(path string, settings ReaderSettings) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReaderWithSettings(f, settings)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileReader{Reader: r, file: f}, nil
}

// Close closes the reader and the file.
func (fr *FileReader) Close() error {
	return errors.Join(fr.Reader.Close(), fr.file.Close())
}

// FileWriter is a Writer on a file it owns. Data goes to path + OpenSuffix
// until Close renames the file to path.
type FileWriter struct {
	*Writer
	file *os.File
	path string
}

// Create creates path for writing. Format and compression left unset in
// settings are taken from the file name; an ARC file descriptor without a
// file name gets the base name of path.
func Create(path string, settings WriterSettings) (*FileWriter, error) {
	format, compression := DetectFormat(path)
	if settings.Format == FormatUnknown {
		settings.Format = format
	}
	if settings.Compression == CompressionNone {
		settings.Compression = compression
	}
	if settings.ARCFileHeader.Filename == "" {
		settings.ARCFileHeader.Filename = filepath.Base(path)
	}

	f, err := os.Create(path + OpenSuffix)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, settings)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	return &FileWriter{Writer: w, file: f, path: path}, nil
}

// Path returns the final path of the file.
func (fw *FileWriter) Path() string { return fw.path }

// Close finishes the output, closes the file and removes its OpenSuffix.
// A file holding a partially written record keeps its OpenSuffix and Close
// returns the write error.
func (fw *FileWriter) Close() error {
	failed := fw.Writer.err
	if err := errors.Join(fw.Writer.Close(), fw.file.Close()); err != nil {
		return err
	}
	if failed != nil {
		return fmt.Errorf("%s left unfinished: %w", fw.file.Name(), failed)
	}
	return os.Rename(fw.file.Name(), fw.path)
}
