package utils

import (
	"log/slog"
	"os"
	"strings"

	warc "github.com/internetarchive/warcio"
	"github.com/spf13/cobra"
)

// GetThreadsFlag extracts the threads flag value from a cobra command
// Cobra already validates that it's a valid integer, but we still check for errors
func GetThreadsFlag(cmd *cobra.Command) int {
	threads, err := cmd.Flags().GetInt("threads")
	if err != nil {
		// This should never happen if the flag is properly defined, so it's a programming error
		slog.Error("failed to get threads flag - this indicates a programming error", "err", err.Error())
		os.Exit(1)
	}
	if threads < 1 {
		return 1
	}
	return threads
}

// OpenFile opens a WARC or ARC file, plain or compressed, with the default
// slog logger attached to the reader.
func OpenFile(filepath string) (*warc.FileReader, error) {
	r, err := warc.OpenWithSettings(filepath, warc.ReaderSettings{Logger: slog.Default()})
	if err != nil {
		slog.Error("unable to open file", "err", err.Error(), "file", filepath)
		return nil, err
	}
	return r, nil
}

// RecordID returns a loggable identifier of the record: its WARC-Record-ID,
// or the URL of an ARC record.
func RecordID(record *warc.Record) string {
	if h := record.WARCHeader(); h != nil {
		return h.RecordID()
	}
	return record.TargetURI()
}

// IsHTTPResponse reports whether the record payload holds an HTTP response.
func IsHTTPResponse(record *warc.Record) bool {
	if record.Format() == warc.FormatARC {
		return strings.HasPrefix(record.TargetURI(), "http")
	}
	if record.Type() != "response" {
		return false
	}
	// WARC/0.18 response records carry no msgtype
	return strings.Contains(record.Get("Content-Type"), "msgtype=response") || record.Version() == warc.WARCVersion018
}

// ShouldSkipRecord determines if a record should be skipped when looking at
// HTTP responses. Revisit records are skipped too since they hold no body.
func ShouldSkipRecord(record *warc.Record) bool {
	if !IsHTTPResponse(record) {
		slog.Debug("skipping record", "type", record.Type(), "contentType", record.Get("Content-Type"), "recordID", RecordID(record))
		return true
	}
	return false
}

// Constants for file operations
const (
	MaxFilenameLength         = 255
	MaxFilenameWithHashLength = 247
	DefaultDirPermissions     = 0755
	DefaultFilePermissions    = 0644
)
