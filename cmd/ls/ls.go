package ls

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"

	warc "github.com/internetarchive/warcio"
	"github.com/internetarchive/warcio/cmd/utils"
	"github.com/spf13/cobra"
)

// Command represents the ls command
var Command = &cobra.Command{
	Use:   "ls",
	Short: "List the records of one or many WARC/ARC file(s) with their offsets",
	Long: `List the records of one or many WARC/ARC file(s), one line per record:
  offset, size, type, target URI and, with --status, the HTTP status code.

Offsets and sizes are in bytes of the file on disk and can be fed back to a
reader to fetch a single record. They are "-" for whole-stream compressed
files (xz, bzip2, zstd without frame boundaries).`,
	Args: cobra.MinimumNArgs(1),
	RunE: ls,
}

func init() {
	Command.Flags().Bool("status", false, "Parse HTTP responses and print their status code")
}

// Entry is one listed record.
type Entry struct {
	Offset int64
	Size   int64
	Type   string
	URI    string
	Status int
}

func (e Entry) String() string {
	status := "-"
	if e.Status > 0 {
		status = strconv.Itoa(e.Status)
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s", position(e.Offset), position(e.Size), e.Type, e.URI, status)
}

func position(n int64) string {
	if n < 0 {
		return "-"
	}
	return strconv.FormatInt(n, 10)
}

func ls(cmd *cobra.Command, files []string) error {
	withStatus, err := cmd.Flags().GetBool("status")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, filepath := range files {
		err := List(filepath, withStatus, func(e Entry) {
			fmt.Fprintln(out, e.String())
		})
		if err != nil {
			slog.Error("failed to list file", "file", filepath, "err", err.Error())
			return err
		}
	}
	return nil
}

// List reads every record of filepath and calls fn for each, in order. A
// record is reported once the next one was read, when its size is known.
func List(filepath string, withStatus bool, fn func(Entry)) error {
	r, err := utils.OpenFile(filepath)
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		prev  *warc.Record
		entry Entry
	)
	flush := func() {
		if prev != nil {
			entry.Size = prev.Size
			fn(entry)
		}
	}

	for {
		record, err := r.ReadRecord()
		flush()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		entry = Entry{Offset: record.Offset, Size: -1, Type: record.Type(), URI: record.TargetURI()}
		if entry.Type == "" {
			entry.Type = "arc"
		}
		if withStatus && utils.IsHTTPResponse(record) {
			msg, err := warc.ReadHTTPMessage(record.Payload())
			if err != nil {
				slog.Debug("failed to parse HTTP response", "recordID", utils.RecordID(record), "err", err.Error())
			} else {
				entry.Status = msg.StatusCode()
			}
		}
		prev = record
	}
}
