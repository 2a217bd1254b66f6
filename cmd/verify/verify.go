package verify

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	warc "github.com/internetarchive/warcio"
	"github.com/internetarchive/warcio/cmd/utils"
	"github.com/remeh/sizedwaitgroup"
	"github.com/spf13/cobra"
)

// Command represents the verify command
var Command = &cobra.Command{
	Use:   "verify",
	Short: "Verify the validity of one or many WARC/ARC file(s)",
	Long: `Verify the validity of one or many WARC/ARC file(s): record framing,
declared lengths and, for WARC records, WARC-Block-Digest and
WARC-Payload-Digest.`,
	Args: cobra.MinimumNArgs(1),
	Run:  verify,
}

func init() {
	Command.Flags().IntP("threads", "t", runtime.NumCPU(), "Number of files to verify in parallel")
}

// ValidationResult holds the result of a file validation
type ValidationResult struct {
	Valid          bool
	RecordCount    int
	ErrorsCount    int
	AllRecordsRead bool
}

func verify(cmd *cobra.Command, files []string) {
	threads := utils.GetThreadsFlag(cmd)
	swg := sizedwaitgroup.New(threads)

	for _, filepath := range files {
		swg.Add()
		go func(filepath string) {
			defer swg.Done()
			startTime := time.Now()

			if !cmd.Root().Flags().Lookup("json").Changed {
				// Output the message if not in --json mode
				slog.Info("verifying", "file", filepath, "threads", threads)
			}

			result, err := ValidateFile(filepath)
			if err != nil {
				slog.Error("failed to validate file", "file", filepath, "error", err)
				return
			}

			if result.RecordCount == 0 {
				slog.Error("no record in file", "file", filepath)
			}

			// Ensure there is a visible difference when errors are present.
			if result.ErrorsCount > 0 {
				slog.Error(fmt.Sprintf("checked in %s", time.Since(startTime).String()), "file", filepath, "valid", result.Valid, "errors", result.ErrorsCount, "count", result.RecordCount, "allRecordsRead", result.AllRecordsRead)
			} else {
				slog.Info(fmt.Sprintf("checked in %s", time.Since(startTime).String()), "file", filepath, "valid", result.Valid, "errors", result.ErrorsCount, "count", result.RecordCount, "allRecordsRead", result.AllRecordsRead)
			}
		}(filepath)
	}

	swg.Wait()
}

// ValidateFile validates a single file and returns structured results
func ValidateFile(filepath string) (ValidationResult, error) {
	validation := ValidationResult{}

	reader, err := utils.OpenFile(filepath)
	if err != nil {
		return validation, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	validation.Valid = true

	for {
		record, err := reader.ReadRecord()
		if err != nil {
			if err == io.EOF {
				validation.AllRecordsRead = true
				break
			}
			slog.Error("failed to read record", "file", filepath, "err", err.Error())
			validation.Valid = false
			validation.ErrorsCount++
			break
		}
		validation.RecordCount++

		if errorsCount := verifyRecord(record, filepath); errorsCount > 0 {
			validation.Valid = false
			validation.ErrorsCount += errorsCount
		}
	}

	return validation, nil
}

type digestCheck struct {
	field    string
	expected string
	digester *warc.Digester
}

func newDigestCheck(record *warc.Record, field string) (*digestCheck, error) {
	expected := record.Get(field)
	if expected == "" {
		return nil, nil
	}
	alg, err := warc.DigestAlgorithmOf(expected)
	if err != nil {
		return nil, err
	}
	d, err := warc.NewDigester(alg)
	if err != nil {
		return nil, err
	}
	return &digestCheck{field: field, expected: expected, digester: d}, nil
}

func (c *digestCheck) matches(d *warc.Digester) bool {
	return d != nil && d.Sum() == c.expected
}

// verifyRecord reads the record payload once, computing every digest it
// declares, and returns the number of problems found. A WARC-Payload-Digest
// of an HTTP record may cover either the entity body or the whole block.
func verifyRecord(record *warc.Record, filepath string) (errorsCount int) {
	recordID := utils.RecordID(record)
	if record.Format() == warc.FormatARC {
		if _, err := io.Copy(io.Discard, record.Payload()); err != nil {
			slog.Error("failed to read record content", "file", filepath, "recordID", recordID, "err", err.Error())
			return 1
		}
		return 0
	}

	block, err := newDigestCheck(record, "WARC-Block-Digest")
	if err != nil {
		slog.Error("WARC-Block-Digest uses unsupported algorithm", "file", filepath, "recordID", recordID, "digest", record.Get("WARC-Block-Digest"))
		errorsCount++
	}
	payload, err := newDigestCheck(record, "WARC-Payload-Digest")
	if err != nil {
		slog.Error("WARC-Payload-Digest uses unsupported algorithm", "file", filepath, "recordID", recordID, "digest", record.Get("WARC-Payload-Digest"))
		errorsCount++
	}
	if block == nil && payload == nil {
		slog.Debug("no digest to verify", "file", filepath, "recordID", recordID)
	}

	var sinks []io.Writer
	if block != nil {
		sinks = append(sinks, block.digester)
	}
	if payload != nil {
		sinks = append(sinks, payload.digester)
	}
	whole := io.MultiWriter(append(sinks, io.Discard)...)

	var body *warc.Digester
	if payload != nil && (utils.IsHTTPResponse(record) || record.Type() == "request") {
		body, err = digestHTTPBody(io.TeeReader(record.Payload(), whole), payload.digester)
		if err != nil {
			slog.Debug("failed to read HTTP message, checking payload digest over the whole block", "file", filepath, "recordID", recordID, "err", err.Error())
		}
	}
	if _, err := io.Copy(whole, record.Payload()); err != nil {
		slog.Error("failed to read record content", "file", filepath, "recordID", recordID, "err", err.Error())
		return errorsCount + 1
	}

	if block != nil && !block.matches(block.digester) {
		slog.Error("WARC-Block-Digest mismatch", "file", filepath, "recordID", recordID, "expected", block.expected, "got", block.digester.Sum())
		errorsCount++
	}
	if payload != nil && !payload.matches(body) && !payload.matches(payload.digester) {
		slog.Error("WARC-Payload-Digest mismatch", "file", filepath, "recordID", recordID, "expected", payload.expected, "got", payload.digester.Sum())
		errorsCount++
	}
	return errorsCount
}

// digestHTTPBody parses the HTTP message in r and digests its entity body
// with a new digester of the same algorithm as like.
func digestHTTPBody(r io.Reader, like *warc.Digester) (*warc.Digester, error) {
	msg, err := warc.ReadHTTPMessage(r)
	if err != nil {
		return nil, err
	}
	defer msg.Body.Close()

	if msg.Header.Get("X-Crawler-Transfer-Encoding") != "" || msg.Header.Get("X-Crawler-Content-Encoding") != "" {
		// encodings were stripped before writing, the body cannot match
		return nil, fmt.Errorf("malformed headers prevent accurate payload digest calculation")
	}

	body, err := warc.NewDigester(like.Algorithm())
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(body, msg.Body); err != nil {
		return nil, err
	}
	return body, nil
}
