package extract

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	warc "github.com/internetarchive/warcio"
	"github.com/internetarchive/warcio/cmd/utils"
	"github.com/klauspost/compress/gzip"
	"github.com/remeh/sizedwaitgroup"
	"github.com/spf13/cobra"
)

// Command represents the extract command
var Command = &cobra.Command{
	Use:   "extract",
	Short: "Extracts the HTTP response bodies from one or many WARC/ARC file(s)",
	Long:  `Extracts the HTTP response bodies matching the given content types from one or many WARC/ARC file(s)`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  extract,
}

func init() {
	Command.Flags().IntP("threads", "t", 1, "Number of threads to use for writing extracted files")
	Command.Flags().StringP("output", "o", "output", "Output directory for extracted files")
	Command.Flags().StringSliceP("content-type", "c", []string{}, "Content type that should be extracted")
	Command.Flags().Bool("allow-overwrite", false, "Allow overwriting of existing files")
	Command.Flags().Bool("host-sort", false, "Sort the extracted URLs by host")
	Command.Flags().Bool("hash-suffix", false, "When duplicate file names exist, the hash will be added if a duplicate file name exists. ")
}

// Options controls where and how bodies are extracted.
type Options struct {
	OutputDir      string
	ContentTypes   []string
	AllowOverwrite bool
	HostSort       bool
	HashSuffix     bool
	Threads        int
}

func optionsFromFlags(cmd *cobra.Command) (Options, error) {
	var (
		opts Options
		err  error
	)
	opts.Threads = utils.GetThreadsFlag(cmd)
	if opts.OutputDir, err = cmd.Flags().GetString("output"); err != nil {
		return opts, err
	}
	if opts.ContentTypes, err = cmd.Flags().GetStringSlice("content-type"); err != nil {
		return opts, err
	}
	if opts.AllowOverwrite, err = cmd.Flags().GetBool("allow-overwrite"); err != nil {
		return opts, err
	}
	if opts.HostSort, err = cmd.Flags().GetBool("host-sort"); err != nil {
		return opts, err
	}
	if opts.HashSuffix, err = cmd.Flags().GetBool("hash-suffix"); err != nil {
		return opts, err
	}
	return opts, nil
}

// response is an HTTP response lifted out of a record, so it stays usable
// after the reader moved on.
type response struct {
	uri    string
	header http.Header
	body   []byte
}

func extract(cmd *cobra.Command, files []string) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}

	for _, filepath := range files {
		startTime := time.Now()
		results, err := ExtractFile(filepath, opts)
		if err != nil {
			slog.Error("failed to extract file", "file", filepath, "err", err.Error())
			return err
		}
		printExtractReport(filepath, results, time.Since(startTime))
	}
	return nil
}

// ExtractFile writes the bodies of the HTTP responses of filepath matching
// opts.ContentTypes to opts.OutputDir and returns how many files were written
// per content type.
func ExtractFile(filepath string, opts Options) (map[string]int, error) {
	reader, err := utils.OpenFile(filepath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var (
		mu      sync.Mutex
		results = make(map[string]int)
		swg     = sizedwaitgroup.New(max(opts.Threads, 1))
	)

	for record, err := range reader.All() {
		if err != nil {
			swg.Wait()
			return results, fmt.Errorf("failed to read record: %w", err)
		}

		resp, err := readResponse(record, opts.ContentTypes)
		if err != nil {
			slog.Error("failed to read response", "recordID", utils.RecordID(record), "err", err.Error())
			continue
		}
		if resp == nil {
			continue
		}

		swg.Add()
		go func(resp *response) {
			defer swg.Done()
			written, err := writeFile(opts, resp)
			if err != nil {
				slog.Error("failed to write file", "uri", resp.uri, "err", err.Error())
				return
			}
			if written {
				mu.Lock()
				results[resp.header.Get("Content-Type")]++
				mu.Unlock()
			}
		}(resp)
	}

	swg.Wait()
	return results, nil
}

// readResponse returns the HTTP response held by record when its
// Content-Type matches one of contentTypes, or nil.
func readResponse(record *warc.Record, contentTypes []string) (*response, error) {
	if utils.ShouldSkipRecord(record) {
		return nil, nil
	}

	msg, err := warc.ReadHTTPMessage(record.Payload())
	if err != nil {
		return nil, err
	}
	defer msg.Body.Close()

	if !slices.ContainsFunc(contentTypes, func(s string) bool {
		return strings.Contains(msg.Header.Get("Content-Type"), s)
	}) {
		return nil, nil
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, err
	}
	return &response{uri: record.TargetURI(), header: msg.Header, body: body}, nil
}

// decodedBody returns the body with its gzip Content-Encoding removed.
func decodedBody(resp *response) (io.Reader, error) {
	if resp.header.Get("Content-Encoding") != "gzip" {
		return bytes.NewReader(resp.body), nil
	}
	return gzip.NewReader(bytes.NewReader(resp.body))
}

func writeFile(opts Options, resp *response) (bool, error) {
	// Find the filename either from the Content-Disposition header or the last part of the URL
	filename := path.Base(resp.uri)

	if resp.header.Get("Content-Disposition") != "" {
		_, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition"))
		if err == nil {
			if params["filename"] != "" {
				filename = params["filename"]
			}
		} else {
			slog.Debug("failed to parse Content-Disposition header", "err", err.Error())
		}
	}

	// Truncate the filename if it's too long (keep the extension)
	if len(filename) > utils.MaxFilenameLength {
		extension := path.Ext(filename)
		filename = filename[:utils.MaxFilenameLength-len(extension)] + extension
	}

	// Remove any invalid characters from the filename
	filename = strings.ReplaceAll(filename, "/", "_")

	outputDir := opts.OutputDir

	// Put the file in a subdirectory named after the host of the target URI
	if opts.HostSort {
		u, err := url.Parse(resp.uri)
		if err != nil {
			return false, err
		}
		outputDir = path.Join(outputDir, u.Host)
	}

	if err := os.MkdirAll(outputDir, utils.DefaultDirPermissions); err != nil {
		return false, err
	}

	outputPath := path.Join(outputDir, filename)
	if _, err := os.Stat(outputPath); err == nil {
		if !opts.HashSuffix {
			if !opts.AllowOverwrite {
				slog.Info("file already exists, skipping", "file", filename)
				return false, nil
			}
		} else {
			reader, err := decodedBody(resp)
			if err != nil {
				return false, err
			}
			payloadDigest, err := warc.GetDigest(reader, warc.SHA1Base32)
			if err != nil {
				return false, err
			}

			originalFile, err := os.Open(outputPath)
			if err != nil {
				return false, err
			}
			originalPayloadDigest, err := warc.GetDigest(originalFile, warc.SHA1Base32)
			originalFile.Close()
			if err != nil {
				return false, err
			}

			if originalPayloadDigest == payloadDigest {
				slog.Info("file already exists and hash matches, skipping", "file", filename)
				return false, nil
			}

			extension := path.Ext(filename)
			stem := filename[:len(filename)-len(extension)]
			if len(filename) > utils.MaxFilenameWithHashLength {
				stem = filename[:utils.MaxFilenameWithHashLength-len(extension)]
			}
			filename = stem + "[" + payloadDigest[26:] + "]" + extension

			outputPath = path.Join(outputDir, filename)
			// Double check that the new file doesn't exist
			if _, err := os.Stat(outputPath); err == nil && !opts.AllowOverwrite {
				slog.Info("file already exists, skipping", "file", filename)
				return false, nil
			}
		}
	}

	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, utils.DefaultFilePermissions)
	if err != nil {
		return false, err
	}
	defer file.Close()

	reader, err := decodedBody(resp)
	if err != nil {
		return false, err
	}

	if _, err := io.Copy(file, reader); err != nil {
		return false, err
	}
	return true, nil
}

func printExtractReport(filePath string, results map[string]int, elapsed time.Duration) {
	total := 0

	for _, v := range results {
		total += v
	}

	slog.Info(fmt.Sprintf("Processed file %s in %s", filePath, elapsed.String()))
	slog.Info(fmt.Sprintf("Number of files extracted: %d", total))
	for k, v := range results {
		slog.Info(fmt.Sprintf("- %s: %d", k, v))
	}
}
