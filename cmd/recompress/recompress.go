package recompress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	warc "github.com/internetarchive/warcio"
	"github.com/internetarchive/warcio/cmd/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Command represents the recompress command
var Command = &cobra.Command{
	Use:   "recompress [flags] file1 file2 ...",
	Short: "Rewrite WARC/ARC file(s) with one compressed member per record",
	Long: `Rewrite WARC/ARC file(s) with one gzip member or zstd frame per record.

Any readable input works: plain, gzip (even a single member spanning the
whole file), zstd, xz or bzip2. The output keeps the records and their
headers as they are and can be read record by record at the offsets
reported by "ls".`,
	Args: cobra.MinimumNArgs(1),
	RunE: recompress,
}

func init() {
	Command.Flags().IntP("threads", "t", runtime.NumCPU(), "Number of files to recompress in parallel")
	Command.Flags().StringP("compression", "c", "gzip", "Output compression, gzip or zstd")
	Command.Flags().IntP("level", "l", 0, "Compression level, 0 for the encoder default")
	Command.Flags().StringP("output", "o", "", "Output directory, defaults to the directory of each input")
	Command.Flags().String("prefix", "", "Name outputs Prefix-Timestamp-Serial-Host instead of after their input")
}

// Options controls a recompression.
type Options struct {
	Compression warc.Compression
	Level       int
	OutputDir   string
	Prefix      string
	Threads     int
}

func recompress(cmd *cobra.Command, files []string) error {
	compression, err := cmd.Flags().GetString("compression")
	if err != nil {
		return err
	}
	opts := Options{Threads: utils.GetThreadsFlag(cmd)}
	if opts.Compression, err = warc.ParseCompression(compression); err != nil {
		return err
	}
	if opts.Compression == warc.CompressionNone {
		return fmt.Errorf("recompress needs gzip or zstd output")
	}
	if opts.Level, err = cmd.Flags().GetInt("level"); err != nil {
		return err
	}
	if opts.OutputDir, err = cmd.Flags().GetString("output"); err != nil {
		return err
	}
	if opts.Prefix, err = cmd.Flags().GetString("prefix"); err != nil {
		return err
	}

	_, err = RecompressFiles(files, opts)
	return err
}

// RecompressFiles recompresses every file in parallel and returns the
// output paths, in input order.
func RecompressFiles(files []string, opts Options) ([]string, error) {
	var (
		serial  atomic.Uint64
		outputs = make([]string, len(files))
		g       errgroup.Group
	)
	g.SetLimit(max(opts.Threads, 1))

	for i, src := range files {
		g.Go(func() error {
			startTime := time.Now()
			format, _ := warc.DetectFormat(src)
			dst, err := outputPath(src, format, opts, &serial)
			if err != nil {
				return err
			}

			count, err := RecompressFile(src, dst, opts.Compression, opts.Level)
			if err != nil {
				slog.Error("failed to recompress file", "file", src, "err", err.Error())
				return fmt.Errorf("%s: %w", src, err)
			}
			outputs[i] = dst
			slog.Info(fmt.Sprintf("recompressed in %s", time.Since(startTime).String()), "file", src, "output", dst, "records", count)
			return nil
		})
	}

	return outputs, g.Wait()
}

func outputPath(src string, format warc.Format, opts Options, serial *atomic.Uint64) (string, error) {
	dir := opts.OutputDir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	if format == warc.FormatUnknown {
		format = warc.FormatWARC
	}

	if opts.Prefix != "" {
		name, err := warc.GenerateFileName(opts.Prefix, format, opts.Compression, serial)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, name), nil
	}

	base := strings.TrimSuffix(filepath.Base(src), warc.OpenSuffix)
	for _, ext := range []string{".gz", ".zst", ".xz", ".bz2", ".warc", ".arc"} {
		base = strings.TrimSuffix(base, ext)
	}
	dst := filepath.Join(dir, base+warc.Extension(format, opts.Compression))
	if dst == src {
		return "", fmt.Errorf("output %s would overwrite the input", dst)
	}
	return dst, nil
}

// RecompressFile copies every record of src to dst, one compressed member
// per record, and returns the number of records copied. dst is written as
// dst + ".open" and only renamed once complete.
func RecompressFile(src, dst string, compression warc.Compression, level int) (count int, err error) {
	reader, err := utils.OpenFile(src)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	var writer *warc.FileWriter
	defer func() {
		if writer == nil {
			return
		}
		if err != nil {
			writer.Close()
			// a writer that failed mid-record keeps its open suffix
			os.Remove(writer.Path())
			os.Remove(writer.Path() + warc.OpenSuffix)
			return
		}
		err = writer.Close()
	}()

	for {
		record, rerr := reader.ReadRecord()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return count, rerr
		}

		if writer == nil {
			settings := warc.WriterSettings{
				Format:           record.Format(),
				Compression:      compression,
				CompressionLevel: level,
				Logger:           slog.Default(),
			}
			if fh := reader.ARCFileHeader(); fh != nil {
				settings.ARCVersion = reader.ARCVersion()
				settings.ARCFileHeader = *fh
				settings.ARCFileHeader.Filename = ""
			}
			if writer, err = warc.Create(dst, settings); err != nil {
				return count, err
			}
		}

		if _, err := writer.WriteRecord(record); err != nil {
			return count, fmt.Errorf("writing record %d: %w", count, err)
		}
		count++
	}

	if writer == nil {
		return 0, errors.New("no record in file")
	}
	return count, nil
}
