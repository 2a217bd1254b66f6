package mend

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	warc "github.com/internetarchive/warcio"
	"github.com/internetarchive/warcio/cmd/utils"
	"github.com/spf13/cobra"
)

// Command represents the mend command
var Command = &cobra.Command{
	Use:   "mend [flags] file1.warc.gz.open file2.arc.gz.open ...",
	Short: "Mend and close incomplete WARC/ARC files (.open)",
	Long: `Mend and close incomplete WARC/ARC files (.open) by:
  - Truncating files with extra trailing bytes
  - Truncating at the end of the last valid record when corruption is detected
  - Removing .open suffix from files that need to be closed

By default, only processes .open files that need to be closed. Use --force to
verify and fix any gzip or uncompressed WARC/ARC file, including completed
archives. Whole-stream compressed files (zstd, xz, bzip2) have no record
boundaries to truncate at and are not supported.`,
	Args: cobra.MinimumNArgs(1),
	Run:  mend,
}

func init() {
	Command.Flags().Bool("dry-run", false, "Show what would be done without making changes")
	Command.Flags().BoolP("yes", "y", false, "Assume yes to all mend confirmations")
	Command.Flags().Bool("force", false, "Process all WARC/ARC files, not just .open files")
}

type mendResult struct {
	filepath        string
	needsTruncate   bool
	truncateAt      int64
	needsRename     bool
	newName         string
	lastValidPos    int64
	fileSize        int64
	recordCount     int
	firstRecordType string
	errorAt         int64
	errorMsg        string
}

type mendStats struct {
	totalFiles          int
	processedFiles      int
	skippedFiles        int
	truncatedFiles      int
	renamedFiles        int
	deletedFiles        int
	errorFiles          int
	totalBytesTruncated int64
	totalRecords        int
	startTime           time.Time
	dryRun              bool
}

type mendOptions struct {
	dryRun  bool
	autoYes bool
	force   bool
}

func mend(cmd *cobra.Command, files []string) {
	var (
		opts mendOptions
		err  error
	)
	if opts.dryRun, err = cmd.Flags().GetBool("dry-run"); err != nil {
		slog.Error("failed to get dry-run flag", "error", err)
		return
	}
	if opts.autoYes, err = cmd.Flags().GetBool("yes"); err != nil {
		slog.Error("failed to get yes flag", "error", err)
		return
	}
	if opts.force, err = cmd.Flags().GetBool("force"); err != nil {
		slog.Error("failed to get force flag", "error", err)
		return
	}

	stats := mendStats{
		totalFiles: len(files),
		startTime:  time.Now(),
		dryRun:     opts.dryRun,
	}

	for _, filepath := range files {
		mendFile(filepath, opts, &stats)
	}

	displaySummary(stats)
}

func mendFile(filepath string, opts mendOptions, stats *mendStats) {
	result := analyzeFile(filepath, opts.force)

	if result.fileSize == 0 && !result.needsRename && result.errorMsg == "" {
		stats.skippedFiles++
		return
	}

	if !result.needsTruncate && !result.needsRename {
		switch {
		case result.errorMsg != "":
			slog.Error("file cannot be mended", "file", filepath, "error", result.errorMsg)
			stats.errorFiles++
		case result.recordCount > 1 || (result.recordCount == 1 && result.firstRecordType != "warcinfo"):
			slog.Info("file is ok", "file", filepath, "records", result.recordCount)
			stats.processedFiles++
			stats.totalRecords += result.recordCount
		case result.recordCount == 1:
			// File has only a warcinfo record - ask user if it should be deleted
			slog.Warn("unused WARC file detected", "file", filepath, "records", 1, "type", "warcinfo-only")
			deleteFile(filepath, "unused WARC file", opts, stats)
		default:
			slog.Warn("empty file detected", "file", filepath, "records", 0)
			deleteFile(filepath, "empty file", opts, stats)
		}
		return
	}

	// Report issues found
	if result.needsTruncate {
		if result.errorMsg != "" {
			slog.Warn("corruption detected",
				"file", filepath,
				"error", result.errorMsg,
				"lastValidPos", formatBytes(result.lastValidPos),
				"extraBytes", formatBytes(result.fileSize-result.lastValidPos))
		} else {
			slog.Warn("extra trailing bytes detected",
				"file", filepath,
				"lastValidPos", formatBytes(result.lastValidPos),
				"extraBytes", formatBytes(result.fileSize-result.lastValidPos))
		}
	}

	if result.needsRename {
		slog.Warn("file has .open suffix", "file", filepath)
	}

	stats.processedFiles++
	stats.totalRecords += result.recordCount
	if result.errorMsg != "" {
		stats.errorFiles++
	}

	if opts.dryRun {
		if result.needsTruncate {
			slog.Info("would truncate file", "file", filepath, "at", result.truncateAt, "dryRun", true)
			stats.truncatedFiles++
			stats.totalBytesTruncated += result.fileSize - result.truncateAt
		}
		if result.needsRename {
			slog.Info("would rename file", "from", filepath, "to", result.newName, "dryRun", true)
			stats.renamedFiles++
		}
		return
	}

	if result.needsTruncate {
		if confirmAction(fmt.Sprintf("truncate %s at position %d? [y/N] ", filepath, result.truncateAt), opts.autoYes) {
			if err := truncateFile(filepath, result.truncateAt); err != nil {
				slog.Error("failed to truncate file", "file", filepath, "error", err)
				return
			}
			slog.Info("truncated file", "file", filepath, "at", result.truncateAt)
			stats.truncatedFiles++
			stats.totalBytesTruncated += result.fileSize - result.truncateAt
		}
	}

	if result.needsRename {
		// Auto-rename if no truncation was needed (file is valid, just needs .open suffix removed)
		if !result.needsTruncate || confirmAction(fmt.Sprintf("remove .open suffix from %s? [y/N] ", filepath), opts.autoYes) {
			if err := os.Rename(filepath, result.newName); err != nil {
				slog.Error("failed to rename file", "file", filepath, "error", err)
				return
			}
			slog.Info("removed .open suffix", "from", filepath, "to", result.newName)
			stats.renamedFiles++
		}
	}
}

func deleteFile(filepath, what string, opts mendOptions, stats *mendStats) {
	if opts.dryRun {
		slog.Info("would delete "+what, "file", filepath, "dryRun", true)
		stats.deletedFiles++
		return
	}
	if !confirmAction(fmt.Sprintf("delete %s %s? [y/N] ", what, filepath), opts.autoYes) {
		slog.Info("keeping "+what, "file", filepath)
		stats.processedFiles++
		return
	}
	if err := os.Remove(filepath); err != nil {
		slog.Error("failed to delete file", "file", filepath, "error", err)
		stats.errorFiles++
		return
	}
	slog.Info("deleted "+what, "file", filepath)
	stats.deletedFiles++
}

func analyzeFile(filepath string, force bool) mendResult {
	result := mendResult{
		filepath: filepath,
	}

	// Only process .open files (files being written that need to be closed)
	// unless forced
	isOpen := strings.HasSuffix(filepath, warc.OpenSuffix)
	if !force && !isOpen {
		slog.Debug("skipping non-.open file", "file", filepath)
		return result
	}

	format, compression := warc.DetectFormat(filepath)
	if format == warc.FormatUnknown {
		slog.Error("only WARC or ARC files (.warc, .arc, optionally .gz) are supported", "file", filepath)
		return result
	}
	if compression == warc.CompressionZstd {
		result.errorMsg = "zstd files have no record offsets to truncate at"
		return result
	}

	fileInfo, err := os.Stat(filepath)
	if err != nil {
		slog.Error("failed to stat file", "file", filepath, "error", err)
		return result
	}
	result.fileSize = fileInfo.Size()

	if isOpen {
		result.needsRename = true
		result.newName = strings.TrimSuffix(filepath, warc.OpenSuffix)
	}

	reader, err := utils.OpenFile(filepath)
	if err != nil {
		result.errorMsg = err.Error()
		return result
	}
	defer reader.Close()

	var (
		lastValidEndPos int64
		prev            *warc.Record
	)

	fail := func(msg string, at int64) {
		result.errorMsg = msg
		result.errorAt = at
		result.lastValidPos = lastValidEndPos
		result.needsTruncate = lastValidEndPos > 0
		result.truncateAt = lastValidEndPos
	}

	for {
		record, err := reader.ReadRecord()

		// A record is complete once the reader moved past its trailer, even
		// when what follows is broken.
		if prev != nil && prev.Size > 0 {
			lastValidEndPos = prev.Offset + prev.Size
		}

		if err != nil {
			if err == io.EOF {
				// Normal end of file - check for extra trailing bytes
				if lastValidEndPos > 0 && lastValidEndPos < result.fileSize {
					result.needsTruncate = true
					result.truncateAt = lastValidEndPos
					result.lastValidPos = lastValidEndPos
				}
				break
			}
			fail(err.Error(), lastValidEndPos)
			slog.Debug("read error details", "file", filepath, "error", err, "records", result.recordCount)
			break
		}

		// Verify we have a usable offset for the record
		if record.Offset < 0 {
			fail("record does not start a member, cannot locate record boundaries", lastValidEndPos)
			break
		}

		result.recordCount++
		if result.recordCount == 1 {
			result.firstRecordType = record.Type()
		}
		prev = record

		if result.recordCount%1000 == 0 {
			slog.Debug("progress", "file", filepath, "records", result.recordCount)
		}
	}

	return result
}

func truncateFile(filepath string, position int64) error {
	file, err := os.OpenFile(filepath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open file for truncation: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(position); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	return nil
}

func confirmAction(prompt string, autoYes bool) bool {
	if autoYes {
		return true
	}

	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// displaySummary shows final statistics for the mend operation
func displaySummary(stats mendStats) {
	elapsed := time.Since(stats.startTime)

	parts := []string{}

	if stats.processedFiles > 0 {
		parts = append(parts, fmt.Sprintf("%d processed", stats.processedFiles))
	}

	if stats.truncatedFiles > 0 {
		verb := "truncated"
		if stats.dryRun {
			verb = "would truncate"
		}
		if stats.totalBytesTruncated > 0 {
			parts = append(parts, fmt.Sprintf("%d %s (truncated %s)", stats.truncatedFiles, verb, formatBytes(stats.totalBytesTruncated)))
		} else {
			parts = append(parts, fmt.Sprintf("%d %s", stats.truncatedFiles, verb))
		}
	}

	if stats.renamedFiles > 0 {
		verb := "renamed"
		if stats.dryRun {
			verb = "would rename"
		}
		parts = append(parts, fmt.Sprintf("%d %s", stats.renamedFiles, verb))
	}

	if stats.deletedFiles > 0 {
		verb := "deleted"
		if stats.dryRun {
			verb = "would delete"
		}
		parts = append(parts, fmt.Sprintf("%d %s", stats.deletedFiles, verb))
	}

	if stats.skippedFiles > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", stats.skippedFiles))
	}

	if stats.errorFiles > 0 {
		parts = append(parts, fmt.Sprintf("%d with errors", stats.errorFiles))
	}

	if stats.totalRecords > 0 {
		parts = append(parts, fmt.Sprintf("%d total records", stats.totalRecords))
	}

	summary := "no files needed mending"
	if len(parts) > 0 {
		summary = strings.Join(parts, ", ")
	}

	slog.Info(fmt.Sprintf("mend operation completed: %s in %v", summary, elapsed.Round(time.Millisecond)),
		"dryRun", stats.dryRun,
		"files", stats.totalFiles,
		"records", stats.totalRecords,
		"bytesTruncated", stats.totalBytesTruncated)
}

// formatBytes formats a byte count as a human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
