package warc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// RotatorSettings is used to store the settings needed by a Rotator to
// write WARC files
type RotatorSettings struct {
	// Fields of the warcinfo record written at the start of every file
	WarcinfoContent *Header
	// Prefix used for file names, WARC 1.1 specifications recommend to
	// name files this way: Prefix-Timestamp-Serial-Crawlhost.warc.gz
	Prefix string
	// WARCVersion of the records, DefaultWARCVersion when empty
	WARCVersion string
	// Compression algorithm to use
	Compression      Compression
	CompressionLevel int
	// Directory where the created files will be stored,
	// default will be the current directory
	OutputDirectory string
	// WARCSize is in Megabytes; a file is closed once a batch takes it
	// past that size
	WARCSize float64
	// WARCWriterPoolSize defines the number of parallel writers, each
	// with its own file
	WARCWriterPoolSize int
	Logger             LogBackend
	Stats              StatsRegistry
}

// RecordBatch is a group of records written to the same file, one after
// the other.
type RecordBatch struct {
	Records []*Record
	// CaptureTime, when set, overrides the WARC-Date of every record
	CaptureTime string
	// FeedbackChan, when set, is signalled and closed once the batch was
	// handled
	FeedbackChan chan struct{}
}

// NewRecordBatch returns an empty batch reporting to feedback, which may
// be nil.
func NewRecordBatch(feedback chan struct{}) *RecordBatch {
	return &RecordBatch{FeedbackChan: feedback}
}

func checkRotatorSettings(s *RotatorSettings) error {
	if s.Prefix == "" {
		s.Prefix = "WARC"
	}
	if s.WARCVersion == "" {
		s.WARCVersion = DefaultWARCVersion
	}
	if !IsSupportedWARCVersion(s.WARCVersion) {
		return newConfigurationErrorf("unsupported WARC version %q", s.WARCVersion)
	}
	if s.WARCSize <= 0 {
		s.WARCSize = 1000
	}
	if s.WARCWriterPoolSize <= 0 {
		s.WARCWriterPoolSize = 1
	}
	if s.OutputDirectory == "" {
		s.OutputDirectory = "."
	}
	if s.WarcinfoContent == nil {
		s.WarcinfoContent = NewHeader()
	}
	return os.MkdirAll(s.OutputDirectory, 0o755)
}

// Rotator spreads record batches over a pool of writers. Each writer fills
// a file named by GenerateFileName, starting with a warcinfo record, and
// moves on to a new file once WARCSize is reached.
type Rotator struct {
	settings RotatorSettings
	logger   LogBackend
	records  chan *RecordBatch
	serial   atomic.Uint64
	wg       sync.WaitGroup
	closed   Counter

	mu    sync.Mutex
	err   error
	files []string
}

// NewRotator checks settings, applying defaults, and starts the writers.
func NewRotator(settings RotatorSettings) (*Rotator, error) {
	if err := checkRotatorSettings(&settings); err != nil {
		return nil, err
	}
	reg := settings.Stats
	if reg == nil {
		reg = newLocalRegistry()
		settings.Stats = reg
	}

	r := &Rotator{
		settings: settings,
		logger:   loggerOrNoop(settings.Logger),
		records:  make(chan *RecordBatch, 1),
		closed:   reg.RegisterCounter(filesClosedTotal, filesClosedTotalHelp),
	}
	for i := 0; i < settings.WARCWriterPoolSize; i++ {
		r.wg.Add(1)
		go r.recordWriter()
	}
	return r, nil
}

// Records returns the channel batches are sent on. It must not be closed by
// the caller; use Close.
func (r *Rotator) Records() chan<- *RecordBatch { return r.records }

// Close stops accepting batches, waits for the writers to finish their
// files and returns the first error any of them hit.
func (r *Rotator) Close() error {
	close(r.records)
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Files returns the paths of the completed files.
func (r *Rotator) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Rotator) fail(err error) {
	r.logger.Error("rotator writer failed", "err", err.Error())
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *Rotator) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != nil
}

// nextFileName returns a name that is not taken in the output directory,
// neither as a finished file nor as an open one.
func (r *Rotator) nextFileName() (string, error) {
	for {
		name, err := GenerateFileName(r.settings.Prefix, FormatWARC, r.settings.Compression, &r.serial)
		if err != nil {
			return "", err
		}
		path := filepath.Join(r.settings.OutputDirectory, name)
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if _, err := os.Stat(path + OpenSuffix); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		return path, nil
	}
}

// rotatingFile is the file a writer goroutine currently fills.
type rotatingFile struct {
	*FileWriter
	warcinfoID string
}

func (r *Rotator) openFile() (*rotatingFile, error) {
	path, err := r.nextFileName()
	if err != nil {
		return nil, err
	}
	fw, err := Create(path, WriterSettings{
		Format:           FormatWARC,
		WARCVersion:      r.settings.WARCVersion,
		Compression:      r.settings.Compression,
		CompressionLevel: r.settings.CompressionLevel,
		Logger:           r.settings.Logger,
		Stats:            r.settings.Stats,
	})
	if err != nil {
		return nil, err
	}

	info, err := r.warcinfoRecord(filepath.Base(path))
	if err == nil {
		_, err = fw.WriteRecord(info)
	}
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("writing warcinfo record: %w", err)
	}
	r.logger.Debug("opened file", "path", path)
	return &rotatingFile{FileWriter: fw, warcinfoID: info.WARCHeader().RecordID()}, nil
}

func (r *Rotator) warcinfoRecord(filename string) (*Record, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	r.settings.WarcinfoContent.Range(func(name, value string) bool {
		buf.WriteString(CanonicalName(name))
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.Write(crlf)
		return true
	})

	h := NewWARCHeader(nil)
	if err := h.SetVersion(r.settings.WARCVersion); err != nil {
		return nil, err
	}
	h.Set("WARC-Type", "warcinfo")
	h.Set("WARC-Filename", filename)
	h.Set("Content-Type", "application/warc-fields")
	h.SetDefaults()
	return NewRecord(h, append([]byte(nil), buf.B...))
}

func (r *Rotator) closeFile(f *rotatingFile) {
	if err := f.Close(); err != nil {
		r.fail(fmt.Errorf("closing %s: %w", f.Path(), err))
		return
	}
	r.closed.Inc()
	r.mu.Lock()
	r.files = append(r.files, f.Path())
	r.mu.Unlock()
	r.logger.Info("closed file", "path", f.Path())
}

func (r *Rotator) writeBatch(f *rotatingFile, batch *RecordBatch) error {
	for _, record := range batch.Records {
		if h := record.WARCHeader(); h != nil {
			if batch.CaptureTime != "" {
				h.Set("WARC-Date", batch.CaptureTime)
			}
			h.Set("WARC-Warcinfo-ID", f.warcinfoID)
		}
		if _, err := f.WriteRecord(record); err != nil {
			return fmt.Errorf("writing record to %s: %w", f.Path(), err)
		}
	}
	return nil
}

func (r *Rotator) recordWriter() {
	defer r.wg.Done()

	var (
		current *rotatingFile
		limit   = int64(r.settings.WARCSize * 1e6)
	)

	for batch := range r.records {
		// Keep draining after a failure so senders never block
		if !r.failed() {
			var err error
			if current == nil {
				current, err = r.openFile()
			}
			if err == nil {
				err = r.writeBatch(current, batch)
			}
			if err != nil {
				r.fail(err)
			} else if current.Offset() >= limit {
				r.closeFile(current)
				current = nil
			}
		}

		if batch.FeedbackChan != nil {
			batch.FeedbackChan <- struct{}{}
			close(batch.FeedbackChan)
		}
	}

	if current != nil {
		r.closeFile(current)
	}
}
