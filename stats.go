package warc

import (
	"sync"
	"sync/atomic"
)

const (
	// recordsReadTotal counts records returned by Reader.ReadRecord.
	recordsReadTotal     string = "records_read_total"
	recordsReadTotalHelp string = "Total number of records read"

	// recordsWrittenTotal counts records written by Writer.WriteRecord.
	recordsWrittenTotal     string = "records_written_total"
	recordsWrittenTotalHelp string = "Total number of records written"

	// payloadBytesWrittenTotal counts uncompressed record bytes (header, payload, trailer) written.
	payloadBytesWrittenTotal     string = "payload_bytes_written_total"
	payloadBytesWrittenTotalHelp string = "Total uncompressed record bytes written"

	// membersWrittenTotal counts compressed members closed by writers.
	membersWrittenTotal     string = "members_written_total"
	membersWrittenTotalHelp string = "Total number of compressed members written"

	// arcHeaderDefaultsTotal counts ARC descriptor fields filled with fallback values.
	arcHeaderDefaultsTotal     string = "arc_header_defaults_total"
	arcHeaderDefaultsTotalHelp string = "Total number of ARC file descriptor fields that fell back to defaults"

	// recordPayloadSizeBytes observes the declared payload length of every record read or written.
	recordPayloadSizeBytes     string = "record_payload_size_bytes"
	recordPayloadSizeBytesHelp string = "Distribution of record payload sizes in bytes"

	// filesClosedTotal counts files completed by a Rotator.
	filesClosedTotal     string = "files_closed_total"
	filesClosedTotalHelp string = "Total number of files closed and renamed by rotators"

	// writerOffsetBytes is the position of the last written record end in the output.
	writerOffsetBytes     string = "writer_offset_bytes"
	writerOffsetBytesHelp string = "Output position after the last record written"
)

var payloadSizeBuckets = []int64{1 << 10, 16 << 10, 256 << 10, 1 << 20, 16 << 20, 256 << 20, 1 << 30}

// Counter represents a monotonically increasing metric.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()
	// Add adds the given value to the counter.
	Add(value int64)
	// Get returns the current value of the counter.
	// This is used to support unit-testing of the metrics.
	Get() int64
}

// Gauge represents a metric that can go up or down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value int64)
	// Inc increments the gauge by 1.
	Inc()
	// Dec decrements the gauge by 1.
	Dec()
	// Add adds the given value to the gauge.
	Add(value int64)
	// Sub subtracts the given value from the gauge.
	Sub(value int64)
	// Get returns the current value of the gauge.
	// This is used to support unit-testing of the metrics.
	Get() int64
}

// Histogram represents a metric for observing distributions of values.
type Histogram interface {
	// Observe adds a single observation to the histogram.
	Observe(value int64)
}

// StatsRegistry provides a registry for external libraries to register and update metrics.
// The StatsRegistry implementation is expected to be thread-safe, since one registry
// is typically shared by readers and writers running in different goroutines.
type StatsRegistry interface {
	// RegisterCounter registers a new counter metric.
	// Returns an existing counter if one with the same name was already registered.
	RegisterCounter(name, help string) Counter

	// RegisterGauge registers a new gauge metric.
	// Returns an existing gauge if one with the same name was already registered.
	RegisterGauge(name, help string) Gauge

	// RegisterHistogram registers a new histogram metric with the given buckets.
	// Returns an existing histogram if one with the same name was already registered.
	RegisterHistogram(name, help string, buckets []int64) Histogram
}

// Nil-safe implementations for when no StatsRegistry is provided.
type localCounter struct {
	v atomic.Int64
}

func (n *localCounter) Inc()            { n.v.Add(1) }
func (n *localCounter) Add(value int64) { n.v.Add(value) }
func (n *localCounter) Get() int64      { return n.v.Load() }

type localGauge struct {
	v atomic.Int64
}

func (n *localGauge) Set(value int64) { n.v.Store(value) }
func (n *localGauge) Inc()            { n.v.Add(1) }
func (n *localGauge) Dec()            { n.v.Add(-1) }
func (n *localGauge) Add(value int64) { n.v.Add(value) }
func (n *localGauge) Sub(value int64) { n.v.Add(-value) }
func (n *localGauge) Get() int64      { return n.v.Load() }

// localHistogram only keeps the count and sum of observations.
type localHistogram struct {
	count atomic.Int64
	sum   atomic.Int64
}

func (n *localHistogram) Observe(value int64) {
	n.count.Add(1)
	n.sum.Add(value)
}

type localRegistry struct {
	sync.Mutex
	gauges     map[string]*localGauge
	counters   map[string]*localCounter
	histograms map[string]*localHistogram
}

func newLocalRegistry() *localRegistry {
	return &localRegistry{}
}

func (n *localRegistry) RegisterCounter(name, _ string) Counter {
	n.Lock()
	defer n.Unlock()
	if n.counters == nil {
		n.counters = make(map[string]*localCounter)
	}
	if c, ok := n.counters[name]; ok {
		return c
	}
	c := &localCounter{}
	n.counters[name] = c
	return c
}

func (n *localRegistry) RegisterGauge(name, _ string) Gauge {
	n.Lock()
	defer n.Unlock()
	if n.gauges == nil {
		n.gauges = make(map[string]*localGauge)
	}
	if g, ok := n.gauges[name]; ok {
		return g
	}
	g := &localGauge{}
	n.gauges[name] = g
	return g
}

func (n *localRegistry) RegisterHistogram(name, _ string, _ []int64) Histogram {
	n.Lock()
	defer n.Unlock()
	if n.histograms == nil {
		n.histograms = make(map[string]*localHistogram)
	}
	if h, ok := n.histograms[name]; ok {
		return h
	}
	h := &localHistogram{}
	n.histograms[name] = h
	return h
}

// readerStats groups the metrics a Reader updates.
type readerStats struct {
	records     Counter
	payloadSize Histogram
}

func newReaderStats(reg StatsRegistry) readerStats {
	if reg == nil {
		reg = newLocalRegistry()
	}
	return readerStats{
		records:     reg.RegisterCounter(recordsReadTotal, recordsReadTotalHelp),
		payloadSize: reg.RegisterHistogram(recordPayloadSizeBytes, recordPayloadSizeBytesHelp, payloadSizeBuckets),
	}
}

// writerStats groups the metrics a Writer updates.
type writerStats struct {
	records     Counter
	bytes       Counter
	members     Counter
	arcDefaults Counter
	payloadSize Histogram
	offset      Gauge
}

func newWriterStats(reg StatsRegistry) writerStats {
	if reg == nil {
		reg = newLocalRegistry()
	}
	return writerStats{
		records:     reg.RegisterCounter(recordsWrittenTotal, recordsWrittenTotalHelp),
		bytes:       reg.RegisterCounter(payloadBytesWrittenTotal, payloadBytesWrittenTotalHelp),
		members:     reg.RegisterCounter(membersWrittenTotal, membersWrittenTotalHelp),
		arcDefaults: reg.RegisterCounter(arcHeaderDefaultsTotal, arcHeaderDefaultsTotalHelp),
		payloadSize: reg.RegisterHistogram(recordPayloadSizeBytes, recordPayloadSizeBytesHelp, payloadSizeBuckets),
		offset:      reg.RegisterGauge(writerOffsetBytes, writerOffsetBytesHelp),
	}
}
