package warc

import (
	"fmt"
	"os"
	"strconv"
)

// -------- Perf knobs (env tunables) --------

const (
	envMaxInMemSize         = "WARCMaxInMemorySize"        // in bytes; payload spooling threshold of NewRecordFromReader; defaults to spool.DefaultThreshold (1MB)
	envDecompressedBufSize  = "WARCDecompressedBufSize"    // in bytes; size of the bufio readers used by Reader; defaults to defaultDecompressedSize (256 KiB)
	envZstdDecoderConc      = "WARCZstdDecoderConcurrency" // >1 enables parallel Zstd decode; 0 lets zstd pick; defaults to defaultZstdDecoderConc (1)
	defaultZstdDecoderConc  = 1
	defaultDecompressedSize = 256 << 10 // 256 KiB is a good gzip/zstd sweet spot
)

// envInt returns the integer value of the environment variable name, or def
// when it is unset. A set but malformed value is an error.
func envInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return v, nil
}

func decompressedBufSize() (int, error) {
	v, err := envInt(envDecompressedBufSize, defaultDecompressedSize)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return defaultDecompressedSize, nil
	}
	return v, nil
}

func zstdDecoderConcurrency() int {
	v, err := envInt(envZstdDecoderConc, defaultZstdDecoderConc)
	if err != nil || v < 0 {
		return defaultZstdDecoderConc
	}
	return v
}
