// Parts of this file were adapted from https://github.com/crissyfield/troll-a/blob/main/pkg/fetch/decompression-reader.go , under Apache-2.0 License
// Author: [Crissy Field](https://github.com/crissyfield)

package warc

import (
	"bufio"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

const (
	magicGZip               = "\x1f\x8b"                 // Magic bytes for the Gzip format (RFC 1952, section 2.3.1)
	magicBZip2              = "\x42\x5a"                 // Magic bytes for the BZip2 format (no formal spec exists)
	magicXZ                 = "\xfd\x37\x7a\x58\x5a\x00" // Magic bytes for the XZ format (https://tukaani.org/xz/xz-file-format.txt)
	magicZStdFrame          = "\x28\xb5\x2f\xfd"         // Magic bytes for the ZStd frame format (RFC 8478, section 3.1.1)
	magicZStdSkippableFrame = "\x2a\x4d\x18"             // Magic bytes for the ZStd skippable frame format (RFC 8478, section 3.1.2)
)

type decReaderType int

const (
	decReaderGZip decReaderType = iota
	decReaderBZip2
	decReaderXZ
	decReaderZStd
	decReaderZStdDict
	decReaderNone
)

func (t decReaderType) String() string {
	switch t {
	case decReaderGZip:
		return "gzip"
	case decReaderBZip2:
		return "bzip2"
	case decReaderXZ:
		return "xz"
	case decReaderZStd, decReaderZStdDict:
		return "zstd"
	}
	return "none"
}

// detectCompression peeks at the first bytes of br. It reports false when br
// holds no data at all.
func detectCompression(br *bufio.Reader) (decReaderType, bool, error) {
	magic, err := br.Peek(6)
	if len(magic) == 0 {
		if err == io.EOF {
			return decReaderNone, false, nil
		}
		return decReaderNone, false, fmt.Errorf("read magic bytes: %w", err)
	}

	has := func(off int, m string) bool {
		return len(magic) >= off+len(m) && string(magic[off:off+len(m)]) == m
	}

	switch {
	case has(0, magicGZip):
		return decReaderGZip, true, nil
	case has(0, magicXZ):
		return decReaderXZ, true, nil
	case has(0, magicZStdFrame):
		return decReaderZStd, true, nil
	case has(1, magicZStdSkippableFrame) && magic[0]&0xf0 == 0x50:
		return decReaderZStdDict, true, nil
	case has(0, magicBZip2) && has(2, "h"):
		return decReaderBZip2, true, nil
	}
	return decReaderNone, true, nil
}

// newWholeStreamReader returns a decompressor for formats read as one
// continuous stream, without member boundaries.
func newWholeStreamReader(t decReaderType, r io.Reader) (io.ReadCloser, error) {
	switch t {
	case decReaderBZip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case decReaderXZ:
		return decompressXZ(r)
	case decReaderZStd:
		return decompressZStd(r)
	case decReaderZStdDict:
		return decompressZStdCustomDict(r)
	}
	return nil, fmt.Errorf("no whole-stream decompressor for %s", t)
}

// decompressXZ decompresses an XZ stream from the given input reader r.
func decompressXZ(r io.Reader) (io.ReadCloser, error) {
	dr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read XZ stream: %w", err)
	}
	return io.NopCloser(dr), nil
}

// decompressZStd decompresses a ZStd stream from the given input reader r.
func decompressZStd(r io.Reader) (io.ReadCloser, error) {
	dr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(zstdDecoderConcurrency()))
	if err != nil {
		return nil, fmt.Errorf("read ZStd stream: %w", err)
	}
	return dr.IOReadCloser(), nil
}

// decompressZStdCustomDict decompresses a ZStd stream with a prefixed custom
// dictionary frame from the given input reader r.
func decompressZStdCustomDict(r io.Reader) (io.ReadCloser, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read ZStd skippable frame header: %w", err)
	}

	magic, length := header[0:4], binary.LittleEndian.Uint32(header[4:8])
	if (string(magic[1:4]) != magicZStdSkippableFrame) || (magic[0]&0xf0 != 0x50) {
		return nil, fmt.Errorf("expected ZStd skippable frame header")
	}

	// Read ZStd compressed custom dictionary
	lr := io.LimitReader(r, int64(length))

	dictr, err := zstd.NewReader(lr, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("read ZStd compressed custom dictionary: %w", err)
	}
	defer dictr.Close()

	dict, err := io.ReadAll(dictr)
	if err != nil {
		return nil, fmt.Errorf("read ZStd compressed custom dictionary: %w", err)
	}

	// Discard remaining bytes, if any
	if _, err := io.Copy(io.Discard, lr); err != nil {
		return nil, fmt.Errorf("discard remaining bytes of ZStd compressed custom dictionary: %w", err)
	}

	dr, err := zstd.NewReader(r, zstd.WithDecoderDicts(dict), zstd.WithDecoderConcurrency(zstdDecoderConcurrency()))
	if err != nil {
		return nil, fmt.Errorf("create ZStd reader: %w", err)
	}
	return dr.IOReadCloser(), nil
}
