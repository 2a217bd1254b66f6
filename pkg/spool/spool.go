// Package spool provides a write-once, read-many buffer that keeps small
// contents in pooled memory and moves to a temporary file past a threshold.
package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/valyala/bytebufferpool"
)

// DefaultThreshold is the number of bytes held in memory before spilling to
// disk when no threshold is given.
const DefaultThreshold = 1 << 20

var (
	// ErrWriteAfterRead is returned by Write once the buffer has been read or
	// seeked.
	ErrWriteAfterRead = errors.New("spool: write after read")
	// ErrClosed is returned by every method of a closed buffer.
	ErrClosed = errors.New("spool: closed")
)

// File accumulates writes, then serves them back through Read, ReadAt and
// Seek. The first read or seek freezes the contents. Close releases the
// memory and removes the temporary file, if any.
type File struct {
	buf       *bytebufferpool.ByteBuffer
	mem       *bytes.Reader
	file      *os.File
	dir       string
	prefix    string
	threshold int
	size      int64
	reading   bool
	closed    bool
}

// New returns an empty File. Temporary files are created in dir (os.TempDir
// when empty). A threshold <= 0 selects DefaultThreshold.
func New(dir string, threshold int) *File {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &File{
		buf:       bytebufferpool.Get(),
		dir:       dir,
		prefix:    "warc-spool",
		threshold: threshold,
	}
}

// Size returns the number of bytes written.
func (f *File) Size() int64 { return f.size }

// OnDisk reports whether the contents were moved to a temporary file.
func (f *File) OnDisk() bool { return f.file != nil }

// Name returns the path of the temporary file, or "" while in memory.
func (f *File) Name() string {
	if f.file != nil {
		return f.file.Name()
	}
	return ""
}

func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.reading {
		return 0, ErrWriteAfterRead
	}

	if f.file == nil && f.buf.Len()+len(p) > f.threshold {
		if err := f.spill(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)
	if f.file != nil {
		n, err = f.file.Write(p)
	} else {
		n, err = f.buf.Write(p)
	}
	f.size += int64(n)
	return n, err
}

func (f *File) spill() error {
	file, err := os.CreateTemp(f.dir, f.prefix+"-*")
	if err != nil {
		return fmt.Errorf("spool: create temp file: %w", err)
	}
	if _, err := file.Write(f.buf.B); err != nil {
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("spool: write temp file: %w", err)
	}
	bytebufferpool.Put(f.buf)
	f.buf = nil
	f.file = file
	return nil
}

func (f *File) prepareRead() error {
	if f.closed {
		return ErrClosed
	}
	if f.reading {
		return nil
	}
	f.reading = true
	if f.file != nil {
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("spool: rewind %s: %w", f.file.Name(), err)
		}
		return nil
	}
	f.mem = bytes.NewReader(f.buf.B)
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.prepareRead(); err != nil {
		return 0, err
	}
	if f.file != nil {
		return f.file.Read(p)
	}
	return f.mem.Read(p)
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.prepareRead(); err != nil {
		return 0, err
	}
	if f.file != nil {
		return f.file.ReadAt(p, off)
	}
	return f.mem.ReadAt(p, off)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.prepareRead(); err != nil {
		return 0, err
	}
	if f.file != nil {
		return f.file.Seek(offset, whence)
	}
	return f.mem.Seek(offset, whence)
}

// NewReader returns an independent reader over the whole contents, leaving
// the File's own read position untouched.
func (f *File) NewReader() (io.Reader, error) {
	if err := f.prepareRead(); err != nil {
		return nil, err
	}
	return io.NewSectionReader(f, 0, f.size), nil
}

func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.mem = nil
	if f.buf != nil {
		bytebufferpool.Put(f.buf)
		f.buf = nil
	}
	if f.file == nil {
		return nil
	}
	name := f.file.Name()
	f.file.Close()
	f.file = nil
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
