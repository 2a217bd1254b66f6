package warc

import (
	"bufio"
	"bytes"
	"io"
)

const readLineChunk = 4096

// BoundedReader exposes exactly length bytes of an underlying reader, however
// much more data the source holds. Bytes can be pushed back with Unread, which
// ReadLine uses when it reads past a line boundary.
//
// A BoundedReader handed out by a Reader is only valid until the next call to
// ReadRecord; afterwards every method returns ErrStaleRecord.
type BoundedReader struct {
	src      io.Reader
	length   int64
	fetched  int64 // bytes pulled from src
	consumed int64 // bytes handed to the caller, net of Unread
	pending  []byte
	guard    func() error
}

// NewBoundedReader returns a reader over the first length bytes of r.
func NewBoundedReader(r io.Reader, length int64) *BoundedReader {
	if length < 0 {
		length = 0
	}
	return &BoundedReader{src: r, length: length}
}

func (b *BoundedReader) check() error {
	if b.guard != nil {
		return b.guard()
	}
	return nil
}

// Len returns the configured length.
func (b *BoundedReader) Len() int64 { return b.length }

// Consumed returns how many bytes the caller has read, net of pushed-back bytes.
func (b *BoundedReader) Consumed() int64 { return b.consumed }

// Remaining returns how many bytes are left to read.
func (b *BoundedReader) Remaining() int64 { return b.length - b.consumed }

// Read implements io.Reader. It returns io.ErrUnexpectedEOF if the source
// ends before length bytes were delivered.
func (b *BoundedReader) Read(p []byte) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if len(b.pending) > 0 {
		n := copy(p, b.pending)
		b.pending = b.pending[n:]
		b.consumed += int64(n)
		return n, nil
	}

	left := b.length - b.fetched
	if left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > left {
		p = p[:left]
	}

	n, err := b.src.Read(p)
	b.fetched += int64(n)
	b.consumed += int64(n)
	if err == io.EOF {
		if b.fetched < b.length {
			return n, io.ErrUnexpectedEOF
		}
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

// ReadLine returns the next line including its trailing '\n'. The last line
// of the payload may lack the newline. At the end of the payload it returns
// io.EOF with no data.
func (b *BoundedReader) ReadLine() ([]byte, error) {
	var line []byte
	chunk := make([]byte, readLineChunk)
	for {
		n, err := b.Read(chunk)
		if n > 0 {
			if i := bytes.IndexByte(chunk[:n], '\n'); i >= 0 {
				line = append(line, chunk[:i+1]...)
				if rest := chunk[i+1 : n]; len(rest) > 0 {
					if uerr := b.Unread(rest); uerr != nil {
						return line, uerr
					}
				}
				return line, nil
			}
			line = append(line, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return line, err
		}
	}
}

// Unread pushes p back so that it is returned by the next reads. p must be
// the most recently read bytes; at most Consumed bytes can be pushed back.
func (b *BoundedReader) Unread(p []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	if int64(len(p)) > b.consumed {
		return ErrUnreadOverflow
	}
	pending := make([]byte, 0, len(p)+len(b.pending))
	pending = append(pending, p...)
	b.pending = append(pending, b.pending...)
	b.consumed -= int64(len(p))
	return nil
}

// Drain discards whatever the caller has not read, leaving the source
// positioned right after the bounded region. It returns the number of bytes
// discarded.
func (b *BoundedReader) Drain() (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	drained := int64(len(b.pending))
	b.consumed += drained
	b.pending = nil

	left := b.length - b.fetched
	if left <= 0 {
		return drained, nil
	}

	var err error
	if br, ok := b.src.(*bufio.Reader); ok {
		err = discardN(br, left)
		if err == nil {
			b.fetched += left
			b.consumed += left
			return drained + left, nil
		}
		// discardN leaves the count undetermined on failure
		b.fetched = b.length
		b.consumed = b.length
		return drained, unexpected(err)
	}

	n, err := io.CopyN(io.Discard, b.src, left)
	b.fetched += n
	b.consumed += n
	drained += n
	if err != nil {
		return drained, unexpected(err)
	}
	return drained, nil
}
